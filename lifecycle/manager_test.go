package lifecycle

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func seqPtr(v int64) *int64 { return &v }

func TestManager_RequestThenComplete(t *testing.T) {
	m := NewManager(nil)

	m.OnRequested("sess-1", "tool-1", "web_search", json.RawMessage(`{"query":"go"}`), seqPtr(3))
	assert.Equal(t, 1, m.PendingCount())
	assert.True(t, m.Pending("tool-1"))

	record := m.OnCompleted("sess-1", "tool-1", `{"results":[]}`, true, "", seqPtr(4))
	assert.NotNil(t, record)
	assert.Equal(t, StateCompleted, record.State)
	assert.True(t, record.Success())
	assert.Equal(t, `{"results":[]}`, record.Result)
	assert.Equal(t, int64(3), *record.RequestSeq)
	assert.Equal(t, int64(4), *record.ResultSeq)
	assert.False(t, record.CompletedAt.IsZero())

	assert.Equal(t, 0, m.PendingCount())
	assert.False(t, m.Pending("tool-1"))
}

func TestManager_FailedCompletion(t *testing.T) {
	m := NewManager(nil)

	m.OnRequested("sess-1", "tool-1", "calculator", nil, nil)
	record := m.OnCompleted("sess-1", "tool-1", "", false, "division by zero", nil)

	assert.NotNil(t, record)
	assert.Equal(t, StateFailed, record.State)
	assert.False(t, record.Success())
	assert.Equal(t, "division by zero", record.Error)
}

func TestManager_DuplicateRequestIsNoOp(t *testing.T) {
	m := NewManager(nil)

	m.OnRequested("sess-1", "tool-1", "web_search", json.RawMessage(`{"query":"first"}`), seqPtr(1))
	m.OnRequested("sess-1", "tool-1", "web_search", json.RawMessage(`{"query":"second"}`), seqPtr(2))

	assert.Equal(t, 1, m.PendingCount())

	// The in-flight state keeps the first registration.
	record := m.OnCompleted("sess-1", "tool-1", "ok", true, "", nil)
	assert.NotNil(t, record)
	assert.JSONEq(t, `{"query":"first"}`, string(record.Args))
	assert.Equal(t, int64(1), *record.RequestSeq)
}

func TestManager_OrphanResponseDropped(t *testing.T) {
	m := NewManager(nil)

	record := m.OnCompleted("sess-1", "never-requested", "ok", true, "", nil)
	assert.Nil(t, record)
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_SessionMismatchDropped(t *testing.T) {
	m := NewManager(nil)

	m.OnRequested("sess-1", "tool-1", "web_search", nil, nil)
	record := m.OnCompleted("sess-2", "tool-1", "ok", true, "", nil)

	assert.Nil(t, record)
	// The pending entry stays untouched for the owning session.
	assert.True(t, m.Pending("tool-1"))

	record = m.OnCompleted("sess-1", "tool-1", "ok", true, "", nil)
	assert.NotNil(t, record)
}

func TestManager_FinalizeOrphans(t *testing.T) {
	m := NewManager(nil)

	m.OnRequested("sess-1", "tool-1", "web_search", nil, seqPtr(1))
	m.OnRequested("sess-1", "tool-2", "calculator", nil, seqPtr(3))
	m.OnRequested("sess-1", "tool-3", "retrieval", nil, seqPtr(5))

	// tool-2 completes normally; only the other two are orphans.
	assert.NotNil(t, m.OnCompleted("sess-1", "tool-2", "42", true, "", seqPtr(4)))

	var flushedIDs []string
	flushed := m.FinalizeOrphans(context.Background(), "sess-1", func(ctx context.Context, state *ToolState) error {
		flushedIDs = append(flushedIDs, state.ToolUseID)
		assert.Equal(t, StateFailed, state.State)
		assert.Equal(t, IncompleteOutput, state.Result)
		assert.False(t, state.CompletedAt.IsZero())
		return nil
	})

	assert.Equal(t, 2, flushed)
	assert.Equal(t, []string{"tool-1", "tool-3"}, flushedIDs)
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_FinalizeOrphansScopedToSession(t *testing.T) {
	m := NewManager(nil)

	m.OnRequested("sess-1", "tool-1", "web_search", nil, nil)
	m.OnRequested("sess-2", "tool-2", "web_search", nil, nil)

	flushed := m.FinalizeOrphans(context.Background(), "sess-1", nil)

	assert.Equal(t, 1, flushed)
	assert.False(t, m.Pending("tool-1"))
	assert.True(t, m.Pending("tool-2"))
}

func TestManager_FinalizeOrphansPersistErrorContinues(t *testing.T) {
	m := NewManager(nil)

	m.OnRequested("sess-1", "tool-1", "web_search", nil, nil)
	m.OnRequested("sess-1", "tool-2", "web_search", nil, nil)

	calls := 0
	flushed := m.FinalizeOrphans(context.Background(), "sess-1", func(ctx context.Context, state *ToolState) error {
		calls++
		return assert.AnError
	})

	assert.Equal(t, 2, flushed)
	assert.Equal(t, 2, calls)
}

func TestManager_FinalizeOrphansEmpty(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, 0, m.FinalizeOrphans(context.Background(), "sess-1", nil))
}
