package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/internal/testutil"
)

func TestRun_Success(t *testing.T) {
	engine := testutil.NewScriptedEngine(&core.EngineOutput{
		Messages: []core.EngineMessage{
			{Role: "user", Text: "hi"},
			{Role: "assistant", Text: "hello there", AgentID: "agent-a"},
		},
		Model:   "claude-3-5-sonnet",
		AgentID: "agent-a",
		Usage:   core.TokenUsage{InputTokens: 10, OutputTokens: 4},
	})
	r := New(engine)

	collector := testutil.NewCollector()
	result, err := r.Run(context.Background(), "sess-1", "user-1", "hi", collector.Emit)
	require.NoError(t, err)
	require.NotNil(t, result)

	types := collector.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, core.EventSessionStart, types[0])
	assert.Equal(t, core.EventComplete, types[len(types)-1])

	// The session_start event is transient and first in emission order.
	start := collector.OfType(core.EventSessionStart)[0]
	assert.Equal(t, 0, start.EventIndex)
	assert.Equal(t, core.PersistenceTransient, start.Persistence)

	assert.NotEmpty(t, result.ExecutionID)
	assert.Equal(t, core.TokenUsage{InputTokens: 10, OutputTokens: 4}, result.Usage)
	assert.NotEmpty(t, result.AssistantMessageID)
}

func TestRun_NilEmitIsHeadless(t *testing.T) {
	engine := testutil.NewScriptedEngine(&core.EngineOutput{
		Messages: []core.EngineMessage{
			{Role: "assistant", Text: "quiet", AgentID: "agent-a"},
		},
		AgentID: "agent-a",
	})
	r := New(engine)

	result, err := r.Run(context.Background(), "sess-1", "user-1", "hi", nil)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestRun_EngineFailure(t *testing.T) {
	engine := testutil.NewScriptedEngine()
	engine.Err = errors.New("model exploded")
	r := New(engine)

	collector := testutil.NewCollector()
	result, err := r.Run(context.Background(), "sess-1", "user-1", "hi", collector.Emit)
	require.Error(t, err)
	assert.Nil(t, result)

	errEvents := collector.OfType(core.EventError)
	require.Len(t, errEvents, 1)
	assert.Equal(t, ErrorCodeEngineFailure, errEvents[0].ErrorCode)
	assert.Contains(t, errEvents[0].ErrorMessage, "model exploded")

	// The stream still opened normally before the failure.
	assert.Equal(t, core.EventSessionStart, collector.Types()[0])
}

func TestRun_EngineTimeout(t *testing.T) {
	engine := testutil.NewScriptedEngine(&core.EngineOutput{})
	engine.Delay = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	r := New(engine, func(o *Options) {
		o.EngineTimeout = 20 * time.Millisecond
	})

	collector := testutil.NewCollector()
	_, err := r.Run(context.Background(), "sess-1", "user-1", "hi", collector.Emit)
	require.Error(t, err)

	errEvents := collector.OfType(core.EventError)
	require.Len(t, errEvents, 1)
	assert.Equal(t, ErrorCodeEngineTimeout, errEvents[0].ErrorCode)
}

// failingLog rejects every write to exercise persistence failure surfacing.
type failingLog struct{}

func (failingLog) ReserveSequenceNumbers(ctx context.Context, sessionID string, count int) ([]int64, error) {
	return nil, errors.New("backend unavailable")
}

func (failingLog) AppendEvent(ctx context.Context, sessionID string, eventType core.EventType, payload []byte) (*core.PersistedEvent, error) {
	return nil, errors.New("backend unavailable")
}

func (failingLog) AppendEventWithSequence(ctx context.Context, sessionID string, eventType core.EventType, payload []byte, seq int64) (*core.PersistedEvent, error) {
	return nil, errors.New("backend unavailable")
}

func TestRun_PersistenceFailure(t *testing.T) {
	engine := testutil.NewScriptedEngine(&core.EngineOutput{})
	r := New(engine, func(o *Options) {
		o.EventLog = failingLog{}
	})

	collector := testutil.NewCollector()
	_, err := r.Run(context.Background(), "sess-1", "user-1", "hi", collector.Emit)
	require.Error(t, err)

	errEvents := collector.OfType(core.EventError)
	require.Len(t, errEvents, 1)
	assert.Equal(t, ErrorCodePersistence, errEvents[0].ErrorCode)

	// The engine never ran: the user message write failed first.
	assert.Equal(t, 0, engine.Calls())
}

func TestRun_ThinkingOptionsForwarded(t *testing.T) {
	engine := testutil.NewScriptedEngine(&core.EngineOutput{})
	r := New(engine, func(o *Options) {
		o.EnableThinking = true
		o.ThinkingBudget = 1024
	})

	_, err := r.Run(context.Background(), "sess-1", "user-1", "hi", nil)
	require.NoError(t, err)

	inputs := engine.Inputs()
	require.Len(t, inputs, 1)
	assert.True(t, inputs[0].EnableThinking)
	assert.Equal(t, 1024, inputs[0].ThinkingBudget)
	assert.Equal(t, "sess-1", inputs[0].SessionID)
	assert.Equal(t, "user-1", inputs[0].UserID)
}
