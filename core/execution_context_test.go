package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewExecutionContext_Defaults(t *testing.T) {
	ectx := NewExecutionContext("sess-1", "user-1", nil)

	assert.NotEmpty(t, ectx.ExecutionID)
	assert.Equal(t, "sess-1", ectx.SessionID)
	assert.Equal(t, "user-1", ectx.UserID)
	assert.NotNil(t, ectx.Tools)
	assert.Equal(t, 120*time.Second, ectx.Timeout)
}

func TestNewExecutionContext_Options(t *testing.T) {
	ectx := NewExecutionContext("sess-1", "user-1", nil, func(o *ContextOptions) {
		o.EnableThinking = true
		o.ThinkingBudget = 2048
		o.Timeout = 5 * time.Second
	})

	assert.True(t, ectx.EnableThinking)
	assert.Equal(t, 2048, ectx.ThinkingBudget)
	assert.Equal(t, 5*time.Second, ectx.Timeout)
}

func TestNextEventIndex_StrictlyIncreasingFromZero(t *testing.T) {
	ectx := NewExecutionContext("sess-1", "user-1", nil)

	for want := 0; want < 5; want++ {
		assert.Equal(t, want, ectx.NextEventIndex())
	}
}

func TestNextEventIndex_IndependentPerContext(t *testing.T) {
	a := NewExecutionContext("sess-1", "user-1", nil)
	b := NewExecutionContext("sess-2", "user-1", nil)

	a.NextEventIndex()
	a.NextEventIndex()

	assert.Equal(t, 0, b.NextEventIndex())
	assert.Equal(t, 2, a.NextEventIndex())
}

func TestMarkToolSeen(t *testing.T) {
	ectx := NewExecutionContext("sess-1", "user-1", nil)

	dup, first := ectx.MarkToolSeen("tool-1")
	assert.False(t, dup)
	assert.False(t, first.IsZero())

	// Every later call reports a duplicate with the stable first-seen time.
	dup2, seen2 := ectx.MarkToolSeen("tool-1")
	assert.True(t, dup2)
	assert.Equal(t, first, seen2)

	dup3, seen3 := ectx.MarkToolSeen("tool-1")
	assert.True(t, dup3)
	assert.Equal(t, first, seen3)

	// A different id is unaffected.
	dupOther, _ := ectx.MarkToolSeen("tool-2")
	assert.False(t, dupOther)
}

func TestAddUsageAndCitations(t *testing.T) {
	ectx := NewExecutionContext("sess-1", "user-1", nil)

	ectx.AddUsage(TokenUsage{InputTokens: 10, OutputTokens: 5})
	ectx.AddUsage(TokenUsage{InputTokens: 3, OutputTokens: 2})
	assert.Equal(t, TokenUsage{InputTokens: 13, OutputTokens: 7}, ectx.Usage)

	ectx.AddCitations([]Citation{{URL: "https://a"}})
	ectx.AddCitations([]Citation{{URL: "https://b"}})
	assert.Len(t, ectx.CitedSources, 2)
}

func TestEmitEvent_NilCallbackIsSafe(t *testing.T) {
	ectx := NewExecutionContext("sess-1", "user-1", nil)
	// Must not panic.
	ectx.EmitEvent(ClientEvent{Type: EventComplete})
}

func TestEmitEvent_DeliversInOrder(t *testing.T) {
	var got []EventType
	ectx := NewExecutionContext("sess-1", "user-1", func(ev ClientEvent) {
		got = append(got, ev.Type)
	})

	ectx.EmitEvent(ClientEvent{Type: EventSessionStart})
	ectx.EmitEvent(ClientEvent{Type: EventComplete})

	assert.Equal(t, []EventType{EventSessionStart, EventComplete}, got)
}
