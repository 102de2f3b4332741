package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/internal/testutil"
)

func TestConvert_IdentityFields(t *testing.T) {
	ectx := core.NewExecutionContext("sess-1", "user-1", nil)

	ev := testutil.NewEventBuilder("sess-1").AssistantText("hello").Agent("agent-a").Sequence(7).Build()
	out := Convert(ev, 3, ectx)

	assert.Equal(t, core.EventAssistantMessage, out.Type)
	assert.Equal(t, ev.ID, out.ID)
	assert.Equal(t, "sess-1", out.SessionID)
	assert.Equal(t, ev.Timestamp, out.Timestamp)
	assert.Equal(t, 3, out.EventIndex)
	assert.Equal(t, int64(7), *out.Sequence)
	assert.Equal(t, "agent-a", out.AgentID)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, core.PersistencePending, out.Persistence)
}

func TestConvert_TransientPersistenceState(t *testing.T) {
	ectx := core.NewExecutionContext("sess-1", "user-1", nil)

	out := Convert(testutil.NewEventBuilder("sess-1").Complete().Build(), 0, ectx)
	assert.Equal(t, core.PersistenceTransient, out.Persistence)
	assert.Nil(t, out.Sequence)
}

func TestConvert_ToolRequest(t *testing.T) {
	ectx := core.NewExecutionContext("sess-1", "user-1", nil)

	ev := testutil.NewEventBuilder("sess-1").ToolRequest("tool-1", "web_search", `{"query":"go"}`).Build()
	out := Convert(ev, 0, ectx)

	assert.Equal(t, "tool-1", out.ToolUseID)
	assert.Equal(t, "web_search", out.ToolName)
	assert.JSONEq(t, `{"query":"go"}`, string(out.ToolArgs))
}

func TestConvert_ToolResponse(t *testing.T) {
	ectx := core.NewExecutionContext("sess-1", "user-1", nil)

	ev := testutil.NewEventBuilder("sess-1").ToolResponse("tool-1", "web_search", `{"results":[]}`, true).Build()
	out := Convert(ev, 0, ectx)

	assert.Equal(t, "tool-1", out.ToolUseID)
	assert.Equal(t, `{"results":[]}`, out.ToolResult)
	assert.True(t, out.ToolSuccess)
}

func TestConvert_CompleteCarriesTurnAccumulators(t *testing.T) {
	ectx := core.NewExecutionContext("sess-1", "user-1", nil)
	ectx.AddUsage(core.TokenUsage{InputTokens: 100, OutputTokens: 50})
	ectx.AddCitations([]core.Citation{{Title: "Go", URL: "https://go.dev"}})
	ectx.LastAssistantMessageID = "msg-1"

	ev := testutil.NewEventBuilder("sess-1").Complete().Model("claude-3-5-sonnet").Build()
	out := Convert(ev, 4, ectx)

	assert.Equal(t, "claude-3-5-sonnet", out.Model)
	assert.Equal(t, "msg-1", out.AssistantMessageID)
	if assert.NotNil(t, out.Usage) {
		assert.Equal(t, core.TokenUsage{InputTokens: 100, OutputTokens: 50}, *out.Usage)
	}
	if assert.Len(t, out.Citations, 1) {
		assert.Equal(t, "https://go.dev", out.Citations[0].URL)
	}
}

func TestConvert_CompleteCitationsAreCopied(t *testing.T) {
	ectx := core.NewExecutionContext("sess-1", "user-1", nil)
	ectx.AddCitations([]core.Citation{{URL: "https://a"}})

	out := Convert(testutil.NewEventBuilder("sess-1").Complete().Build(), 0, ectx)
	ectx.AddCitations([]core.Citation{{URL: "https://b"}})

	// The emitted event must not observe later mutation.
	assert.Len(t, out.Citations, 1)
}

func TestConvert_Error(t *testing.T) {
	ectx := core.NewExecutionContext("sess-1", "user-1", nil)

	ev := core.NewNormalizedEvent(core.EventError, "sess-1", core.StrategyTransient)
	ev.ErrorCode = "engine_failure"
	ev.ErrorMessage = "boom"

	out := Convert(ev, 0, ectx)
	assert.Equal(t, "engine_failure", out.ErrorCode)
	assert.Equal(t, "boom", out.ErrorMessage)
}
