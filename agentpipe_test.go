package agentpipe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/internal/testutil"
)

func TestRunSync_CollectsEvents(t *testing.T) {
	engine := testutil.NewScriptedEngine(&core.EngineOutput{
		Messages: []core.EngineMessage{
			{Role: "user", Text: "hi"},
			{Role: "assistant", Text: "hello there", AgentID: "agent-a"},
		},
		Model:   "claude-3-5-sonnet",
		AgentID: "agent-a",
	})

	pipe := New(engine)

	result, events, err := pipe.RunSync(context.Background(), "sess-1", "user-1", "hi")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, events)

	assert.Equal(t, core.EventSessionStart, events[0].Type)
	assert.Equal(t, core.EventComplete, events[len(events)-1].Type)

	var reply string
	for _, ev := range events {
		if ev.Type == core.EventAssistantMessage {
			reply = ev.Text
		}
	}
	assert.Equal(t, "hello there", reply)
}

func TestRunSync_FailureStillYieldsErrorEvent(t *testing.T) {
	engine := testutil.NewScriptedEngine()
	engine.Err = errors.New("model exploded")

	pipe := New(engine)

	result, events, err := pipe.RunSync(context.Background(), "sess-1", "user-1", "hi")
	require.Error(t, err)
	assert.Nil(t, result)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.EventError, last.Type)
	assert.NotEmpty(t, last.ErrorCode)
}

func TestRun_DelegatesToCallback(t *testing.T) {
	engine := testutil.NewScriptedEngine(&core.EngineOutput{
		Messages: []core.EngineMessage{
			{Role: "assistant", Text: "ok", AgentID: "agent-a"},
		},
		AgentID: "agent-a",
	})

	pipe := New(engine)

	collector := testutil.NewCollector()
	_, err := pipe.Run(context.Background(), "sess-1", "user-1", "hi", collector.Emit)
	require.NoError(t, err)
	assert.NotEmpty(t, collector.Events())
}
