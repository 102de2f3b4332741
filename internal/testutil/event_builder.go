package testutil

import (
	"encoding/json"

	"github.com/hupe1980/agentpipe/core"
)

// EventBuilder provides a fluent helper for constructing normalized events in
// tests. Example:
//
//	ev := NewEventBuilder("sess-1").AssistantText("hello").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	eventType core.EventType
	sessionID string
	strategy  core.PersistenceStrategy
	agentID   string
	text      string
	toolUseID string
	toolName  string
	toolArgs  json.RawMessage
	result    string
	success   bool
	model     string
	sequence  *int64
}

// NewEventBuilder creates a builder for the given session with a transient
// complete event as the default shape.
func NewEventBuilder(sessionID string) *EventBuilder {
	return &EventBuilder{
		eventType: core.EventComplete,
		sessionID: sessionID,
		strategy:  core.StrategyTransient,
	}
}

// Agent sets the source agent id (chainable).
func (b *EventBuilder) Agent(id string) *EventBuilder { b.agentID = id; return b }

// Model sets the model id, mainly for complete events (chainable).
func (b *EventBuilder) Model(m string) *EventBuilder { b.model = m; return b }

// Sequence pins a pre-assigned sequence number (chainable).
func (b *EventBuilder) Sequence(seq int64) *EventBuilder { b.sequence = &seq; return b }

// Thinking shapes the event as a sync-persisted thinking event (chainable).
func (b *EventBuilder) Thinking(text string) *EventBuilder {
	b.eventType = core.EventThinking
	b.strategy = core.StrategySyncRequired
	b.text = text
	return b
}

// AssistantText shapes the event as a sync-persisted assistant message (chainable).
func (b *EventBuilder) AssistantText(text string) *EventBuilder {
	b.eventType = core.EventAssistantMessage
	b.strategy = core.StrategySyncRequired
	b.text = text
	return b
}

// ToolRequest shapes the event as an async tool request (chainable).
func (b *EventBuilder) ToolRequest(toolUseID, name, args string) *EventBuilder {
	b.eventType = core.EventToolRequest
	b.strategy = core.StrategyAsyncAllowed
	b.toolUseID = toolUseID
	b.toolName = name
	b.toolArgs = json.RawMessage(args)
	return b
}

// ToolResponse shapes the event as an async tool response (chainable).
func (b *EventBuilder) ToolResponse(toolUseID, name, result string, success bool) *EventBuilder {
	b.eventType = core.EventToolResponse
	b.strategy = core.StrategyAsyncAllowed
	b.toolUseID = toolUseID
	b.toolName = name
	b.result = result
	b.success = success
	return b
}

// Complete shapes the event as the transient terminal event (chainable).
func (b *EventBuilder) Complete() *EventBuilder {
	b.eventType = core.EventComplete
	b.strategy = core.StrategyTransient
	return b
}

// Build constructs the core.NormalizedEvent value.
func (b *EventBuilder) Build() core.NormalizedEvent {
	ev := core.NewNormalizedEvent(b.eventType, b.sessionID, b.strategy)
	ev.SourceAgentID = b.agentID
	ev.Text = b.text
	ev.ToolUseID = b.toolUseID
	ev.ToolName = b.toolName
	ev.ToolArgs = b.toolArgs
	ev.ToolResult = b.result
	ev.ToolSuccess = b.success
	ev.Model = b.model
	ev.Sequence = b.sequence
	return ev
}
