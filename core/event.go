package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the semantic category of an event flowing through the
// pipeline. The set is closed: the normalizer only produces these values and
// the converter has one branch per value.
type EventType string

const (
	// EventSessionStart marks the beginning of a turn on the client stream.
	EventSessionStart EventType = "session_start"
	// EventAgentChanged signals that a different agent identity is now acting.
	EventAgentChanged EventType = "agent_changed"
	// EventThinking carries intermediate reasoning text.
	EventThinking EventType = "thinking"
	// EventAssistantMessage carries the canonical assistant reply text.
	EventAssistantMessage EventType = "assistant_message"
	// EventToolRequest records an agent requesting execution of a named tool.
	EventToolRequest EventType = "tool_request"
	// EventToolResponse records the outcome of a previously requested tool call.
	EventToolResponse EventType = "tool_response"
	// EventComplete terminates a successful turn on the client stream.
	EventComplete EventType = "complete"
	// EventError terminates a failed turn on the client stream.
	EventError EventType = "error"
)

// Durable-log record types that never appear on the client stream. The
// combined tool record collapses a request/response pair into one row; the
// citations record attaches extracted sources to an assistant message.
const (
	// EventUserMessage is the durable record of the user's prompt.
	EventUserMessage EventType = "user_message"
	// EventToolCall is the durable combined request+response tool record.
	EventToolCall EventType = "tool_call"
	// EventCitations is the durable record of citations for a message.
	EventCitations EventType = "citations_update"
)

// PersistenceStrategy governs write timing relative to client emission.
type PersistenceStrategy string

const (
	// StrategyTransient events are never written to the durable log.
	StrategyTransient PersistenceStrategy = "transient"
	// StrategySyncRequired events are written before conversion and emission.
	StrategySyncRequired PersistenceStrategy = "sync_required"
	// StrategyAsyncAllowed events are written after emission, off the hot path.
	StrategyAsyncAllowed PersistenceStrategy = "async_allowed"
)

// PersistenceState reports durable-write progress on a ClientEvent.
type PersistenceState string

const (
	// PersistenceTransient marks events that will never be written.
	PersistenceTransient PersistenceState = "transient"
	// PersistencePending marks events whose durable write is not yet confirmed.
	PersistencePending PersistenceState = "pending"
	// PersistencePersisted marks events whose durable write is confirmed.
	PersistencePersisted PersistenceState = "persisted"
)

// NormalizedEvent is the provider-agnostic unit the normalizer produces from
// raw decision engine output. It is mutated exactly once after creation (the
// sequencer fills Sequence) and discarded after one pipeline run.
type NormalizedEvent struct {
	Type      EventType           `json:"type"`
	ID        string              `json:"event_id"`
	SessionID string              `json:"session_id"`
	Timestamp time.Time           `json:"timestamp"`
	Strategy  PersistenceStrategy `json:"persistence_strategy"`

	// SourceAgentID identifies the acting agent, when known. The pipeline
	// emits a synthetic agent_changed event whenever it changes mid-turn.
	SourceAgentID string `json:"source_agent_id,omitempty"`

	// Sequence is the pre-allocated durable sequence number. Nil until the
	// sequencer assigns it; stays nil for transient events.
	Sequence *int64 `json:"sequence_number,omitempty"`

	// Text payload for thinking and assistant_message events.
	Text string `json:"text,omitempty"`

	// Tool payload for tool_request and tool_response events.
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolArgs    json.RawMessage `json:"tool_args,omitempty"`
	ToolResult  string          `json:"tool_result,omitempty"`
	ToolSuccess bool            `json:"tool_success,omitempty"`
	ToolError   string          `json:"tool_error,omitempty"`

	// Model reports the model identity used for the turn (complete events).
	Model string `json:"model,omitempty"`

	// Error payload for error events.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewNormalizedEvent creates a bare normalized event bound to a session with
// a fresh ID and UTC timestamp.
func NewNormalizedEvent(eventType EventType, sessionID string, strategy PersistenceStrategy) NormalizedEvent {
	return NormalizedEvent{
		Type:      eventType,
		ID:        NewID(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Strategy:  strategy,
	}
}

// IsPersistable reports whether the event participates in sequence
// reservation and durable writes.
func (e NormalizedEvent) IsPersistable() bool { return e.Strategy != StrategyTransient }

// ClientEvent is the shape delivered to connected clients. EventIndex is the
// local emission order within one execution; Sequence is the durable order
// once known. After emission it should be treated as immutable.
type ClientEvent struct {
	Type        EventType        `json:"type"`
	ID          string           `json:"event_id"`
	SessionID   string           `json:"session_id"`
	Timestamp   time.Time        `json:"timestamp"`
	EventIndex  int              `json:"event_index"`
	Sequence    *int64           `json:"sequence_number,omitempty"`
	Persistence PersistenceState `json:"persistence_state"`

	AgentID string `json:"agent_id,omitempty"`
	Text    string `json:"text,omitempty"`

	ToolUseID   string          `json:"tool_use_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolArgs    json.RawMessage `json:"tool_args,omitempty"`
	ToolResult  string          `json:"tool_result,omitempty"`
	ToolSuccess bool            `json:"tool_success,omitempty"`

	// Terminal complete payload: everything gathered over the turn.
	Citations          []Citation  `json:"citations,omitempty"`
	AssistantMessageID string      `json:"assistant_message_id,omitempty"`
	Usage              *TokenUsage `json:"usage,omitempty"`
	Model              string      `json:"model,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// PersistedEvent acknowledges a durable write. SequenceNumber is never zero
// once a write succeeded.
type PersistedEvent struct {
	ID             string    `json:"id"`
	SequenceNumber int64     `json:"sequence_number"`
	Timestamp      time.Time `json:"timestamp"`
	JobID          string    `json:"job_id,omitempty"`
}

// Citation references a source surfaced by a tool result.
type Citation struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Source  string `json:"source,omitempty"`
}

// TokenUsage accumulates prompt and completion token counts over one turn.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add merges another usage sample into the receiver.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// NewID generates a new unique identifier for events, executions and jobs.
func NewID() string { return uuid.NewString() }
