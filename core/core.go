package core

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by EventLog and JobQueue implementations so the
// persister can categorize failures without knowing the backend.
var (
	// ErrSequenceConflict indicates a durable write collided with an already
	// used sequence number for the session.
	ErrSequenceConflict = errors.New("sequence number conflict")
	// ErrDuplicateEvent indicates an event ID was written twice.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrSessionNotFound indicates a write referenced an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQueueClosed indicates the job queue is shut down.
	ErrQueueClosed = errors.New("job queue closed")
	// ErrJobTimeout indicates AwaitCompletion expired before the job finished.
	ErrJobTimeout = errors.New("job completion timeout")
)

// EngineInput is the assembled request handed to the decision engine. Context
// is an opaque text blob produced by external prompt/context assembly.
type EngineInput struct {
	SessionID string
	UserID    string
	Prompt    string
	Context   string

	// SkipMessages is the previous turn's checkpoint: the engine-visible
	// history length already processed, so only new output is normalized.
	SkipMessages int

	EnableThinking bool
	ThinkingBudget int
}

// EngineMessage is one message produced by the decision engine.
type EngineMessage struct {
	Role     string
	Text     string
	Thinking string
	AgentID  string
}

// ToolExecution is one request/response pair the decision engine ran.
type ToolExecution struct {
	ToolUseID string
	Name      string
	Args      []byte
	Result    string
	Success   bool
	Error     string
	AgentID   string
}

// EngineOutput is the typed, provider-agnostic result of one engine call.
type EngineOutput struct {
	Messages       []EngineMessage
	ToolExecutions []ToolExecution
	Model          string
	AgentID        string
	Usage          TokenUsage
}

// DecisionEngine is the external black box that turns a prompt into messages
// and tool executions. Implementations must honor ctx cancellation; the
// pipeline bounds each call with the turn timeout.
type DecisionEngine interface {
	Execute(ctx context.Context, input EngineInput) (*EngineOutput, error)
}

// NormalizeOptions tunes normalization of one engine output.
type NormalizeOptions struct {
	// IncludeComplete appends a terminal complete event.
	IncludeComplete bool
	// SkipMessages drops already-checkpointed leading messages.
	SkipMessages int
}

// Normalizer converts raw engine output into the provider-agnostic event list
// the pipeline operates on.
type Normalizer interface {
	Normalize(output *EngineOutput, sessionID string, opts NormalizeOptions) []NormalizedEvent
}

// EventLog is the append-only durable store. Sequence numbers are monotonic
// per session; ReserveSequenceNumbers is the only way to obtain them ahead of
// a write, and the returned block is contiguous and atomically claimed.
type EventLog interface {
	ReserveSequenceNumbers(ctx context.Context, sessionID string, count int) ([]int64, error)
	AppendEvent(ctx context.Context, sessionID string, eventType EventType, payload []byte) (*PersistedEvent, error)
	AppendEventWithSequence(ctx context.Context, sessionID string, eventType EventType, payload []byte, seq int64) (*PersistedEvent, error)
}

// JobSpec describes one background write job.
type JobSpec struct {
	Kind      string
	SessionID string
	EventType EventType
	Payload   []byte
	// Sequence, when non-nil, pins the durable position of the write.
	Sequence *int64
	// Confirm registers the job for AwaitCompletion. Fire-and-forget jobs
	// leave it false so the queue retains no completion state for them.
	Confirm bool
}

// JobQueue runs background write jobs. Enqueue must be safe for concurrent
// producers and must not block on job execution.
type JobQueue interface {
	Enqueue(ctx context.Context, spec JobSpec) (string, error)
	AwaitCompletion(ctx context.Context, jobID string, timeout time.Duration) error
}

// CitationExtractor derives citations from tool results. Both methods are
// pure; Extract is only called when ProducesCitations reports true.
type CitationExtractor interface {
	ProducesCitations(toolName string) bool
	Extract(toolName, result string) []Citation
}

// Session is the durable per-conversation record carrying the turn
// checkpoint. MessageCount is the engine-visible history length at the end of
// the last completed turn.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionStore persists sessions and their turn checkpoints.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Create(ctx context.Context, sessionID, userID string) (*Session, error)
	AdvanceCheckpoint(ctx context.Context, sessionID string, messageCount int) error
}

// ContextAssembler produces the opaque context blob attached to engine input
// (file attachments, semantic search results, history summaries). The default
// implementation returns an empty blob.
type ContextAssembler interface {
	Assemble(ctx context.Context, sessionID, prompt string) (string, error)
}

// EmitFunc delivers one client event over the real-time transport. The
// pipeline calls it strictly in emission order; implementations should return
// quickly and hand off slow delivery internally.
type EmitFunc func(event ClientEvent)
