package core

import (
	"time"

	"github.com/hupe1980/agentpipe/lifecycle"
	"github.com/hupe1980/agentpipe/logging"
)

// ExecutionContext is the per-turn mutable state container. It is created
// once per call, exclusively owned by that call's goroutine chain, and
// discarded at call end; nothing in it is shared across executions, which is
// what makes the pipeline safe under concurrent turns without locking.
type ExecutionContext struct {
	ExecutionID string
	SessionID   string
	UserID      string

	// Emit delivers client events in order. May be nil for headless runs.
	Emit EmitFunc

	// Tools is the owned lifecycle manager correlating tool calls.
	Tools *lifecycle.Manager

	// Usage accumulates token counts over the turn.
	Usage TokenUsage

	// CitedSources collects citations extracted from tool responses; they
	// ride along with the terminal complete event.
	CitedSources []Citation

	// LastAssistantMessageID is the durable ID of the most recent persisted
	// assistant message, used to attach citations at turn end.
	LastAssistantMessageID string

	EnableThinking bool
	ThinkingBudget int
	Timeout        time.Duration

	Logger logging.Logger

	eventIndex int
	seenTools  map[string]time.Time
}

// ContextOptions configures ExecutionContext creation.
type ContextOptions struct {
	// EnableThinking requests intermediate reasoning from the engine.
	EnableThinking bool
	// ThinkingBudget caps reasoning tokens when thinking is enabled.
	ThinkingBudget int
	// Timeout bounds the decision engine call.
	Timeout time.Duration
	// Logger receives per-turn diagnostics. Defaults to NoOp.
	Logger logging.Logger
}

// NewExecutionContext creates the state container for one turn. The emit
// callback may be nil when no client is connected.
func NewExecutionContext(sessionID, userID string, emit EmitFunc, optFns ...func(o *ContextOptions)) *ExecutionContext {
	opts := ContextOptions{
		Timeout: 120 * time.Second,
		Logger:  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ExecutionContext{
		ExecutionID:    NewID(),
		SessionID:      sessionID,
		UserID:         userID,
		Emit:           emit,
		Tools:          lifecycle.NewManager(opts.Logger),
		EnableThinking: opts.EnableThinking,
		ThinkingBudget: opts.ThinkingBudget,
		Timeout:        opts.Timeout,
		Logger:         opts.Logger,
		seenTools:      make(map[string]time.Time),
	}
}

// NextEventIndex returns the current emission index and increments it. Within
// one context the returned values are 0..k-1, strictly increasing, never
// repeated.
func (c *ExecutionContext) NextEventIndex() int {
	idx := c.eventIndex
	c.eventIndex++
	return idx
}

// MarkToolSeen is an atomic check-and-set on the seen-tools table, the single
// cross-component source of truth for tool deduplication. The first call for
// an id returns isDuplicate=false; every later call returns true with the
// stable first-seen timestamp.
func (c *ExecutionContext) MarkToolSeen(toolUseID string) (isDuplicate bool, firstSeenAt time.Time) {
	if ts, ok := c.seenTools[toolUseID]; ok {
		return true, ts
	}
	now := time.Now().UTC()
	c.seenTools[toolUseID] = now
	return false, now
}

// AddUsage merges a token usage sample into the turn total.
func (c *ExecutionContext) AddUsage(usage TokenUsage) { c.Usage.Add(usage) }

// AddCitations appends extracted citations to the turn accumulator.
func (c *ExecutionContext) AddCitations(citations []Citation) {
	c.CitedSources = append(c.CitedSources, citations...)
}

// EmitEvent delivers one client event via the bound callback, if any.
func (c *ExecutionContext) EmitEvent(event ClientEvent) {
	if c.Emit != nil {
		c.Emit(event)
	}
}
