// Package agentpipe provides a high-level façade over the runner and the
// event pipeline. Most applications interact with this package by:
//  1. Creating an AgentPipe via New() around a decision engine (optionally
//     overriding the default in-memory stores and queue)
//  2. Running turns asynchronously (Run, events delivered via callback) or
//     synchronously (RunSync, events collected into a slice)
//
// The façade delegates turn orchestration to runner.Runner while keeping
// setup ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply the SQLite-backed event
// log and a structured logger.
package agentpipe

import (
	"context"
	"time"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/runner"
)

// Options configures the AgentPipe instance.
type Options struct {
	// EventLog is the durable store (defaults to in-memory if not provided).
	EventLog core.EventLog
	// Queue is the background write queue (defaults to an in-memory worker
	// pool over EventLog).
	Queue core.JobQueue
	// SessionStore persists turn checkpoints (defaults to in-memory).
	SessionStore core.SessionStore
	// Assembler produces the opaque context blob handed to the engine. Optional.
	Assembler core.ContextAssembler

	// EngineTimeout bounds one decision engine call.
	EngineTimeout time.Duration
	// EnableThinking requests intermediate reasoning events from the engine.
	EnableThinking bool
	// ThinkingBudget caps reasoning tokens when thinking is enabled.
	ThinkingBudget int
	// ConfirmTimeout bounds the durable write confirmation for assistant
	// messages.
	ConfirmTimeout time.Duration
	// AbortOnConfirmTimeout makes confirmation expiry fatal for the turn
	// instead of a warning.
	AbortOnConfirmTimeout bool

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// AgentPipe is the high-level façade aggregating the runner and its services.
type AgentPipe struct {
	opts   Options
	runner *runner.Runner
}

// New creates a new AgentPipe around the given decision engine with optional
// overrides. Any unset service is initialized with an in-memory
// implementation.
func New(engine core.DecisionEngine, optFns ...func(o *Options)) *AgentPipe {
	opts := Options{
		EngineTimeout:  120 * time.Second,
		ConfirmTimeout: 10 * time.Second,
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := runner.New(engine, func(o *runner.Options) {
		o.EventLog = opts.EventLog
		o.Queue = opts.Queue
		o.SessionStore = opts.SessionStore
		o.Assembler = opts.Assembler
		o.EngineTimeout = opts.EngineTimeout
		o.EnableThinking = opts.EnableThinking
		o.ThinkingBudget = opts.ThinkingBudget
		o.ConfirmTimeout = opts.ConfirmTimeout
		o.AbortOnConfirmTimeout = opts.AbortOnConfirmTimeout
		o.Logger = opts.Logger
	})

	return &AgentPipe{opts: opts, runner: r}
}

// Run executes one prompt-to-response turn. Events are delivered to emit in
// order; emit may be nil for headless execution.
func (p *AgentPipe) Run(ctx context.Context, sessionID, userID, prompt string, emit core.EmitFunc) (*runner.Result, error) {
	return p.runner.Run(ctx, sessionID, userID, prompt, emit)
}

// RunSync is a synchronous helper that collects every emitted event into a
// slice and returns it alongside the turn result. On failure the collected
// events still include the terminal error event.
func (p *AgentPipe) RunSync(ctx context.Context, sessionID, userID, prompt string) (*runner.Result, []core.ClientEvent, error) {
	var events []core.ClientEvent

	result, err := p.runner.Run(ctx, sessionID, userID, prompt, func(ev core.ClientEvent) {
		events = append(events, ev)
	})

	return result, events, err
}
