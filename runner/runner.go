package runner

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/agentpipe/citation"
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/eventlog"
	"github.com/hupe1980/agentpipe/jobqueue"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/normalizer"
	"github.com/hupe1980/agentpipe/pipeline"
	"github.com/hupe1980/agentpipe/session"
)

// Error codes surfaced on the transient error event when a turn fails.
const (
	// ErrorCodeEngineTimeout means the decision engine exceeded the turn timeout.
	ErrorCodeEngineTimeout = "engine_timeout"
	// ErrorCodeEngineFailure means the decision engine rejected the call.
	ErrorCodeEngineFailure = "engine_failure"
	// ErrorCodePersistence means a required durable write failed.
	ErrorCodePersistence = "persistence_failure"
	// ErrorCodeInternal covers everything else.
	ErrorCodeInternal = "internal_error"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// EventLog is the durable store. Defaults to in-memory.
	EventLog core.EventLog
	// Queue is the background write queue. Defaults to an in-memory worker
	// pool over EventLog.
	Queue core.JobQueue
	// SessionStore persists turn checkpoints. Defaults to in-memory.
	SessionStore core.SessionStore
	// Normalizer converts engine output. Defaults to normalizer.New().
	Normalizer core.Normalizer
	// Citations extracts citations from tool results. Defaults to the
	// built-in extractor.
	Citations core.CitationExtractor
	// Assembler produces the opaque context blob. Optional.
	Assembler core.ContextAssembler
	// Logger receives diagnostics. Defaults to NoOp.
	Logger logging.Logger

	// EngineTimeout bounds one decision engine call.
	EngineTimeout time.Duration
	// EnableThinking requests intermediate reasoning events.
	EnableThinking bool
	// ThinkingBudget caps reasoning tokens when thinking is enabled.
	ThinkingBudget int
	// ConfirmTimeout bounds the assistant message write confirmation.
	ConfirmTimeout time.Duration
	// AbortOnConfirmTimeout makes confirmation expiry fatal for the turn.
	AbortOnConfirmTimeout bool
}

// Result summarizes one completed turn.
type Result struct {
	ExecutionID        string
	Usage              core.TokenUsage
	Citations          []core.Citation
	AssistantMessageID string
}

// Runner coordinates turn execution. Public methods are safe for concurrent use.
type Runner struct {
	engine   core.DecisionEngine
	pipeline *pipeline.Pipeline

	engineTimeout  time.Duration
	enableThinking bool
	thinkingBudget int

	logger logging.Logger
}

// New constructs a Runner with optional overrides. Any unset dependency is
// initialized with an in-memory implementation.
func New(engine core.DecisionEngine, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Normalizer:     normalizer.New(),
		Citations:      citation.NewExtractor(),
		Logger:         logging.NoOpLogger{},
		EngineTimeout:  120 * time.Second,
		ConfirmTimeout: 10 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.EventLog == nil {
		opts.EventLog = eventlog.NewInMemoryLog()
	}
	if opts.Queue == nil {
		opts.Queue = jobqueue.NewInMemoryQueue(opts.EventLog, func(o *jobqueue.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}

	p := pipeline.New(engine, opts.EventLog, opts.Queue, opts.SessionStore, func(o *pipeline.Options) {
		o.Normalizer = opts.Normalizer
		o.Citations = opts.Citations
		o.Assembler = opts.Assembler
		o.ConfirmTimeout = opts.ConfirmTimeout
		o.AbortOnConfirmTimeout = opts.AbortOnConfirmTimeout
		o.Logger = opts.Logger
	})

	return &Runner{
		engine:         engine,
		pipeline:       p,
		engineTimeout:  opts.EngineTimeout,
		enableThinking: opts.EnableThinking,
		thinkingBudget: opts.ThinkingBudget,
		logger:         opts.Logger,
	}
}

// Run executes one prompt-to-response turn. Events are delivered to emit in
// order; emit may be nil for headless execution. On failure the client
// observes a transient error event with a stable code and the error is
// returned to the caller.
func (r *Runner) Run(ctx context.Context, sessionID, userID, prompt string, emit core.EmitFunc) (*Result, error) {
	ectx := core.NewExecutionContext(sessionID, userID, emit, func(o *core.ContextOptions) {
		o.EnableThinking = r.enableThinking
		o.ThinkingBudget = r.thinkingBudget
		o.Timeout = r.engineTimeout
		o.Logger = r.logger
	})

	r.logger.Debug("turn started session_id=%s execution_id=%s", sessionID, ectx.ExecutionID)

	start := core.NewNormalizedEvent(core.EventSessionStart, sessionID, core.StrategyTransient)
	ectx.EmitEvent(pipeline.Convert(start, ectx.NextEventIndex(), ectx))

	if err := r.pipeline.ExecuteTurn(ctx, ectx, prompt); err != nil {
		code := classifyFailure(err)
		r.logger.Error("turn failed session_id=%s execution_id=%s code=%s: %v", sessionID, ectx.ExecutionID, code, err)

		errEvent := core.NewNormalizedEvent(core.EventError, sessionID, core.StrategyTransient)
		errEvent.ErrorCode = code
		errEvent.ErrorMessage = err.Error()
		ectx.EmitEvent(pipeline.Convert(errEvent, ectx.NextEventIndex(), ectx))

		return nil, err
	}

	r.logger.Debug("turn completed session_id=%s execution_id=%s", sessionID, ectx.ExecutionID)

	return &Result{
		ExecutionID:        ectx.ExecutionID,
		Usage:              ectx.Usage,
		Citations:          ectx.CitedSources,
		AssistantMessageID: ectx.LastAssistantMessageID,
	}, nil
}

func classifyFailure(err error) string {
	var persistErr *pipeline.PersistenceError
	switch {
	case errors.As(err, &persistErr):
		return ErrorCodePersistence
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeEngineTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCodeInternal
	default:
		return ErrorCodeEngineFailure
	}
}
