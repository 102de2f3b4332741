package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/lifecycle"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/normalizer"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Normalizer converts engine output into normalized events. Defaults to
	// normalizer.New().
	Normalizer core.Normalizer
	// Citations extracts citations from tool results. Optional.
	Citations core.CitationExtractor
	// Assembler produces the opaque context blob for engine input. Optional.
	Assembler core.ContextAssembler
	// ConfirmTimeout bounds the assistant message write confirmation.
	ConfirmTimeout time.Duration
	// AbortOnConfirmTimeout makes confirmation expiry fatal instead of a warning.
	AbortOnConfirmTimeout bool
	// Logger receives pipeline diagnostics.
	Logger logging.Logger
}

// Pipeline executes one turn: it assembles engine input, invokes the decision
// engine under the turn timeout, normalizes and sequences the output, runs
// every event through the processor, finalizes orphaned tool calls, and
// advances the session checkpoint. A Pipeline holds no per-turn state and is
// safe for concurrent turns; everything mutable lives in the ExecutionContext
// handed to ExecuteTurn.
type Pipeline struct {
	engine     core.DecisionEngine
	normalizer core.Normalizer
	assembler  core.ContextAssembler
	log        core.EventLog
	sessions   core.SessionStore

	sequencer *Sequencer
	persister *Persister
	processor *Processor

	logger logging.Logger
}

// New constructs a pipeline over the given engine, durable log, job queue and
// session store.
func New(
	engine core.DecisionEngine,
	log core.EventLog,
	queue core.JobQueue,
	sessions core.SessionStore,
	optFns ...func(o *Options),
) *Pipeline {
	opts := Options{
		Normalizer:     normalizer.New(),
		ConfirmTimeout: 10 * time.Second,
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	persister := NewPersister(log, queue, func(o *PersisterOptions) {
		o.ConfirmTimeout = opts.ConfirmTimeout
		o.AbortOnConfirmTimeout = opts.AbortOnConfirmTimeout
		o.Logger = opts.Logger
	})

	return &Pipeline{
		engine:     engine,
		normalizer: opts.Normalizer,
		assembler:  opts.Assembler,
		log:        log,
		sessions:   sessions,
		sequencer:  NewSequencer(log, opts.Logger),
		persister:  persister,
		processor:  NewProcessor(persister, opts.Citations, opts.Logger),
		logger:     opts.Logger,
	}
}

// Persister exposes the pipeline's persister. Mainly useful for wiring custom
// finalization paths in tests and embedding callers.
func (p *Pipeline) Persister() *Persister { return p.persister }

// ExecuteTurn runs one prompt-to-response turn against the execution context.
// The emit callback bound to the context observes events in exactly the order
// the sequencer assigned them.
func (p *Pipeline) ExecuteTurn(ctx context.Context, ectx *core.ExecutionContext, prompt string) error {
	sessionID := ectx.SessionID

	sess, err := p.sessions.Get(ctx, sessionID)
	if errors.Is(err, core.ErrSessionNotFound) {
		sess, err = p.sessions.Create(ctx, sessionID, ectx.UserID)
	}
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	contextBlob := ""
	if p.assembler != nil {
		contextBlob, err = p.assembler.Assemble(ctx, sessionID, prompt)
		if err != nil {
			return fmt.Errorf("failed to assemble context: %w", err)
		}
	}

	if err := p.persistUserMessage(ctx, ectx, prompt); err != nil {
		return &PersistenceError{Kind: Categorize(err), Err: fmt.Errorf("failed to persist user message: %w", err)}
	}

	input := core.EngineInput{
		SessionID:      sessionID,
		UserID:         ectx.UserID,
		Prompt:         prompt,
		Context:        contextBlob,
		SkipMessages:   sess.MessageCount,
		EnableThinking: ectx.EnableThinking,
		ThinkingBudget: ectx.ThinkingBudget,
	}

	engineCtx, cancel := context.WithTimeout(ctx, ectx.Timeout)
	defer cancel()

	output, err := p.engine.Execute(engineCtx, input)
	if err != nil {
		return fmt.Errorf("decision engine failed: %w", err)
	}

	ectx.AddUsage(output.Usage)

	events := p.normalizer.Normalize(output, sessionID, core.NormalizeOptions{
		IncludeComplete: true,
		SkipMessages:    sess.MessageCount,
	})

	if err := p.sequencer.Sequence(ctx, sessionID, events); err != nil {
		return err
	}

	currentAgent := ""
	for i := range events {
		ev := &events[i]

		if ev.SourceAgentID != "" && ev.SourceAgentID != currentAgent {
			if currentAgent != "" {
				p.emitAgentChanged(ctx, ectx, currentAgent, ev.SourceAgentID)
			}
			currentAgent = ev.SourceAgentID
		}

		if err := p.processor.Process(ctx, ev, ectx); err != nil {
			return err
		}
	}

	if flushed := ectx.Tools.FinalizeOrphans(ctx, sessionID, func(fctx context.Context, record *lifecycle.ToolState) error {
		return p.persister.WriteToolRecord(fctx, record)
	}); flushed > 0 {
		p.logger.Warn("finalized %d incomplete tool calls session_id=%s execution_id=%s", flushed, sessionID, ectx.ExecutionID)
	}

	if total := len(output.Messages); total > sess.MessageCount {
		if err := p.sessions.AdvanceCheckpoint(ctx, sessionID, total); err != nil {
			// The turn itself succeeded; a stale checkpoint only means the
			// next turn re-reads history.
			p.logger.Error("failed to advance checkpoint session_id=%s to %d: %v", sessionID, total, err)
		}
	}

	return nil
}

// persistUserMessage appends the user's prompt to the durable log before the
// engine runs, so the canonical record always starts with what the user said.
func (p *Pipeline) persistUserMessage(ctx context.Context, ectx *core.ExecutionContext, prompt string) error {
	payload, err := json.Marshal(struct {
		UserID string `json:"user_id"`
		Text   string `json:"text"`
	}{UserID: ectx.UserID, Text: prompt})
	if err != nil {
		return err
	}
	_, err = p.log.AppendEvent(ctx, ectx.SessionID, core.EventUserMessage, payload)
	return err
}

// emitAgentChanged emits the synthetic transient agent_changed event and
// fires its async audit write.
func (p *Pipeline) emitAgentChanged(ctx context.Context, ectx *core.ExecutionContext, fromAgentID, toAgentID string) {
	ev := core.NewNormalizedEvent(core.EventAgentChanged, ectx.SessionID, core.StrategyTransient)
	ev.SourceAgentID = toAgentID

	ectx.EmitEvent(Convert(ev, ectx.NextEventIndex(), ectx))
	p.persister.AuditAgentChange(ctx, ectx.SessionID, fromAgentID, toAgentID)

	p.logger.Debug("agent transition session_id=%s from=%s to=%s", ectx.SessionID, fromAgentID, toAgentID)
}
