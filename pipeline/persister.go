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
)

// AsyncDisposition reports what PersistAsync did with an event.
type AsyncDisposition int

const (
	// AsyncRegistered means the event only updated in-memory lifecycle state
	// (tool requests never persist on their own).
	AsyncRegistered AsyncDisposition = iota
	// AsyncScheduled means a non-blocking durable write was handed to the
	// background queue.
	AsyncScheduled
	// AsyncDropped means the event was a duplicate or an orphan and must not
	// be emitted or persisted.
	AsyncDropped
)

// PersisterOptions configures write confirmation behavior.
type PersisterOptions struct {
	// ConfirmTimeout bounds the blocking wait for the assistant message
	// write confirmation.
	ConfirmTimeout time.Duration
	// AbortOnConfirmTimeout makes a confirmation timeout fatal for the turn
	// instead of a warning. Policy, not correctness: the write job keeps
	// running either way.
	AbortOnConfirmTimeout bool
	// Logger receives persistence diagnostics.
	Logger logging.Logger
}

// Persister decides, per event, whether to write before or after emission,
// and performs the write. Sync failures abort the turn; async failures are
// logged and swallowed so a tool-audit write can never fail an otherwise
// successful turn.
type Persister struct {
	log    core.EventLog
	queue  core.JobQueue
	logger logging.Logger

	confirmTimeout        time.Duration
	abortOnConfirmTimeout bool
}

// NewPersister creates a persister over the durable log and job queue.
func NewPersister(log core.EventLog, queue core.JobQueue, optFns ...func(o *PersisterOptions)) *Persister {
	opts := PersisterOptions{
		ConfirmTimeout: 10 * time.Second,
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Persister{
		log:                   log,
		queue:                 queue,
		logger:                opts.Logger,
		confirmTimeout:        opts.ConfirmTimeout,
		abortOnConfirmTimeout: opts.AbortOnConfirmTimeout,
	}
}

// PersistSync writes an event to the durable log before it is converted and
// emitted. Thinking events are written directly. Assistant messages are
// queued as a background job and then awaited up to ConfirmTimeout: on expiry
// the persister either warns and returns (nil, nil), leaving the still
// in-flight write to land on its own and the event pending, or aborts,
// depending on policy.
func (p *Persister) PersistSync(ctx context.Context, ev *core.NormalizedEvent, ectx *core.ExecutionContext) (*core.PersistedEvent, error) {
	if ev.Sequence == nil {
		return nil, fmt.Errorf("event %s (%s) has no pre-allocated sequence number", ev.ID, ev.Type)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
	}

	switch ev.Type {
	case core.EventThinking:
		persisted, err := p.log.AppendEventWithSequence(ctx, ev.SessionID, ev.Type, payload, *ev.Sequence)
		if err != nil {
			return nil, fmt.Errorf("failed to persist thinking event: %w", err)
		}
		return persisted, nil

	case core.EventAssistantMessage:
		jobID, err := p.queue.Enqueue(ctx, core.JobSpec{
			Kind:      "append_event",
			SessionID: ev.SessionID,
			EventType: ev.Type,
			Payload:   payload,
			Sequence:  ev.Sequence,
			Confirm:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue assistant message write: %w", err)
		}

		// The message defines the canonical reply whether or not the write
		// confirms in time; citations attach to it at turn end either way.
		ectx.LastAssistantMessageID = ev.ID

		err = p.queue.AwaitCompletion(ctx, jobID, p.confirmTimeout)
		if err == nil {
			return &core.PersistedEvent{
				ID:             ev.ID,
				SequenceNumber: *ev.Sequence,
				Timestamp:      time.Now().UTC(),
				JobID:          jobID,
			}, nil
		}
		if errors.Is(err, core.ErrJobTimeout) {
			if p.abortOnConfirmTimeout {
				return nil, fmt.Errorf("assistant message write confirmation timed out after %s: %w", p.confirmTimeout, err)
			}
			p.logger.Warn("assistant message write not confirmed within %s, continuing event_id=%s job_id=%s", p.confirmTimeout, ev.ID, jobID)
			return nil, nil
		}
		return nil, fmt.Errorf("assistant message write failed: %w", err)

	default:
		return nil, fmt.Errorf("event type %s does not support sync persistence", ev.Type)
	}
}

// PersistAsync handles tool events. A tool_request only registers lifecycle
// state; persisting from the request alone is exactly what this path exists
// to prevent. A tool_response resolves the pending request and, if a combined
// record results, fires one non-blocking write carrying both pre-allocated
// sequence numbers so durable ordering survives the deferred write.
func (p *Persister) PersistAsync(ctx context.Context, ev *core.NormalizedEvent, ectx *core.ExecutionContext) AsyncDisposition {
	switch ev.Type {
	case core.EventToolRequest:
		if isDuplicate, firstSeen := ectx.MarkToolSeen(ev.ToolUseID); isDuplicate {
			p.logger.Debug("skipping duplicate tool request tool_use_id=%s first_seen=%s", ev.ToolUseID, firstSeen)
			return AsyncDropped
		}
		ectx.Tools.OnRequested(ev.SessionID, ev.ToolUseID, ev.ToolName, ev.ToolArgs, ev.Sequence)
		return AsyncRegistered

	case core.EventToolResponse:
		record := ectx.Tools.OnCompleted(ev.SessionID, ev.ToolUseID, ev.ToolResult, ev.ToolSuccess, ev.ToolError, ev.Sequence)
		if record == nil {
			// Orphan or session mismatch; already logged by the manager.
			return AsyncDropped
		}
		if err := p.ScheduleToolRecord(ctx, record); err != nil {
			p.logger.Error("failed to schedule tool record write tool_use_id=%s category=%s: %v", ev.ToolUseID, Categorize(err), err)
		}
		return AsyncScheduled

	default:
		p.logger.Warn("event type %s does not support async persistence", ev.Type)
		return AsyncDropped
	}
}

// ScheduleToolRecord enqueues the combined request+response record as one
// non-blocking write, pinned at the request's sequence number.
func (p *Persister) ScheduleToolRecord(ctx context.Context, record *lifecycle.ToolState) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode tool record %s: %w", record.ToolUseID, err)
	}
	_, err = p.queue.Enqueue(ctx, core.JobSpec{
		Kind:      "tool_call",
		SessionID: record.SessionID,
		EventType: core.EventToolCall,
		Payload:   payload,
		Sequence:  record.RequestSeq,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue tool record write: %w", err)
	}
	return nil
}

// WriteToolRecord appends the combined record directly, bypassing the queue.
// Used by the orphan flush at turn end, when the turn is over and there is
// nothing left to keep off the hot path.
func (p *Persister) WriteToolRecord(ctx context.Context, record *lifecycle.ToolState) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode tool record %s: %w", record.ToolUseID, err)
	}
	if record.RequestSeq != nil {
		_, err = p.log.AppendEventWithSequence(ctx, record.SessionID, core.EventToolCall, payload, *record.RequestSeq)
	} else {
		_, err = p.log.AppendEvent(ctx, record.SessionID, core.EventToolCall, payload)
	}
	if err != nil {
		return fmt.Errorf("failed to write tool record: %w", err)
	}
	return nil
}

// ScheduleCitations fires a non-blocking write attaching the turn's
// accumulated citations to the last assistant message. No-ops when there is
// nothing to attach.
func (p *Persister) ScheduleCitations(ctx context.Context, ectx *core.ExecutionContext) {
	if len(ectx.CitedSources) == 0 || ectx.LastAssistantMessageID == "" {
		return
	}
	payload, err := json.Marshal(struct {
		MessageID string          `json:"message_id"`
		Citations []core.Citation `json:"citations"`
	}{MessageID: ectx.LastAssistantMessageID, Citations: ectx.CitedSources})
	if err != nil {
		p.logger.Error("failed to encode citations for message %s: %v", ectx.LastAssistantMessageID, err)
		return
	}
	if _, err := p.queue.Enqueue(ctx, core.JobSpec{
		Kind:      "citations",
		SessionID: ectx.SessionID,
		EventType: core.EventCitations,
		Payload:   payload,
	}); err != nil {
		p.logger.Error("failed to enqueue citations write category=%s: %v", Categorize(err), err)
	}
}

// AuditAgentChange fires a non-blocking audit write for an acting-agent
// transition. The event is synthesized after batch sequencing, so the write
// takes the store's next number at append time.
func (p *Persister) AuditAgentChange(ctx context.Context, sessionID, fromAgentID, toAgentID string) {
	payload, err := json.Marshal(struct {
		From string `json:"from_agent_id"`
		To   string `json:"to_agent_id"`
	}{From: fromAgentID, To: toAgentID})
	if err != nil {
		p.logger.Error("failed to encode agent change audit: %v", err)
		return
	}
	if _, err := p.queue.Enqueue(ctx, core.JobSpec{
		Kind:      "agent_change",
		SessionID: sessionID,
		EventType: core.EventAgentChanged,
		Payload:   payload,
	}); err != nil {
		p.logger.Error("failed to enqueue agent change audit category=%s: %v", Categorize(err), err)
	}
}
