package pipeline

import (
	"github.com/hupe1980/agentpipe/core"
)

// Convert maps a normalized event to its client-facing shape. It is a pure
// function with one branch per event type and performs no I/O. It reads the
// execution context's citation accumulator and last assistant message only
// for the terminal complete event, so everything gathered throughout the turn
// rides along with it.
//
// The resulting persistence state is transient for transient events and
// pending for everything else; the processor upgrades it to persisted once
// the durable write is confirmed.
func Convert(ev core.NormalizedEvent, eventIndex int, ectx *core.ExecutionContext) core.ClientEvent {
	out := core.ClientEvent{
		Type:        ev.Type,
		ID:          ev.ID,
		SessionID:   ev.SessionID,
		Timestamp:   ev.Timestamp,
		EventIndex:  eventIndex,
		Sequence:    ev.Sequence,
		Persistence: core.PersistencePending,
		AgentID:     ev.SourceAgentID,
	}
	if ev.Strategy == core.StrategyTransient {
		out.Persistence = core.PersistenceTransient
	}

	switch ev.Type {
	case core.EventThinking, core.EventAssistantMessage:
		out.Text = ev.Text

	case core.EventToolRequest:
		out.ToolUseID = ev.ToolUseID
		out.ToolName = ev.ToolName
		out.ToolArgs = ev.ToolArgs

	case core.EventToolResponse:
		out.ToolUseID = ev.ToolUseID
		out.ToolName = ev.ToolName
		out.ToolResult = ev.ToolResult
		out.ToolSuccess = ev.ToolSuccess
		out.ErrorMessage = ev.ToolError

	case core.EventComplete:
		out.Model = ev.Model
		out.Citations = append([]core.Citation(nil), ectx.CitedSources...)
		out.AssistantMessageID = ectx.LastAssistantMessageID
		usage := ectx.Usage
		out.Usage = &usage

	case core.EventError:
		out.ErrorCode = ev.ErrorCode
		out.ErrorMessage = ev.ErrorMessage

	case core.EventAgentChanged:
		out.AgentID = ev.SourceAgentID

	case core.EventSessionStart:
		// Identity fields only.
	}

	return out
}
