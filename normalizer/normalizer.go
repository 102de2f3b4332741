// Package normalizer converts typed decision engine output into the
// provider-agnostic event list the pipeline operates on. Persistence
// strategies are fixed here: reply-defining events (thinking,
// assistant_message) require sync persistence, tool events allow async
// persistence, and the terminal complete event is transient.
package normalizer

import (
	"github.com/hupe1980/agentpipe/core"
)

// DefaultNormalizer is the standard core.Normalizer implementation.
type DefaultNormalizer struct{}

// New creates a DefaultNormalizer.
func New() *DefaultNormalizer { return &DefaultNormalizer{} }

// Normalize maps one engine output into an ordered event list. Messages
// before opts.SkipMessages are checkpointed history and dropped; only
// assistant-authored messages produce events. Tool executions follow the
// messages as request/response pairs, and a terminal complete event is
// appended when opts.IncludeComplete is set.
func (n *DefaultNormalizer) Normalize(output *core.EngineOutput, sessionID string, opts core.NormalizeOptions) []core.NormalizedEvent {
	var events []core.NormalizedEvent
	if output == nil {
		return events
	}

	messages := output.Messages
	if opts.SkipMessages >= len(messages) {
		messages = nil
	} else if opts.SkipMessages > 0 {
		messages = messages[opts.SkipMessages:]
	}

	for _, msg := range messages {
		if msg.Role != "assistant" {
			continue
		}
		agentID := msg.AgentID
		if agentID == "" {
			agentID = output.AgentID
		}

		if msg.Thinking != "" {
			ev := core.NewNormalizedEvent(core.EventThinking, sessionID, core.StrategySyncRequired)
			ev.Text = msg.Thinking
			ev.SourceAgentID = agentID
			events = append(events, ev)
		}
		if msg.Text != "" {
			ev := core.NewNormalizedEvent(core.EventAssistantMessage, sessionID, core.StrategySyncRequired)
			ev.Text = msg.Text
			ev.SourceAgentID = agentID
			events = append(events, ev)
		}
	}

	for _, exec := range output.ToolExecutions {
		agentID := exec.AgentID
		if agentID == "" {
			agentID = output.AgentID
		}

		req := core.NewNormalizedEvent(core.EventToolRequest, sessionID, core.StrategyAsyncAllowed)
		req.ToolUseID = exec.ToolUseID
		req.ToolName = exec.Name
		req.ToolArgs = exec.Args
		req.SourceAgentID = agentID
		events = append(events, req)

		resp := core.NewNormalizedEvent(core.EventToolResponse, sessionID, core.StrategyAsyncAllowed)
		resp.ToolUseID = exec.ToolUseID
		resp.ToolName = exec.Name
		resp.ToolResult = exec.Result
		resp.ToolSuccess = exec.Success
		resp.ToolError = exec.Error
		resp.SourceAgentID = agentID
		events = append(events, resp)
	}

	if opts.IncludeComplete {
		// No source agent on the terminal event: it closes the turn as a
		// whole and must not register as another agent transition.
		ev := core.NewNormalizedEvent(core.EventComplete, sessionID, core.StrategyTransient)
		ev.Model = output.Model
		events = append(events, ev)
	}

	return events
}
