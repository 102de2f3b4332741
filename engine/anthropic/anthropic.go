// Package anthropic provides a decision engine backed by the Anthropic
// Messages API. It keeps a per-session transcript, drives the tool-use loop
// against a ToolRunner, and maps extended thinking blocks onto thinking
// messages.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/engine"
)

// Compile-time check that the adapter satisfies the engine contract.
var _ core.DecisionEngine = (*Engine)(nil)

// Options configures the Anthropic engine adapter (model id, sampling,
// tools). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string

	// System is prepended as a system block on every call. The per-call
	// context blob from EngineInput is appended after it.
	System string

	// AgentID labels messages produced by this engine. Defaults to the
	// model id.
	AgentID string

	// Tools are advertised to the model. ToolRunner executes them; without
	// a runner the loop stops at the first tool request.
	Tools      []engine.ToolDefinition
	ToolRunner engine.ToolRunner

	// MaxIterations bounds the request/tool-result loop within one turn.
	MaxIterations int
}

// sessionState is the retained conversation for one session: the SDK-level
// message history replayed on each call, and the transcript handed back to
// the pipeline.
type sessionState struct {
	api        []anthropic.MessageParam
	transcript []core.EngineMessage
}

// Engine wraps the Anthropic Messages API behind core.DecisionEngine.
type Engine struct {
	client *anthropic.Client
	opts   Options

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewEngine creates a new Anthropic engine using the official client.
func NewEngine(optFns ...func(o *Options)) *Engine {
	opts := applyOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Engine{
		client:   &client,
		opts:     opts,
		sessions: make(map[string]*sessionState),
	}
}

// NewEngineFromClient creates a new Anthropic engine from an existing client.
func NewEngineFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Engine {
	return &Engine{
		client:   client,
		opts:     applyOptions(optFns),
		sessions: make(map[string]*sessionState),
	}
}

func applyOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:         anthropic.ModelClaude3_5Sonnet20241022,
		Temperature:   0.7,
		MaxTokens:     4096,
		MaxIterations: 8,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.AgentID == "" {
		opts.AgentID = string(opts.Model)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 8
	}

	return opts
}

// Execute runs one turn: it appends the user prompt to the session
// transcript, loops request/tool-result exchanges until the model stops
// requesting tools, and returns the full transcript plus every tool
// execution of this turn.
func (e *Engine) Execute(ctx context.Context, input core.EngineInput) (*core.EngineOutput, error) {
	state := e.takeSession(input.SessionID)

	state.api = append(state.api, anthropic.NewUserMessage(anthropic.NewTextBlock(input.Prompt)))
	state.transcript = append(state.transcript, core.EngineMessage{Role: "user", Text: input.Prompt})

	var (
		executions []core.ToolExecution
		usage      core.TokenUsage
	)

	for i := 0; i < e.opts.MaxIterations; i++ {
		resp, err := e.client.Messages.New(ctx, e.buildParams(input, state.api))
		if err != nil {
			e.putSession(input.SessionID, state)
			return nil, fmt.Errorf("anthropic api error: %w", err)
		}

		usage.Add(core.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		})

		msg, toolUses := e.collectBlocks(resp)
		state.api = append(state.api, resp.ToParam())
		state.transcript = append(state.transcript, msg)

		if len(toolUses) == 0 || e.opts.ToolRunner == nil {
			break
		}

		var results []anthropic.ContentBlockParamUnion
		for _, tu := range toolUses {
			exec := e.runTool(ctx, tu)
			executions = append(executions, exec)

			content := exec.Result
			if !exec.Success {
				content = exec.Error
			}
			results = append(results, anthropic.NewToolResultBlock(exec.ToolUseID, content, !exec.Success))
		}

		state.api = append(state.api, anthropic.NewUserMessage(results...))
	}

	out := &core.EngineOutput{
		Messages:       append([]core.EngineMessage(nil), state.transcript...),
		ToolExecutions: executions,
		Model:          string(e.opts.Model),
		AgentID:        e.opts.AgentID,
		Usage:          usage,
	}

	e.putSession(input.SessionID, state)

	return out, nil
}

// buildParams assembles the request, including system blocks, tool
// definitions, and the extended thinking configuration.
func (e *Engine) buildParams(input core.EngineInput, messages []anthropic.MessageParam) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     e.opts.Model,
		Messages:  messages,
		MaxTokens: e.opts.MaxTokens,
	}

	var systemBlocks []anthropic.TextBlockParam
	if e.opts.System != "" {
		systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: e.opts.System})
	}
	if input.Context != "" {
		systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: input.Context})
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	if len(e.opts.Tools) > 0 {
		params.Tools = e.buildTools()
	}

	if input.EnableThinking && input.ThinkingBudget > 0 {
		// The API rejects a custom temperature while thinking is enabled.
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(input.ThinkingBudget))
	} else {
		params.Temperature = anthropic.Float(e.opts.Temperature)
	}

	return params
}

// buildTools converts the configured tool definitions to Anthropic tool format.
func (e *Engine) buildTools() []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(e.opts.Tools))

	for i, tool := range e.opts.Tools {
		inputSchema := anthropic.ToolInputSchemaParam{}
		if tool.Parameters != nil {
			if properties, exists := tool.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tool.Parameters["required"]; exists {
				inputSchema.Required = toStringSlice(required)
			}
		}

		tools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		if tool.Description != "" {
			tools[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}

	return tools
}

// collectBlocks splits the response into the assistant message (text plus
// thinking) and the tool use requests.
func (e *Engine) collectBlocks(resp *anthropic.Message) (core.EngineMessage, []anthropic.ToolUseBlock) {
	msg := core.EngineMessage{Role: "assistant", AgentID: e.opts.AgentID}

	var toolUses []anthropic.ToolUseBlock
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textBlock := block.AsText()
			if textBlock.Text != "" {
				if msg.Text != "" {
					msg.Text += "\n"
				}
				msg.Text += textBlock.Text
			}
		case "thinking":
			thinkingBlock := block.AsThinking()
			if thinkingBlock.Thinking != "" {
				msg.Thinking = thinkingBlock.Thinking
			}
		case "tool_use":
			toolUses = append(toolUses, block.AsToolUse())
		}
	}

	return msg, toolUses
}

// runTool executes one tool use request through the configured runner.
func (e *Engine) runTool(ctx context.Context, tu anthropic.ToolUseBlock) core.ToolExecution {
	exec := core.ToolExecution{
		ToolUseID: tu.ID,
		Name:      tu.Name,
		AgentID:   e.opts.AgentID,
	}
	if tu.Input != nil {
		if args, err := json.Marshal(tu.Input); err == nil {
			exec.Args = args
		}
	}

	result, err := e.opts.ToolRunner(ctx, tu.Name, json.RawMessage(exec.Args))
	if err != nil {
		exec.Error = err.Error()
		return exec
	}

	exec.Result = result
	exec.Success = true

	return exec
}

func (e *Engine) takeSession(sessionID string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.sessions[sessionID]
	if !ok {
		state = &sessionState{}
	} else {
		delete(e.sessions, sessionID)
	}

	return state
}

func (e *Engine) putSession(sessionID string, state *sessionState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessions[sessionID] = state
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
