// Package openai provides a decision engine backed by the OpenAI Chat
// Completions API (including function/tool calling). It keeps a per-session
// transcript and drives the tool-call loop against a ToolRunner. The API has
// no thinking surface, so thinking options on the input are ignored.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/engine"
	"github.com/openai/openai-go"
)

// Compile-time check that the adapter satisfies the engine contract.
var _ core.DecisionEngine = (*Engine)(nil)

// Options configure the OpenAI engine adapter. Fields mirror a subset of
// Chat Completion parameters intentionally kept minimal; extend via
// functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64

	// System is prepended as a system message on every call. The per-call
	// context blob from EngineInput is appended after it.
	System string

	// AgentID labels messages produced by this engine. Defaults to the
	// model id.
	AgentID string

	// Tools are advertised to the model. ToolRunner executes them; without
	// a runner the loop stops at the first tool call.
	Tools      []engine.ToolDefinition
	ToolRunner engine.ToolRunner

	// MaxIterations bounds the request/tool-result loop within one turn.
	MaxIterations int
}

// sessionState is the retained conversation for one session.
type sessionState struct {
	api        []openai.ChatCompletionMessageParamUnion
	transcript []core.EngineMessage
}

// Engine wraps the OpenAI Chat Completions API behind core.DecisionEngine.
type Engine struct {
	client *openai.Client
	opts   Options

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewEngine creates a new OpenAI engine using the official client.
func NewEngine(optFns ...func(o *Options)) *Engine {
	client := openai.NewClient()
	return NewEngineFromClient(&client, optFns...)
}

// NewEngineFromClient creates a new OpenAI engine from an existing client.
func NewEngineFromClient(client *openai.Client, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		MaxIterations:       8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.AgentID == "" {
		opts.AgentID = opts.Model
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 8
	}
	return &Engine{client: client, opts: opts, sessions: make(map[string]*sessionState)}
}

// Execute runs one turn: it appends the user prompt to the session
// transcript, loops request/tool-result exchanges until the model stops
// calling tools, and returns the full transcript plus every tool execution
// of this turn.
func (e *Engine) Execute(ctx context.Context, input core.EngineInput) (*core.EngineOutput, error) {
	state := e.takeSession(input.SessionID)

	state.api = append(state.api, openai.UserMessage(input.Prompt))
	state.transcript = append(state.transcript, core.EngineMessage{Role: "user", Text: input.Prompt})

	var (
		executions []core.ToolExecution
		usage      core.TokenUsage
	)

	for i := 0; i < e.opts.MaxIterations; i++ {
		resp, err := e.client.Chat.Completions.New(ctx, e.buildParams(input, state.api))
		if err != nil {
			e.putSession(input.SessionID, state)
			return nil, fmt.Errorf("openai api error: %w", err)
		}
		if len(resp.Choices) == 0 {
			e.putSession(input.SessionID, state)
			return nil, fmt.Errorf("openai api returned no choices")
		}

		usage.Add(core.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		})

		choice := resp.Choices[0]
		state.api = append(state.api, choice.Message.ToParam())
		state.transcript = append(state.transcript, core.EngineMessage{
			Role:    "assistant",
			Text:    choice.Message.Content,
			AgentID: e.opts.AgentID,
		})

		if len(choice.Message.ToolCalls) == 0 || e.opts.ToolRunner == nil {
			break
		}

		for _, tc := range choice.Message.ToolCalls {
			exec := e.runTool(ctx, tc)
			executions = append(executions, exec)

			content := exec.Result
			if !exec.Success {
				content = exec.Error
			}
			state.api = append(state.api, openai.ToolMessage(content, tc.ID))
		}
	}

	out := &core.EngineOutput{
		Messages:       append([]core.EngineMessage(nil), state.transcript...),
		ToolExecutions: executions,
		Model:          e.opts.Model,
		AgentID:        e.opts.AgentID,
		Usage:          usage,
	}

	e.putSession(input.SessionID, state)

	return out, nil
}

// buildParams assembles the request parameters including tool definitions.
func (e *Engine) buildParams(
	input core.EngineInput,
	history []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if e.opts.System != "" {
		messages = append(messages, openai.SystemMessage(e.opts.System))
	}
	if input.Context != "" {
		messages = append(messages, openai.SystemMessage(input.Context))
	}
	messages = append(messages, history...)

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               e.opts.Model,
		Temperature:         openai.Float(e.opts.Temperature),
		MaxCompletionTokens: openai.Int(e.opts.MaxCompletionTokens),
	}
	if len(e.opts.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(e.opts.Tools))
	for i, tdef := range e.opts.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools

	return params
}

// runTool executes one tool call through the configured runner.
func (e *Engine) runTool(ctx context.Context, tc openai.ChatCompletionMessageToolCall) core.ToolExecution {
	exec := core.ToolExecution{
		ToolUseID: tc.ID,
		Name:      tc.Function.Name,
		Args:      []byte(tc.Function.Arguments),
		AgentID:   e.opts.AgentID,
	}

	result, err := e.opts.ToolRunner(ctx, tc.Function.Name, json.RawMessage(tc.Function.Arguments))
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
