package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentpipe/core"
)

// ScriptedEngine is a core.DecisionEngine that replays canned outputs in
// order and records every input it received. Once the script is exhausted it
// keeps returning the last output. Set Err to make every call fail instead.
type ScriptedEngine struct {
	mu      sync.Mutex
	outputs []*core.EngineOutput
	inputs  []core.EngineInput
	calls   int

	// Err, when non-nil, is returned by every Execute call.
	Err error
	// Delay, when non-nil, is invoked before responding; use it to block on
	// the context for timeout tests.
	Delay func(ctx context.Context) error
}

var _ core.DecisionEngine = (*ScriptedEngine)(nil)

// NewScriptedEngine creates an engine that replays the given outputs.
func NewScriptedEngine(outputs ...*core.EngineOutput) *ScriptedEngine {
	return &ScriptedEngine{outputs: outputs}
}

// Execute implements core.DecisionEngine.
func (e *ScriptedEngine) Execute(ctx context.Context, input core.EngineInput) (*core.EngineOutput, error) {
	if e.Delay != nil {
		if err := e.Delay(ctx); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.inputs = append(e.inputs, input)
	e.calls++

	if e.Err != nil {
		return nil, e.Err
	}
	if len(e.outputs) == 0 {
		return &core.EngineOutput{}, nil
	}

	idx := e.calls - 1
	if idx >= len(e.outputs) {
		idx = len(e.outputs) - 1
	}

	return e.outputs[idx], nil
}

// Calls reports how many times Execute ran.
func (e *ScriptedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Inputs returns a copy of every recorded engine input.
func (e *ScriptedEngine) Inputs() []core.EngineInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.EngineInput(nil), e.inputs...)
}

// Collector gathers emitted client events for assertions.
type Collector struct {
	mu     sync.Mutex
	events []core.ClientEvent
}

// NewCollector creates an empty collector.
func NewCollector() *Collector { return &Collector{} }

// Emit is the core.EmitFunc to hand to the runner or pipeline.
func (c *Collector) Emit(ev core.ClientEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of everything emitted so far.
func (c *Collector) Events() []core.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.ClientEvent(nil), c.events...)
}

// Types returns the emitted event types in order.
func (c *Collector) Types() []core.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]core.EventType, len(c.events))
	for i, ev := range c.events {
		types[i] = ev.Type
	}
	return types
}

// OfType returns the emitted events of one type, in order.
func (c *Collector) OfType(t core.EventType) []core.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.ClientEvent
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
