// Package engine defines the shared vocabulary of the provider-backed
// decision engines: tool definitions advertised to the model and the runner
// callback that executes them. The concrete adapters live in the anthropic
// and openai subpackages.
package engine

import (
	"context"
	"encoding/json"
)

// ToolDefinition describes a callable tool advertised to the model. The
// Parameters map is a JSON Schema object ("properties", "required", ...).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolRunner executes one tool call requested by the model and returns its
// textual result. A non-nil error marks the call failed; the error text is
// fed back to the model instead of the result.
type ToolRunner func(ctx context.Context, name string, args json.RawMessage) (string, error)
