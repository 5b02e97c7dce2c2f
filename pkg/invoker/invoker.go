// Package invoker defines the uniform call surface for tasks, tool runtime
// functions and peer agents, and the workflow facade that composes them.
package invoker

import (
	"context"
	"encoding/json"

	"github.com/aixgo-dev/swarm/pkg/registry"
)

// TaskInvoker executes statically known tasks by name.
type TaskInvoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// ToolInvoker executes functions exposed by a tool runtime.
type ToolInvoker interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// AgentInvoker sends a request to a peer agent identified by its ID.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, error)
}

// ToolDescriptor is how a tool runtime advertises one function.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// Definition converts d into a discovery record keyed by the tool name.
// A missing output schema becomes the empty schema.
func (d ToolDescriptor) Definition() registry.ToolDefinition {
	def := registry.ToolDefinition{
		ID:           d.Name,
		Name:         d.Name,
		Description:  d.Description,
		InputSchema:  d.InputSchema,
		OutputSchema: d.OutputSchema,
	}
	def.Normalize()
	return def
}

// NoTools stands in for a tool runtime when none is configured. It lists
// nothing and reports every call as NotFound.
type NoTools struct{}

func (NoTools) ListTools(ctx context.Context) ([]ToolDescriptor, error) { return nil, nil }

func (NoTools) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return nil, NewError(KindNotFound, name, nil, "no tool runtime configured")
}
