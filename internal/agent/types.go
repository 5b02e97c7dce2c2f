// Package agent defines what every launched agent implements, the
// dependencies the factory hands it, and the configuration it is built from.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/pkg/discovery"
	"github.com/aixgo-dev/swarm/pkg/evaluation"
	"github.com/aixgo-dev/swarm/pkg/invoker"
	"github.com/aixgo-dev/swarm/pkg/memory"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

// Agent is a long-running agent process. Start serves until ctx is
// cancelled or the agent hits a fatal error; Execute answers one request.
type Agent interface {
	// Name returns the unique identifier for this agent instance.
	Name() string

	// Type returns the archetype the agent was built as.
	Type() registry.AgentType

	// Start runs the agent's endpoint and self-registration.
	// Returns when ctx is cancelled or the agent encounters a fatal error.
	Start(ctx context.Context) error

	// Execute performs synchronous request-response execution.
	Execute(ctx context.Context, input *Message) (*Message, error)

	// Stop gracefully shuts down the agent.
	Stop(ctx context.Context) error

	// Ready returns true once the agent accepts invocations.
	Ready() bool
}

// Endpoint is implemented by agents that serve invocations on a listener
// the factory has already bound.
type Endpoint interface {
	Serve(ctx context.Context, ln net.Listener) error
}

// Message is the unit agents exchange.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Type           string            `json:"type,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(conversationID string, payload json.RawMessage) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
	}
}

// Reply creates a message answering m in the same conversation.
func (m *Message) Reply(payload json.RawMessage) *Message {
	out := NewMessage(m.ConversationID, payload)
	out.Type = "response"
	return out
}

// Deps is everything an agent may be wired to. Memory, Evaluation and
// ToolRuntime may be nil.
type Deps struct {
	Discovery   discovery.Service
	Memory      memory.Service
	Evaluation  evaluation.Service
	Workflow    invoker.WorkflowService
	ToolRuntime invoker.ToolInvoker
	LLM         llm.ChatClient
	Logger      *slog.Logger
}

// FactoryFunc builds an agent of one archetype.
type FactoryFunc func(cfg FactoryAgentConfig, deps Deps) (Agent, error)

// Registry maps agent types to their factory functions.
type Registry interface {
	Register(t registry.AgentType, factory FactoryFunc)
	GetFactory(t registry.AgentType) (FactoryFunc, bool)
}

// DefaultRegistry is the map-backed Registry implementation.
type DefaultRegistry struct {
	factories map[registry.AgentType]FactoryFunc
	mu        sync.RWMutex
}

var defaultRegistry = NewRegistry()

// NewRegistry creates an empty registry (useful for testing).
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		factories: make(map[registry.AgentType]FactoryFunc),
	}
}

func (r *DefaultRegistry) Register(t registry.AgentType, factory FactoryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = factory
}

func (r *DefaultRegistry) GetFactory(t registry.AgentType) (FactoryFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[t]
	return f, ok
}

// Default returns the process-wide registry archetypes register into.
func Default() Registry { return defaultRegistry }

// Register registers a factory with the default registry.
func Register(t registry.AgentType, factory FactoryFunc) {
	defaultRegistry.Register(t, factory)
}

// GetFactory retrieves a factory from the default registry.
func GetFactory(t registry.AgentType) (FactoryFunc, bool) {
	return defaultRegistry.GetFactory(t)
}

// CreateAgentWithRegistry builds an agent of type t using reg.
func CreateAgentWithRegistry(cfg FactoryAgentConfig, deps Deps, t registry.AgentType, reg Registry) (Agent, error) {
	if factory, ok := reg.GetFactory(t); ok {
		return factory(cfg, deps)
	}
	return nil, fmt.Errorf("unknown agent type: %s", t)
}
