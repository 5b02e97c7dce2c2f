package factory

import (
	"context"
	"sync"

	"github.com/aixgo-dev/swarm/pkg/registry"
)

// AgentHandle tracks one launched agent. It resolves once when the agent
// stops; Err is nil until then.
type AgentHandle struct {
	name      string
	agentType registry.AgentType
	done      chan struct{}

	mu  sync.Mutex
	err error
}

func newHandle(name string, t registry.AgentType) *AgentHandle {
	return &AgentHandle{name: name, agentType: t, done: make(chan struct{})}
}

// Name returns the agent ID.
func (h *AgentHandle) Name() string { return h.name }

// Type returns the agent archetype.
func (h *AgentHandle) Type() registry.AgentType { return h.agentType }

// Done is closed when the agent has stopped.
func (h *AgentHandle) Done() <-chan struct{} { return h.done }

// Err returns the agent's exit error once Done is closed.
func (h *AgentHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the agent stops or ctx is done.
func (h *AgentHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *AgentHandle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
