// Package discovery resolves and registers tasks, tools and agent capability
// records. Service is the contract every component consumes; Client talks to a
// remote discovery Server, Registry is the in-process implementation the
// Server is built on.
package discovery

import (
	"context"
	"errors"

	"github.com/aixgo-dev/swarm/pkg/registry"
)

var (
	// ErrUnreachable is returned when the discovery service cannot be reached.
	ErrUnreachable = errors.New("discovery service unreachable")

	// ErrInvalidDefinition is returned for malformed task, tool or agent records.
	ErrInvalidDefinition = registry.ErrInvalidDefinition

	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("not found in discovery")
)

// Service is the discovery contract. All registrations are idempotent upserts
// keyed by ID: registering the same ID again overwrites the previous record.
type Service interface {
	RegisterTask(ctx context.Context, def registry.TaskDefinition) error
	RegisterTool(ctx context.Context, def registry.ToolDefinition) error
	RegisterAgent(ctx context.Context, def registry.AgentDefinition) error

	GetTask(ctx context.Context, id string) (registry.TaskDefinition, error)
	GetTool(ctx context.Context, id string) (registry.ToolDefinition, error)
	GetAgent(ctx context.Context, id string) (registry.AgentDefinition, error)

	ListTasks(ctx context.Context) ([]registry.TaskDefinition, error)
	ListTools(ctx context.Context) ([]registry.ToolDefinition, error)
	ListAgents(ctx context.Context) ([]registry.AgentDefinition, error)

	// ResolveAgent returns the most recently registered agent matching domain
	// and type. An empty domain matches any domain.
	ResolveAgent(ctx context.Context, domain registry.AgentDomain, agentType registry.AgentType) (registry.AgentDefinition, error)
}

// Pinger is implemented by services that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
