// Package agents holds the agent archetypes the factory launches:
// Specialist, Executor and Planner. Each registers itself with the default
// agent registry.
package agents

import (
	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

func init() {
	agent.Register(registry.AgentTypeSpecialist, NewSpecialist)
	agent.Register(registry.AgentTypeExecutor, NewExecutor)
	agent.Register(registry.AgentTypePlanner, NewPlanner)
}
