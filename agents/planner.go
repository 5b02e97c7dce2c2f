package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/pkg/invoker/a2a"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

const plannerPrompt = `You are %s, a planning agent. Break the user's request into steps that
can be executed with the resources below. Reply with a JSON object only:
{"goal": "<request restated>", "steps": [{"id": "s1", "kind": "task|tool|agent", "name": "<resource id>", "args": {}}]}
A string argument "${s1}" is replaced by the output of step s1.

%s`

// PlannerResult is the payload a Planner replies with.
type PlannerResult struct {
	Plan   Plan            `json:"plan"`
	Report json.RawMessage `json:"report,omitempty"`
}

// Planner decomposes requests into plans with its model and delegates them
// to its executor. The executor is never contacted at construction.
type Planner struct {
	*BaseAgent
	client      *a2a.Client
	executorURL string
}

// NewPlanner builds a Planner. cfg.ExecutorURL and deps.LLM are required.
func NewPlanner(cfg agent.FactoryAgentConfig, deps agent.Deps) (agent.Agent, error) {
	if cfg.ExecutorURL == "" {
		return nil, fmt.Errorf("planner %s: executor url is required", cfg.ID)
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("planner %s: llm client is required", cfg.ID)
	}
	p := &Planner{
		BaseAgent:   NewBaseAgent(cfg, deps),
		executorURL: cfg.ExecutorURL,
	}
	p.client = a2a.NewClient(a2a.WithClientLogger(p.Logger()))
	p.Bind(p.execute)
	return p, nil
}

func (p *Planner) execute(ctx context.Context, input *agent.Message) (*agent.Message, error) {
	request, err := inputText(input.Payload)
	if err != nil {
		return nil, err
	}

	plan, err := p.plan(ctx, request)
	if err != nil {
		return nil, err
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}

	p.Logger().Info("delegating plan", "steps", len(plan.Steps), "executor", p.executorURL)
	resp, sendErr := p.client.Send(ctx, p.executorURL, a2a.InvokeRequest{
		Input:          planJSON,
		ConversationID: input.ConversationID,
	})

	result := PlannerResult{Plan: plan}
	if resp != nil {
		result.Report = resp.Output
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if sendErr != nil {
		return input.Reply(payload), fmt.Errorf("delegate to executor: %w", sendErr)
	}
	return input.Reply(payload), nil
}

// plan asks the model for a plan over the current discovery catalog.
func (p *Planner) plan(ctx context.Context, request string) (Plan, error) {
	cfg := p.Config()
	system := fmt.Sprintf(plannerPrompt, cfg.Name, p.catalog(ctx))

	plan, err := llm.CompleteStructured(ctx, p.Deps().LLM, request, llm.StructuredOptions[Plan]{
		Model:       cfg.ModelID,
		System:      system,
		MaxAttempts: 2,
		Validate:    func(pl *Plan) error { return pl.Validate() },
	})
	if err != nil {
		return Plan{}, fmt.Errorf("planning: %w", err)
	}
	if plan.Goal == "" {
		plan.Goal = request
	}
	return *plan, nil
}

// catalog renders the tasks, tools and peer agents known to discovery. A
// discovery failure yields a partial catalog rather than an error.
func (p *Planner) catalog(ctx context.Context) string {
	disc := p.Deps().Discovery
	if disc == nil {
		return "No resources are available."
	}
	var b strings.Builder

	if tasks, err := disc.ListTasks(ctx); err != nil {
		p.Logger().Warn("list tasks failed", "error", err)
	} else if len(tasks) > 0 {
		b.WriteString("Tasks (kind \"task\"):\n")
		for _, t := range tasks {
			fmt.Fprintf(&b, "- %s: %s. Input schema: %s\n", t.ID, t.Description, t.InputSchema)
		}
	}
	if tools, err := disc.ListTools(ctx); err != nil {
		p.Logger().Warn("list tools failed", "error", err)
	} else if len(tools) > 0 {
		b.WriteString("Tools (kind \"tool\"):\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s. Input schema: %s\n", t.ID, t.Description, t.InputSchema)
		}
	}
	if agents, err := disc.ListAgents(ctx); err != nil {
		p.Logger().Warn("list agents failed", "error", err)
	} else {
		var peers []registry.AgentDefinition
		for _, a := range agents {
			if a.ID != p.Name() && a.Type != registry.AgentTypePlanner && a.Type != registry.AgentTypeExecutor {
				peers = append(peers, a)
			}
		}
		if len(peers) > 0 {
			b.WriteString("Agents (kind \"agent\", args {\"query\": \"...\"}):\n")
			for _, a := range peers {
				fmt.Fprintf(&b, "- %s (%s): %s\n", a.ID, a.Domain, a.Description)
			}
		}
	}

	if b.Len() == 0 {
		return "No resources are available."
	}
	return b.String()
}
