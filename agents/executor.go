package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/pkg/invoker"
)

// Step kinds.
const (
	StepTask  = "task"
	StepTool  = "tool"
	StepAgent = "agent"
)

// Step is one unit of a plan. String arguments of the form ${id} are
// replaced by the output of the earlier step with that ID.
type Step struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Plan is what a Planner hands to an Executor.
type Plan struct {
	Goal  string `json:"goal"`
	Steps []Step `json:"steps"`
}

// Validate checks step kinds and that references point backwards.
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps", ErrBadInput)
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, st := range p.Steps {
		if st.ID == "" {
			return fmt.Errorf("%w: step %d has no id", ErrBadInput, i)
		}
		if seen[st.ID] {
			return fmt.Errorf("%w: duplicate step id %q", ErrBadInput, st.ID)
		}
		switch st.Kind {
		case StepTask, StepTool, StepAgent:
		default:
			return fmt.Errorf("%w: step %s: unknown kind %q", ErrBadInput, st.ID, st.Kind)
		}
		if st.Name == "" {
			return fmt.Errorf("%w: step %s has no name", ErrBadInput, st.ID)
		}
		seen[st.ID] = true
	}
	return nil
}

// StepResult records one executed step.
type StepResult struct {
	ID     string          `json:"id"`
	Kind   string          `json:"kind"`
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ExecutionReport is the payload an Executor replies with.
type ExecutionReport struct {
	Goal      string       `json:"goal,omitempty"`
	Completed bool         `json:"completed"`
	Results   []StepResult `json:"results"`
}

// Executor carries out plans through the workflow facade, one step at a
// time. The first failed step stops the plan.
type Executor struct {
	*BaseAgent
}

// NewExecutor builds an Executor. deps.Workflow is required.
func NewExecutor(cfg agent.FactoryAgentConfig, deps agent.Deps) (agent.Agent, error) {
	if deps.Workflow == nil {
		return nil, fmt.Errorf("executor %s: workflow invokers are required", cfg.ID)
	}
	e := &Executor{BaseAgent: NewBaseAgent(cfg, deps)}
	e.Bind(e.execute)
	return e, nil
}

func (e *Executor) execute(ctx context.Context, input *agent.Message) (*agent.Message, error) {
	var plan Plan
	if err := json.Unmarshal(input.Payload, &plan); err != nil {
		return nil, fmt.Errorf("%w: plan: %v", ErrBadInput, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	report, runErr := e.Run(ctx, plan)
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	return input.Reply(payload), runErr
}

// Run executes plan and returns the report along with the failing step's error.
func (e *Executor) Run(ctx context.Context, plan Plan) (ExecutionReport, error) {
	wf := e.Deps().Workflow
	report := ExecutionReport{Goal: plan.Goal}
	outputs := make(map[string]json.RawMessage, len(plan.Steps))

	for _, st := range plan.Steps {
		res := StepResult{ID: st.ID, Kind: st.Kind, Name: st.Name}

		args, err := substitute(st.Args, outputs)
		if err != nil {
			res.Error = err.Error()
			report.Results = append(report.Results, res)
			return report, fmt.Errorf("step %s: %w", st.ID, err)
		}

		var out json.RawMessage
		switch st.Kind {
		case StepTask:
			out, err = wf.ExecuteTask(ctx, st.Name, args)
		case StepTool:
			out, err = wf.ExecuteTool(ctx, st.Name, args)
		case StepAgent:
			out, err = wf.DelegateToAgent(ctx, st.Name, args)
		}
		if err != nil {
			e.Logger().Warn("plan step failed", "step", st.ID, "kind", st.Kind, "name", st.Name, "error_kind", invoker.KindOf(err), "error", err)
			res.Error = err.Error()
			report.Results = append(report.Results, res)
			return report, fmt.Errorf("step %s: %w", st.ID, err)
		}

		res.Output = out
		outputs[st.ID] = out
		report.Results = append(report.Results, res)
	}

	report.Completed = true
	return report, nil
}

// substitute replaces ${id} string values in args with earlier outputs.
func substitute(args json.RawMessage, outputs map[string]json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !strings.Contains(string(args), "${") {
		return args, nil
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return nil, fmt.Errorf("args: %w", err)
	}
	v, err := replaceRefs(v, outputs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func replaceRefs(v any, outputs map[string]json.RawMessage) (any, error) {
	switch t := v.(type) {
	case string:
		if !strings.HasPrefix(t, "${") || !strings.HasSuffix(t, "}") {
			return t, nil
		}
		id := t[2 : len(t)-1]
		out, ok := outputs[id]
		if !ok {
			return nil, fmt.Errorf("reference to unknown or later step %q", id)
		}
		var decoded any
		if err := json.Unmarshal(out, &decoded); err != nil {
			return string(out), nil
		}
		return decoded, nil
	case map[string]any:
		for k, item := range t {
			r, err := replaceRefs(item, outputs)
			if err != nil {
				return nil, err
			}
			t[k] = r
		}
		return t, nil
	case []any:
		for i, item := range t {
			r, err := replaceRefs(item, outputs)
			if err != nil {
				return nil, err
			}
			t[i] = r
		}
		return t, nil
	}
	return v, nil
}
