package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/swarm/internal/observability"
	metrics "github.com/aixgo-dev/swarm/pkg/observability"
)

// WorkflowService is the single surface agents use to reach tasks, tools and peers.
type WorkflowService interface {
	ExecuteTask(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
	ExecuteTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
	DelegateToAgent(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, error)
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
}

// WorkflowInvokers composes exactly one invoker of each kind.
type WorkflowInvokers struct {
	tasks  TaskInvoker
	tools  ToolInvoker
	agents AgentInvoker
}

// NewWorkflowInvokers builds the facade; every member is required.
func NewWorkflowInvokers(tasks TaskInvoker, tools ToolInvoker, agents AgentInvoker) (*WorkflowInvokers, error) {
	switch {
	case tasks == nil:
		return nil, errors.New("workflow: task invoker is required")
	case tools == nil:
		return nil, errors.New("workflow: tool invoker is required")
	case agents == nil:
		return nil, errors.New("workflow: agent invoker is required")
	}
	return &WorkflowInvokers{tasks: tasks, tools: tools, agents: agents}, nil
}

// Constructors build the three members of a WorkflowInvokers.
type (
	TaskConstructor  func(ctx context.Context) (TaskInvoker, error)
	ToolConstructor  func(ctx context.Context) (ToolInvoker, error)
	AgentConstructor func(ctx context.Context) (AgentInvoker, error)
)

// InitWorkflowInvokers runs the three constructors concurrently. If any of
// them fails, members that were built are closed and no facade is returned.
func InitWorkflowInvokers(ctx context.Context, newTasks TaskConstructor, newTools ToolConstructor, newAgents AgentConstructor) (*WorkflowInvokers, error) {
	var (
		tasks  TaskInvoker
		tools  ToolInvoker
		agents AgentInvoker
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		inv, err := newTasks(gctx)
		if err != nil {
			return fmt.Errorf("task invoker: %w", err)
		}
		tasks = inv
		return nil
	})
	g.Go(func() error {
		inv, err := newTools(gctx)
		if err != nil {
			return fmt.Errorf("tool invoker: %w", err)
		}
		tools = inv
		return nil
	})
	g.Go(func() error {
		inv, err := newAgents(gctx)
		if err != nil {
			return fmt.Errorf("agent invoker: %w", err)
		}
		agents = inv
		return nil
	})

	err := g.Wait()
	if err == nil {
		var w *WorkflowInvokers
		w, err = NewWorkflowInvokers(tasks, tools, agents)
		if err == nil {
			return w, nil
		}
	}

	closeAll(tasks, tools, agents)
	return nil, err
}

// Close releases members that hold resources.
func (w *WorkflowInvokers) Close() error {
	return closeAll(w.tasks, w.tools, w.agents)
}

func closeAll(members ...any) error {
	var errs []error
	for _, m := range members {
		if c, ok := m.(io.Closer); ok && c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (w *WorkflowInvokers) ExecuteTask(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return instrument(ctx, "task", name, func(ctx context.Context) (json.RawMessage, error) {
		return w.tasks.Invoke(ctx, name, args)
	})
}

func (w *WorkflowInvokers) ExecuteTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return instrument(ctx, "tool", name, func(ctx context.Context) (json.RawMessage, error) {
		return w.tools.Invoke(ctx, name, args)
	})
}

func (w *WorkflowInvokers) DelegateToAgent(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, error) {
	return instrument(ctx, "agent", agentID, func(ctx context.Context) (json.RawMessage, error) {
		return w.agents.Invoke(ctx, agentID, args)
	})
}

func (w *WorkflowInvokers) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return w.tools.ListTools(ctx)
}

func instrument(ctx context.Context, kind, name string, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	ctx, span := observability.StartSpan(ctx, "invoke."+kind,
		attribute.String("invoke.kind", kind),
		attribute.String("invoke.name", name),
	)
	start := time.Now()
	out, err := fn(ctx)
	metrics.RecordInvocation(kind, err, time.Since(start))
	observability.EndSpan(span, err)
	return out, err
}

var _ WorkflowService = (*WorkflowInvokers)(nil)
