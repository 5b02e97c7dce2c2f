// Package task provides the static task invoker: named Go functions known at
// startup and advertised to discovery as task definitions.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aixgo-dev/swarm/pkg/invoker"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

// Func executes one task.
type Func func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

type entry struct {
	def registry.TaskDefinition
	fn  Func
}

// StaticInvoker dispatches to registered task functions.
type StaticInvoker struct {
	mu    sync.RWMutex
	tasks map[string]entry
}

// NewStaticInvoker creates an empty invoker.
func NewStaticInvoker() *StaticInvoker {
	return &StaticInvoker{tasks: make(map[string]entry)}
}

// Register adds fn under def.ID, replacing any previous task with that ID.
func (s *StaticInvoker) Register(def registry.TaskDefinition, fn Func) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("task %s: function is required", def.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[def.ID] = entry{def: def, fn: fn}
	return nil
}

// Definitions lists registered tasks sorted by ID.
func (s *StaticInvoker) Definitions() []registry.TaskDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]registry.TaskDefinition, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *StaticInvoker) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	s.mu.RLock()
	e, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return nil, invoker.NewError(invoker.KindNotFound, name, nil, "no such task")
	}

	if err := ctx.Err(); err != nil {
		return nil, invoker.NewError(invoker.KindTimeout, name, err, "")
	}

	if len(args) > 0 {
		violations, err := registry.ValidateAgainst(e.def.InputSchema, args)
		if err != nil {
			return nil, invoker.NewError(invoker.KindExecutionFailed, name, err, "invalid arguments")
		}
		if len(violations) > 0 {
			return nil, invoker.NewError(invoker.KindExecutionFailed, name, nil, fmt.Sprintf("invalid arguments: %v", violations))
		}
	}

	out, err := e.fn(ctx, args)
	if err != nil {
		return nil, invoker.NewError(invoker.KindExecutionFailed, name, err, "")
	}
	return out, nil
}

var _ invoker.TaskInvoker = (*StaticInvoker)(nil)
