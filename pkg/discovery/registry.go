package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

// Registry is the in-process discovery Service backed by a Store.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	// agentMu serializes the read-compare-write of agent registration so
	// the address-change warning and RegisteredAt stay consistent.
	agentMu sync.Mutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides the clock used for RegisteredAt.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry over store. A nil store means in-memory.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	return r
}

// Store returns the underlying store.
func (r *Registry) Store() Store { return r.store }

// Ping checks the backing store.
func (r *Registry) Ping(ctx context.Context) error { return r.store.Ping(ctx) }

func (r *Registry) RegisterTask(ctx context.Context, def registry.TaskDefinition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		observability.RecordRegistration(string(KindTask), err)
		return err
	}
	err := r.put(ctx, KindTask, def.ID, def)
	observability.RecordRegistration(string(KindTask), err)
	return err
}

func (r *Registry) RegisterTool(ctx context.Context, def registry.ToolDefinition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		observability.RecordRegistration(string(KindTool), err)
		return err
	}
	err := r.put(ctx, KindTool, def.ID, def)
	observability.RecordRegistration(string(KindTool), err)
	return err
}

func (r *Registry) RegisterAgent(ctx context.Context, def registry.AgentDefinition) error {
	if err := def.Validate(); err != nil {
		observability.RecordRegistration(string(KindAgent), err)
		return err
	}

	r.agentMu.Lock()
	defer r.agentMu.Unlock()

	prev, err := r.GetAgent(ctx, def.ID)
	switch {
	case err == nil && prev.URL != def.URL:
		r.logger.Warn("agent re-registered with a different address",
			"agent", def.ID, "previous_url", prev.URL, "url", def.URL)
	case err != nil && !errors.Is(err, ErrNotFound):
		observability.RecordRegistration(string(KindAgent), err)
		return err
	}

	def.RegisteredAt = r.now().UTC()
	err = r.put(ctx, KindAgent, def.ID, def)
	observability.RecordRegistration(string(KindAgent), err)
	if err == nil {
		r.logger.Info("agent registered", "agent", def.ID, "type", def.Type, "domain", def.Domain, "url", def.URL)
	}
	return err
}

func (r *Registry) put(ctx context.Context, kind Kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	replaced, err := r.store.Put(ctx, kind, id, data)
	if err != nil {
		return fmt.Errorf("store %s %s: %w", kind, id, err)
	}
	if replaced {
		r.logger.Debug("definition overwritten", "kind", kind, "id", id)
	}
	return nil
}

func (r *Registry) GetTask(ctx context.Context, id string) (registry.TaskDefinition, error) {
	var def registry.TaskDefinition
	err := r.get(ctx, KindTask, id, &def)
	return def, err
}

func (r *Registry) GetTool(ctx context.Context, id string) (registry.ToolDefinition, error) {
	var def registry.ToolDefinition
	err := r.get(ctx, KindTool, id, &def)
	return def, err
}

func (r *Registry) GetAgent(ctx context.Context, id string) (registry.AgentDefinition, error) {
	var def registry.AgentDefinition
	err := r.get(ctx, KindAgent, id, &def)
	return def, err
}

func (r *Registry) get(ctx context.Context, kind Kind, id string, v any) error {
	data, err := r.store.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s %s", ErrNotFound, strings.TrimSuffix(string(kind), "s"), id)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return nil
}

func (r *Registry) ListTasks(ctx context.Context) ([]registry.TaskDefinition, error) {
	return list[registry.TaskDefinition](ctx, r.store, KindTask)
}

func (r *Registry) ListTools(ctx context.Context) ([]registry.ToolDefinition, error) {
	return list[registry.ToolDefinition](ctx, r.store, KindTool)
}

func (r *Registry) ListAgents(ctx context.Context) ([]registry.AgentDefinition, error) {
	return list[registry.AgentDefinition](ctx, r.store, KindAgent)
}

func list[T any](ctx context.Context, store Store, kind Kind) ([]T, error) {
	raw, err := store.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Registry) ResolveAgent(ctx context.Context, domain registry.AgentDomain, agentType registry.AgentType) (registry.AgentDefinition, error) {
	agents, err := r.ListAgents(ctx)
	if err != nil {
		return registry.AgentDefinition{}, err
	}

	var (
		best  registry.AgentDefinition
		found bool
	)
	for _, a := range agents {
		if a.Type != agentType {
			continue
		}
		if domain != "" && a.Domain != domain {
			continue
		}
		if !found || a.RegisteredAt.After(best.RegisteredAt) {
			best, found = a, true
		}
	}
	if !found {
		return registry.AgentDefinition{}, fmt.Errorf("%w: no %s agent for domain %q", ErrNotFound, agentType, domain)
	}
	return best, nil
}

var _ Service = (*Registry)(nil)
