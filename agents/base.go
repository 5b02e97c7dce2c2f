package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/internal/httpapi"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/invoker/a2a"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

// ErrBadInput is returned when a request payload cannot be understood.
var ErrBadInput = errors.New("bad input")

// ExecuteFunc answers one request for a concrete agent.
type ExecuteFunc func(ctx context.Context, input *agent.Message) (*agent.Message, error)

// BaseAgent provides the lifecycle, endpoint and self-registration shared by
// every archetype. Embed it and pass the archetype's Execute to Bind.
type BaseAgent struct {
	cfg    agent.FactoryAgentConfig
	deps   agent.Deps
	logger *slog.Logger
	exec   ExecuteFunc

	mu     sync.RWMutex
	ready  bool
	cancel context.CancelFunc
	server *Server
}

// NewBaseAgent creates a base agent for cfg.
func NewBaseAgent(cfg agent.FactoryAgentConfig, deps agent.Deps) *BaseAgent {
	logger := logging.OrDiscard(deps.Logger).With("agent", cfg.ID, "type", string(cfg.Type))
	deps.Logger = logger
	return &BaseAgent{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// Bind sets the function Execute dispatches to.
func (b *BaseAgent) Bind(exec ExecuteFunc) { b.exec = exec }

// Name returns the agent ID.
func (b *BaseAgent) Name() string { return b.cfg.ID }

// Type returns the agent archetype.
func (b *BaseAgent) Type() registry.AgentType { return b.cfg.Type }

// Config returns the agent's config.
func (b *BaseAgent) Config() agent.FactoryAgentConfig { return b.cfg }

// Deps returns the agent's dependencies.
func (b *BaseAgent) Deps() agent.Deps { return b.deps }

// Logger returns the agent-scoped logger.
func (b *BaseAgent) Logger() *slog.Logger { return b.logger }

// Ready returns whether the agent accepts invocations.
func (b *BaseAgent) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// SetReady sets the ready state.
func (b *BaseAgent) SetReady(ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = ready
}

// Execute dispatches to the bound archetype function.
func (b *BaseAgent) Execute(ctx context.Context, input *agent.Message) (*agent.Message, error) {
	if b.exec == nil {
		return nil, fmt.Errorf("agent %s: no execute function bound", b.cfg.ID)
	}
	return b.exec(ctx, input)
}

// Start binds the configured URL and serves until ctx is done.
func (b *BaseAgent) Start(ctx context.Context) error {
	addr, err := httpapi.ListenAddr(b.cfg.URL)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return b.Serve(ctx, ln)
}

// Serve runs the agent endpoint on ln. Self-registration into discovery
// begins once the listener accepts connections.
func (b *BaseAgent) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	srv := NewServer(b, b.card(ln), b.deps.Discovery, b.logger)

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.cancel = cancel
	b.server = srv
	b.mu.Unlock()

	defer cancel()
	defer b.SetReady(false)
	return srv.Serve(ctx, ln, func() { b.SetReady(true) })
}

// Stop gracefully stops the agent.
func (b *BaseAgent) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	b.ready = false
	return nil
}

// card describes the agent at the address it actually listens on: a
// configured port of 0 is replaced by the bound port.
func (b *BaseAgent) card(ln net.Listener) a2a.AgentCard {
	url := httpapi.NormalizeBaseURL(b.cfg.URL)
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok && strings.HasSuffix(url, ":0") {
		url = fmt.Sprintf("%s:%d", strings.TrimSuffix(url, ":0"), tcp.Port)
	}
	def := b.cfg.Definition()
	return a2a.AgentCard{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		URL:         url,
		Type:        def.Type,
		Domain:      def.Domain,
		Skills:      def.Skills,
	}
}

// inputText extracts the request text from a payload that is either a JSON
// string or an object with a query, input or message field.
func inputText(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrBadInput)
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	for _, k := range []string{"query", "input", "message"} {
		if v, ok := obj[k].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: expected a string or an object with a query field", ErrBadInput)
}
