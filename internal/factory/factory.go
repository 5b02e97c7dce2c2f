// Package factory launches agents from configuration and hands back a
// handle for each running agent.
package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/internal/httpapi"
	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/internal/observability"
	"github.com/aixgo-dev/swarm/internal/taskgroup"
	"github.com/aixgo-dev/swarm/pkg/discovery"
	"github.com/aixgo-dev/swarm/pkg/evaluation"
	"github.com/aixgo-dev/swarm/pkg/invoker"
	"github.com/aixgo-dev/swarm/pkg/invoker/mcptool"
	"github.com/aixgo-dev/swarm/pkg/memory"
	metrics "github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

// probeTimeout bounds each dependency probe at wiring time.
const probeTimeout = 5 * time.Second

// ToolRuntimeDialer connects to a tool runtime.
type ToolRuntimeDialer func(ctx context.Context, cfg mcptool.Config, logger *slog.Logger) (invoker.ToolInvoker, error)

// ChatClientFunc builds the model client for one agent.
type ChatClientFunc func(cfg agent.FactoryAgentConfig, logger *slog.Logger) (llm.ChatClient, error)

// ListenFunc binds a listener; net.Listen satisfies it.
type ListenFunc func(network, addr string) (net.Listener, error)

// AgentFactory builds, wires and starts agents. It is safe for concurrent use.
type AgentFactory struct {
	discovery  discovery.Service
	memory     memory.Service
	evaluation evaluation.Service
	workflow   invoker.WorkflowService

	registry  agent.Registry
	dialTools ToolRuntimeDialer
	newChat   ChatClientFunc
	listen    ListenFunc
	logger    *slog.Logger
}

// Option configures an AgentFactory.
type Option func(*AgentFactory)

// WithMemory wires the memory service; without it agents run memoryless.
func WithMemory(m memory.Service) Option {
	return func(f *AgentFactory) { f.memory = m }
}

// WithEvaluation wires the evaluation service.
func WithEvaluation(e evaluation.Service) Option {
	return func(f *AgentFactory) { f.evaluation = e }
}

// WithRegistry selects the agent registry (default: agent.Default()).
func WithRegistry(r agent.Registry) Option {
	return func(f *AgentFactory) { f.registry = r }
}

// WithToolRuntimeDialer overrides how tool runtimes are dialed.
func WithToolRuntimeDialer(d ToolRuntimeDialer) Option {
	return func(f *AgentFactory) { f.dialTools = d }
}

// WithChatClientFunc overrides how model clients are built.
func WithChatClientFunc(fn ChatClientFunc) Option {
	return func(f *AgentFactory) { f.newChat = fn }
}

// WithListenFunc overrides how agent listeners are bound.
func WithListenFunc(fn ListenFunc) Option {
	return func(f *AgentFactory) { f.listen = fn }
}

// WithLogger sets the factory logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *AgentFactory) { f.logger = l }
}

// New creates a factory. Discovery and the workflow facade are required.
func New(disc discovery.Service, workflow invoker.WorkflowService, opts ...Option) (*AgentFactory, error) {
	if disc == nil {
		return nil, errors.New("factory: discovery service is required")
	}
	if workflow == nil {
		return nil, errors.New("factory: workflow invokers are required")
	}
	f := &AgentFactory{
		discovery: disc,
		workflow:  workflow,
		registry:  agent.Default(),
		dialTools: DialToolRuntime,
		newChat:   DefaultChatClient,
		listen:    net.Listen,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.OrDiscard(f.logger)
	return f, nil
}

// DialToolRuntime connects to an MCP tool server.
func DialToolRuntime(ctx context.Context, cfg mcptool.Config, logger *slog.Logger) (invoker.ToolInvoker, error) {
	return mcptool.New(ctx, cfg, logger)
}

// DefaultChatClient builds a go-openai client for the agent's provider.
func DefaultChatClient(cfg agent.FactoryAgentConfig, logger *slog.Logger) (llm.ChatClient, error) {
	return llm.NewChatClient(llm.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		Logger:   logger,
	})
}

// LaunchAgent validates cfg against agentType, wires the agent, binds its
// URL and starts it. It returns as soon as the agent is serving; the handle
// resolves when the agent stops. The agent runs until ctx is cancelled.
func (f *AgentFactory) LaunchAgent(ctx context.Context, cfg agent.FactoryAgentConfig, mcpCfg *agent.FactoryMcpRuntimeConfig, agentType registry.AgentType) (handle *AgentHandle, err error) {
	logger := f.logger.With("agent", cfg.ID, "type", string(agentType))
	spanCtx, span := observability.StartSpan(ctx, "factory.launch_agent",
		attribute.String("agent", cfg.ID), attribute.String("type", string(agentType)))
	defer func() {
		observability.EndSpan(span, err)
		metrics.RecordLaunch(string(agentType), launchOutcome(err))
	}()

	// 1. validate
	cfg, err = f.validate(cfg, agentType)
	if err != nil {
		return nil, launchErr(ConfigInvalid, cfg.ID, err)
	}

	// 2. archetype path
	build, ok := f.registry.GetFactory(agentType)
	if !ok {
		return nil, launchErr(ConfigInvalid, cfg.ID, fmt.Errorf("no factory registered for agent type %s", agentType))
	}

	// 3. wire dependencies
	if err := f.probe(spanCtx); err != nil {
		return nil, launchErr(DependencyUnavailable, cfg.ID, err)
	}
	chat, err := f.newChat(cfg, logger)
	if err != nil {
		return nil, launchErr(ConfigInvalid, cfg.ID, fmt.Errorf("llm client: %w", err))
	}
	deps := agent.Deps{
		Discovery:  f.discovery,
		Memory:     f.memory,
		Evaluation: f.evaluation,
		Workflow:   f.workflow,
		LLM:        chat,
		Logger:     f.logger,
	}
	if mcpCfg != nil {
		if agentType == registry.AgentTypeSpecialist {
			tools, err := f.dialTools(spanCtx, mcpCfg.ToolConfig(cfg.ID+"-tools"), logger)
			if err != nil {
				return nil, launchErr(DependencyUnavailable, cfg.ID, fmt.Errorf("tool runtime: %w", err))
			}
			deps.ToolRuntime = tools
		} else {
			logger.Warn("tool runtime config ignored for this agent type")
		}
	}
	cleanup := func() {
		if c, ok := deps.ToolRuntime.(io.Closer); ok {
			_ = c.Close()
		}
	}

	a, err := build(cfg, deps)
	if err != nil {
		cleanup()
		return nil, launchErr(ConfigInvalid, cfg.ID, err)
	}

	// 4. bind, then serve and self-register in the background
	run, err := f.bind(a, cfg)
	if err != nil {
		cleanup()
		return nil, launchErr(BindFailed, cfg.ID, err)
	}

	// 5. hand back the running agent
	h := newHandle(cfg.ID, agentType)
	go func() {
		metrics.AgentStarted()
		defer metrics.AgentStopped()
		defer cleanup()

		runErr := taskgroup.Protect(func() error { return run(ctx) })

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Stop(stopCtx); err != nil {
			logger.Warn("agent stop failed", "error", err)
		}
		h.finish(runErr)
	}()

	logger.Info("agent launched", "url", cfg.URL)
	return h, nil
}

// validate re-checks the built config and the per-type invariants.
func (f *AgentFactory) validate(cfg agent.FactoryAgentConfig, agentType registry.AgentType) (agent.FactoryAgentConfig, error) {
	if !agentType.Valid() {
		return cfg, fmt.Errorf("unknown agent type %q", agentType)
	}
	if cfg.Type != "" && cfg.Type != agentType {
		return cfg, fmt.Errorf("config type %s does not match requested type %s", cfg.Type, agentType)
	}
	cfg.Type = agentType
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if agentType == registry.AgentTypePlanner && cfg.ExecutorURL == "" {
		return cfg, errors.New("planner requires an executor url")
	}
	return cfg, nil
}

// probe checks every wired service that can report reachability.
func (f *AgentFactory) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	deps := []struct {
		name string
		svc  any
	}{
		{"discovery", f.discovery},
		{"memory", f.memory},
		{"evaluation", f.evaluation},
	}
	for _, d := range deps {
		p, ok := d.svc.(discovery.Pinger)
		if !ok || p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// bind listens on the agent's URL when the agent serves on a listener;
// other agents bind inside Start.
func (f *AgentFactory) bind(a agent.Agent, cfg agent.FactoryAgentConfig) (func(context.Context) error, error) {
	ep, ok := a.(agent.Endpoint)
	if !ok {
		return a.Start, nil
	}
	addr, err := httpapi.ListenAddr(cfg.URL)
	if err != nil {
		return nil, err
	}
	ln, err := f.listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return ep.Serve(ctx, ln)
	}, nil
}

func launchOutcome(err error) string {
	var le *LaunchError
	if errors.As(err, &le) {
		return string(le.Kind)
	}
	if err != nil {
		return "error"
	}
	return "launched"
}
