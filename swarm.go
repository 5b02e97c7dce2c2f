// Package swarm runs the agent orchestration system: the discovery, memory
// and evaluation services, the workflow invokers and every configured agent.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/internal/factory"
	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/internal/readiness"
	"github.com/aixgo-dev/swarm/internal/taskgroup"
	"github.com/aixgo-dev/swarm/pkg/discovery"
	"github.com/aixgo-dev/swarm/pkg/evaluation"
	"github.com/aixgo-dev/swarm/pkg/invoker"
	"github.com/aixgo-dev/swarm/pkg/invoker/a2a"
	"github.com/aixgo-dev/swarm/pkg/invoker/mcptool"
	"github.com/aixgo-dev/swarm/pkg/invoker/task"
	"github.com/aixgo-dev/swarm/pkg/memory"
	"github.com/aixgo-dev/swarm/pkg/observability"

	// registers the specialist, executor and planner archetypes
	_ "github.com/aixgo-dev/swarm/agents"
)

// Default listen addresses of the auxiliary services.
const (
	DefaultDiscoveryAddr  = "0.0.0.0:4000"
	DefaultMemoryAddr     = "0.0.0.0:5000"
	DefaultEvaluationAddr = "0.0.0.0:7000"
)

// ErrServiceNotReady is returned when an auxiliary service never reported
// ready within the readiness bounds.
var ErrServiceNotReady = errors.New("auxiliary service not ready")

// Options configures one run of the system.
type Options struct {
	DiscoveryAddr  string
	MemoryAddr     string
	EvaluationAddr string
	// MetricsAddr enables a standalone /metrics endpoint when set.
	MetricsAddr string

	// DisableMemory and DisableEvaluation skip starting the service; agents
	// then run without conversation history or scoring.
	DisableMemory     bool
	DisableEvaluation bool

	// Agents are launched in order.
	Agents []agent.LaunchSpec
	// ToolRuntime is optional; without it the workflow has no tools.
	ToolRuntime *mcptool.Config

	Judge       evaluation.JudgeConfig
	JudgeAPIKey string
	// JudgeClient overrides the client built from Judge.
	JudgeClient llm.ChatClient

	// Redis backs discovery and memory when set; both are in-process otherwise.
	Redis *RedisOptions

	Readiness readiness.Config
	// DialTools connects to the tool runtime; defaults to the MCP client.
	DialTools      factory.ToolRuntimeDialer
	FactoryOptions []factory.Option
	Logger         *slog.Logger
}

// RedisOptions selects the Redis instance shared by discovery and memory.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func (o Options) withDefaults() Options {
	if o.DiscoveryAddr == "" {
		o.DiscoveryAddr = DefaultDiscoveryAddr
	}
	if o.MemoryAddr == "" {
		o.MemoryAddr = DefaultMemoryAddr
	}
	if o.EvaluationAddr == "" {
		o.EvaluationAddr = DefaultEvaluationAddr
	}
	o.Judge.ApplyDefaults()
	if o.DialTools == nil {
		o.DialTools = factory.DialToolRuntime
	}
	o.Logger = logging.OrDiscard(o.Logger)
	o.Readiness.Logger = o.Logger
	return o
}

// Run starts the auxiliary services, waits for them, registers the static
// catalog, launches every agent and blocks until all agents have stopped.
// Cancelling ctx shuts the whole system down.
func Run(ctx context.Context, opts Options) error {
	opts = opts.withDefaults()
	logger := opts.Logger
	observability.InitMetrics()

	svcCtx, stopServices := context.WithCancel(ctx)
	services := taskgroup.New(svcCtx, taskgroup.WithOnDone(logOutcome(logger, "service")))
	defer func() {
		stopServices()
		services.Wait()
	}()

	urls, closeStores, err := startServices(ctx, svcCtx, services, opts)
	if err != nil {
		return err
	}
	defer closeStores()

	disc := discovery.NewClient(urls["discovery"])
	probes := map[string]readiness.Probe{"discovery": disc.Ping}
	facOpts := []factory.Option{
		factory.WithToolRuntimeDialer(opts.DialTools),
		factory.WithLogger(logger),
	}
	if u, ok := urls["memory"]; ok {
		mem := memory.NewClient(u)
		probes["memory"] = mem.Ping
		facOpts = append(facOpts, factory.WithMemory(mem))
	}
	if u, ok := urls["evaluation"]; ok {
		eval := evaluation.NewClient(u)
		probes["evaluation"] = eval.Ping
		facOpts = append(facOpts, factory.WithEvaluation(eval))
	}

	if err := readiness.WaitAll(ctx, probes, opts.Readiness); err != nil {
		return fmt.Errorf("%w: %w", ErrServiceNotReady, err)
	}

	tasks := task.NewGreetTask()
	for _, def := range tasks.Definitions() {
		if err := disc.RegisterTask(ctx, def); err != nil {
			return fmt.Errorf("register task %s: %w", def.ID, err)
		}
		logger.Info("task registered", "task", def.ID)
	}

	tools, err := registerTools(ctx, disc, opts)
	if err != nil {
		return err
	}

	wf, err := invoker.InitWorkflowInvokers(ctx,
		func(context.Context) (invoker.TaskInvoker, error) { return tasks, nil },
		func(context.Context) (invoker.ToolInvoker, error) { return tools, nil },
		func(context.Context) (invoker.AgentInvoker, error) {
			return a2a.NewWithDiscovery(disc, a2a.WithLogger(logger))
		},
	)
	if err != nil {
		return fmt.Errorf("workflow invokers: %w", err)
	}
	defer wf.Close()

	fac, err := factory.New(disc, wf, append(facOpts, opts.FactoryOptions...)...)
	if err != nil {
		return err
	}

	var handles []*factory.AgentHandle
	for _, spec := range opts.Agents {
		h, err := fac.LaunchAgent(ctx, spec.Config, spec.Runtime, spec.Config.Type)
		if err != nil {
			logger.Error("agent launch failed", "agent", spec.Config.ID, "error", err)
			continue
		}
		handles = append(handles, h)
	}
	logger.Info("agents launched", "launched", len(handles), "configured", len(opts.Agents))

	outcomes := awaitAgents(ctx, handles, logger)
	summary := taskgroup.Summary(outcomes)
	logger.Info("all agents stopped",
		"success", summary[taskgroup.StatusSuccess],
		"failed", summary[taskgroup.StatusFailed],
		"panicked", summary[taskgroup.StatusPanicked],
		"cancelled", summary[taskgroup.StatusCancelled])
	return nil
}

type service struct {
	name  string
	addr  string
	serve func(ctx context.Context, ln net.Listener) error
}

// startServices binds every enabled auxiliary service and serves each in
// group. Binding happens up front so an occupied port fails the run
// immediately. The returned map holds the loopback URL per service name.
func startServices(ctx, svcCtx context.Context, group *taskgroup.Group, opts Options) (map[string]string, func(), error) {
	logger := opts.Logger
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	var discStore discovery.Store
	var memStore memory.Service = memory.NewMemoryStore(memory.Config{})
	if opts.Redis != nil {
		ds, err := discovery.NewRedisStore(ctx, discovery.RedisConfig{Addr: opts.Redis.Addr, Password: opts.Redis.Password, DB: opts.Redis.DB})
		if err != nil {
			return nil, nil, fmt.Errorf("discovery store: %w", err)
		}
		closers = append(closers, ds)
		discStore = ds
	}
	if opts.Redis != nil && !opts.DisableMemory {
		ms, err := memory.NewRedisStore(ctx, memory.RedisConfig{Addr: opts.Redis.Addr, Password: opts.Redis.Password, DB: opts.Redis.DB})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("memory store: %w", err)
		}
		closers = append(closers, ms)
		memStore = ms
	}

	services := []service{
		{"discovery", opts.DiscoveryAddr, discovery.NewServer(
			discovery.NewRegistry(discStore, discovery.WithLogger(logger)),
			discovery.WithServerLogger(logger)).Serve},
	}
	if !opts.DisableMemory {
		services = append(services, service{"memory", opts.MemoryAddr, memory.NewServer(memStore, memory.WithLogger(logger)).Serve})
	}
	if !opts.DisableEvaluation {
		judgeClient := opts.JudgeClient
		if judgeClient == nil {
			var err error
			judgeClient, err = llm.NewChatClient(llm.Config{
				Provider: opts.Judge.Provider(),
				APIKey:   opts.JudgeAPIKey,
				Breaker:  opts.Judge.Breaker,
				Logger:   logger,
			})
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("judge client: %w", err)
			}
		}
		services = append(services, service{"evaluation", opts.EvaluationAddr, evaluation.NewServer(
			evaluation.NewJudge(opts.Judge, judgeClient, logger),
			evaluation.WithLogger(logger)).Serve})
	}
	if opts.MetricsAddr != "" {
		services = append(services, service{"metrics", opts.MetricsAddr, observability.NewServer(nil).Serve})
	}

	listeners := make([]net.Listener, 0, len(services))
	for _, s := range services {
		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			closeAll()
			return nil, nil, fmt.Errorf("%s: listen %s: %w", s.name, s.addr, err)
		}
		listeners = append(listeners, ln)
	}

	for i, s := range services {
		ln := listeners[i]
		group.Go(s.name, func(ctx context.Context) error { return s.serve(ctx, ln) })
	}

	urls := make(map[string]string, len(services))
	for i, s := range services {
		urls[s.name] = localURL(listeners[i])
	}
	return urls, closeAll, nil
}

// localURL is the loopback URL for a listener bound to any interface.
func localURL(ln net.Listener) string {
	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return "http://" + ln.Addr().String()
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// registerTools dials the tool runtime when one is configured and registers
// every function it lists.
func registerTools(ctx context.Context, disc discovery.Service, opts Options) (invoker.ToolInvoker, error) {
	if opts.ToolRuntime == nil {
		return invoker.NoTools{}, nil
	}

	tools, err := opts.DialTools(ctx, *opts.ToolRuntime, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("tool runtime: %w", err)
	}
	fail := func(err error) (invoker.ToolInvoker, error) {
		if c, ok := tools.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}

	descs, err := tools.ListTools(ctx)
	if err != nil {
		return fail(fmt.Errorf("list tools: %w", err))
	}
	for _, d := range descs {
		if err := disc.RegisterTool(ctx, d.Definition()); err != nil {
			return fail(fmt.Errorf("register tool %s: %w", d.Name, err))
		}
	}
	opts.Logger.Info("tools registered", "count", len(descs), "runtime", opts.ToolRuntime.URL)
	return tools, nil
}

func awaitAgents(ctx context.Context, handles []*factory.AgentHandle, logger *slog.Logger) []taskgroup.Outcome {
	group := taskgroup.New(ctx, taskgroup.WithOnDone(logOutcome(logger, "agent")))
	for _, h := range handles {
		group.Go(h.Name(), func(context.Context) error {
			<-h.Done()
			return h.Err()
		})
	}
	return group.Wait()
}

func logOutcome(logger *slog.Logger, kind string) func(taskgroup.Outcome) {
	return func(o taskgroup.Outcome) {
		switch o.Status {
		case taskgroup.StatusFailed, taskgroup.StatusPanicked:
			logger.Error(kind+" stopped", "name", o.Name, "status", string(o.Status), "error", o.Err)
		default:
			logger.Info(kind+" stopped", "name", o.Name, "status", string(o.Status))
		}
	}
}
