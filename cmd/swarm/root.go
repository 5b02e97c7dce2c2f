package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/swarm"
	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/internal/httpapi"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/internal/observability"
	"github.com/aixgo-dev/swarm/pkg/evaluation"
	"github.com/aixgo-dev/swarm/pkg/invoker/mcptool"
)

// JudgeKeyEnv holds the evaluation judge's API key.
const JudgeKeyEnv = "LLM_JUDGE_API_KEY"

type rootFlags struct {
	configFile      string
	logLevel        string
	logFormat       string
	mcpConfigPath   string
	judgeConfigFile string
	discoveryAddr   string
	memoryAddr      string
	evaluationAddr  string
	metricsPort     int
	redisAddr       string
	noMemory        bool
	noEvaluation    bool
}

func newRootCmd(lookup agent.LookupFunc) *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "swarm",
		Short:         "Run discovery, memory, evaluation and every configured agent",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(cmd.ErrOrStderr(), f.logLevel, f.logFormat)
			opts, err := buildOptions(f, lookup, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			return run(cmd.Context(), opts, logger)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configFile, "config-file", "config/factory.yaml", "agent factory config file")
	pf.StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", "text", "log format (text, json)")
	pf.StringVar(&f.mcpConfigPath, "mcp-config-path", "", "tool runtime config file; overrides the factory config's tool_runtime")
	pf.StringVar(&f.judgeConfigFile, "judge-config-file", "", "evaluation judge config file")
	pf.StringVar(&f.discoveryAddr, "discovery-service-uri", "", "discovery listen address (default from discovery_url, else "+swarm.DefaultDiscoveryAddr+")")
	pf.StringVar(&f.memoryAddr, "memory-service-uri", "", "memory listen address (default from memory_url, else "+swarm.DefaultMemoryAddr+")")
	pf.StringVar(&f.evaluationAddr, "evaluation-service-uri", "", "evaluation listen address (default from evaluation_url, else "+swarm.DefaultEvaluationAddr+")")
	pf.IntVar(&f.metricsPort, "metrics-port", 0, "port for a standalone /metrics endpoint; 0 disables it")
	pf.StringVar(&f.redisAddr, "redis-addr", "", "back discovery and memory with this Redis instance")
	pf.BoolVar(&f.noMemory, "disable-memory", false, "do not start the memory service; agents keep no history")
	pf.BoolVar(&f.noEvaluation, "disable-evaluation", false, "do not start the evaluation service; answers are not scored")

	cmd.AddCommand(newServeCmd(f, lookup))
	cmd.AddCommand(newValidateCmd(f, lookup))
	return cmd
}

// run installs the signal handler and runs the system until interrupted.
func run(parent context.Context, opts swarm.Options, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := observability.InitFromEnv(logger); err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	logger.Info("starting swarm", "version", Version, "agents", len(opts.Agents))
	if err := swarm.Run(ctx, opts); err != nil {
		logger.Error("swarm stopped", "error", err)
		return err
	}
	logger.Info("swarm stopped")
	return nil
}

// buildOptions loads every config file and resolves keys. All failures
// happen here, before any service starts.
func buildOptions(f *rootFlags, lookup agent.LookupFunc, logger *slog.Logger) (swarm.Options, error) {
	cfg, err := agent.LoadFactoryConfig(f.configFile)
	if err != nil {
		return swarm.Options{}, err
	}
	specs, err := cfg.LaunchSpecs(lookup)
	if err != nil {
		return swarm.Options{}, fmt.Errorf("agent config: %w", err)
	}

	var judge evaluation.JudgeConfig
	var judgeKey string
	if !f.noEvaluation {
		judge, judgeKey, err = loadJudge(f.judgeConfigFile, lookup)
		if err != nil {
			return swarm.Options{}, err
		}
	}

	toolRuntime, err := loadToolRuntime(f.mcpConfigPath, cfg, lookup)
	if err != nil {
		return swarm.Options{}, err
	}

	opts := swarm.Options{
		DiscoveryAddr:  listenAddr(f.discoveryAddr, cfg.DiscoveryURL, swarm.DefaultDiscoveryAddr),
		MemoryAddr:     listenAddr(f.memoryAddr, cfg.MemoryURL, swarm.DefaultMemoryAddr),
		EvaluationAddr: listenAddr(f.evaluationAddr, cfg.EvaluationURL, swarm.DefaultEvaluationAddr),
		Agents:         specs,
		ToolRuntime:    toolRuntime,
		Judge:          judge,
		JudgeAPIKey:    judgeKey,
		Logger:         logger,

		DisableMemory:     f.noMemory,
		DisableEvaluation: f.noEvaluation,
	}
	if f.metricsPort > 0 {
		opts.MetricsAddr = fmt.Sprintf(":%d", f.metricsPort)
	}
	if f.redisAddr != "" {
		opts.Redis = &swarm.RedisOptions{Addr: f.redisAddr}
	}
	return opts, nil
}

func loadJudge(path string, lookup agent.LookupFunc) (evaluation.JudgeConfig, string, error) {
	var judge evaluation.JudgeConfig
	if path != "" {
		loaded, err := evaluation.LoadJudgeConfig(path)
		if err != nil {
			return judge, "", err
		}
		judge = *loaded
	}
	judge.ApplyDefaults()

	key, _ := lookup(JudgeKeyEnv)
	if key == "" && judge.Provider().RequiresKey() {
		return judge, "", fmt.Errorf("environment variable %s must be set", JudgeKeyEnv)
	}
	return judge, key, nil
}

// loadToolRuntime prefers the dedicated file and falls back to the factory
// config's tool_runtime section.
func loadToolRuntime(path string, cfg *agent.FactoryConfig, lookup agent.LookupFunc) (*mcptool.Config, error) {
	if path != "" {
		tc, err := mcptool.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		if tc.APIKeyEnv != "" {
			key, ok := lookup(tc.APIKeyEnv)
			if !ok || key == "" {
				return nil, fmt.Errorf("environment variable %s must be set", tc.APIKeyEnv)
			}
			tc.APIKey = key
		}
		return tc, nil
	}
	if cfg.ToolRuntime == nil {
		return nil, nil
	}
	rt := agent.FactoryMcpRuntimeConfig{ServerURL: cfg.ToolRuntime.ServerURL}
	if k := cfg.ToolRuntime.ServerAPIKeyEnv; k != "" {
		rt.ServerAPIKey, _ = lookup(k)
	}
	tc := rt.ToolConfig("tools")
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("tool_runtime: %w", err)
	}
	return &tc, nil
}

// listenAddr picks the flag, then the host:port of the configured URL, then
// the default.
func listenAddr(flag, configured, fallback string) string {
	if flag != "" {
		return flag
	}
	if configured != "" {
		if addr, err := httpapi.ListenAddr(configured); err == nil {
			return addr
		}
	}
	return fallback
}
