package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/swarm"
	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/discovery"
	"github.com/aixgo-dev/swarm/pkg/evaluation"
	"github.com/aixgo-dev/swarm/pkg/memory"
	"github.com/aixgo-dev/swarm/pkg/observability"
)

// newServeCmd runs a single auxiliary service, for deployments that split
// the services across processes.
func newServeCmd(f *rootFlags, lookup agent.LookupFunc) *cobra.Command {
	var rps float64
	var burst int
	cmd := &cobra.Command{
		Use:       "serve {discovery|memory|evaluation}",
		Short:     "Run one auxiliary service on its own",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"discovery", "memory", "evaluation"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(cmd.ErrOrStderr(), f.logLevel, f.logFormat)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := serveOne(ctx, args[0], f, lookup, rps, burst, logger)
			if err != nil {
				logger.Error("service stopped", "service", args[0], "error", err)
			}
			return err
		},
	}
	cmd.Flags().Float64Var(&rps, "rate-limit", 0, "requests per second per client; 0 disables limiting")
	cmd.Flags().IntVar(&burst, "rate-burst", 20, "burst size for --rate-limit")
	return cmd
}

func serveOne(ctx context.Context, name string, f *rootFlags, lookup agent.LookupFunc, rps float64, burst int, logger *slog.Logger) error {
	observability.InitMetrics()
	switch name {
	case "discovery":
		var store discovery.Store
		if f.redisAddr != "" {
			rs, err := discovery.NewRedisStore(ctx, discovery.RedisConfig{Addr: f.redisAddr})
			if err != nil {
				return err
			}
			defer rs.Close()
			store = rs
		}
		opts := []discovery.ServerOption{discovery.WithServerLogger(logger)}
		if rps > 0 {
			opts = append(opts, discovery.WithRateLimit(rps, burst))
		}
		srv := discovery.NewServer(discovery.NewRegistry(store, discovery.WithLogger(logger)), opts...)
		return srv.ListenAndServe(ctx, orDefault(f.discoveryAddr, swarm.DefaultDiscoveryAddr))

	case "memory":
		var store memory.Service = memory.NewMemoryStore(memory.Config{})
		if f.redisAddr != "" {
			rs, err := memory.NewRedisStore(ctx, memory.RedisConfig{Addr: f.redisAddr})
			if err != nil {
				return err
			}
			defer rs.Close()
			store = rs
		}
		opts := []memory.ServerOption{memory.WithLogger(logger)}
		if rps > 0 {
			opts = append(opts, memory.WithRateLimit(rps, burst))
		}
		return memory.NewServer(store, opts...).ListenAndServe(ctx, orDefault(f.memoryAddr, swarm.DefaultMemoryAddr))

	case "evaluation":
		judge, key, err := loadJudge(f.judgeConfigFile, lookup)
		if err != nil {
			return err
		}
		client, err := llm.NewChatClient(llm.Config{
			Provider: judge.Provider(),
			APIKey:   key,
			Breaker:  judge.Breaker,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("judge client: %w", err)
		}
		opts := []evaluation.ServerOption{evaluation.WithLogger(logger)}
		if rps > 0 {
			opts = append(opts, evaluation.WithRateLimit(rps, burst))
		}
		srv := evaluation.NewServer(evaluation.NewJudge(judge, client, logger), opts...)
		return srv.ListenAndServe(ctx, orDefault(f.evaluationAddr, swarm.DefaultEvaluationAddr))
	}
	return fmt.Errorf("unknown service %q", name)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
