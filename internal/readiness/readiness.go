// Package readiness waits for dependencies to report ready with a bounded,
// backed-off poll.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/swarm/internal/logging"
)

// ErrNotReady is returned when a probe never succeeded within the bounds.
var ErrNotReady = errors.New("dependency not ready")

// Probe reports nil once the dependency is ready.
type Probe func(ctx context.Context) error

// Config bounds the poll.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint
	Timeout         time.Duration
	Logger          *slog.Logger
}

// DefaultConfig polls for up to 30 seconds.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxAttempts:     40,
		Timeout:         30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	c.Logger = logging.OrDiscard(c.Logger)
	return c
}

// Wait polls probe until it succeeds, attempts run out or the timeout passes.
func Wait(ctx context.Context, name string, probe Probe, cfg Config) error {
	cfg = cfg.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	start := time.Now()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, probe(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(cfg.Timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			cfg.Logger.Debug("waiting for dependency", "name", name, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %s after %s: %v", ErrNotReady, name, time.Since(start).Round(time.Millisecond), err)
	}
	cfg.Logger.Info("dependency ready", "name", name, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// WaitAll polls every probe concurrently and fails on the first that never
// becomes ready.
func WaitAll(ctx context.Context, probes map[string]Probe, cfg Config) error {
	g, gctx := errgroup.WithContext(ctx)
	for name, probe := range probes {
		g.Go(func() error {
			return Wait(gctx, name, probe, cfg)
		})
	}
	return g.Wait()
}
