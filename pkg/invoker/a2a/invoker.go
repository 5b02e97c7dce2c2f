package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/discovery"
	"github.com/aixgo-dev/swarm/pkg/invoker"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

// Invoker is the AgentInvoker. It keeps no peer list of its own: every call
// resolves the target through discovery.
type Invoker struct {
	discovery discovery.Service
	client    *Client
	logger    *slog.Logger

	attempts    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithClient sets the agent client.
func WithClient(c *Client) Option {
	return func(i *Invoker) { i.client = c }
}

// WithLogger sets the invoker logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

// WithResolveRetry sets how often a missing peer is looked up again and the
// initial backoff, which doubles per attempt.
func WithResolveRetry(attempts int, backoff time.Duration) Option {
	return func(i *Invoker) {
		i.attempts = attempts
		i.baseBackoff = backoff
	}
}

// NewWithDiscovery creates an agent invoker that resolves peers through svc.
func NewWithDiscovery(svc discovery.Service, opts ...Option) (*Invoker, error) {
	if svc == nil {
		return nil, errors.New("a2a: discovery service is required")
	}
	i := &Invoker{
		discovery:   svc,
		attempts:    5,
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = logging.OrDiscard(i.logger)
	if i.client == nil {
		i.client = NewClient(WithClientLogger(i.logger))
	}
	if i.attempts < 1 {
		i.attempts = 1
	}
	return i, nil
}

// Invoke sends args to the agent registered as agentID. When no agent has
// that ID and agentID names an agent type, the latest agent of that type is
// used.
func (i *Invoker) Invoke(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, error) {
	peer, err := i.resolve(ctx, agentID)
	if err != nil {
		return nil, err
	}

	resp, err := i.client.Send(ctx, peer.URL, InvokeRequest{Input: args})
	if err != nil {
		var ie *invoker.InvocationError
		if errors.As(err, &ie) {
			ie.Name = agentID
		}
		return nil, err
	}
	return resp.Output, nil
}

// resolve looks the peer up, backing off while discovery reports it missing;
// an agent may still be registering itself when a peer first calls it.
func (i *Invoker) resolve(ctx context.Context, agentID string) (registry.AgentDefinition, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.baseBackoff
	b.MaxInterval = i.maxBackoff
	b.Multiplier = 2

	def, err := backoff.Retry(ctx, func() (registry.AgentDefinition, error) {
		def, err := i.lookup(ctx, agentID)
		switch {
		case err == nil:
			return def, nil
		case errors.Is(err, discovery.ErrUnreachable):
			return def, backoff.Permanent(invoker.NewError(invoker.KindUnreachable, agentID, err, "discovery"))
		case !errors.Is(err, discovery.ErrNotFound):
			return def, backoff.Permanent(invoker.NewError(invoker.KindExecutionFailed, agentID, err, "resolve"))
		}
		return def, invoker.NewError(invoker.KindNotFound, agentID, err, "")
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(i.attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			i.logger.Debug("peer not registered yet, retrying", "agent", agentID, "retry_in", next)
		}),
	)
	if err == nil {
		return def, nil
	}

	var ie *invoker.InvocationError
	if errors.As(err, &ie) {
		return registry.AgentDefinition{}, ie
	}
	// ctx ended while waiting between lookups
	return registry.AgentDefinition{}, invoker.NewError(invoker.KindNotFound, agentID, err, "resolve")
}

func (i *Invoker) lookup(ctx context.Context, agentID string) (registry.AgentDefinition, error) {
	def, err := i.discovery.GetAgent(ctx, agentID)
	if err == nil || !errors.Is(err, discovery.ErrNotFound) {
		return def, err
	}
	if t, perr := registry.ParseAgentType(agentID); perr == nil {
		return i.discovery.ResolveAgent(ctx, "", t)
	}
	return def, err
}

var _ invoker.AgentInvoker = (*Invoker)(nil)
