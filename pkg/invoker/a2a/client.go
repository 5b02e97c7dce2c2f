package a2a

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/aixgo-dev/swarm/internal/httpapi"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/invoker"
)

// BreakerConfig configures the per-peer circuit breakers.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Client sends invocations to agent endpoints. One circuit breaker is kept
// per peer URL; only transport failures and timeouts count against it.
type Client struct {
	httpClient *http.Client
	breakerCfg BreakerConfig
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*InvokeResponse]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker overrides the circuit breaker settings.
func WithBreaker(cfg BreakerConfig) ClientOption {
	return func(c *Client) { c.breakerCfg = cfg }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates an agent client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*InvokeResponse]),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakerCfg.MaxFailures == 0 {
		c.breakerCfg.MaxFailures = 5
	}
	if c.breakerCfg.Timeout == 0 {
		c.breakerCfg.Timeout = 30 * time.Second
	}
	c.logger = logging.OrDiscard(c.logger)
	return c
}

func (c *Client) breaker(peer string) *gobreaker.CircuitBreaker[*InvokeResponse] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[peer]; ok {
		return cb
	}
	maxFailures := c.breakerCfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[*InvokeResponse](gobreaker.Settings{
		Name:        "a2a:" + peer,
		MaxRequests: 1,
		Timeout:     c.breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			kind := invoker.KindOf(err)
			return err == nil || (kind != invoker.KindUnreachable && kind != invoker.KindTimeout)
		},
	})
	c.breakers[peer] = cb
	return cb
}

// Send posts req to the agent at baseURL. A response carrying an error
// field is reported as ExecutionFailed.
func (c *Client) Send(ctx context.Context, baseURL string, req InvokeRequest) (*InvokeResponse, error) {
	peer := httpapi.NormalizeBaseURL(baseURL)
	if req.ConversationID == "" {
		req.ConversationID = ConversationFrom(ctx)
	}

	resp, err := c.breaker(peer).Execute(func() (*InvokeResponse, error) {
		var out InvokeResponse
		if err := httpapi.DoJSON(ctx, c.httpClient, http.MethodPost, peer+InvokePath, req, &out); err != nil {
			return nil, classify(peer, err)
		}
		return &out, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, invoker.NewError(invoker.KindUnreachable, peer, err, "circuit open")
	}
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return resp, invoker.NewError(invoker.KindExecutionFailed, peer, nil, resp.Error)
	}
	return resp, nil
}

// Card fetches the agent card served at baseURL.
func (c *Client) Card(ctx context.Context, baseURL string) (*AgentCard, error) {
	peer := httpapi.NormalizeBaseURL(baseURL)
	var card AgentCard
	if err := httpapi.DoJSON(ctx, c.httpClient, http.MethodGet, peer+CardPath, nil, &card); err != nil {
		return nil, classify(peer, err)
	}
	return &card, nil
}

func classify(peer string, err error) error {
	if httpapi.IsTransport(err) {
		return invoker.NewError(invoker.KindUnreachable, peer, err, "")
	}
	switch code := httpapi.StatusCode(err); {
	case code == http.StatusNotFound:
		return invoker.NewError(invoker.KindNotFound, peer, err, "")
	case code == http.StatusServiceUnavailable:
		return invoker.NewError(invoker.KindUnreachable, peer, err, "")
	case code == http.StatusGatewayTimeout:
		return invoker.NewError(invoker.KindTimeout, peer, err, "")
	case code != 0:
		return invoker.NewError(invoker.KindExecutionFailed, peer, err, "")
	}
	return invoker.NewError(invoker.KindExecutionFailed, peer, err, fmt.Sprintf("unexpected error from %s", peer))
}
