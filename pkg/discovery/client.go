package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aixgo-dev/swarm/internal/httpapi"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

// Client is the HTTP Service implementation. It holds no state beyond the
// endpoint and its http.Client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a discovery client for baseURL (scheme optional).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    httpapi.NormalizeBaseURL(baseURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the discovery endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// Ping probes the readiness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health/ready", nil, nil)
}

func (c *Client) RegisterTask(ctx context.Context, def registry.TaskDefinition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/tasks", def, nil)
}

func (c *Client) RegisterTool(ctx context.Context, def registry.ToolDefinition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/tools", def, nil)
}

func (c *Client) RegisterAgent(ctx context.Context, def registry.AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/agents", def, nil)
}

func (c *Client) GetTask(ctx context.Context, id string) (registry.TaskDefinition, error) {
	var def registry.TaskDefinition
	err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), nil, &def)
	return def, err
}

func (c *Client) GetTool(ctx context.Context, id string) (registry.ToolDefinition, error) {
	var def registry.ToolDefinition
	err := c.do(ctx, http.MethodGet, "/v1/tools/"+url.PathEscape(id), nil, &def)
	return def, err
}

func (c *Client) GetAgent(ctx context.Context, id string) (registry.AgentDefinition, error) {
	var def registry.AgentDefinition
	err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(id), nil, &def)
	return def, err
}

func (c *Client) ListTasks(ctx context.Context) ([]registry.TaskDefinition, error) {
	var defs []registry.TaskDefinition
	err := c.do(ctx, http.MethodGet, "/v1/tasks", nil, &defs)
	return defs, err
}

func (c *Client) ListTools(ctx context.Context) ([]registry.ToolDefinition, error) {
	var defs []registry.ToolDefinition
	err := c.do(ctx, http.MethodGet, "/v1/tools", nil, &defs)
	return defs, err
}

func (c *Client) ListAgents(ctx context.Context) ([]registry.AgentDefinition, error) {
	var defs []registry.AgentDefinition
	err := c.do(ctx, http.MethodGet, "/v1/agents", nil, &defs)
	return defs, err
}

func (c *Client) ResolveAgent(ctx context.Context, domain registry.AgentDomain, agentType registry.AgentType) (registry.AgentDefinition, error) {
	q := url.Values{}
	q.Set("type", string(agentType))
	if domain != "" {
		q.Set("domain", string(domain))
	}
	var def registry.AgentDefinition
	err := c.do(ctx, http.MethodGet, "/v1/agents/resolve?"+q.Encode(), nil, &def)
	return def, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	err := httpapi.DoJSON(ctx, c.httpClient, method, c.baseURL+path, in, out)
	if err == nil {
		return nil
	}
	if httpapi.IsTransport(err) {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, c.baseURL, err)
	}
	var se *httpapi.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrInvalidDefinition, se.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, se.Message)
		case http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %s", ErrUnreachable, se.Message)
		}
	}
	return err
}

var _ Service = (*Client)(nil)
