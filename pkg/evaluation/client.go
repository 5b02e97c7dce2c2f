package evaluation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aixgo-dev/swarm/internal/httpapi"
)

// Client is the HTTP Service implementation.
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

// NewClient creates an evaluation client for baseURL (scheme optional).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    httpapi.NormalizeBaseURL(baseURL),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping probes the readiness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health/ready", nil, nil)
}

func (c *Client) Evaluate(ctx context.Context, req Request) (*Result, error) {
	var res Result
	if err := c.do(ctx, http.MethodPost, "/v1/evaluations", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) List(ctx context.Context, agentID string) ([]Result, error) {
	path := "/v1/evaluations"
	if agentID != "" {
		path += "?agent_id=" + url.QueryEscape(agentID)
	}
	var results []Result
	err := c.do(ctx, http.MethodGet, path, nil, &results)
	return results, err
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
			return fmt.Errorf("%w: %s", ErrInvalidRequest, se.Message)
		case http.StatusBadGateway:
			return fmt.Errorf("%w: %s", ErrJudgeFailed, se.Message)
		}
	}
	return err
}

var _ Service = (*Client)(nil)
