package memory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
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

// NewClient creates a memory client for baseURL (scheme optional).
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

// Ping probes the readiness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health/ready", nil, nil)
}

func (c *Client) Commit(ctx context.Context, rec Record) (Record, error) {
	var stored Record
	err := c.do(ctx, http.MethodPost, "/v1/records", rec, &stored)
	return stored, err
}

func (c *Client) History(ctx context.Context, conversationID string, limit int) ([]Record, error) {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/records"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var records []Record
	err := c.do(ctx, http.MethodGet, path, nil, &records)
	return records, err
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var records []Record
	err := c.do(ctx, http.MethodGet, "/v1/search?"+q.Encode(), nil, &records)
	return records, err
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
	if errors.As(err, &se) && se.Code == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, se.Message)
	}
	return err
}

var _ Service = (*Client)(nil)
