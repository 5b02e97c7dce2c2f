// Package mcptool invokes functions on an MCP tool server.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/invoker"
)

// mcpClient abstracts the MCP client for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Invoker is a ToolInvoker backed by one MCP server session.
type Invoker struct {
	name    string
	client  mcpClient
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.RWMutex
	known map[string]struct{} // tool names from the last successful list
}

// New connects to the server described by cfg and performs the MCP handshake.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Invoker, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrDiscard(logger)

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}

	var c *mcpclient.Client
	switch cfg.Transport {
	case TransportSSE:
		sse, err := mcpclient.NewSSEMCPClient(cfg.URL, transport.WithHeaders(headers))
		if err != nil {
			return nil, fmt.Errorf("create sse client: %w", err)
		}
		c = sse
	default:
		t, err := transport.NewStreamableHTTP(cfg.URL, transport.WithHTTPHeaders(headers))
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		c = mcpclient.NewClient(t)
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start mcp client %s: %w", cfg.URL, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "swarm",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp session %s: %w", cfg.URL, err)
	}

	logger.Info("tool runtime connected", "name", cfg.Name, "url", cfg.URL, "transport", cfg.Transport)
	return newWithClient(cfg, c, logger), nil
}

func newWithClient(cfg Config, c mcpClient, logger *slog.Logger) *Invoker {
	cfg.applyDefaults()
	return &Invoker{
		name:    cfg.Name,
		client:  c,
		timeout: cfg.CallTimeout,
		logger:  logging.OrDiscard(logger),
	}
}

// ListTools returns the server's tools as descriptors.
func (inv *Invoker) ListTools(ctx context.Context) ([]invoker.ToolDescriptor, error) {
	result, err := inv.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, invoker.NewError(invoker.KindUnreachable, inv.name, err, "list tools")
	}

	out := make([]invoker.ToolDescriptor, 0, len(result.Tools))
	known := make(map[string]struct{}, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, describe(t))
		known[t.Name] = struct{}{}
	}

	inv.mu.Lock()
	inv.known = known
	inv.mu.Unlock()
	return out, nil
}

// lookup reports whether the server advertises name, listing the tools
// again when the name is not in the last listing. MCP servers answer an
// unknown tool with a generic invalid-params error, so the listing is the
// reliable way to tell a missing tool from a failing one.
func (inv *Invoker) lookup(ctx context.Context, name string) error {
	inv.mu.RLock()
	_, ok := inv.known[name]
	inv.mu.RUnlock()
	if ok {
		return nil
	}

	if _, err := inv.ListTools(ctx); err != nil {
		return err
	}
	inv.mu.RLock()
	_, ok = inv.known[name]
	inv.mu.RUnlock()
	if !ok {
		return invoker.NewError(invoker.KindNotFound, name, nil, "not advertised by "+inv.name)
	}
	return nil
}

// describe reads the schemas from the tool's wire form, which covers both
// structured and raw schema variants.
func describe(t mcp.Tool) invoker.ToolDescriptor {
	d := invoker.ToolDescriptor{Name: t.Name, Description: t.Description}

	data, err := json.Marshal(t)
	if err != nil {
		return d
	}
	var wire struct {
		InputSchema  json.RawMessage `json:"inputSchema"`
		OutputSchema json.RawMessage `json:"outputSchema"`
	}
	if json.Unmarshal(data, &wire) == nil {
		d.InputSchema = wire.InputSchema
		d.OutputSchema = wire.OutputSchema
	}
	return d
}

// Invoke calls the named tool with a JSON object of arguments.
func (inv *Invoker) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	if err := inv.lookup(ctx, name); err != nil {
		return nil, err
	}

	var arguments map[string]any
	if trimmed := strings.TrimSpace(string(args)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, invoker.NewError(invoker.KindExecutionFailed, name, err, "arguments must be a JSON object")
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	callCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	inv.logger.Debug("tool call", "server", inv.name, "tool", name)
	result, err := inv.client.CallTool(callCtx, req)
	if err != nil {
		return nil, invoker.NewError(invoker.KindUnreachable, name, err, "")
	}

	if result.IsError {
		return nil, invoker.NewError(invoker.KindExecutionFailed, name, nil, textContent(result))
	}
	return resultJSON(result)
}

// Close ends the MCP session.
func (inv *Invoker) Close() error {
	return inv.client.Close()
}

// resultJSON prefers structured content, then text that is already JSON,
// then the text as a JSON string.
func resultJSON(result *mcp.CallToolResult) (json.RawMessage, error) {
	if result.StructuredContent != nil {
		return json.Marshal(result.StructuredContent)
	}
	text := textContent(result)
	if json.Valid([]byte(text)) && strings.TrimSpace(text) != "" {
		return json.RawMessage(text), nil
	}
	return json.Marshal(text)
}

func textContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

var _ invoker.ToolInvoker = (*Invoker)(nil)
