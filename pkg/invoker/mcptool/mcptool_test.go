package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/swarm/pkg/invoker"
)

type mockMCPClient struct {
	tools    []mcp.Tool
	callFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	listErr  error
	closed   bool
	lists    atomic.Int32
	calls    atomic.Int32
}

func (m *mockMCPClient) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	m.lists.Add(1)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return &mcp.ListToolsResult{Tools: m.tools}, nil
}

func (m *mockMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.calls.Add(1)
	if m.callFunc != nil {
		return m.callFunc(ctx, req)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("called %s", req.Params.Name))},
	}, nil
}

func (m *mockMCPClient) Close() error {
	m.closed = true
	return nil
}

func TestInvoker_ListTools(t *testing.T) {
	mock := &mockMCPClient{
		tools: []mcp.Tool{
			mcp.NewTool("get_weather",
				mcp.WithDescription("Current weather for a city"),
				mcp.WithString("city", mcp.Required()),
			),
			{Name: "ping", Description: "Health probe"},
		},
	}
	inv := newWithClient(Config{Name: "tools"}, mock, nil)

	tools, err := inv.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	assert.Equal(t, "get_weather", tools[0].Name)
	assert.Equal(t, "Current weather for a city", tools[0].Description)
	assert.Contains(t, string(tools[0].InputSchema), `"city"`)

	def := tools[1].Definition()
	assert.Equal(t, "ping", def.ID)
	assert.Equal(t, "Health probe", def.Description)
	assert.JSONEq(t, `{}`, string(def.OutputSchema))
}

func TestInvoker_ListToolsUnreachable(t *testing.T) {
	inv := newWithClient(Config{}, &mockMCPClient{listErr: errors.New("connection refused")}, nil)

	_, err := inv.ListTools(context.Background())
	assert.ErrorIs(t, err, invoker.ErrUnreachable)
}

func TestInvoker_Invoke(t *testing.T) {
	tests := []struct {
		name     string
		callFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args     json.RawMessage
		want     string
		wantErr  error
	}{
		{
			name: "text result becomes json string",
			args: json.RawMessage(`{"city":"Paris"}`),
			want: `"called get_weather"`,
		},
		{
			name: "json text passes through",
			callFunc: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(`{"temp":21}`)}}, nil
			},
			want: `{"temp":21}`,
		},
		{
			name: "tool error",
			callFunc: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.NewTextContent("city unknown")}}, nil
			},
			wantErr: invoker.ErrExecutionFailed,
		},
		{
			name: "transport error",
			callFunc: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, errors.New("broken pipe")
			},
			wantErr: invoker.ErrUnreachable,
		},
		{
			name: "server error mentioning not found is not a missing tool",
			callFunc: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, errors.New("upstream city database not found")
			},
			wantErr: invoker.ErrUnreachable,
		},
		{
			name:    "non-object arguments",
			args:    json.RawMessage(`[1,2]`),
			wantErr: invoker.ErrExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockMCPClient{tools: []mcp.Tool{{Name: "get_weather"}}, callFunc: tt.callFunc}
			inv := newWithClient(Config{}, mock, nil)

			out, err := inv.Invoke(context.Background(), "get_weather", tt.args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestInvoker_InvokeUnknownTool(t *testing.T) {
	mock := &mockMCPClient{tools: []mcp.Tool{{Name: "get_weather"}}}
	inv := newWithClient(Config{Name: "tools"}, mock, nil)
	ctx := context.Background()

	_, err := inv.Invoke(ctx, "get_weather", nil)
	require.NoError(t, err)
	_, err = inv.Invoke(ctx, "get_weather", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), mock.lists.Load())

	_, err = inv.Invoke(ctx, "launch_rockets", nil)
	assert.ErrorIs(t, err, invoker.ErrNotFound)
	assert.Equal(t, int32(2), mock.calls.Load())
	assert.Equal(t, int32(2), mock.lists.Load())

	// a tool added on the server later is found after relisting
	mock.tools = append(mock.tools, mcp.Tool{Name: "launch_rockets"})
	_, err = inv.Invoke(ctx, "launch_rockets", nil)
	assert.NoError(t, err)

	mock.listErr = errors.New("connection refused")
	_, err = inv.Invoke(ctx, "unlisted", nil)
	assert.ErrorIs(t, err, invoker.ErrUnreachable)
}

func TestInvoker_InvokeTimeout(t *testing.T) {
	mock := &mockMCPClient{
		tools: []mcp.Tool{{Name: "slow"}},
		callFunc: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	inv := newWithClient(Config{CallTimeout: 20 * time.Millisecond}, mock, nil)

	_, err := inv.Invoke(context.Background(), "slow", nil)
	assert.ErrorIs(t, err, invoker.ErrTimeout)
}

func TestInvoker_Close(t *testing.T) {
	mock := &mockMCPClient{}
	inv := newWithClient(Config{}, mock, nil)

	require.NoError(t, inv.Close())
	assert.True(t, mock.closed)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "mcp.yaml")
	require.NoError(t, os.WriteFile(good, []byte("url: http://localhost:8000/mcp\napi_key_env: MCP_KEY\ncall_timeout: 5s\n"), 0o600))
	cfg, err := LoadConfig(good)
	require.NoError(t, err)
	assert.Equal(t, "tools", cfg.Name)
	assert.Equal(t, TransportHTTP, cfg.Transport)
	assert.Equal(t, "MCP_KEY", cfg.APIKeyEnv)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)

	tests := map[string]string{
		"relative url":  "url: /mcp\n",
		"bad transport": "url: http://localhost:8000\ntransport: stdio\n",
		"unknown field": "url: http://localhost:8000\ncommand: ./server\n",
		"missing url":   "name: x\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "not a url"}, nil)
	assert.Error(t, err)
}
