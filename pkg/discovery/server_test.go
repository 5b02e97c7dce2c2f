package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/swarm/pkg/registry"
)

func newTestClient(t *testing.T) (*Client, *Registry) {
	t.Helper()

	reg := NewRegistry(nil)
	srv := httptest.NewServer(NewServer(reg).Handler())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, WithHTTPClient(srv.Client())), reg
}

func TestClient_TaskRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterTask(ctx, registry.TaskDefinition{
		ID: "greeting", Name: "Say Hello", Description: "Say hello to somebody",
	}))

	got, err := c.GetTask(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "Say Hello", got.Name)
	assert.JSONEq(t, `{}`, string(got.InputSchema))

	tasks, err := c.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestClient_ToolRoundTripKeepsFields(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	def := registry.ToolDefinition{
		ID:          "weather",
		Name:        "weather",
		Description: "Current weather for a city",
		InputSchema: []byte(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	}
	require.NoError(t, c.RegisterTool(ctx, def))

	got, err := c.GetTool(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Equal(t, def.Description, got.Description)
	assert.JSONEq(t, string(def.InputSchema), string(got.InputSchema))
	assert.JSONEq(t, `{}`, string(got.OutputSchema))
}

func TestClient_ErrorMapping(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetAgent(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.ResolveAgent(ctx, registry.AgentDomainGeneral, registry.AgentTypeExecutor)
	assert.ErrorIs(t, err, ErrNotFound)

	err = c.RegisterAgent(ctx, registry.AgentDefinition{ID: "x", Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestClient_ResolveAgent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterAgent(ctx, registry.AgentDefinition{
		ID: "executor", Name: "executor", URL: "http://127.0.0.1:9580",
		Domain: registry.AgentDomainGeneral, Type: registry.AgentTypeExecutor,
	}))

	got, err := c.ResolveAgent(ctx, registry.AgentDomainGeneral, registry.AgentTypeExecutor)
	require.NoError(t, err)
	assert.Equal(t, "executor", got.ID)
	assert.Equal(t, "http://127.0.0.1:9580", got.URL)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewClient(addr)
	_, err := c.ListAgents(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestServer_ReadyOnlyWhileServing(t *testing.T) {
	s := NewServer(NewRegistry(nil))
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.Health().SetReady(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ResolveRejectsUnknownType(t *testing.T) {
	s := NewServer(NewRegistry(nil))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents/resolve?type=oracle", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RegisterTaskNeverFetchesRemoteSchema(t *testing.T) {
	var fetches atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		<-r.Context().Done()
	}))
	defer remote.Close()

	c, reg := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.RegisterTask(ctx, registry.TaskDefinition{
		ID:          "remote",
		Name:        "Remote",
		InputSchema: []byte(`{"$ref": "` + remote.URL + `/x.json"}`),
	})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Zero(t, fetches.Load())

	_, err = reg.GetTask(ctx, "remote")
	assert.ErrorIs(t, err, ErrNotFound)
}
