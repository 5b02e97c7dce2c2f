package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/pkg/invoker/mcptool"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

type stubAgent struct {
	name string
	typ  registry.AgentType
}

func (a *stubAgent) Name() string                    { return a.name }
func (a *stubAgent) Type() registry.AgentType        { return a.typ }
func (a *stubAgent) Start(ctx context.Context) error { <-ctx.Done(); return nil }
func (a *stubAgent) Execute(ctx context.Context, in *Message) (*Message, error) {
	return in.Reply(in.Payload), nil
}
func (a *stubAgent) Stop(ctx context.Context) error { return nil }
func (a *stubAgent) Ready() bool                    { return true }

func validBuilder() *FactoryAgentConfigBuilder {
	return NewFactoryAgentConfigBuilder().
		WithURL("http://127.0.0.1:8080").
		WithType(registry.AgentTypeSpecialist).
		WithDomain(registry.AgentDomainGeneral).
		WithName("Basic_Agent").
		WithID("Basic_Agent").
		WithDescription("An Agent that answer Basic Questions").
		WithProvider(llm.ProviderGroq).
		WithAPIKey("key").
		WithModelID(llm.DefaultModel)
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	reg := NewRegistry()
	reg.Register(registry.AgentTypeExecutor, func(cfg FactoryAgentConfig, deps Deps) (Agent, error) {
		return &stubAgent{name: "first"}, nil
	})
	reg.Register(registry.AgentTypeExecutor, func(cfg FactoryAgentConfig, deps Deps) (Agent, error) {
		return &stubAgent{name: cfg.ID, typ: cfg.Type}, nil
	})

	a, err := CreateAgentWithRegistry(FactoryAgentConfig{ID: "exec", Type: registry.AgentTypeExecutor}, Deps{}, registry.AgentTypeExecutor, reg)
	require.NoError(t, err)
	assert.Equal(t, "exec", a.Name())

	_, err = CreateAgentWithRegistry(FactoryAgentConfig{}, Deps{}, registry.AgentTypePlanner, reg)
	assert.ErrorContains(t, err, "unknown agent type")
}

func TestMessage_Reply(t *testing.T) {
	in := NewMessage("conv-1", []byte(`{"q":1}`))
	out := in.Reply([]byte(`"ok"`))

	assert.NotEmpty(t, in.ID)
	assert.NotEqual(t, in.ID, out.ID)
	assert.Equal(t, "conv-1", out.ConversationID)
	assert.Equal(t, "response", out.Type)
}

func TestFactoryAgentConfigBuilder(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg, err := validBuilder().Build()
		require.NoError(t, err)
		assert.Equal(t, "Basic_Agent", cfg.ID)

		def := cfg.Definition()
		assert.Equal(t, "http://127.0.0.1:8080", def.URL)
		assert.NoError(t, def.Validate())
	})

	t.Run("reports every missing field", func(t *testing.T) {
		_, err := NewFactoryAgentConfigBuilder().WithProvider(llm.ProviderGroq).Build()
		var ce *ConfigError
		require.True(t, errors.As(err, &ce))
		assert.ElementsMatch(t, []string{"url", "type", "domain", "name", "id", "model_id", "api_key"}, ce.Missing)
	})

	t.Run("ollama needs no key", func(t *testing.T) {
		_, err := validBuilder().WithAPIKey("").WithProvider(llm.ProviderOllama).Build()
		assert.NoError(t, err)
	})

	t.Run("executor url only for planners", func(t *testing.T) {
		_, err := validBuilder().WithExecutorURL("http://127.0.0.1:9580").Build()
		var ce *ConfigError
		require.True(t, errors.As(err, &ce))
		assert.Len(t, ce.Invalid, 1)

		_, err = validBuilder().WithType(registry.AgentTypePlanner).WithExecutorURL("http://127.0.0.1:9580").Build()
		assert.NoError(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := validBuilder().WithURL("127.0.0.1:8080").WithType("wizard").Build()
		var ce *ConfigError
		require.True(t, errors.As(err, &ce))
		assert.Len(t, ce.Invalid, 2)
		assert.Contains(t, err.Error(), "agent config Basic_Agent")
	})
}

func TestFactoryMcpRuntimeConfig(t *testing.T) {
	cfg, err := NewFactoryMcpRuntimeConfigBuilder().
		WithProvider(llm.ProviderGroq).
		WithAPIKey("key").
		WithModelID(llm.DefaultModel).
		WithServerURL("http://localhost:8000/sse").
		Build()
	require.NoError(t, err)

	tc := cfg.ToolConfig("weather")
	assert.Equal(t, mcptool.TransportSSE, tc.Transport)
	assert.Equal(t, "weather", tc.Name)
	assert.Empty(t, tc.APIKey)

	cfg.ServerURL = "http://localhost:8000/mcp"
	assert.Equal(t, mcptool.TransportHTTP, cfg.ToolConfig("x").Transport)

	_, err = NewFactoryMcpRuntimeConfigBuilder().Build()
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Missing, "server_url")
}

const sampleConfig = `
discovery_url: http://127.0.0.1:4000
memory_url: http://127.0.0.1:5000
evaluation_url: http://127.0.0.1:7000
default_provider: groq
agents:
  - id: Basic_Agent
    type: specialist
    url: http://127.0.0.1:8080
    api_key_env: LLM_A2A_API_KEY
    tool_runtime: true
  - id: Executor_Agent
    type: executor
    url: http://127.0.0.1:9580
    api_key_env: LLM_A2A_API_KEY
  - id: Planner_Agent
    type: planner
    url: http://127.0.0.1:9590
    api_key_env: LLM_PLANNER_API_KEY
    executor_url: http://127.0.0.1:9580
  - id: Idle_Agent
    type: specialist
    url: http://127.0.0.1:9999
    api_key_env: LLM_IDLE_API_KEY
    disabled: true
tool_runtime:
  api_key_env: LLM_A2A_API_KEY
  server_url: http://localhost:8000/sse
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "factory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func lookupFrom(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFactoryConfig(t *testing.T) {
	cfg, err := LoadFactoryConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, llm.DefaultModel, cfg.Agents[0].Model)
	assert.Equal(t, "Basic_Agent", cfg.Agents[0].Name)
	assert.Equal(t, "general", cfg.Agents[1].Domain)
	assert.Equal(t, []string{"LLM_A2A_API_KEY", "LLM_PLANNER_API_KEY"}, cfg.RequiredKeys())

	specs, err := cfg.LaunchSpecs(lookupFrom(map[string]string{
		"LLM_A2A_API_KEY":     "a2a",
		"LLM_PLANNER_API_KEY": "planner",
	}))
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.Equal(t, registry.AgentTypeSpecialist, specs[0].Config.Type)
	require.NotNil(t, specs[0].Runtime)
	assert.Equal(t, "a2a", specs[0].Runtime.APIKey)
	assert.Nil(t, specs[1].Runtime)
	assert.Equal(t, "planner", specs[2].Config.APIKey)
	assert.Equal(t, "http://127.0.0.1:9580", specs[2].Config.ExecutorURL)
}

func TestLaunchSpecs_MissingKey(t *testing.T) {
	cfg, err := LoadFactoryConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	_, err = cfg.LaunchSpecs(lookupFrom(map[string]string{"LLM_A2A_API_KEY": "a2a"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_PLANNER_API_KEY must be set")
}

func TestLoadFactoryConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no discovery", "agents: []\n", "discovery_url is required"},
		{"bad discovery", "discovery_url: localhost\n", "discovery_url"},
		{"duplicate ids", "discovery_url: http://a:1\nagents:\n  - {id: x, type: executor, url: http://a:2}\n  - {id: x, type: executor, url: http://a:3}\n", "duplicate agent id"},
		{"runtime without section", "discovery_url: http://a:1\nagents:\n  - {id: x, type: specialist, url: http://a:2, tool_runtime: true}\n", "no tool_runtime section"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFactoryConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
