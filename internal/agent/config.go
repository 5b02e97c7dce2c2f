package agent

import (
	"errors"
	"fmt"

	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/pkg/registry"
	"github.com/aixgo-dev/swarm/pkg/security"
)

// FactoryConfig is the process-wide factory configuration. It is loaded once
// and read-only afterwards.
type FactoryConfig struct {
	DiscoveryURL    string `yaml:"discovery_url"`
	MemoryURL       string `yaml:"memory_url,omitempty"`
	EvaluationURL   string `yaml:"evaluation_url,omitempty"`
	DefaultProvider string `yaml:"default_provider,omitempty"`
	DefaultModel    string `yaml:"default_model,omitempty"`

	Agents      []AgentSpec      `yaml:"agents"`
	ToolRuntime *ToolRuntimeSpec `yaml:"tool_runtime,omitempty"`
}

// AgentSpec is one agent entry of the config file. API keys are named by
// environment variable, never stored in the file.
type AgentSpec struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Type        string   `yaml:"type"`
	Domain      string   `yaml:"domain,omitempty"`
	URL         string   `yaml:"url"`
	Provider    string   `yaml:"provider,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	APIKeyEnv   string   `yaml:"api_key_env,omitempty"`
	ExecutorURL string   `yaml:"executor_url,omitempty"`
	Skills      []string `yaml:"skills,omitempty"`
	ToolRuntime bool     `yaml:"tool_runtime,omitempty"` // attach the configured tool runtime
	Disabled    bool     `yaml:"disabled,omitempty"`
}

// ToolRuntimeSpec is the tool runtime section of the config file.
type ToolRuntimeSpec struct {
	Provider        string `yaml:"provider,omitempty"`
	Model           string `yaml:"model,omitempty"`
	APIKeyEnv       string `yaml:"api_key_env,omitempty"`
	ServerURL       string `yaml:"server_url"`
	ServerAPIKeyEnv string `yaml:"server_api_key_env,omitempty"`
}

// LookupFunc resolves an environment variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LaunchSpec pairs a built agent config with its optional tool runtime.
type LaunchSpec struct {
	Config  FactoryAgentConfig
	Runtime *FactoryMcpRuntimeConfig
}

// LoadFactoryConfig reads, defaults and validates a factory config file.
func LoadFactoryConfig(path string) (*FactoryConfig, error) {
	var cfg FactoryConfig
	if err := security.NewSafeYAMLParser(security.DefaultYAMLLimits()).LoadFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("factory config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills provider, model and domain gaps from the defaults.
func (c *FactoryConfig) ApplyDefaults() {
	if c.DefaultProvider == "" {
		c.DefaultProvider = string(llm.ProviderGroq)
	}
	if c.DefaultModel == "" {
		c.DefaultModel = llm.DefaultModel
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.Provider == "" {
			a.Provider = c.DefaultProvider
		}
		if a.Model == "" {
			a.Model = c.DefaultModel
		}
		if a.Domain == "" {
			a.Domain = string(registry.AgentDomainGeneral)
		}
		if a.Name == "" {
			a.Name = a.ID
		}
	}
	if rt := c.ToolRuntime; rt != nil {
		if rt.Provider == "" {
			rt.Provider = c.DefaultProvider
		}
		if rt.Model == "" {
			rt.Model = c.DefaultModel
		}
	}
}

// Validate checks the fields that do not depend on the environment.
func (c *FactoryConfig) Validate() error {
	if c.DiscoveryURL == "" {
		return errors.New("discovery_url is required")
	}
	if err := checkHTTPURL(c.DiscoveryURL); err != nil {
		return fmt.Errorf("discovery_url: %w", err)
	}
	for _, u := range []struct{ name, v string }{{"memory_url", c.MemoryURL}, {"evaluation_url", c.EvaluationURL}} {
		if u.v == "" {
			continue
		}
		if err := checkHTTPURL(u.v); err != nil {
			return fmt.Errorf("%s: %w", u.name, err)
		}
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return errors.New("every agent needs an id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.ToolRuntime && c.ToolRuntime == nil {
			return fmt.Errorf("agent %s: tool_runtime requested but no tool_runtime section", a.ID)
		}
	}
	return nil
}

// RequiredKeys returns the environment variables enabled agents need.
func (c *FactoryConfig) RequiredKeys() []string {
	var keys []string
	seen := map[string]bool{}
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	attachRuntime := false
	for _, a := range c.Agents {
		if a.Disabled {
			continue
		}
		add(a.APIKeyEnv)
		attachRuntime = attachRuntime || a.ToolRuntime
	}
	if attachRuntime && c.ToolRuntime != nil {
		add(c.ToolRuntime.APIKeyEnv)
		add(c.ToolRuntime.ServerAPIKeyEnv)
	}
	return keys
}

// LaunchSpecs resolves keys through lookup and builds every enabled agent's
// config in declared order. Any missing key or builder failure is returned,
// joined, so the process can fail before starting anything.
func (c *FactoryConfig) LaunchSpecs(lookup LookupFunc) ([]LaunchSpec, error) {
	var errs []error
	for _, k := range c.RequiredKeys() {
		if v, ok := lookup(k); !ok || v == "" {
			errs = append(errs, fmt.Errorf("environment variable %s must be set", k))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var runtime *FactoryMcpRuntimeConfig
	buildRuntime := func() (*FactoryMcpRuntimeConfig, error) {
		if runtime != nil {
			return runtime, nil
		}
		rt := c.ToolRuntime
		built, err := NewFactoryMcpRuntimeConfigBuilder().
			WithProvider(llm.ProviderURL(rt.Provider)).
			WithAPIKey(env(lookup, rt.APIKeyEnv)).
			WithModelID(rt.Model).
			WithServerURL(rt.ServerURL).
			WithServerAPIKey(env(lookup, rt.ServerAPIKeyEnv)).
			Build()
		if err != nil {
			return nil, err
		}
		runtime = &built
		return runtime, nil
	}

	var specs []LaunchSpec
	for _, a := range c.Agents {
		if a.Disabled {
			continue
		}
		cfg, err := a.Build(lookup)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		spec := LaunchSpec{Config: cfg}
		if a.ToolRuntime {
			rt, err := buildRuntime()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			spec.Runtime = rt
		}
		specs = append(specs, spec)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return specs, nil
}

// Build converts the file entry into a validated FactoryAgentConfig.
func (a AgentSpec) Build(lookup LookupFunc) (FactoryAgentConfig, error) {
	provider, err := llm.ParseProviderURL(a.Provider)
	if err != nil {
		provider = llm.ProviderURL(a.Provider)
	}
	agentType, err := registry.ParseAgentType(a.Type)
	if err != nil {
		agentType = registry.AgentType(a.Type)
	}
	return NewFactoryAgentConfigBuilder().
		WithURL(a.URL).
		WithType(agentType).
		WithDomain(registry.AgentDomain(a.Domain)).
		WithName(a.Name).
		WithID(a.ID).
		WithDescription(a.Description).
		WithProvider(provider).
		WithAPIKey(env(lookup, a.APIKeyEnv)).
		WithModelID(a.Model).
		WithExecutorURL(a.ExecutorURL).
		WithSkills(a.Skills...).
		Build()
}

func env(lookup LookupFunc, key string) string {
	if key == "" || lookup == nil {
		return ""
	}
	v, _ := lookup(key)
	return v
}
