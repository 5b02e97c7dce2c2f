package agent

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/pkg/invoker/mcptool"
	"github.com/aixgo-dev/swarm/pkg/registry"
)

// ConfigError lists every rule a config failed.
type ConfigError struct {
	Subject string
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Subject, strings.Join(parts, "; "))
}

func (e *ConfigError) missing(field string) { e.Missing = append(e.Missing, field) }

func (e *ConfigError) invalid(format string, args ...any) {
	e.Invalid = append(e.Invalid, fmt.Sprintf(format, args...))
}

func (e *ConfigError) err() error {
	if len(e.Missing) == 0 && len(e.Invalid) == 0 {
		return nil
	}
	return e
}

// FactoryAgentConfig describes one agent to launch.
type FactoryAgentConfig struct {
	URL         string
	Type        registry.AgentType
	Domain      registry.AgentDomain
	Name        string
	ID          string
	Description string
	Provider    llm.ProviderURL
	APIKey      string
	ModelID     string
	ExecutorURL string
	Skills      []string
}

// Definition is the capability record the agent registers for itself.
func (c FactoryAgentConfig) Definition() registry.AgentDefinition {
	return registry.AgentDefinition{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		URL:         c.URL,
		Domain:      c.Domain,
		Type:        c.Type,
		Skills:      c.Skills,
	}
}

// Validate applies the builder's checks to a config assembled by hand.
func (c FactoryAgentConfig) Validate() error {
	_, err := (&FactoryAgentConfigBuilder{cfg: c}).Build()
	return err
}

// FactoryAgentConfigBuilder accumulates fields; Build validates them all at once.
type FactoryAgentConfigBuilder struct {
	cfg FactoryAgentConfig
}

func NewFactoryAgentConfigBuilder() *FactoryAgentConfigBuilder {
	return &FactoryAgentConfigBuilder{}
}

func (b *FactoryAgentConfigBuilder) WithURL(u string) *FactoryAgentConfigBuilder {
	b.cfg.URL = u
	return b
}

func (b *FactoryAgentConfigBuilder) WithType(t registry.AgentType) *FactoryAgentConfigBuilder {
	b.cfg.Type = t
	return b
}

func (b *FactoryAgentConfigBuilder) WithDomain(d registry.AgentDomain) *FactoryAgentConfigBuilder {
	b.cfg.Domain = d
	return b
}

func (b *FactoryAgentConfigBuilder) WithName(name string) *FactoryAgentConfigBuilder {
	b.cfg.Name = name
	return b
}

func (b *FactoryAgentConfigBuilder) WithID(id string) *FactoryAgentConfigBuilder {
	b.cfg.ID = id
	return b
}

func (b *FactoryAgentConfigBuilder) WithDescription(desc string) *FactoryAgentConfigBuilder {
	b.cfg.Description = desc
	return b
}

func (b *FactoryAgentConfigBuilder) WithProvider(p llm.ProviderURL) *FactoryAgentConfigBuilder {
	b.cfg.Provider = p
	return b
}

func (b *FactoryAgentConfigBuilder) WithAPIKey(key string) *FactoryAgentConfigBuilder {
	b.cfg.APIKey = key
	return b
}

func (b *FactoryAgentConfigBuilder) WithModelID(model string) *FactoryAgentConfigBuilder {
	b.cfg.ModelID = model
	return b
}

// WithExecutorURL sets the executor a planner delegates to.
func (b *FactoryAgentConfigBuilder) WithExecutorURL(u string) *FactoryAgentConfigBuilder {
	b.cfg.ExecutorURL = u
	return b
}

func (b *FactoryAgentConfigBuilder) WithSkills(skills ...string) *FactoryAgentConfigBuilder {
	b.cfg.Skills = append(b.cfg.Skills, skills...)
	return b
}

// Build returns the config or a *ConfigError naming every failed field.
func (b *FactoryAgentConfigBuilder) Build() (FactoryAgentConfig, error) {
	c := b.cfg
	subject := "agent config"
	if c.ID != "" {
		subject = fmt.Sprintf("agent config %s", c.ID)
	}
	ce := &ConfigError{Subject: subject}

	if c.URL == "" {
		ce.missing("url")
	} else if err := checkHTTPURL(c.URL); err != nil {
		ce.invalid("url: %v", err)
	}
	switch {
	case c.Type == "":
		ce.missing("type")
	case !c.Type.Valid():
		ce.invalid("type %q", c.Type)
	}
	if c.Domain == "" {
		ce.missing("domain")
	}
	if c.Name == "" {
		ce.missing("name")
	}
	if c.ID == "" {
		ce.missing("id")
	}
	if c.Provider == "" {
		ce.missing("provider")
	} else if _, err := llm.ParseProviderURL(string(c.Provider)); err != nil {
		ce.invalid("provider: %v", err)
	}
	if c.ModelID == "" {
		ce.missing("model_id")
	}
	if c.APIKey == "" && c.Provider != "" && c.Provider.RequiresKey() {
		ce.missing("api_key")
	}
	if c.ExecutorURL != "" {
		if c.Type != registry.AgentTypePlanner {
			ce.invalid("executor_url is only valid for planner agents")
		} else if err := checkHTTPURL(c.ExecutorURL); err != nil {
			ce.invalid("executor_url: %v", err)
		}
	}

	if err := ce.err(); err != nil {
		return FactoryAgentConfig{}, err
	}
	return c, nil
}

// FactoryMcpRuntimeConfig attaches a tool runtime to a specialist.
type FactoryMcpRuntimeConfig struct {
	Provider     llm.ProviderURL
	APIKey       string
	ModelID      string
	ServerURL    string
	ServerAPIKey string
}

// ToolConfig converts the runtime config to the tool invoker's config. A
// server URL ending in /sse selects the SSE transport.
func (c FactoryMcpRuntimeConfig) ToolConfig(name string) mcptool.Config {
	transport := mcptool.TransportHTTP
	if strings.HasSuffix(strings.TrimRight(c.ServerURL, "/"), "/sse") {
		transport = mcptool.TransportSSE
	}
	return mcptool.Config{
		Name:      name,
		URL:       c.ServerURL,
		Transport: transport,
		APIKey:    c.ServerAPIKey,
	}
}

type FactoryMcpRuntimeConfigBuilder struct {
	cfg FactoryMcpRuntimeConfig
}

func NewFactoryMcpRuntimeConfigBuilder() *FactoryMcpRuntimeConfigBuilder {
	return &FactoryMcpRuntimeConfigBuilder{}
}

func (b *FactoryMcpRuntimeConfigBuilder) WithProvider(p llm.ProviderURL) *FactoryMcpRuntimeConfigBuilder {
	b.cfg.Provider = p
	return b
}

func (b *FactoryMcpRuntimeConfigBuilder) WithAPIKey(key string) *FactoryMcpRuntimeConfigBuilder {
	b.cfg.APIKey = key
	return b
}

func (b *FactoryMcpRuntimeConfigBuilder) WithModelID(model string) *FactoryMcpRuntimeConfigBuilder {
	b.cfg.ModelID = model
	return b
}

func (b *FactoryMcpRuntimeConfigBuilder) WithServerURL(u string) *FactoryMcpRuntimeConfigBuilder {
	b.cfg.ServerURL = u
	return b
}

// WithServerAPIKey sets the bearer key sent to the tool server; empty means none.
func (b *FactoryMcpRuntimeConfigBuilder) WithServerAPIKey(key string) *FactoryMcpRuntimeConfigBuilder {
	b.cfg.ServerAPIKey = key
	return b
}

func (b *FactoryMcpRuntimeConfigBuilder) Build() (FactoryMcpRuntimeConfig, error) {
	c := b.cfg
	ce := &ConfigError{Subject: "tool runtime config"}

	if c.ServerURL == "" {
		ce.missing("server_url")
	} else if err := checkHTTPURL(c.ServerURL); err != nil {
		ce.invalid("server_url: %v", err)
	}
	if c.Provider == "" {
		ce.missing("provider")
	}
	if c.ModelID == "" {
		ce.missing("model_id")
	}
	if c.APIKey == "" && c.Provider != "" && c.Provider.RequiresKey() {
		ce.missing("api_key")
	}

	if err := ce.err(); err != nil {
		return FactoryMcpRuntimeConfig{}, err
	}
	return c, nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return nil
}
