package mcptool

import (
	"fmt"
	"net/url"
	"time"

	"github.com/aixgo-dev/swarm/pkg/security"
)

// Transport names.
const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

// DefaultCallTimeout bounds a single tool call.
const DefaultCallTimeout = 30 * time.Second

// Config describes how to reach one MCP tool server.
type Config struct {
	Name        string        `yaml:"name"`
	URL         string        `yaml:"url"`
	Transport   string        `yaml:"transport"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	CallTimeout time.Duration `yaml:"call_timeout"`

	// APIKey is resolved by the caller, never read from the file.
	APIKey string `yaml:"-"`
}

// LoadConfig reads a tool runtime config file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := security.NewSafeYAMLParser(security.DefaultYAMLLimits()).LoadFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tool runtime config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "tools"
	}
	if c.Transport == "" {
		c.Transport = TransportHTTP
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
}

// Validate checks the URL and transport.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("url must be an absolute http(s) URL, got %q", c.URL)
	}
	switch c.Transport {
	case TransportHTTP, TransportSSE, "":
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	return nil
}
