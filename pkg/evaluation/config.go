package evaluation

import (
	"fmt"

	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/pkg/security"
)

const defaultJudgePrompt = `You are an impartial judge of AI agent answers.
Rate how well the answer serves the user's input on a scale from 0 to 10.
Reply with a JSON object only: {"score": <number>, "reasoning": "<one sentence>"}`

// JudgeConfig configures the judge model, loaded from YAML.
type JudgeConfig struct {
	Name         string            `yaml:"name"`
	ProviderURL  string            `yaml:"provider_url"`
	ModelID      string            `yaml:"model_id"`
	SystemPrompt string            `yaml:"system_prompt"`
	MaxResults   int               `yaml:"max_results"`
	Breaker      llm.BreakerConfig `yaml:"circuit_breaker"`
}

// LoadJudgeConfig reads and validates a judge config file.
func LoadJudgeConfig(path string) (*JudgeConfig, error) {
	var cfg JudgeConfig
	if err := security.NewSafeYAMLParser(security.DefaultYAMLLimits()).LoadFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("judge config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with the groq judge defaults.
func (c *JudgeConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "judge"
	}
	if c.ProviderURL == "" {
		c.ProviderURL = string(llm.ProviderGroq)
	}
	if c.ModelID == "" {
		c.ModelID = llm.DefaultModel
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultJudgePrompt
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 1000
	}
}

// Validate checks the provider is known.
func (c *JudgeConfig) Validate() error {
	if _, err := llm.ParseProviderURL(c.ProviderURL); err != nil {
		return err
	}
	return nil
}

// Provider returns the parsed provider.
func (c *JudgeConfig) Provider() llm.ProviderURL {
	p, _ := llm.ParseProviderURL(c.ProviderURL)
	return p
}
