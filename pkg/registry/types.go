// Package registry defines the records stored in the discovery service:
// static tasks, tool runtime functions and agent capability records.
package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AgentType is the archetype of a launched agent.
type AgentType string

const (
	AgentTypeSpecialist AgentType = "specialist"
	AgentTypePlanner    AgentType = "planner"
	AgentTypeExecutor   AgentType = "executor"
)

// ParseAgentType converts a config string into an AgentType.
func ParseAgentType(s string) (AgentType, error) {
	switch AgentType(strings.ToLower(strings.TrimSpace(s))) {
	case AgentTypeSpecialist:
		return AgentTypeSpecialist, nil
	case AgentTypePlanner:
		return AgentTypePlanner, nil
	case AgentTypeExecutor:
		return AgentTypeExecutor, nil
	}
	return "", fmt.Errorf("unknown agent type: %q", s)
}

// Valid reports whether t is one of the known archetypes.
func (t AgentType) Valid() bool {
	_, err := ParseAgentType(string(t))
	return err == nil
}

// AgentDomain tags the subject area an agent serves. Any non-empty value is
// accepted; the constants cover the domains shipped in the default config.
type AgentDomain string

const (
	AgentDomainGeneral  AgentDomain = "general"
	AgentDomainFinance  AgentDomain = "finance"
	AgentDomainCustomer AgentDomain = "customer"
	AgentDomainWeather  AgentDomain = "weather"
)

// TaskDefinition describes a statically known unit of work.
type TaskDefinition struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description" yaml:"description"`
	InputSchema  json.RawMessage `json:"input_schema" yaml:"-"`
	OutputSchema json.RawMessage `json:"output_schema" yaml:"-"`
}

// ToolDefinition has the same shape as a task but is mirrored from a tool
// runtime at startup.
type ToolDefinition struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema"`
}

// AgentDefinition is the capability record an agent registers for itself
// once it accepts invocations.
type AgentDefinition struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	URL          string      `json:"url"`
	Domain       AgentDomain `json:"domain"`
	Type         AgentType   `json:"type"`
	Skills       []string    `json:"skills,omitempty"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// Normalize fills empty schemas with the empty schema object.
func (d *TaskDefinition) Normalize() {
	d.InputSchema = NormalizeSchema(d.InputSchema)
	d.OutputSchema = NormalizeSchema(d.OutputSchema)
}

// Validate checks identity fields and that both schemas are valid JSON Schema documents.
func (d TaskDefinition) Validate() error {
	if err := requireIdentity("task", d.ID, d.Name); err != nil {
		return err
	}
	if err := ValidateSchema(d.InputSchema); err != nil {
		return fmt.Errorf("%w: task %s input schema: %v", ErrInvalidDefinition, d.ID, err)
	}
	if err := ValidateSchema(d.OutputSchema); err != nil {
		return fmt.Errorf("%w: task %s output schema: %v", ErrInvalidDefinition, d.ID, err)
	}
	return nil
}

// Normalize fills empty schemas with the empty schema object.
func (d *ToolDefinition) Normalize() {
	d.InputSchema = NormalizeSchema(d.InputSchema)
	d.OutputSchema = NormalizeSchema(d.OutputSchema)
}

// Validate checks identity fields and that both schemas are valid JSON Schema documents.
func (d ToolDefinition) Validate() error {
	if err := requireIdentity("tool", d.ID, d.Name); err != nil {
		return err
	}
	if err := ValidateSchema(d.InputSchema); err != nil {
		return fmt.Errorf("%w: tool %s input schema: %v", ErrInvalidDefinition, d.ID, err)
	}
	if err := ValidateSchema(d.OutputSchema); err != nil {
		return fmt.Errorf("%w: tool %s output schema: %v", ErrInvalidDefinition, d.ID, err)
	}
	return nil
}

// Validate checks the fields peers need to resolve and reach the agent.
func (d AgentDefinition) Validate() error {
	if err := requireIdentity("agent", d.ID, d.Name); err != nil {
		return err
	}
	if d.URL == "" {
		return fmt.Errorf("%w: agent %s: url is required", ErrInvalidDefinition, d.ID)
	}
	if d.Domain == "" {
		return fmt.Errorf("%w: agent %s: domain is required", ErrInvalidDefinition, d.ID)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: agent %s: unknown type %q", ErrInvalidDefinition, d.ID, d.Type)
	}
	return nil
}

func requireIdentity(kind, id, name string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", ErrInvalidDefinition, kind)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s %s: name is required", ErrInvalidDefinition, kind, id)
	}
	return nil
}
