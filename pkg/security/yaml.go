// Package security holds the hardening helpers shared by the configuration
// loaders and the HTTP services.
package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLLimits bounds the size and shape of configuration documents.
type YAMLLimits struct {
	MaxFileSize int64 // bytes
	MaxDepth    int
	MaxNodes    int
	MaxScalar   int // bytes per scalar value
}

// DefaultYAMLLimits returns the limits used by the config loaders.
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxFileSize: 1 << 20,
		MaxDepth:    16,
		MaxNodes:    5000,
		MaxScalar:   64 << 10,
	}
}

// SafeYAMLParser decodes YAML after checking it against YAMLLimits. Unknown
// keys are rejected so typos in config files surface at startup.
type SafeYAMLParser struct {
	limits YAMLLimits
}

// NewSafeYAMLParser creates a parser with the given limits.
func NewSafeYAMLParser(limits YAMLLimits) *SafeYAMLParser {
	return &SafeYAMLParser{limits: limits}
}

// Unmarshal validates data and decodes it into v.
func (p *SafeYAMLParser) Unmarshal(data []byte, v any) error {
	if int64(len(data)) > p.limits.MaxFileSize {
		return fmt.Errorf("yaml document is %d bytes, limit is %d", len(data), p.limits.MaxFileSize)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("yaml parse error: %w", err)
	}

	nodes := 0
	if err := p.walk(&root, 0, &nodes); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("yaml decode error: %w", err)
	}
	return nil
}

// LoadFile reads path and decodes it into v.
func (p *SafeYAMLParser) LoadFile(path string, v any) error {
	f, err := os.Open(path) // #nosec G304 - path comes from a CLI flag
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, p.limits.MaxFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := p.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (p *SafeYAMLParser) walk(node *yaml.Node, depth int, count *int) error {
	if depth > p.limits.MaxDepth {
		return fmt.Errorf("yaml nesting depth exceeds %d", p.limits.MaxDepth)
	}
	*count++
	if *count > p.limits.MaxNodes {
		return fmt.Errorf("yaml node count exceeds %d", p.limits.MaxNodes)
	}

	switch node.Kind {
	case yaml.ScalarNode:
		if len(node.Value) > p.limits.MaxScalar {
			return fmt.Errorf("yaml value at line %d exceeds %d bytes", node.Line, p.limits.MaxScalar)
		}
	case yaml.AliasNode:
		// aliases are expanded by the decoder; refuse them to keep expansion bounded
		return fmt.Errorf("yaml aliases are not allowed (line %d)", node.Line)
	}

	next := depth + 1
	if node.Kind == yaml.DocumentNode {
		next = depth
	}
	for _, child := range node.Content {
		if err := p.walk(child, next, count); err != nil {
			return err
		}
	}
	return nil
}
