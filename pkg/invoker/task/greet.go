package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aixgo-dev/swarm/pkg/registry"
)

// GreetingDefinition is the built-in greeting task.
func GreetingDefinition() registry.TaskDefinition {
	return registry.TaskDefinition{
		ID:           "greeting",
		Name:         "Say Hello",
		Description:  "Say hello to somebody",
		InputSchema:  registry.EmptySchema,
		OutputSchema: registry.EmptySchema,
	}
}

// Greet answers {"message": "Hello, <name>!"}; name defaults to "world".
func Greet(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Name string `json:"name"`
	}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("decode greeting args: %w", err)
		}
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "world"
	}
	return json.Marshal(map[string]string{"message": "Hello, " + name + "!"})
}

// NewGreetTask returns an invoker with the greeting task registered.
func NewGreetTask() *StaticInvoker {
	s := NewStaticInvoker()
	// the built-in definition is always valid
	_ = s.Register(GreetingDefinition(), Greet)
	return s
}
