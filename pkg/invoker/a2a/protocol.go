// Package a2a carries agent-to-agent calls: the wire protocol every agent
// endpoint serves, an HTTP client with per-peer circuit breakers, and the
// AgentInvoker that resolves peers through discovery.
package a2a

import (
	"context"
	"encoding/json"

	"github.com/aixgo-dev/swarm/pkg/registry"
)

// Endpoint paths served by every agent.
const (
	InvokePath = "/v1/invoke"
	CardPath   = "/.well-known/agent.json"
)

// InvokeRequest is the body of POST /v1/invoke.
type InvokeRequest struct {
	Input          json.RawMessage `json:"input"`
	ConversationID string          `json:"conversation_id,omitempty"`
}

// InvokeResponse is the body answered by /v1/invoke. Error is set when the
// agent accepted the request but could not fulfil it.
type InvokeResponse struct {
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// AgentCard describes an agent at /.well-known/agent.json.
type AgentCard struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	URL         string               `json:"url"`
	Type        registry.AgentType   `json:"type"`
	Domain      registry.AgentDomain `json:"domain"`
	Skills      []string             `json:"skills,omitempty"`
}

type conversationKey struct{}

// WithConversation tags ctx with a conversation ID carried on outgoing calls.
func WithConversation(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationFrom returns the conversation ID carried by ctx, if any.
func ConversationFrom(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}
