// Package llm wraps OpenAI-compatible chat completion APIs for agents and the
// evaluation judge.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/swarm/internal/logging"
)

// ErrNoChoices is returned when a completion carries no choices.
var ErrNoChoices = errors.New("no choices in response")

// ChatClient is the subset of the go-openai client the project uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures a chat client.
type Config struct {
	Provider ProviderURL
	APIKey   string
	Timeout  time.Duration
	Breaker  BreakerConfig
	Logger   *slog.Logger
}

// NewChatClient builds a go-openai client for the configured provider,
// instrumented and guarded by a circuit breaker.
func NewChatClient(cfg Config) (ChatClient, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.APIKey == "" && cfg.Provider.RequiresKey() {
		return nil, fmt.Errorf("api key is required for provider %s", cfg.Provider)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.Provider.BaseURL()
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	client := NewInstrumentedClient(openai.NewClientWithConfig(oc), cfg.Provider.String())
	return NewBreakerClient(client, "llm:"+cfg.Provider.String(), cfg.Breaker, logging.OrDiscard(cfg.Logger)), nil
}

// Complete sends a system and user prompt and returns the first choice's content.
func Complete(ctx context.Context, client ChatClient, model, system, user string) (string, error) {
	if model == "" {
		model = DefaultModel
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// ExtractJSON returns the outermost JSON object or array in s, stripping
// markdown code fences models tend to add.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}
