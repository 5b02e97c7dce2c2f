package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aixgo-dev/swarm/internal/observability"
	metrics "github.com/aixgo-dev/swarm/pkg/observability"
)

// InstrumentedClient traces every completion and records its token usage.
type InstrumentedClient struct {
	inner    ChatClient
	provider string
}

// NewInstrumentedClient wraps inner; provider labels the spans.
func NewInstrumentedClient(inner ChatClient, provider string) *InstrumentedClient {
	return &InstrumentedClient{inner: inner, provider: provider}
}

func (c *InstrumentedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, span := observability.StartSpan(ctx, "llm.completion",
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages_count", len(req.Messages)),
		attribute.Int("llm.tools_count", len(req.Tools)),
	)

	resp, err := c.inner.CreateChatCompletion(ctx, req)
	metrics.RecordLLMRequest(req.Model, err, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if err == nil {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	observability.EndSpan(span, err)
	return resp, err
}
