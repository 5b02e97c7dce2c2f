package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// ErrInvalidStructured is returned when no attempt produced a usable value.
var ErrInvalidStructured = errors.New("model returned no valid structured response")

// StructuredOptions configures CompleteStructured.
type StructuredOptions[T any] struct {
	Model  string
	System string
	// MaxAttempts defaults to 3
	MaxAttempts int
	// Validate runs after decoding; its error is fed back to the model
	Validate func(*T) error
}

// CompleteStructured asks for a JSON reply decoded into T. A reply that
// does not decode or validate is sent back with the error so the model can
// correct it. Client errors are returned at once.
func CompleteStructured[T any](ctx context.Context, client ChatClient, prompt string, opts StructuredOptions[T]) (*T, error) {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2+2*opts.MaxAttempts)
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    opts.Model,
			Messages: messages,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			lastErr = ErrNoChoices
			continue
		}

		content := resp.Choices[0].Message.Content
		var out T
		if err := json.Unmarshal([]byte(ExtractJSON(content)), &out); err != nil {
			lastErr = fmt.Errorf("decode: %w", err)
		} else if opts.Validate != nil {
			lastErr = opts.Validate(&out)
		} else {
			lastErr = nil
		}
		if lastErr == nil {
			return &out, nil
		}

		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: feedback(lastErr)},
		)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrInvalidStructured, opts.MaxAttempts, lastErr)
}

func feedback(err error) string {
	return fmt.Sprintf("Your previous response was not usable:\n\n%s\n\nReply again with a corrected JSON object only.", err)
}
