package llm

import (
	"context"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// MockChatClient replays queued responses and records every request.
type MockChatClient struct {
	responses []openai.ChatCompletionResponse
	errors    []error
	calls     []openai.ChatCompletionRequest
	callIndex int
	mu        sync.Mutex
}

// NewMockChatClient creates an empty mock.
func NewMockChatClient() *MockChatClient {
	return &MockChatClient{}
}

func (m *MockChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if m.callIndex >= len(m.responses) {
		// Return empty response if no more responses configured
		return openai.ChatCompletionResponse{}, nil
	}

	resp := m.responses[m.callIndex]
	err := m.errors[m.callIndex]
	m.callIndex++
	return resp, err
}

// AddResponse queues a response and error pair.
func (m *MockChatClient) AddResponse(resp openai.ChatCompletionResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = append(m.responses, resp)
	m.errors = append(m.errors, err)
}

// AddText queues a plain assistant reply.
func (m *MockChatClient) AddText(content string) {
	m.AddResponse(TextResponse(content), nil)
}

// GetCalls returns all recorded requests.
func (m *MockChatClient) GetCalls() []openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]openai.ChatCompletionRequest, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// TextResponse builds a single-choice assistant response.
func TextResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
		}},
	}
}

// ToolCallResponse builds a response requesting one tool call.
func ToolCallResponse(id, name, arguments string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   id,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      name,
						Arguments: arguments,
					},
				}},
			},
		}},
	}
}
