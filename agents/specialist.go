package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/swarm/internal/agent"
	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/pkg/evaluation"
	"github.com/aixgo-dev/swarm/pkg/invoker"
	"github.com/aixgo-dev/swarm/pkg/memory"
)

const (
	historyLimit       = 10
	evaluationTimeout  = 30 * time.Second
	specialistTemplate = `You are %s, a %s specialist agent. %s
Answer the user's question directly and concisely.`
)

// SpecialistAnswer is the payload a Specialist replies with.
type SpecialistAnswer struct {
	Answer    string   `json:"answer"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// Specialist answers domain questions with its model, optionally calling
// tool runtime functions for one round.
type Specialist struct {
	*BaseAgent
	evals sync.WaitGroup
}

// NewSpecialist builds a Specialist. deps.LLM is required.
func NewSpecialist(cfg agent.FactoryAgentConfig, deps agent.Deps) (agent.Agent, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("specialist %s: llm client is required", cfg.ID)
	}
	s := &Specialist{BaseAgent: NewBaseAgent(cfg, deps)}
	s.Bind(s.execute)
	return s, nil
}

func (s *Specialist) execute(ctx context.Context, input *agent.Message) (*agent.Message, error) {
	question, err := inputText(input.Payload)
	if err != nil {
		return nil, err
	}
	cfg := s.Config()
	deps := s.Deps()

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(specialistTemplate, cfg.Name, cfg.Domain, cfg.Description),
	}}
	messages = append(messages, s.history(ctx, input.ConversationID)...)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question})

	tools := s.tools(ctx)
	req := openai.ChatCompletionRequest{Model: cfg.ModelID, Messages: messages, Tools: tools}

	resp, err := deps.LLM.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.ErrNoChoices
	}

	reply := resp.Choices[0].Message
	var used []string
	if len(reply.ToolCalls) > 0 && deps.ToolRuntime != nil {
		req.Messages = append(req.Messages, reply)
		for _, call := range reply.ToolCalls {
			used = append(used, call.Function.Name)
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    s.callTool(ctx, call),
			})
		}
		req.Tools = nil
		resp, err = deps.LLM.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("completion after tools: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, llm.ErrNoChoices
		}
		reply = resp.Choices[0].Message
	}

	answer := strings.TrimSpace(reply.Content)
	s.remember(ctx, input.ConversationID, question, answer)
	s.evaluate(ctx, input.ConversationID, question, answer)

	payload, err := json.Marshal(SpecialistAnswer{Answer: answer, ToolsUsed: used})
	if err != nil {
		return nil, err
	}
	return input.Reply(payload), nil
}

// tools lists the tool runtime's functions as model tools. A failing
// runtime leaves the specialist answering without tools.
func (s *Specialist) tools(ctx context.Context) []openai.Tool {
	rt := s.Deps().ToolRuntime
	if rt == nil {
		return nil
	}
	descs, err := rt.ListTools(ctx)
	if err != nil {
		s.Logger().Warn("tool runtime unavailable, answering without tools", "error", err)
		return nil
	}
	out := make([]openai.Tool, 0, len(descs))
	for _, d := range descs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Definition().InputSchema,
			},
		})
	}
	return out
}

func (s *Specialist) callTool(ctx context.Context, call openai.ToolCall) string {
	args := json.RawMessage(call.Function.Arguments)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	out, err := s.Deps().ToolRuntime.Invoke(ctx, call.Function.Name, args)
	if err != nil {
		s.Logger().Warn("tool call failed", "tool", call.Function.Name, "kind", invoker.KindOf(err), "error", err)
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(out)
}

func (s *Specialist) history(ctx context.Context, conversationID string) []openai.ChatCompletionMessage {
	mem := s.Deps().Memory
	if mem == nil || conversationID == "" {
		return nil
	}
	records, err := mem.History(ctx, conversationID, historyLimit)
	if err != nil {
		s.Logger().Warn("memory history unavailable", "error", err)
		return nil
	}
	out := make([]openai.ChatCompletionMessage, 0, len(records))
	for _, r := range records {
		role := openai.ChatMessageRoleUser
		if r.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: r.Content})
	}
	return out
}

func (s *Specialist) remember(ctx context.Context, conversationID, question, answer string) {
	mem := s.Deps().Memory
	if mem == nil || conversationID == "" {
		return
	}
	for _, rec := range []memory.Record{
		{ConversationID: conversationID, AgentID: s.Name(), Role: openai.ChatMessageRoleUser, Content: question},
		{ConversationID: conversationID, AgentID: s.Name(), Role: openai.ChatMessageRoleAssistant, Content: answer},
	} {
		if rec.Content == "" {
			continue
		}
		if _, err := mem.Commit(ctx, rec); err != nil {
			s.Logger().Warn("memory commit failed", "error", err)
			return
		}
	}
}

// evaluate submits the answer to the judge in the background. Scores are
// best-effort and never delay or fail the reply.
func (s *Specialist) evaluate(ctx context.Context, conversationID, question, answer string) {
	eval := s.Deps().Evaluation
	if eval == nil || answer == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), evaluationTimeout)

	s.evals.Add(1)
	go func() {
		defer s.evals.Done()
		defer cancel()

		res, err := eval.Evaluate(ctx, evaluation.Request{
			AgentID:        s.Name(),
			ConversationID: conversationID,
			Input:          question,
			Output:         answer,
		})
		if err != nil {
			s.Logger().Warn("evaluation failed", "error", err)
			return
		}
		s.Logger().Debug("answer evaluated", "score", res.Score)
	}()
}

// Stop stops serving and waits for pending evaluations until ctx ends.
func (s *Specialist) Stop(ctx context.Context) error {
	err := s.BaseAgent.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.evals.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Logger().Warn("stopped with evaluations still pending")
	}
	return err
}
