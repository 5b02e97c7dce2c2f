package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aixgo-dev/swarm/internal/llm"
	"github.com/aixgo-dev/swarm/internal/logging"
	"github.com/aixgo-dev/swarm/pkg/observability"
)

// Judge is the in-process Service backed by a chat model.
type Judge struct {
	cfg     JudgeConfig
	client  llm.ChatClient
	logger  *slog.Logger
	results []Result
	mu      sync.RWMutex
}

// NewJudge creates a judge using client for completions.
func NewJudge(cfg JudgeConfig, client llm.ChatClient, logger *slog.Logger) *Judge {
	cfg.ApplyDefaults()
	return &Judge{
		cfg:    cfg,
		client: client,
		logger: logging.OrDiscard(logger),
	}
}

type verdict struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

func (j *Judge) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Input:\n%s\n\nAnswer:\n%s\n", req.Input, req.Output)
	if req.Criteria != "" {
		fmt.Fprintf(&prompt, "\nCriteria:\n%s\n", req.Criteria)
	}

	v, err := llm.CompleteStructured(ctx, j.client, prompt.String(), llm.StructuredOptions[verdict]{
		Model:       j.cfg.ModelID,
		System:      j.cfg.SystemPrompt,
		MaxAttempts: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJudgeFailed, err)
	}

	res := Result{
		ID:             uuid.NewString(),
		AgentID:        req.AgentID,
		ConversationID: req.ConversationID,
		Score:          clamp(v.Score, 0, MaxScore),
		Reasoning:      v.Reasoning,
		Judge:          j.cfg.Name,
		CreatedAt:      time.Now().UTC(),
	}

	j.mu.Lock()
	j.results = append(j.results, res)
	if over := len(j.results) - j.cfg.MaxResults; over > 0 {
		j.results = append([]Result(nil), j.results[over:]...)
	}
	j.mu.Unlock()

	observability.RecordEvaluation(req.AgentID, res.Score)
	j.logger.Debug("response evaluated", "agent", req.AgentID, "score", res.Score)
	return &res, nil
}

func (j *Judge) List(ctx context.Context, agentID string) ([]Result, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Result, 0, len(j.results))
	for i := len(j.results) - 1; i >= 0; i-- {
		if agentID == "" || j.results[i].AgentID == agentID {
			out = append(out, j.results[i])
		}
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ Service = (*Judge)(nil)
