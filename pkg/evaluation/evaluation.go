// Package evaluation scores agent responses with an LLM judge. Submissions
// are best-effort: agents never fail a request because evaluation did.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnreachable is returned when the evaluation service cannot be reached.
	ErrUnreachable = errors.New("evaluation service unreachable")

	// ErrInvalidRequest is returned for requests without an agent or output.
	ErrInvalidRequest = errors.New("invalid evaluation request")

	// ErrJudgeFailed is returned when the judge model gives no usable verdict.
	ErrJudgeFailed = errors.New("judge failed")
)

// MaxScore is the top of the judge's scale.
const MaxScore = 10.0

// Request asks the judge to score one agent response.
type Request struct {
	AgentID        string `json:"agent_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Input          string `json:"input"`
	Output         string `json:"output"`
	Criteria       string `json:"criteria,omitempty"`
}

// Validate checks the fields the judge needs.
func (r Request) Validate() error {
	if strings.TrimSpace(r.AgentID) == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Output) == "" {
		return fmt.Errorf("%w: output is required", ErrInvalidRequest)
	}
	return nil
}

// Result is a stored verdict.
type Result struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Score          float64   `json:"score"`
	Reasoning      string    `json:"reasoning"`
	Judge          string    `json:"judge"`
	CreatedAt      time.Time `json:"created_at"`
}

// Service is the evaluation contract agents consume.
type Service interface {
	Evaluate(ctx context.Context, req Request) (*Result, error)
	// List returns stored results, newest first; an empty agentID lists all.
	List(ctx context.Context, agentID string) ([]Result, error)
}
