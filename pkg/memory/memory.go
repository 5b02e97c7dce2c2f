// Package memory stores conversation history for agents. It is best-effort:
// capacity eviction drops the oldest records and no write is replicated.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnreachable is returned when the memory service cannot be reached.
	ErrUnreachable = errors.New("memory service unreachable")

	// ErrInvalidRecord is returned for records missing a conversation or content.
	ErrInvalidRecord = errors.New("invalid memory record")
)

// Record is one stored turn of a conversation.
type Record struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	AgentID        string            `json:"agent_id,omitempty"`
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Prepare assigns an ID and timestamp when missing and validates the record.
func (r *Record) Prepare(now time.Time) error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidRecord)
	}
	if r.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidRecord)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Role == "" {
		r.Role = "user"
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	return nil
}

// Service is the memory contract agents consume.
type Service interface {
	// Commit appends a record and returns it with ID and timestamp filled in.
	Commit(ctx context.Context, rec Record) (Record, error)
	// History returns up to limit most recent records of a conversation, oldest first.
	History(ctx context.Context, conversationID string, limit int) ([]Record, error)
	// Search ranks stored records by term overlap with query.
	Search(ctx context.Context, query string, limit int) ([]Record, error)
}

// Config holds configuration for the in-memory store.
type Config struct {
	MaxRecords int // Maximum number of records to retain across conversations
}

// MemoryStore keeps records in process memory, evicting the oldest when full.
type MemoryStore struct {
	config  Config
	records []Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(cfg Config) *MemoryStore {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 10000
	}
	return &MemoryStore{
		config:  cfg,
		records: make([]Record, 0, 64),
	}
}

func (s *MemoryStore) Commit(ctx context.Context, rec Record) (Record, error) {
	if err := rec.Prepare(time.Now()); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)

	// Evict oldest if over capacity
	if over := len(s.records) - s.config.MaxRecords; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return rec, nil
}

func (s *MemoryStore) History(ctx context.Context, conversationID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.ConversationID == conversationID {
			out = append(out, r)
		}
	}
	return tail(out, limit), nil
}

func (s *MemoryStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	s.mu.RLock()
	snapshot := append([]Record(nil), s.records...)
	s.mu.RUnlock()

	return rank(snapshot, query, limit), nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func tail(records []Record, limit int) []Record {
	if limit > 0 && len(records) > limit {
		return records[len(records)-limit:]
	}
	return records
}

// rank scores records by the fraction of query terms they contain; newer
// records win ties.
func rank(records []Record, query string, limit int) []Record {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		rec   Record
		score float64
	}
	var hits []scored
	for _, r := range records {
		content := strings.ToLower(r.Content)
		matched := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				matched++
			}
		}
		if matched > 0 {
			hits = append(hits, scored{r, float64(matched) / float64(len(terms))})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.CreatedAt.After(hits[j].rec.CreatedAt)
	})

	if limit <= 0 || limit > len(hits) {
		limit = len(hits)
	}
	out := make([]Record, limit)
	for i := 0; i < limit; i++ {
		out[i] = hits[i].rec
	}
	return out
}

var _ Service = (*MemoryStore)(nil)
