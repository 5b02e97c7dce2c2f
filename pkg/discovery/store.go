package discovery

import (
	"context"
	"sort"
	"sync"
)

// Kind names a record collection in a Store.
type Kind string

const (
	KindTask  Kind = "tasks"
	KindTool  Kind = "tools"
	KindAgent Kind = "agents"
)

// Store persists encoded records. Put must serialize concurrent writers;
// it reports whether an existing record was replaced.
type Store interface {
	Put(ctx context.Context, kind Kind, id string, value []byte) (replaced bool, err error)
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	List(ctx context.Context, kind Kind) ([][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	data map[Kind]map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[Kind]map[string][]byte),
	}
}

func (s *MemoryStore) Put(ctx context.Context, kind Kind, id string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[kind]
	if !ok {
		bucket = make(map[string][]byte)
		s.data[kind] = bucket
	}
	_, replaced := bucket[id]
	bucket[id] = append([]byte(nil), value...)
	return replaced, nil
}

func (s *MemoryStore) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) List(ctx context.Context, kind Kind) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data[kind]))
	for id := range s.data[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, append([]byte(nil), s.data[kind][id]...))
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
