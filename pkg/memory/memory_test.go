package memory

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CommitAssignsIdentity(t *testing.T) {
	s := NewMemoryStore(Config{})

	rec, err := s.Commit(context.Background(), Record{ConversationID: "c1", Content: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "user", rec.Role)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestMemoryStore_CommitRejectsInvalid(t *testing.T) {
	s := NewMemoryStore(Config{})

	tests := []struct {
		name string
		rec  Record
	}{
		{"missing conversation", Record{Content: "x"}},
		{"missing content", Record{ConversationID: "c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Commit(context.Background(), tt.rec)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{MaxRecords: 3})

	for i := 0; i < 5; i++ {
		_, err := s.Commit(ctx, Record{ConversationID: "c1", Content: fmt.Sprintf("turn %d", i)})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, s.Count())
	history, err := s.History(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "turn 2", history[0].Content)
	assert.Equal(t, "turn 4", history[2].Content)
}

func TestMemoryStore_HistoryLimitAndIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{})

	for i := 0; i < 4; i++ {
		_, _ = s.Commit(ctx, Record{ConversationID: "a", Content: fmt.Sprintf("a%d", i)})
		_, _ = s.Commit(ctx, Record{ConversationID: "b", Content: fmt.Sprintf("b%d", i)})
	}

	history, err := s.History(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a2", history[0].Content)
	assert.Equal(t, "a3", history[1].Content)
}

func TestMemoryStore_SearchRanksByOverlap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{})

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _ = s.Commit(ctx, Record{ConversationID: "c", Content: "weather in Paris", CreatedAt: base})
	_, _ = s.Commit(ctx, Record{ConversationID: "c", Content: "Paris stock prices", CreatedAt: base.Add(time.Minute)})
	_, _ = s.Commit(ctx, Record{ConversationID: "c", Content: "unrelated", CreatedAt: base.Add(2 * time.Minute)})

	got, err := s.Search(ctx, "paris weather", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "weather in Paris", got[0].Content)

	got, err = s.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_CommitAndHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "test:", 0, 3)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Commit(ctx, Record{ConversationID: "c1", Content: fmt.Sprintf("turn %d", i)})
		require.NoError(t, err)
	}

	history, err := s.History(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "turn 2", history[0].Content)

	history, err = s.History(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "turn 4", history[0].Content)

	found, err := s.Search(ctx, "turn 3", 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "turn 3", found[0].Content)
}

func TestClient_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewMemoryStore(Config{})).Handler())
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	stored, err := c.Commit(ctx, Record{ConversationID: "conv-1", AgentID: "specialist", Content: "hello there"})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)

	history, err := c.History(ctx, "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, stored.ID, history[0].ID)

	empty, err := c.History(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = c.Commit(ctx, Record{Content: "orphan"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr).History(context.Background(), "c", 1)
	assert.ErrorIs(t, err, ErrUnreachable)
}
