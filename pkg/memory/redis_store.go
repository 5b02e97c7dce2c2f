package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one list per conversation plus a capped global list used
// for search.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	maxRecords int64
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	Prefix     string        `yaml:"prefix"`
	TTL        time.Duration `yaml:"ttl"`
	MaxRecords int           `yaml:"max_records"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL, cfg.MaxRecords), nil
}

// NewRedisStoreFromClient wraps an existing client. Useful with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration, maxRecords int) *RedisStore {
	if prefix == "" {
		prefix = "swarm:memory:"
	}
	if maxRecords <= 0 {
		maxRecords = 10000
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		ttl:        ttl,
		maxRecords: int64(maxRecords),
	}
}

func (s *RedisStore) conversationKey(id string) string {
	return s.prefix + "conversation:" + id
}

func (s *RedisStore) allKey() string {
	return s.prefix + "all"
}

func (s *RedisStore) Commit(ctx context.Context, rec Record) (Record, error) {
	if err := rec.Prepare(time.Now()); err != nil {
		return Record{}, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}

	key := s.conversationKey(rec.ConversationID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.maxRecords, -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.RPush(ctx, s.allKey(), data)
	pipe.LTrim(ctx, s.allKey(), -s.maxRecords, -1)

	if _, err := pipe.Exec(ctx); err != nil {
		return Record{}, fmt.Errorf("commit record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) History(ctx context.Context, conversationID string, limit int) ([]Record, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, s.conversationKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return decodeRecords(raw)
}

func (s *RedisStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	raw, err := s.client.LRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, err
	}
	return rank(records, query, limit), nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRecords(raw []string) ([]Record, error) {
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Service = (*RedisStore)(nil)
