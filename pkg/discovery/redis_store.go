package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record kind in a Redis hash keyed by record ID, so
// several discovery servers can share one registry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
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

	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client. Useful with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "swarm:discovery:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(kind Kind) string {
	return s.prefix + string(kind)
}

func (s *RedisStore) Put(ctx context.Context, kind Kind, id string, value []byte) (bool, error) {
	// HSET returns the number of fields added; 0 means an existing field was overwritten
	added, err := s.client.HSet(ctx, s.key(kind), id, value).Result()
	if err != nil {
		return false, fmt.Errorf("redis hset %s/%s: %w", kind, id, err)
	}
	return added == 0, nil
}

func (s *RedisStore) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	v, err := s.client.HGet(ctx, s.key(kind), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget %s/%s: %w", kind, id, err)
	}
	return v, nil
}

func (s *RedisStore) List(ctx context.Context, kind Kind) ([][]byte, error) {
	all, err := s.client.HGetAll(ctx, s.key(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", kind, err)
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, []byte(all[id]))
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
