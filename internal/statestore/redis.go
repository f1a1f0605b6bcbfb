package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps state in Redis. Values are stored as JSON strings and
// keys are prefixed so the bridge does not collide with other applications
// sharing the instance. Socket timeouts are short on purpose: a slow Redis
// must not stall a poll cycle.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store from a redis:// URL.
func NewRedisStore(redisURL, prefix string, timeout time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout

	return &RedisStore{
		client: redis.NewClient(opts),
		prefix: prefix,
	}, nil
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

// Backend returns "redis".
func (s *RedisStore) Backend() string {
	return "redis"
}

// Ping checks Redis reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetJSON reads and unmarshals the value stored under name.
func (s *RedisStore) GetJSON(ctx context.Context, name string, out interface{}) (bool, error) {
	raw, err := s.client.Get(ctx, s.key(name)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("redis get %s: decode: %w", name, err)
	}
	return true, nil
}

// SetJSON marshals and stores the value under name.
func (s *RedisStore) SetJSON(ctx context.Context, name string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis set %s: encode: %w", name, err)
	}
	if err := s.client.Set(ctx, s.key(name), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", name, err)
	}
	return nil
}
