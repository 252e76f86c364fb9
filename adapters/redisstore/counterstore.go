// Package redisstore provides a Redis-backed counter store for
// multi-process deployments. Counter keys embed the window start, so
// window rollover needs no coordination: a new window is simply a new key
// and old keys age out via TTL.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidgate/vidgate/ports"
)

// decrScript rolls back one increment without letting the counter go
// negative or resurrecting an expired key.
var decrScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 and tonumber(redis.call("GET", KEYS[1])) > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// CounterStore implements ports.CounterStore on Redis.
type CounterStore struct {
	client *redis.Client
}

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New creates a Redis counter store and verifies connectivity.
func New(cfg Config) (*CounterStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &CounterStore{client: client}, nil
}

// Close releases the Redis connection.
func (s *CounterStore) Close() error {
	return s.client.Close()
}

// windowKey scopes a counter key to one window instance.
func windowKey(key string, windowStart time.Time) string {
	return key + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}

// Incr atomically bumps the window counter and refreshes its TTL.
// The TTL carries a slack period so a counter is still available for
// rollback right after its window closes.
func (s *CounterStore) Incr(ctx context.Context, key string, windowStart time.Time, period time.Duration) (int, error) {
	wk := windowKey(key, windowStart)

	pipe := s.client.TxPipeline()
	count := pipe.Incr(ctx, wk)
	pipe.Expire(ctx, wk, period+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return int(count.Val()), nil
}

// Decr rolls back one provisional increment for the given window.
func (s *CounterStore) Decr(ctx context.Context, key string, windowStart time.Time) error {
	wk := windowKey(key, windowStart)
	if err := decrScript.Run(ctx, s.client, []string{wk}).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis decr: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
