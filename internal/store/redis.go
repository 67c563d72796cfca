package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a CounterStore backed by a shared Redis instance, giving
// rate-limit windows that are consistent across processes.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter connects to Redis using the given URL
// (redis://host:port/db).
func NewRedisCounter(url string) (*RedisCounter, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCounter{client: redis.NewClient(opt)}, nil
}

// NewRedisCounterFromClient wraps an existing client.
func NewRedisCounterFromClient(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// IncrementWithExpiry increments key and sets its TTL if it has none.
// INCR is atomic on the server; EXPIRE NX makes the TTL set-once so a
// window never slides.
func (r *RedisCounter) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Ping verifies the connection.
func (r *RedisCounter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *RedisCounter) Close() error {
	return r.client.Close()
}
