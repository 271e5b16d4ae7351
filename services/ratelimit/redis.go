package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps fixed-window counters in Redis so every gateway
// replica shares one budget
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounter creates a RedisCounter whose keys start with prefix
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "spa"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) key(key string) string {
	return c.prefix + ":ratelimit:" + key
}

// Attempts reads the counter and its remaining TTL
func (c *RedisCounter) Attempts(ctx context.Context, key string, _ time.Duration, now time.Time) (Window, error) {
	k := c.key(key)

	var get *redis.StringCmd
	var ttl *redis.DurationCmd
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Window{}, fmt.Errorf("redis read %s: %w", k, err)
	}

	count, err := get.Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Window{}, nil
		}
		return Window{}, fmt.Errorf("redis read %s: %w", k, err)
	}
	return Window{Count: count, ResetAt: resetAt(now, ttl.Val())}, nil
}

// Add increments the counter. The key is created with its TTL in the same
// transaction, so the window is fixed from the first failure and a counter
// never outlives it.
func (c *RedisCounter) Add(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	k := c.key(key)

	var created *redis.BoolCmd
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		created = p.SetNX(ctx, k, 0, window)
		incr = p.Incr(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Window{}, fmt.Errorf("redis incr %s: %w", k, err)
	}

	if created.Val() {
		return Window{Count: int(incr.Val()), ResetAt: now.Add(window)}, nil
	}

	remaining := ttl.Val()
	if remaining < 0 {
		// Counters written without an expiry get one
		if err := c.client.PExpire(ctx, k, window).Err(); err != nil {
			return Window{}, fmt.Errorf("redis expire %s: %w", k, err)
		}
		remaining = window
	}
	return Window{Count: int(incr.Val()), ResetAt: resetAt(now, remaining)}, nil
}

// Reset deletes the counter
func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", c.key(key), err)
	}
	return nil
}

// resetAt converts a PTTL reply; negative values mean no expiry or no key
func resetAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
