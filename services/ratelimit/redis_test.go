package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCounter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCounter(client, "test")
}

func TestRedisCounter(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key is an empty window", func(t *testing.T) {
		_, c := newTestRedis(t)

		w, err := c.Attempts(ctx, "login:jdoe", time.Minute, testNow)
		require.NoError(t, err)
		assert.Equal(t, Window{}, w)
	})

	t.Run("first hit sets the window ttl", func(t *testing.T) {
		mr, c := newTestRedis(t)

		w, err := c.Add(ctx, "login:jdoe", time.Minute, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, w.Count)
		assert.Equal(t, testNow.Add(time.Minute), w.ResetAt)

		assert.True(t, mr.Exists("test:ratelimit:login:jdoe"))
		assert.Equal(t, time.Minute, mr.TTL("test:ratelimit:login:jdoe"))
	})

	t.Run("later hits keep the window", func(t *testing.T) {
		mr, c := newTestRedis(t)

		_, err := c.Add(ctx, "login:jdoe", time.Minute, testNow)
		require.NoError(t, err)
		mr.FastForward(20 * time.Second)

		w, err := c.Add(ctx, "login:jdoe", time.Minute, testNow)
		require.NoError(t, err)
		assert.Equal(t, 2, w.Count)
		assert.Equal(t, testNow.Add(40*time.Second), w.ResetAt)

		w, err = c.Attempts(ctx, "login:jdoe", time.Minute, testNow)
		require.NoError(t, err)
		assert.Equal(t, 2, w.Count)
	})

	t.Run("counter without expiry gets the window ttl", func(t *testing.T) {
		mr, c := newTestRedis(t)
		require.NoError(t, mr.Set("test:ratelimit:login:jdoe", "4"))

		w, err := c.Add(ctx, "login:jdoe", time.Minute, testNow)
		require.NoError(t, err)
		assert.Equal(t, 5, w.Count)
		assert.Equal(t, testNow.Add(time.Minute), w.ResetAt)
		assert.Equal(t, time.Minute, mr.TTL("test:ratelimit:login:jdoe"))

		mr.FastForward(time.Minute)
		assert.False(t, mr.Exists("test:ratelimit:login:jdoe"))
	})

	t.Run("expiry and reset", func(t *testing.T) {
		mr, c := newTestRedis(t)

		_, err := c.Add(ctx, "login:a", time.Minute, testNow)
		require.NoError(t, err)
		mr.FastForward(time.Minute)
		w, err := c.Attempts(ctx, "login:a", time.Minute, testNow)
		require.NoError(t, err)
		assert.Zero(t, w.Count)

		_, err = c.Add(ctx, "login:b", time.Minute, testNow)
		require.NoError(t, err)
		require.NoError(t, c.Reset(ctx, "login:b"))
		assert.False(t, mr.Exists("test:ratelimit:login:b"))
	})

	t.Run("unreachable redis", func(t *testing.T) {
		mr, c := newTestRedis(t)
		mr.Close()

		_, err := c.Attempts(ctx, "login:jdoe", time.Minute, testNow)
		assert.Error(t, err)
		_, err = c.Add(ctx, "login:jdoe", time.Minute, testNow)
		assert.Error(t, err)
	})
}
