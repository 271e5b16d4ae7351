package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type failingCounter struct{ err error }

func (f failingCounter) Attempts(context.Context, string, time.Duration, time.Time) (Window, error) {
	return Window{}, f.err
}

func (f failingCounter) Add(context.Context, string, time.Duration, time.Time) (Window, error) {
	return Window{}, f.err
}

func (f failingCounter) Reset(context.Context, string) error { return f.err }

func newTestLimiter(c *clock) *Limiter {
	return NewLimiter(NewMemoryCounter(), Config{MaxAttempts: 3, Window: 10 * time.Minute}, zap.NewNop(), WithClock(c.now))
}

func TestLimiter_LocksOutAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: testNow}
	l := newTestLimiter(c)

	res, err := l.Check(ctx, "jdoe")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Remaining)

	for i := 0; i < 2; i++ {
		res, err = l.RecordFailure(ctx, "jdoe")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	assert.Equal(t, 1, res.Remaining)

	c.advance(time.Minute)
	res, err = l.RecordFailure(ctx, "jdoe")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, testNow.Add(10*time.Minute), res.ResetAt)
	assert.Equal(t, 9*time.Minute, res.RetryAfter)

	res, err = l.Check(ctx, "JDoe ")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "usernames are case-insensitive")

	res, err = l.Check(ctx, "someone-else")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_WindowExpires(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: testNow}
	l := newTestLimiter(c)

	for i := 0; i < 3; i++ {
		_, err := l.RecordFailure(ctx, "jdoe")
		require.NoError(t, err)
	}

	c.advance(10 * time.Minute)
	res, err := l.Check(ctx, "jdoe")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Remaining)
}

func TestLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: testNow}
	l := newTestLimiter(c)

	for i := 0; i < 3; i++ {
		_, err := l.RecordFailure(ctx, "jdoe")
		require.NoError(t, err)
	}
	require.NoError(t, l.Reset(ctx, "jdoe"))

	res, err := l.Check(ctx, "jdoe")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_CounterErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("backend down")
	l := NewLimiter(failingCounter{err: boom}, Config{}, zap.NewNop())

	_, err := l.Check(ctx, "jdoe")
	assert.ErrorIs(t, err, boom)

	_, err = l.RecordFailure(ctx, "jdoe")
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, l.Reset(ctx, "jdoe"), boom)
}

func TestNewLimiter_Defaults(t *testing.T) {
	l := NewLimiter(NewMemoryCounter(), Config{}, zap.NewNop())
	assert.Equal(t, DefaultConfig(), l.cfg)
}
