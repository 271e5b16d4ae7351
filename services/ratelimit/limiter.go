package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Window is the state of one key's attempt counter
type Window struct {
	Count   int
	ResetAt time.Time // Zero when the key has no attempts
}

// Counter stores failed attempts per key
type Counter interface {
	Attempts(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error)
	Add(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error)
	Reset(ctx context.Context, key string) error
}

// Config bounds failed logins per username
type Config struct {
	MaxAttempts int           // Failed logins allowed inside Window
	Window      time.Duration // Lockout window
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
	}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter throttles interactive logins after repeated failures
type Limiter struct {
	counter Counter
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a login Limiter over counter
func NewLimiter(counter Counter, cfg Config, logger *zap.Logger, opts ...Option) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	l := &Limiter{
		counter: counter,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check reports whether username may attempt another login
func (l *Limiter) Check(ctx context.Context, username string) (Result, error) {
	now := l.now()
	w, err := l.counter.Attempts(ctx, loginKey(username), l.cfg.Window, now)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read login attempts: %w", err)
	}
	return l.result(w, now), nil
}

// RecordFailure counts a failed login and returns the updated budget
func (l *Limiter) RecordFailure(ctx context.Context, username string) (Result, error) {
	now := l.now()
	w, err := l.counter.Add(ctx, loginKey(username), l.cfg.Window, now)
	if err != nil {
		return Result{}, fmt.Errorf("failed to record login attempt: %w", err)
	}

	res := l.result(w, now)
	if !res.Allowed {
		l.logger.Warn("login locked out",
			zap.String("username", username),
			zap.Int("attempts", w.Count),
			zap.Time("reset_at", res.ResetAt))
	}
	return res, nil
}

// Reset clears the failure count after a successful login
func (l *Limiter) Reset(ctx context.Context, username string) error {
	if err := l.counter.Reset(ctx, loginKey(username)); err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

func (l *Limiter) result(w Window, now time.Time) Result {
	res := Result{
		Allowed:   w.Count < l.cfg.MaxAttempts,
		Remaining: max(l.cfg.MaxAttempts-w.Count, 0),
		ResetAt:   w.ResetAt,
	}
	if !res.Allowed && w.ResetAt.After(now) {
		res.RetryAfter = w.ResetAt.Sub(now)
	}
	return res
}

// loginKey normalizes usernames so case variants share a budget
func loginKey(username string) string {
	return "login:" + strings.ToLower(strings.TrimSpace(username))
}
