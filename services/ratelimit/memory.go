package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is a process-local fixed-window counter
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]Window
}

// NewMemoryCounter creates an empty MemoryCounter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]Window)}
}

// Attempts returns the live window for key
func (c *MemoryCounter) Attempts(_ context.Context, key string, _ time.Duration, now time.Time) (Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, now), nil
}

// Add counts one attempt, opening a new window when the last one expired
func (c *MemoryCounter) Add(_ context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.liveLocked(key, now)
	if w.Count == 0 {
		w.ResetAt = now.Add(window)
	}
	w.Count++
	c.windows[key] = w
	return w, nil
}

// Reset forgets key
func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, key)
	return nil
}

func (c *MemoryCounter) liveLocked(key string, now time.Time) Window {
	w, ok := c.windows[key]
	if !ok {
		return Window{}
	}
	if !now.Before(w.ResetAt) {
		delete(c.windows, key)
		return Window{}
	}
	return w
}
