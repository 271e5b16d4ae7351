package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/repositories"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when events are logged before Start
	ErrNotStarted = errors.New("audit service not started")

	// ErrStopped is returned when events are logged after Stop
	ErrStopped = errors.New("audit service stopped")

	// ErrBufferFull is returned by LogEvent when the queue is saturated
	ErrBufferFull = errors.New("audit event buffer full")
)

// Service records session transitions asynchronously
type Service struct {
	repo        repositories.AuthEventRepository
	logger      *zap.Logger
	eventChan   chan *models.AuthEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	// mu guards started/stopped; senders hold it shared so Stop
	// never closes eventChan under a pending send
	mu      sync.RWMutex
	started bool
	stopped bool

	dropped atomic.Int64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewService creates a new audit Service
func NewService(repo repositories.AuthEventRepository, logger *zap.Logger, config Config) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.AuthEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}
	if s.stopped {
		return ErrStopped
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop drains queued events and waits for the workers, up to timeout
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.RLock()
	if !s.started || s.stopped {
		s.mu.RUnlock()
		return ErrNotStarted
	}
	s.mu.RUnlock()

	// Wake blocked LogEventBlocking callers before taking the write lock
	s.cancel()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	pending := len(s.eventChan)
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event without blocking. A full buffer drops the event.
func (s *Service) LogEvent(event *models.AuthEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.acceptingLocked(); err != nil {
		return err
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("kind", string(event.Kind)),
			zap.String("scope", event.Scope))
		return ErrBufferFull
	}
}

// LogEventBlocking waits until the event is queued, ctx ends, or the service stops
func (s *Service) LogEventBlocking(ctx context.Context, event *models.AuthEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.acceptingLocked(); err != nil {
		return err
	}

	select {
	case s.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// Record implements session.EventRecorder. Failures are logged, never returned.
func (s *Service) Record(event *models.AuthEvent) {
	if err := s.LogEvent(event); err != nil && !errors.Is(err, ErrBufferFull) {
		s.logger.Debug("audit event not recorded",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// Recent returns the latest recorded events of a scope, newest first
func (s *Service) Recent(ctx context.Context, scope string, limit int) ([]*models.AuthEvent, error) {
	events, err := s.repo.ListByScope(ctx, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth events: %w", err)
	}
	return events, nil
}

func (s *Service) acceptingLocked() error {
	if s.stopped {
		return ErrStopped
	}
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// worker processes events from the channel
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("kind", string(event.Kind)),
				zap.String("scope", event.Scope))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *Service) processEvent(event *models.AuthEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}

	if event.Failed() {
		s.logger.Info("auth failure recorded",
			zap.String("kind", string(event.Kind)),
			zap.String("scope", event.Scope),
			zap.String("request_id", event.RequestID))
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Dropped:       s.dropped.Load(),
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Dropped       int64
	Started       bool
}
