// Package session owns the persisted bearer credential of each storage scope
// and derives the authenticated status the navigation guard acts on.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/repositories"
	"github.com/upb/spa-auth/tokens"
	"go.uber.org/zap"
)

var (
	// ErrManagerClosed is returned by Open after Close
	ErrManagerClosed = errors.New("session manager closed")

	// ErrEmptyScope is returned when a store is requested without a scope
	ErrEmptyScope = errors.New("session scope is required")
)

// AuthAPI is the remote authentication service the stores call
type AuthAPI interface {
	Register(ctx context.Context, req *models.RegisterRequest) error
	Login(ctx context.Context, req *models.LoginRequest) (string, error)
	Refresh(ctx context.Context, token string) (string, error)
	Kerberos(ctx context.Context) (string, error)
}

// EventRecorder receives session transitions, typically the audit service
type EventRecorder interface {
	Record(event *models.AuthEvent)
}

// Option configures a Manager
type Option func(*Manager)

// WithRecorder sends every transition to r
func WithRecorder(r EventRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithClock replaces time.Now for expiry checks
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRolePrefix overrides the authority prefix used by HasRole
func WithRolePrefix(prefix string) Option {
	return func(m *Manager) {
		m.rolePrefix = prefix
	}
}

// WithIdleTimeout lets Sweep drop stores unused for d that have no subscribers
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.idleTimeout = d
	}
}

// WithMaxStores caps the stores held in memory. Opening a new scope at the
// cap evicts the least recently used store without subscribers.
func WithMaxStores(n int) Option {
	return func(m *Manager) {
		m.maxStores = n
	}
}

// Manager hands out one Store per storage scope. It replaces the
// app-wide singleton: whoever needs a session gets it from an explicitly
// constructed Manager.
type Manager struct {
	repo       repositories.CredentialRepository
	api        AuthAPI
	decoder    tokens.Decoder
	recorder   EventRecorder
	rolePrefix string
	now        func() time.Time
	logger     *zap.Logger

	idleTimeout time.Duration
	maxStores   int

	mu     sync.Mutex
	stores map[string]*Store
	closed bool
}

// NewManager creates a Manager over the given collaborators
func NewManager(repo repositories.CredentialRepository, api AuthAPI, decoder tokens.Decoder, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:       repo,
		api:        api,
		decoder:    decoder,
		rolePrefix: tokens.DefaultRolePrefix,
		now:        time.Now,
		logger:     logger,
		stores:     make(map[string]*Store),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns the scope's store, creating it on first use.
// A new store starts its status stream from the persisted credential, so an
// evicted scope is rebuilt from storage on its next request.
func (m *Manager) Open(ctx context.Context, scope string) (*Store, error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if s, ok := m.stores[scope]; ok {
		s.lastUsed = m.now()
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	fresh := newStore(m, scope)
	fresh.current = fresh.IsAuthenticated(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if s, ok := m.stores[scope]; ok {
		s.lastUsed = m.now()
		return s, nil
	}
	if m.maxStores > 0 && len(m.stores) >= m.maxStores {
		m.evictOldestLocked()
	}
	fresh.lastUsed = m.now()
	m.stores[scope] = fresh

	m.logger.Debug("session store opened",
		zap.String("scope", scope),
		zap.Bool("authenticated", fresh.current))
	return fresh, nil
}

// Close ends every subscription of every store
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stores := m.stores
	m.stores = make(map[string]*Store)
	m.mu.Unlock()

	for _, s := range stores {
		s.close()
	}
	m.logger.Info("session manager closed", zap.Int("stores", len(stores)))
}

// Len returns the number of stores held in memory
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

// Sweep evicts stores without subscribers that were not opened within the
// idle timeout. It returns the number of evicted stores.
func (m *Manager) Sweep() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for _, s := range m.stores {
		if s.lastUsed.Before(cutoff) && s.idle() {
			m.evictLocked(s)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Debug("idle session stores evicted",
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(m.stores)))
	}
	return evicted
}

// StartSweeper runs Sweep every interval until ctx is done
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// evictOldestLocked drops the least recently used idle store. Stores with
// subscribers are kept, so the cap can be exceeded by open event streams.
func (m *Manager) evictOldestLocked() {
	var oldest *Store
	for _, s := range m.stores {
		if !s.idle() {
			continue
		}
		if oldest == nil || s.lastUsed.Before(oldest.lastUsed) {
			oldest = s
		}
	}
	if oldest != nil {
		m.evictLocked(oldest)
	}
}

// evictLocked removes s and closes it, so late subscribers see a closed stream
// and reconnect to the rebuilt store
func (m *Manager) evictLocked(s *Store) {
	delete(m.stores, s.scope)
	s.close()
}

func (m *Manager) record(event *models.AuthEvent) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(event)
}
