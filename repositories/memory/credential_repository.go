package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/repositories"
)

// CredentialRepository keeps credentials in process memory
type CredentialRepository struct {
	mu    sync.RWMutex
	creds map[string]models.Credential
}

// NewCredentialRepository creates an empty in-memory repository
func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{creds: make(map[string]models.Credential)}
}

// Load returns a copy of the stored credential
func (r *CredentialRepository) Load(ctx context.Context, scope string) (*models.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.creds[scope]
	if !ok {
		return nil, repositories.ErrCredentialNotFound
	}
	return &cred, nil
}

// Save stores the pair as a single map entry
func (r *CredentialRepository) Save(ctx context.Context, cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.Scope] = *cred
	return nil
}

// Clear removes the scope's entry
func (r *CredentialRepository) Clear(ctx context.Context, scope string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.creds, scope)
	return nil
}

// AuthEventRepository keeps audit events in process memory
type AuthEventRepository struct {
	mu     sync.RWMutex
	events []*models.AuthEvent
}

// NewAuthEventRepository creates an empty in-memory event log
func NewAuthEventRepository() *AuthEventRepository {
	return &AuthEventRepository{}
}

// Insert appends an event
func (r *AuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// ListByScope returns up to limit events of scope, newest first
func (r *AuthEventRepository) ListByScope(ctx context.Context, scope string, limit int) ([]*models.AuthEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.AuthEvent
	for _, e := range r.events {
		if e.Scope == scope {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ repositories.CredentialRepository = (*CredentialRepository)(nil)
	_ repositories.AuthEventRepository  = (*AuthEventRepository)(nil)
)
