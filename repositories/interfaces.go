package repositories

import (
	"context"
	"errors"

	"github.com/upb/spa-auth/models"
)

// ErrCredentialNotFound is returned when a scope holds no credential
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialRepository persists the token/mechanism pair of each storage scope.
// Implementations write and clear both halves of the pair atomically.
type CredentialRepository interface {
	// Load returns the scope's credential or ErrCredentialNotFound
	Load(ctx context.Context, scope string) (*models.Credential, error)

	// Save replaces the scope's credential
	Save(ctx context.Context, cred *models.Credential) error

	// Clear removes the scope's credential; clearing an empty scope is not an error
	Clear(ctx context.Context, scope string) error
}

// AuthEventRepository handles audit records of session transitions
type AuthEventRepository interface {
	// Insert stores a new event
	Insert(ctx context.Context, event *models.AuthEvent) error

	// ListByScope returns the most recent events of a scope, newest first
	ListByScope(ctx context.Context, scope string, limit int) ([]*models.AuthEvent, error)
}
