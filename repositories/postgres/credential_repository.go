package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/repositories"
	"go.uber.org/zap"
)

// CredentialRepository implements repositories.CredentialRepository on one row per scope
type CredentialRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

// Load retrieves the credential of a scope
func (r *CredentialRepository) Load(ctx context.Context, scope string) (*models.Credential, error) {
	query := `
		SELECT scope, auth_token, auth_type, updated_at
		FROM spa_credentials
		WHERE scope = $1
	`

	var (
		cred      models.Credential
		mechanism string
	)
	err := r.db.QueryRowContext(ctx, query, scope).Scan(
		&cred.Scope,
		&cred.Token,
		&mechanism,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	cred.Mechanism, err = models.ParseMechanism(mechanism)
	if err != nil {
		return nil, fmt.Errorf("corrupt credential for scope %s: %w", scope, err)
	}
	return &cred, nil
}

// Save upserts token and mechanism in a single statement
func (r *CredentialRepository) Save(ctx context.Context, cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO spa_credentials (scope, auth_token, auth_type, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope) DO UPDATE
		SET auth_token = EXCLUDED.auth_token,
		    auth_type = EXCLUDED.auth_type,
		    updated_at = EXCLUDED.updated_at
	`

	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if _, err := r.db.ExecContext(ctx, query, cred.Scope, cred.Token, string(cred.Mechanism), updatedAt); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	r.logger.Debug("credential saved",
		zap.String("scope", cred.Scope),
		zap.String("mechanism", string(cred.Mechanism)))
	return nil
}

// Clear deletes the scope's row
func (r *CredentialRepository) Clear(ctx context.Context, scope string) error {
	query := `DELETE FROM spa_credentials WHERE scope = $1`

	if _, err := r.db.ExecContext(ctx, query, scope); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}

	r.logger.Debug("credential cleared", zap.String("scope", scope))
	return nil
}

var _ repositories.CredentialRepository = (*CredentialRepository)(nil)
