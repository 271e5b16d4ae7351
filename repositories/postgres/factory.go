package postgres

import (
	"context"

	"github.com/upb/spa-auth/config"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages the PostgreSQL-backed repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory opens the database and returns a factory
func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositoryFactoryFromDB builds a factory around an existing pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// InitSchema creates the tables the repositories rely on
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx)
}

// Credentials returns the credential repository
func (f *RepositoryFactory) Credentials() *CredentialRepository {
	return NewCredentialRepository(f.db, f.logger)
}

// AuthEvents returns the auth event repository
func (f *RepositoryFactory) AuthEvents() *AuthEventRepository {
	return NewAuthEventRepository(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
