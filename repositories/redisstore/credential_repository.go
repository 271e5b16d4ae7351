package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/spa-auth/config"
	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/repositories"
	"go.uber.org/zap"
)

const updatedAtField = "updated_at"

// CredentialRepository stores each scope's credential in one Redis hash
// ({prefix}:credential:{scope}) holding the authToken and auth_type fields.
type CredentialRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewClient opens a Redis client from configuration and verifies connectivity
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewCredentialRepository creates a Redis-backed credential repository.
// A zero ttl keeps credentials until they are cleared.
func NewCredentialRepository(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *CredentialRepository {
	if prefix == "" {
		prefix = "spa"
	}
	return &CredentialRepository{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (r *CredentialRepository) key(scope string) string {
	return r.prefix + ":credential:" + scope
}

// Load reads the scope's hash
func (r *CredentialRepository) Load(ctx context.Context, scope string) (*models.Credential, error) {
	fields, err := r.client.HGetAll(ctx, r.key(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	token := fields[models.TokenKey]
	if token == "" {
		return nil, repositories.ErrCredentialNotFound
	}
	mechanism, err := models.ParseMechanism(fields[models.MechanismKey])
	if err != nil {
		return nil, fmt.Errorf("corrupt credential for scope %s: %w", scope, err)
	}

	cred := &models.Credential{
		Scope:     scope,
		Token:     token,
		Mechanism: mechanism,
	}
	if ts, err := strconv.ParseInt(fields[updatedAtField], 10, 64); err == nil {
		cred.UpdatedAt = time.Unix(ts, 0).UTC()
	}
	return cred, nil
}

// Save writes both fields and the expiry inside one MULTI/EXEC
func (r *CredentialRepository) Save(ctx context.Context, cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	key := r.key(cred.Scope)
	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			models.TokenKey, cred.Token,
			models.MechanismKey, string(cred.Mechanism),
			updatedAtField, strconv.FormatInt(updatedAt.Unix(), 10),
		)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		} else {
			pipe.Persist(ctx, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	r.logger.Debug("credential saved",
		zap.String("scope", cred.Scope),
		zap.String("mechanism", string(cred.Mechanism)))
	return nil
}

// Clear deletes the scope's hash
func (r *CredentialRepository) Clear(ctx context.Context, scope string) error {
	if err := r.client.Del(ctx, r.key(scope)).Err(); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	r.logger.Debug("credential cleared", zap.String("scope", scope))
	return nil
}

var _ repositories.CredentialRepository = (*CredentialRepository)(nil)
