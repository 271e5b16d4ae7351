package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PostgresCounter keeps one row per failed attempt in login_attempts and
// counts them over a sliding window
type PostgresCounter struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresCounter creates a PostgresCounter. The table is created by the
// postgres repository schema.
func NewPostgresCounter(db *sql.DB, logger *zap.Logger) *PostgresCounter {
	return &PostgresCounter{db: db, logger: logger}
}

// Attempts counts the attempts newer than now-window
func (c *PostgresCounter) Attempts(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	query := `
		SELECT COUNT(*), MIN(attempted_at)
		FROM login_attempts
		WHERE scope_key = $1
		  AND attempted_at >= $2
	`

	var count int
	var oldest sql.NullTime
	if err := c.db.QueryRowContext(ctx, query, key, now.Add(-window)).Scan(&count, &oldest); err != nil {
		return Window{}, fmt.Errorf("failed to query login attempts: %w", err)
	}

	w := Window{Count: count}
	if oldest.Valid {
		w.ResetAt = oldest.Time.Add(window)
	}
	return w, nil
}

// Add records an attempt at now and returns the updated window
func (c *PostgresCounter) Add(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	query := `
		INSERT INTO login_attempts (scope_key, attempted_at)
		VALUES ($1, $2)
	`

	if _, err := c.db.ExecContext(ctx, query, key, now); err != nil {
		return Window{}, fmt.Errorf("failed to insert login attempt: %w", err)
	}
	return c.Attempts(ctx, key, window, now)
}

// Reset deletes every attempt of key
func (c *PostgresCounter) Reset(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE scope_key = $1`, key); err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

// Cleanup removes attempts older than olderThan to keep the table small
func (c *PostgresCounter) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoffTime := time.Now().Add(-olderThan)

	result, err := c.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, cutoffTime)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup login attempts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	c.logger.Debug("cleaned up login attempts",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff_time", cutoffTime))

	return rowsAffected, nil
}

// StartCleanupWorker runs Cleanup every interval until ctx is done
func (c *PostgresCounter) StartCleanupWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("started login attempt cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			if _, err := c.Cleanup(ctx, retention); err != nil {
				c.logger.Error("failed to cleanup login attempts", zap.Error(err))
			}
		case <-ctx.Done():
			c.logger.Info("stopping login attempt cleanup worker")
			return
		}
	}
}
