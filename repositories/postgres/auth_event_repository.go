package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/repositories"
	"go.uber.org/zap"
)

const defaultEventLimit = 100

// AuthEventRepository implements repositories.AuthEventRepository
type AuthEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuthEventRepository creates a new auth event repository
func NewAuthEventRepository(db *DB, logger *zap.Logger) *AuthEventRepository {
	return &AuthEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new auth event
func (r *AuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	query := `
		INSERT INTO auth_events (
			id, scope, kind, mechanism, subject, details, request_id, occurred_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Scope,
		string(event.Kind),
		nullString(string(event.Mechanism)),
		nullString(event.Subject),
		nullJSON(event.Details),
		nullString(event.RequestID),
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}

	r.logger.Debug("auth event inserted",
		zap.String("id", event.ID.String()),
		zap.String("kind", string(event.Kind)))
	return nil
}

// ListByScope retrieves the most recent events of a scope
func (r *AuthEventRepository) ListByScope(ctx context.Context, scope string, limit int) ([]*models.AuthEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}

	query := `
		SELECT id, scope, kind, mechanism, subject, details, request_id, occurred_at
		FROM auth_events
		WHERE scope = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuthEvent
	for rows.Next() {
		var (
			event     models.AuthEvent
			kind      string
			mechanism sql.NullString
			subject   sql.NullString
			details   []byte
			requestID sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.Scope,
			&kind,
			&mechanism,
			&subject,
			&details,
			&requestID,
			&event.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		event.Kind = models.AuthEventKind(kind)
		event.Mechanism = models.Mechanism(mechanism.String)
		event.Subject = subject.String
		event.RequestID = requestID.String
		if len(details) > 0 {
			event.Details = details
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auth events: %w", err)
	}

	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var _ repositories.AuthEventRepository = (*AuthEventRepository)(nil)
