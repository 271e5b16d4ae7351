package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/spa-auth/models"
	"go.uber.org/zap"
)

func TestAuthEventRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuthEventRepository(db, zap.NewNop())

	event := models.NewAuthEvent("scope-1", models.AuthEventLogin).
		WithMechanism(models.MechanismForm).
		WithSubject("alice")

	mock.ExpectExec("INSERT INTO auth_events").
		WithArgs(event.ID, "scope-1", "login", sqlmock.AnyArg(), sqlmock.AnyArg(), nil, sqlmock.AnyArg(), event.OccurredAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthEventRepository_ListByScope(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuthEventRepository(db, zap.NewNop())

	id1, id2 := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM auth_events WHERE scope = \\$1 ORDER BY occurred_at DESC LIMIT \\$2").
		WithArgs("scope-1", defaultEventLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "scope", "kind", "mechanism", "subject", "details", "request_id", "occurred_at"}).
			AddRow(id1.String(), "scope-1", "logout", nil, nil, nil, nil, now).
			AddRow(id2.String(), "scope-1", "login", "form", "alice", []byte(`{"route":"/main"}`), "req-1", now.Add(-time.Minute)))

	events, err := repo.ListByScope(context.Background(), "scope-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, id1, events[0].ID)
	assert.Equal(t, models.AuthEventLogout, events[0].Kind)
	assert.Empty(t, events[0].Mechanism)
	assert.Nil(t, events[0].Details)

	assert.Equal(t, models.MechanismForm, events[1].Mechanism)
	assert.Equal(t, "alice", events[1].Subject)
	assert.Equal(t, "req-1", events[1].RequestID)
	assert.JSONEq(t, `{"route":"/main"}`, string(events[1].Details))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db := Wrap(sqlDB, zap.NewNop())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	require.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS spa_credentials").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewRepositoryFactoryFromDB(db, zap.NewNop()).InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
