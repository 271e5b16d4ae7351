package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/repositories"
)

func TestCredentialRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository()

	_, err := repo.Load(ctx, "scope-1")
	assert.ErrorIs(t, err, repositories.ErrCredentialNotFound)

	require.NoError(t, repo.Save(ctx, models.NewCredential("scope-1", "tok-1", models.MechanismForm)))
	require.NoError(t, repo.Save(ctx, models.NewCredential("scope-2", "tok-2", models.MechanismKerberos)))

	cred, err := repo.Load(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.Token)
	assert.Equal(t, models.MechanismForm, cred.Mechanism)

	// mutating the returned copy does not leak into the store
	cred.Token = "changed"
	again, err := repo.Load(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", again.Token)

	require.NoError(t, repo.Clear(ctx, "scope-1"))
	require.NoError(t, repo.Clear(ctx, "scope-1"))
	_, err = repo.Load(ctx, "scope-1")
	assert.ErrorIs(t, err, repositories.ErrCredentialNotFound)

	other, err := repo.Load(ctx, "scope-2")
	require.NoError(t, err)
	assert.Equal(t, models.MechanismKerberos, other.Mechanism)
}

func TestCredentialRepository_RejectsHalfPairs(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository()

	assert.Error(t, repo.Save(ctx, &models.Credential{Scope: "s", Token: "t"}))
	assert.Error(t, repo.Save(ctx, &models.Credential{Scope: "s", Mechanism: models.MechanismForm}))

	_, err := repo.Load(ctx, "s")
	assert.ErrorIs(t, err, repositories.ErrCredentialNotFound)
}

func TestAuthEventRepository_ListByScope(t *testing.T) {
	ctx := context.Background()
	repo := NewAuthEventRepository()

	base := time.Now()
	for i, kind := range []models.AuthEventKind{models.AuthEventLogin, models.AuthEventRefresh, models.AuthEventLogout} {
		event := models.NewAuthEvent("scope-1", kind)
		event.OccurredAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Insert(ctx, event))
	}
	require.NoError(t, repo.Insert(ctx, models.NewAuthEvent("scope-2", models.AuthEventLogin)))

	events, err := repo.ListByScope(ctx, "scope-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuthEventLogout, events[0].Kind)
	assert.Equal(t, models.AuthEventRefresh, events[1].Kind)

	all, err := repo.ListByScope(ctx, "scope-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
