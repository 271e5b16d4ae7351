package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/spa-auth/config"
	"github.com/upb/spa-auth/models"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"http://localhost:*"},
		},
		Auth: config.AuthConfig{
			APIBaseURL:     "http://127.0.0.1:1",
			Timeout:        time.Second,
			LoginRoute:     "/login",
			HomeRoute:      "/main",
			RolePrefix:     "ROLE_",
			SigningSecret:  "test-secret",
			PassiveEnabled: true,
			ScopeCookie:    "spa_scope",

			LoginMaxAttempts: 5,
			LoginLockout:     time.Minute,

			StoreIdleTimeout: time.Minute,
			MaxStores:        2,
		},
		Storage: config.StorageConfig{
			Backend: config.StorageMemory,
			Redis:   config.RedisConfig{KeyPrefix: "spa"},
		},
		Observability: config.ObservabilityConfig{
			LogLevel:         "debug",
			LogFormat:        "console",
			AuditEnabled:     true,
			AuditBufferSize:  16,
			AuditWorkerCount: 1,
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("memory backend wires every component", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps)

		assert.NotNil(t, deps.Credentials)
		assert.NotNil(t, deps.AuthEvents)
		assert.NotNil(t, deps.AuthClient)
		assert.NotNil(t, deps.Decoder)
		assert.NotNil(t, deps.Audit)
		assert.NotNil(t, deps.Sessions)
		assert.NotNil(t, deps.Limiter)
		assert.NotNil(t, deps.Scopes)
		assert.NotNil(t, deps.Guard)
		assert.NotNil(t, deps.HealthHandler)
		assert.NotNil(t, deps.SessionHandler)
		assert.NotNil(t, deps.AppHandler)
		assert.Nil(t, deps.Redis)
		assert.Nil(t, deps.RepoFactory)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("audit disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Observability.AuditEnabled = false

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Nil(t, deps.Audit)
		assert.NoError(t, deps.Close(context.Background()))
	})

	t.Run("throttling disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Auth.LoginMaxAttempts = 0

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Nil(t, deps.Limiter)
		assert.NoError(t, deps.Close(context.Background()))
	})

	t.Run("environment defaults enable throttling", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "test")
		t.Setenv("AUTH_API_BASE_URL", "http://127.0.0.1:1")
		cfg, err := config.New(context.Background())
		require.NoError(t, err)

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps.Limiter)

		res, err := deps.Limiter.Check(context.Background(), "jdoe")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 5, res.Remaining)
		assert.NoError(t, deps.Close(context.Background()))
	})

	t.Run("session stores are capped", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)

		for _, scope := range []string{"a", "b", "c", "d"} {
			_, err := deps.Sessions.Open(ctx, scope)
			require.NoError(t, err)
		}
		assert.Equal(t, 2, deps.Sessions.Len())
		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("redis backend", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t)
		cfg.Storage.Backend = config.StorageRedis
		cfg.Storage.Redis.Addr = mr.Addr()

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps.Redis)

		w := httptest.NewRecorder()
		deps.HealthHandler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"redis":"healthy"`)

		assert.NoError(t, deps.Close(context.Background()))
	})

	t.Run("redis connection failure", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig(t)
		cfg.Storage.Backend = config.StorageRedis
		cfg.Storage.Redis.Addr = addr

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize storage")
	})

	t.Run("database connection failure", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Backend = config.StoragePostgres
		cfg.Storage.Database = config.DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     1,
			User:     "dev",
			Database: "spa_auth",
			SSLMode:  "disable",
		}

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize storage")
	})
}

func TestDependencies_SessionsRecordToAudit(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	store, err := deps.Sessions.Open(ctx, "2c4d1e7a-9b3f-4a62-8e1d-5f0c7b9a3e21")
	require.NoError(t, err)
	require.NoError(t, store.Logout(ctx))

	// Stop drains the queue into the repository
	require.NoError(t, deps.Close(ctx))

	events, err := deps.AuthEvents.ListByScope(ctx, store.Scope(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.AuthEventLogout, events[0].Kind)
}
