package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/repositories/memory"
	"github.com/upb/spa-auth/services"
	"github.com/upb/spa-auth/services/session"
	"github.com/upb/spa-auth/tokens"
	"go.uber.org/zap"
)

// MockSession is a mock implementation of Session
type MockSession struct {
	mock.Mock
}

func (m *MockSession) IsAuthenticated(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockSession) PassiveHandshake(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockSession) SetReturnURL(u string) {
	m.Called(u)
}

// MockAuthAPI is a mock implementation of session.AuthAPI
type MockAuthAPI struct {
	mock.Mock
}

func (m *MockAuthAPI) Register(ctx context.Context, req *models.RegisterRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockAuthAPI) Login(ctx context.Context, req *models.LoginRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockAuthAPI) Refresh(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *MockAuthAPI) Kerberos(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func liveToken(t *testing.T, subject string, authorities ...string) string {
	t.Helper()
	token, err := tokens.Sign([]byte("test-secret"), tokens.NewClaims(subject, time.Hour, authorities...))
	require.NoError(t, err)
	return token
}

func TestGuard_CanActivate(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	nav := models.NewPendingNavigation("/main/reports")

	t.Run("authenticated session is allowed without a handshake", func(t *testing.T) {
		s := new(MockSession)
		s.On("SetReturnURL", "/main/reports").Return()
		s.On("IsAuthenticated", mock.Anything).Return(true)

		d := NewGuard(GuardConfig{PassiveEnabled: true}, logger).CanActivate(ctx, s, nav)

		assert.True(t, d.Allowed())
		s.AssertExpectations(t)
		s.AssertNotCalled(t, "PassiveHandshake", mock.Anything)
	})

	t.Run("successful handshake allows", func(t *testing.T) {
		s := new(MockSession)
		s.On("SetReturnURL", "/main/reports").Return()
		s.On("IsAuthenticated", mock.Anything).Return(false)
		s.On("PassiveHandshake", mock.Anything).Return(true, nil)

		d := NewGuard(GuardConfig{PassiveEnabled: true}, logger).CanActivate(ctx, s, nav)

		assert.Equal(t, Allow, d.Outcome)
		s.AssertExpectations(t)
	})

	t.Run("denied handshake redirects to login", func(t *testing.T) {
		s := new(MockSession)
		s.On("SetReturnURL", "/main/reports").Return()
		s.On("IsAuthenticated", mock.Anything).Return(false)
		s.On("PassiveHandshake", mock.Anything).Return(false, nil)

		d := NewGuard(GuardConfig{PassiveEnabled: true}, logger).CanActivate(ctx, s, nav)

		assert.Equal(t, Redirect, d.Outcome)
		assert.Equal(t, "/login", d.RedirectTo)
		assert.False(t, d.Allowed())
	})

	t.Run("unreachable auth service is unavailable, not a redirect", func(t *testing.T) {
		s := new(MockSession)
		s.On("SetReturnURL", "/main/reports").Return()
		s.On("IsAuthenticated", mock.Anything).Return(false)
		s.On("PassiveHandshake", mock.Anything).Return(false, services.ErrHandshakeUnavailable)

		d := NewGuard(GuardConfig{PassiveEnabled: true}, logger).CanActivate(ctx, s, nav)

		assert.Equal(t, Unavailable, d.Outcome)
		assert.Empty(t, d.RedirectTo)
		assert.ErrorIs(t, d.Err, services.ErrHandshakeUnavailable)
	})

	t.Run("passive disabled redirects straight away", func(t *testing.T) {
		s := new(MockSession)
		s.On("SetReturnURL", "/main/reports").Return()
		s.On("IsAuthenticated", mock.Anything).Return(false)

		d := NewGuard(GuardConfig{LoginRoute: "/signin"}, logger).CanActivate(ctx, s, nav)

		assert.Equal(t, Redirect, d.Outcome)
		assert.Equal(t, "/signin", d.RedirectTo)
		s.AssertNotCalled(t, "PassiveHandshake", mock.Anything)
	})
}

func TestGuard_CanActivateChild(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(GuardConfig{PassiveEnabled: true}, zap.NewNop())

	for _, authenticated := range []bool{true, false} {
		s := new(MockSession)
		s.On("SetReturnURL", mock.Anything).Return()
		s.On("IsAuthenticated", mock.Anything).Return(authenticated)
		s.On("PassiveHandshake", mock.Anything).Return(false, nil)

		nav := models.NewPendingNavigation("/main/child")
		assert.Equal(t, guard.CanActivate(ctx, s, nav), guard.CanActivateChild(ctx, s, nav))
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "redirect", Redirect.String())
	assert.Equal(t, "unavailable", Unavailable.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

type gatewayFixture struct {
	api     *MockAuthAPI
	repo    *memory.CredentialRepository
	manager *session.Manager
	handler http.Handler
}

func newGatewayFixture(t *testing.T, role string) *gatewayFixture {
	t.Helper()

	f := &gatewayFixture{
		api:  new(MockAuthAPI),
		repo: memory.NewCredentialRepository(),
	}
	f.manager = session.NewManager(f.repo, f.api, tokens.NewUnverifiedDecoder(), zap.NewNop())
	t.Cleanup(f.manager.Close)

	scopes := NewScopes(f.manager, ScopeConfig{CookieName: "spa_scope"}, zap.NewNop())
	guard := NewGuard(GuardConfig{LoginRoute: "/login", PassiveEnabled: true}, zap.NewNop())

	var protected http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if role != "" {
		protected = guard.RequireRole(role)(protected)
	}
	f.handler = scopes.Attach(guard.RequireSession(protected))
	return f
}

func (f *gatewayFixture) do(t *testing.T, target, scope, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if scope != "" {
		req.AddCookie(&http.Cookie{Name: "spa_scope", Value: scope})
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

const testScope = "3f1b8c2e-5d7a-4e8f-9a0b-1c2d3e4f5a6b"

func TestRequireSession(t *testing.T) {
	ctx := context.Background()

	t.Run("stored live token passes without remote call", func(t *testing.T) {
		f := newGatewayFixture(t, "")
		require.NoError(t, f.repo.Save(ctx, models.NewCredential(testScope, liveToken(t, "u"), models.MechanismForm)))

		w := f.do(t, "/main/reports?id=1", testScope, "text/html")

		assert.Equal(t, http.StatusOK, w.Code)
		f.api.AssertNotCalled(t, "Kerberos", mock.Anything)

		store, err := f.manager.Open(ctx, testScope)
		require.NoError(t, err)
		assert.Equal(t, "/main/reports?id=1", store.ReturnURL())
	})

	t.Run("passive handshake admits the browser", func(t *testing.T) {
		f := newGatewayFixture(t, "")
		f.api.On("Kerberos", mock.Anything).Return(liveToken(t, "alice"), nil).Once()

		w := f.do(t, "/main", testScope, "text/html")
		assert.Equal(t, http.StatusOK, w.Code)

		store, err := f.manager.Open(ctx, testScope)
		require.NoError(t, err)
		assert.Equal(t, models.MechanismKerberos, store.Mechanism(ctx))

		// second navigation uses the stored token
		w = f.do(t, "/main/other", testScope, "text/html")
		assert.Equal(t, http.StatusOK, w.Code)
		f.api.AssertNumberOfCalls(t, "Kerberos", 1)
	})

	t.Run("denied handshake redirects to login", func(t *testing.T) {
		f := newGatewayFixture(t, "")
		f.api.On("Kerberos", mock.Anything).Return("", nil)

		w := f.do(t, "/main", testScope, "text/html")

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/login", w.Header().Get("Location"))
	})

	t.Run("API clients get 401 instead of a redirect", func(t *testing.T) {
		f := newGatewayFixture(t, "")
		f.api.On("Kerberos", mock.Anything).Return("", nil)

		w := f.do(t, "/main/data", testScope, "application/json")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"login":"/login"`)
	})

	t.Run("handshake network failure is 503 without redirect", func(t *testing.T) {
		f := newGatewayFixture(t, "")
		f.api.On("Kerberos", mock.Anything).Return("", services.Wrap(services.ErrHandshakeUnavailable, errors.New("dial tcp")))

		w := f.do(t, "/main", testScope, "text/html")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Empty(t, w.Header().Get("Location"))
	})

	t.Run("missing scope cookie issues one", func(t *testing.T) {
		f := newGatewayFixture(t, "")
		f.api.On("Kerberos", mock.Anything).Return("", nil)

		w := f.do(t, "/main", "", "text/html")

		assert.Equal(t, http.StatusFound, w.Code)
		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "spa_scope", cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.Len(t, cookies[0].Value, 36)
	})

	t.Run("malformed scope cookie is replaced", func(t *testing.T) {
		f := newGatewayFixture(t, "")
		f.api.On("Kerberos", mock.Anything).Return("", nil)

		w := f.do(t, "/main", "../../etc/passwd", "text/html")

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.NotEqual(t, "../../etc/passwd", cookies[0].Value)
	})

	t.Run("without Attach the guard fails closed", func(t *testing.T) {
		guard := NewGuard(GuardConfig{}, zap.NewNop())
		handler := guard.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("must not be reached")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/main", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	ctx := context.Background()

	t.Run("granted role passes", func(t *testing.T) {
		f := newGatewayFixture(t, "ADMIN")
		require.NoError(t, f.repo.Save(ctx, models.NewCredential(testScope, liveToken(t, "u", "ROLE_ADMIN"), models.MechanismForm)))

		w := f.do(t, "/admin", testScope, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing role is forbidden", func(t *testing.T) {
		f := newGatewayFixture(t, "ROLE_ADMIN")
		require.NoError(t, f.repo.Save(ctx, models.NewCredential(testScope, liveToken(t, "u", "ROLE_USER"), models.MechanismForm)))

		w := f.do(t, "/admin", testScope, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing store is unauthorized", func(t *testing.T) {
		guard := NewGuard(GuardConfig{LoginRoute: "/login"}, zap.NewNop())
		handler := guard.RequireRole("ADMIN")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"error":"unauthorized"`)
	})
}

func TestRequestContext(t *testing.T) {
	handler := RequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetRequestIDFromContext(r.Context()))
		assert.Equal(t, GetRequestIDFromContext(r.Context()), session.RequestID(r.Context()))
	}))

	w := httptest.NewRecorder()
	chimw.RequestID(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
