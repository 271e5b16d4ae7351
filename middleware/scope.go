package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/spa-auth/services/session"
	"github.com/upb/spa-auth/utils"
	"go.uber.org/zap"
)

// ScopeConfig configures the storage scope cookie
type ScopeConfig struct {
	CookieName string
	Secure     bool
}

// Scopes binds each browser to its storage scope and session store
type Scopes struct {
	manager *session.Manager
	cfg     ScopeConfig
	logger  *zap.Logger
}

// NewScopes creates the scope middleware
func NewScopes(manager *session.Manager, cfg ScopeConfig, logger *zap.Logger) *Scopes {
	if cfg.CookieName == "" {
		cfg.CookieName = "spa_scope"
	}
	return &Scopes{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
	}
}

// Attach resolves the scope cookie, issuing a fresh scope when it is
// missing or malformed, and puts the scope's store in the request context
func (s *Scopes) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		scope := s.scopeFromCookie(r)
		if scope == "" {
			scope = uuid.NewString()
			http.SetCookie(w, s.cookie(scope))
			s.logger.Debug("issued storage scope",
				zap.String("request_id", requestID),
				zap.String("scope", scope))
		}

		store, err := s.manager.Open(ctx, scope)
		if err != nil {
			s.logger.Error("failed to open session store",
				zap.String("request_id", requestID),
				zap.String("scope", scope),
				zap.Error(err))
			_ = utils.WriteServiceUnavailable(w, "Session storage unavailable")
			return
		}

		ctx = WithScope(ctx, scope)
		ctx = WithStore(ctx, store)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Scopes) scopeFromCookie(r *http.Request) string {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil || c.Value == "" {
		return ""
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

func (s *Scopes) cookie(scope string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    scope,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
