package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/services"
	"github.com/upb/spa-auth/utils"
	"go.uber.org/zap"
)

// Session is the part of a session store the guard needs
type Session interface {
	IsAuthenticated(ctx context.Context) bool
	PassiveHandshake(ctx context.Context) (bool, error)
	SetReturnURL(u string)
}

// Outcome is the result of a guard evaluation
type Outcome int

const (
	// Allow lets the navigation proceed
	Allow Outcome = iota
	// Redirect sends the user to the login route
	Redirect
	// Unavailable means the passive handshake could not reach the auth service
	Unavailable
)

// String returns the outcome name for logging
func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Decision is what the guard resolved for one pending navigation
type Decision struct {
	Outcome    Outcome
	RedirectTo string
	Err        error
}

// Allowed reports whether navigation may proceed
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// GuardConfig configures the navigation guard
type GuardConfig struct {
	LoginRoute     string
	PassiveEnabled bool
}

// Guard gates navigation on the session's authenticated status
type Guard struct {
	cfg    GuardConfig
	logger *zap.Logger
}

// NewGuard creates a navigation guard
func NewGuard(cfg GuardConfig, logger *zap.Logger) *Guard {
	if cfg.LoginRoute == "" {
		cfg.LoginRoute = "/login"
	}
	return &Guard{
		cfg:    cfg,
		logger: logger,
	}
}

// CanActivate records the target as the return URL, then allows the
// navigation when the session is authenticated or the passive handshake
// succeeds. A denied handshake redirects to login; an unreachable auth
// service yields Unavailable without redirecting.
func (g *Guard) CanActivate(ctx context.Context, s Session, nav models.PendingNavigation) Decision {
	s.SetReturnURL(nav.TargetURL)

	if s.IsAuthenticated(ctx) {
		return Decision{Outcome: Allow}
	}

	if !g.cfg.PassiveEnabled {
		return Decision{Outcome: Redirect, RedirectTo: g.cfg.LoginRoute}
	}

	ok, err := s.PassiveHandshake(ctx)
	if err != nil {
		return Decision{Outcome: Unavailable, Err: err}
	}
	if !ok {
		return Decision{Outcome: Redirect, RedirectTo: g.cfg.LoginRoute}
	}
	return Decision{Outcome: Allow}
}

// CanActivateChild applies the same check to child routes
func (g *Guard) CanActivateChild(ctx context.Context, s Session, nav models.PendingNavigation) Decision {
	return g.CanActivate(ctx, s, nav)
}

// RequireSession guards a route subtree. It must run after Scopes.Attach.
func (g *Guard) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		store := GetStoreFromContext(ctx)
		if store == nil {
			g.logger.Error("session store not found in context",
				zap.String("request_id", requestID))
			_ = utils.WriteInternalServerError(w, "Session not initialized")
			return
		}

		target := r.URL.RequestURI()
		decision := g.CanActivate(ctx, store, models.NewPendingNavigation(target))

		switch decision.Outcome {
		case Allow:
			g.logger.Debug("navigation allowed",
				zap.String("request_id", requestID),
				zap.String("target", target))
			next.ServeHTTP(w, r)

		case Redirect:
			g.logger.Info("navigation redirected to login",
				zap.String("request_id", requestID),
				zap.String("target", target))
			if wantsJSON(r) {
				_ = utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse{
					Error:   "unauthorized",
					Message: "Authentication required",
					Details: map[string]interface{}{"login": decision.RedirectTo},
				})
				return
			}
			http.Redirect(w, r, decision.RedirectTo, http.StatusFound)

		default:
			g.logger.Warn("navigation blocked, auth service unavailable",
				zap.String("request_id", requestID),
				zap.String("target", target),
				zap.Error(decision.Err))
			_ = utils.WriteServiceUnavailable(w, "Authentication service unavailable")
		}
	})
}

// RequireRole rejects requests whose session lacks role. It must run after RequireSession.
func (g *Guard) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			var err error = services.ErrNotAuthenticated
			if store := GetStoreFromContext(ctx); store != nil {
				err = store.Authorize(ctx, role)
			} else {
				g.logger.Error("session store not found in context",
					zap.String("request_id", requestID))
			}

			if services.IsUnauthorizedError(err) {
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}
			if err != nil {
				g.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("required_role", role))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			g.logger.Debug("role check passed",
				zap.String("request_id", requestID),
				zap.String("required_role", role))
			next.ServeHTTP(w, r)
		})
	}
}

// wantsJSON reports whether the caller is an API client rather than a page load
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
