package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/upb/spa-auth/middleware"
	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/services"
	"github.com/upb/spa-auth/services/ratelimit"
	"github.com/upb/spa-auth/services/session"
	"github.com/upb/spa-auth/utils"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	heartbeatInterval   = 15 * time.Second
)

// EventHistory lists recent audit events for a scope
type EventHistory interface {
	Recent(ctx context.Context, scope string, limit int) ([]*models.AuthEvent, error)
}

// LoginThrottle limits repeated failed logins per username
type LoginThrottle interface {
	Check(ctx context.Context, username string) (ratelimit.Result, error)
	RecordFailure(ctx context.Context, username string) (ratelimit.Result, error)
	Reset(ctx context.Context, username string) error
}

// SessionHandler exposes the session store over HTTP
type SessionHandler struct {
	history   EventHistory
	throttle  LoginThrottle
	homeRoute string
	logger    *zap.Logger
}

// SessionHandlerOption configures a SessionHandler
type SessionHandlerOption func(*SessionHandler)

// WithLoginThrottle enables login throttling
func WithLoginThrottle(t LoginThrottle) SessionHandlerOption {
	return func(h *SessionHandler) {
		h.throttle = t
	}
}

// NewSessionHandler creates a new session handler. history may be nil when auditing is disabled.
func NewSessionHandler(history EventHistory, homeRoute string, logger *zap.Logger, opts ...SessionHandlerOption) *SessionHandler {
	if homeRoute == "" {
		homeRoute = "/"
	}
	h := &SessionHandler{
		history:   history,
		homeRoute: homeRoute,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LoginResponse is returned after a successful login or refresh
type LoginResponse struct {
	Session    models.Session `json:"session"`
	RedirectTo string         `json:"redirect_to,omitempty"`
}

// HistoryResponse lists a scope's most recent auth events, newest first
type HistoryResponse struct {
	Scope  string              `json:"scope"`
	Events []*models.AuthEvent `json:"events"`
}

// HandleLogin handles POST /auth/session/login
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var req models.LoginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.checkThrottle(r.Context(), req.Username); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if _, err := store.Login(r.Context(), &req); err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			h.recordFailure(r.Context(), req.Username)
		}
		HandleServiceError(w, err, h.logger)
		return
	}
	h.resetThrottle(r.Context(), req.Username)

	_ = utils.WriteOK(w, LoginResponse{
		Session:    store.Session(r.Context()),
		RedirectTo: h.redirectTarget(store.ReturnURL()),
	})
}

// HandleRegister handles POST /auth/session/register
func (h *SessionHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var req models.RegisterRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := store.Register(r.Context(), &req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse{
		Message: "Account created",
	})
}

// HandleRefresh handles POST /auth/session/refresh
func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	if _, err := store.Refresh(r.Context()); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, LoginResponse{Session: store.Session(r.Context())})
}

// HandleLogout handles POST /auth/session/logout
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	if err := store.Logout(r.Context()); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleStatus handles GET /auth/session
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	_ = utils.WriteOK(w, store.Session(r.Context()))
}

// HandleEvents handles GET /auth/session/events. It streams the
// authenticated flag as server-sent events, starting with the current value.
func (h *SessionHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = utils.WriteInternalServerError(w, "Streaming not supported")
		return
	}

	sub := store.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case v, open := <-sub.C():
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "event: authenticated\ndata: %t\n\n", v); err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHistory handles GET /auth/session/history
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	if h.history == nil {
		_ = utils.WriteNotFound(w, "Audit history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = utils.WriteBadRequest(w, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := h.history.Recent(r.Context(), store.Scope(), limit)
	if err != nil {
		h.logger.Error("failed to list auth events",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to load history")
		return
	}
	if events == nil {
		events = []*models.AuthEvent{}
	}

	_ = utils.WriteOK(w, HistoryResponse{Scope: store.Scope(), Events: events})
}

func (h *SessionHandler) store(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	store := middleware.GetStoreFromContext(r.Context())
	if store == nil {
		h.logger.Error("session store not found in context",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
		_ = utils.WriteInternalServerError(w, "Session not initialized")
		return nil, false
	}
	return store, true
}

// checkThrottle rejects locked-out usernames. Throttle backend failures
// are logged and the login proceeds.
func (h *SessionHandler) checkThrottle(ctx context.Context, username string) error {
	if h.throttle == nil {
		return nil
	}
	res, err := h.throttle.Check(ctx, username)
	if err != nil {
		h.logger.Warn("login throttle unavailable", zap.Error(err))
		return nil
	}
	if res.Allowed {
		return nil
	}
	return services.Wrap(services.ErrTooManyAttempts, nil).
		WithDetail("retry_after", res.RetryAfter)
}

func (h *SessionHandler) recordFailure(ctx context.Context, username string) {
	if h.throttle == nil {
		return
	}
	if _, err := h.throttle.RecordFailure(ctx, username); err != nil {
		h.logger.Warn("failed to record login failure", zap.Error(err))
	}
}

func (h *SessionHandler) resetThrottle(ctx context.Context, username string) {
	if h.throttle == nil {
		return
	}
	if err := h.throttle.Reset(ctx, username); err != nil {
		h.logger.Warn("failed to reset login throttle", zap.Error(err))
	}
}

// redirectTarget returns the cached return URL when it is a local path, otherwise the home route
func (h *SessionHandler) redirectTarget(returnURL string) string {
	if returnURL == "" || !strings.HasPrefix(returnURL, "/") || strings.HasPrefix(returnURL, "//") {
		return h.homeRoute
	}
	return returnURL
}
