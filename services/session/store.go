package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/upb/spa-auth/models"
	"github.com/upb/spa-auth/repositories"
	"github.com/upb/spa-auth/services"
	"github.com/upb/spa-auth/tokens"
	"go.uber.org/zap"
)

// Store is the session of one storage scope.
// Credential writes and status notifications happen under mu, so
// subscribers observe changes in write order and never lag a returned call.
type Store struct {
	scope   string
	manager *Manager
	logger  *zap.Logger

	mu        sync.Mutex
	current   bool
	returnURL string
	subs      map[*Subscription]struct{}
	closed    bool

	lastUsed time.Time // guarded by manager.mu
}

func newStore(m *Manager, scope string) *Store {
	return &Store{
		scope:   scope,
		manager: m,
		logger:  m.logger.With(zap.String("scope", scope)),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Scope returns the storage scope this store owns
func (s *Store) Scope() string {
	return s.scope
}

// Register creates an account remotely; local state is left untouched
func (s *Store) Register(ctx context.Context, req *models.RegisterRequest) error {
	if req == nil {
		return services.ErrInvalidInput
	}
	if err := s.manager.api.Register(ctx, req); err != nil {
		return err
	}
	s.manager.record(s.event(ctx, models.AuthEventRegister).WithSubject(req.Username))
	return nil
}

// Login exchanges credentials for a token, persists it tagged form and publishes true
func (s *Store) Login(ctx context.Context, req *models.LoginRequest) (string, error) {
	if req == nil {
		return "", services.ErrInvalidInput
	}

	token, err := s.manager.api.Login(ctx, req)
	if err != nil {
		s.logger.Info("login failed", zap.String("username", req.Username), zap.Error(err))
		s.manager.record(s.failure(ctx, models.AuthEventLoginFailed, err).WithSubject(req.Username))
		return "", err
	}

	if err := s.persist(ctx, token, models.MechanismForm); err != nil {
		return "", err
	}

	s.logger.Info("login succeeded", zap.String("username", req.Username))
	s.manager.record(s.event(ctx, models.AuthEventLogin).
		WithMechanism(models.MechanismForm).
		WithSubject(s.subjectOf(token, req.Username)))
	return token, nil
}

// PassiveHandshake attempts the non-interactive kerberos exchange.
// It returns (false, nil) when the server grants no token and a non-nil
// error only when the service could not be reached.
func (s *Store) PassiveHandshake(ctx context.Context) (bool, error) {
	token, err := s.manager.api.Kerberos(ctx)
	if err != nil {
		s.logger.Warn("passive handshake unavailable", zap.Error(err))
		s.manager.record(s.failure(ctx, models.AuthEventHandshakeFailed, err).WithMechanism(models.MechanismKerberos))
		return false, err
	}
	if token == "" {
		s.logger.Debug("passive handshake denied")
		s.manager.record(s.event(ctx, models.AuthEventHandshakeDenied).WithMechanism(models.MechanismKerberos))
		return false, nil
	}

	if err := s.persist(ctx, token, models.MechanismKerberos); err != nil {
		return false, err
	}

	s.logger.Info("passive handshake succeeded")
	s.manager.record(s.event(ctx, models.AuthEventHandshake).
		WithMechanism(models.MechanismKerberos).
		WithSubject(s.subjectOf(token, "")))
	return true, nil
}

// Refresh exchanges the stored token for a new one, stored tagged form.
// Without a stored token no remote call is made.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	cred, err := s.manager.repo.Load(ctx, s.scope)
	if err != nil {
		if errors.Is(err, repositories.ErrCredentialNotFound) {
			return "", services.ErrRefreshDenied
		}
		return "", services.Wrap(services.ErrCredentialStore, err)
	}

	token, err := s.manager.api.Refresh(ctx, cred.Token)
	if err != nil {
		s.logger.Info("token refresh failed", zap.Error(err))
		s.manager.record(s.failure(ctx, models.AuthEventRefreshFailed, err).WithMechanism(cred.Mechanism))
		return "", err
	}

	if err := s.persist(ctx, token, models.MechanismForm); err != nil {
		return "", err
	}

	s.manager.record(s.event(ctx, models.AuthEventRefresh).
		WithMechanism(models.MechanismForm).
		WithSubject(s.subjectOf(token, "")))
	return token, nil
}

// Logout clears token and mechanism together and publishes false.
// It makes no remote call.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	if err := s.manager.repo.Clear(ctx, s.scope); err != nil {
		s.mu.Unlock()
		return services.Wrap(services.ErrCredentialStore, err)
	}
	s.publishLocked(false)
	s.mu.Unlock()

	s.logger.Info("logged out")
	s.manager.record(s.event(ctx, models.AuthEventLogout))
	return nil
}

// IsAuthenticated reports whether a token is stored and its expiry lies in the future.
// Read and decode failures yield false.
func (s *Store) IsAuthenticated(ctx context.Context) bool {
	token := s.Token(ctx)
	if token == "" {
		return false
	}
	return tokens.Live(s.manager.decoder, token, s.manager.now())
}

// HasRole reports whether the stored token grants role. The configured
// prefix is added when role lacks it.
func (s *Store) HasRole(ctx context.Context, role string) bool {
	claims := s.UserInfo(ctx)
	if claims == nil {
		return false
	}
	return claims.HasRole(s.manager.rolePrefix, role)
}

// Authorize returns ErrNotAuthenticated without a live token and
// ErrInsufficientRole when the token does not grant role
func (s *Store) Authorize(ctx context.Context, role string) error {
	if !s.IsAuthenticated(ctx) {
		return services.ErrNotAuthenticated
	}
	if !s.HasRole(ctx, role) {
		return services.ErrInsufficientRole
	}
	return nil
}

// Token returns the stored bearer token or ""
func (s *Store) Token(ctx context.Context) string {
	cred := s.load(ctx)
	if cred == nil {
		return ""
	}
	return cred.Token
}

// Mechanism returns how the stored token was obtained, or "" when none is stored
func (s *Store) Mechanism(ctx context.Context) models.Mechanism {
	cred := s.load(ctx)
	if cred == nil {
		return ""
	}
	return cred.Mechanism
}

// UserInfo decodes the stored token. It returns nil when there is no
// token or it cannot be decoded; expiry is not checked.
func (s *Store) UserInfo(ctx context.Context) *tokens.Claims {
	token := s.Token(ctx)
	if token == "" {
		return nil
	}
	claims, err := s.manager.decoder.Decode(token)
	if err != nil {
		s.logger.Debug("stored token does not decode", zap.Error(err))
		return nil
	}
	return claims
}

// Session returns a snapshot built from a single credential read
func (s *Store) Session(ctx context.Context) models.Session {
	snap := models.Session{Scope: s.scope}

	cred := s.load(ctx)
	if cred == nil {
		return snap
	}
	snap.Mechanism = cred.Mechanism

	claims, err := s.manager.decoder.Decode(cred.Token)
	if err != nil {
		return snap
	}
	snap.Authenticated = !claims.Expired(s.manager.now())
	snap.Subject = claims.SubjectName()
	snap.Authorities = []string(claims.Authorities)
	if exp, ok := claims.Expiry(); ok {
		snap.ExpiresAt = &exp
	}
	return snap
}

// SetReturnURL remembers where the user was heading
func (s *Store) SetReturnURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returnURL = u
}

// ReturnURL returns the last value given to SetReturnURL
func (s *Store) ReturnURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.returnURL
}

func (s *Store) persist(ctx context.Context, token string, mech models.Mechanism) error {
	cred := models.NewCredential(s.scope, token, mech)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.manager.repo.Save(ctx, cred); err != nil {
		s.logger.Error("failed to persist credential", zap.Error(err))
		return services.Wrap(services.ErrCredentialStore, err)
	}
	s.publishLocked(true)
	return nil
}

func (s *Store) load(ctx context.Context) *models.Credential {
	cred, err := s.manager.repo.Load(ctx, s.scope)
	if err != nil {
		if !errors.Is(err, repositories.ErrCredentialNotFound) {
			s.logger.Warn("failed to read credential", zap.Error(err))
		}
		return nil
	}
	return cred
}

func (s *Store) subjectOf(token, fallback string) string {
	claims, err := s.manager.decoder.Decode(token)
	if err != nil {
		return fallback
	}
	if name := claims.SubjectName(); name != "" {
		return name
	}
	return fallback
}

func (s *Store) event(ctx context.Context, kind models.AuthEventKind) *models.AuthEvent {
	return models.NewAuthEvent(s.scope, kind).WithRequest(RequestID(ctx))
}

func (s *Store) failure(ctx context.Context, kind models.AuthEventKind, err error) *models.AuthEvent {
	return s.event(ctx, kind).WithDetails(map[string]interface{}{
		"error": err.Error(),
		"type":  string(services.GetErrorType(err)),
	})
}
