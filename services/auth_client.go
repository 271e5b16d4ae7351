package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/upb/spa-auth/config"
	"github.com/upb/spa-auth/models"
	"go.uber.org/zap"
)

// Remote endpoints, resolved against the configured base URL
const (
	RegisterPath = "/auth/register"
	LoginPath    = "/auth/login"
	RefreshPath  = "/auth/refresh"
	KerberosPath = "/auth/kerberos"
)

const maxResponseBody = 1 << 20

// NegotiateProvider supplies the SPNEGO token for the passive handshake.
// Returning an error means no ambient credentials are available.
type NegotiateProvider func(ctx context.Context, target *url.URL) (string, error)

// AuthClient talks to the remote authentication API
type AuthClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	negotiate  NegotiateProvider
	logger     *zap.Logger
}

// AuthClientOption configures an AuthClient
type AuthClientOption func(*AuthClient)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) AuthClientOption {
	return func(a *AuthClient) {
		a.httpClient = c
	}
}

// WithNegotiateProvider attaches an Authorization: Negotiate header to handshake requests
func WithNegotiateProvider(p NegotiateProvider) AuthClientOption {
	return func(a *AuthClient) {
		a.negotiate = p
	}
}

// NewAuthClient creates a client for the auth API described by cfg
func NewAuthClient(cfg config.AuthConfig, logger *zap.Logger, opts ...AuthClientOption) (*AuthClient, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.APIBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid auth API base URL: %w", err)
	}

	c := &AuthClient{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Register creates an account. It never touches local session state.
func (c *AuthClient) Register(ctx context.Context, req *models.RegisterRequest) error {
	resp, body, err := c.postJSON(ctx, RegisterPath, req)
	if err != nil {
		return Wrap(ErrAuthServiceUnavailable, err).WithDetail("endpoint", RegisterPath)
	}

	switch {
	case isSuccess(resp.StatusCode):
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrUserExists
	case resp.StatusCode == http.StatusBadRequest:
		return Wrap(ErrInvalidInput, errors.New(strings.TrimSpace(string(body)))).
			WithDetail("status", resp.StatusCode)
	default:
		return c.statusError(RegisterPath, resp.StatusCode)
	}
}

// Login exchanges username and password for a bearer token
func (c *AuthClient) Login(ctx context.Context, req *models.LoginRequest) (string, error) {
	resp, body, err := c.postJSON(ctx, LoginPath, req)
	if err != nil {
		return "", Wrap(ErrAuthServiceUnavailable, err).WithDetail("endpoint", LoginPath)
	}

	switch {
	case isSuccess(resp.StatusCode):
		token := decodeToken(body)
		if token == "" {
			c.logger.Warn("login succeeded without a token in the response")
			return "", ErrInvalidCredentials
		}
		return token, nil
	case isDenied(resp.StatusCode):
		return "", ErrInvalidCredentials
	default:
		return "", c.statusError(LoginPath, resp.StatusCode)
	}
}

// Refresh exchanges the current token for a new one
func (c *AuthClient) Refresh(ctx context.Context, token string) (string, error) {
	resp, body, err := c.postJSON(ctx, RefreshPath, models.RefreshRequest{Token: token})
	if err != nil {
		return "", Wrap(ErrAuthServiceUnavailable, err).WithDetail("endpoint", RefreshPath)
	}

	switch {
	case isSuccess(resp.StatusCode):
		fresh := decodeToken(body)
		if fresh == "" {
			return "", ErrRefreshDenied
		}
		return fresh, nil
	case isDenied(resp.StatusCode):
		return "", ErrRefreshDenied
	default:
		return "", c.statusError(RefreshPath, resp.StatusCode)
	}
}

// Kerberos performs the passive handshake. It returns the token from the
// Authorization response header, or "" when the server grants none.
// Transport failures and 5xx answers return ErrHandshakeUnavailable.
func (c *AuthClient) Kerberos(ctx context.Context) (string, error) {
	target := c.endpoint(KerberosPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create handshake request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	if c.negotiate != nil {
		ticket, err := c.negotiate(ctx, target)
		if err != nil {
			c.logger.Debug("no ambient credentials for passive handshake", zap.Error(err))
			return "", nil
		}
		req.Header.Set("Authorization", "Negotiate "+ticket)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Wrap(ErrHandshakeUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", Wrap(ErrHandshakeUnavailable, nil).WithDetail("status", resp.StatusCode)
	}
	if !isSuccess(resp.StatusCode) {
		c.logger.Debug("passive handshake denied", zap.Int("status", resp.StatusCode))
		return "", nil
	}

	return BearerToken(resp.Header.Get("Authorization")), nil
}

// BearerToken strips the "Bearer " scheme from an Authorization header value
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func (c *AuthClient) endpoint(path string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return &u
}

func (c *AuthClient) postJSON(ctx context.Context, path string, payload interface{}) (*http.Response, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path).String(), bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %w", path, err)
	}

	c.logger.Debug("auth API call",
		zap.String("endpoint", path),
		zap.Int("status", resp.StatusCode))

	return resp, body, nil
}

func (c *AuthClient) statusError(path string, status int) error {
	sentinel := ErrUnexpectedResponse
	if status >= http.StatusInternalServerError {
		sentinel = ErrAuthServiceUnavailable
	}
	return Wrap(sentinel, nil).
		WithDetail("endpoint", path).
		WithDetail("status", status)
}

func decodeToken(body []byte) string {
	var tr models.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return ""
	}
	return tr.Token
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func isDenied(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
