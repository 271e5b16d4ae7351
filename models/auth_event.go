package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuthEventKind represents a session transition being audited
type AuthEventKind string

const (
	AuthEventLogin           AuthEventKind = "login"
	AuthEventLoginFailed     AuthEventKind = "login_failed"
	AuthEventLogout          AuthEventKind = "logout"
	AuthEventRefresh         AuthEventKind = "refresh"
	AuthEventRefreshFailed   AuthEventKind = "refresh_failed"
	AuthEventHandshake       AuthEventKind = "handshake"
	AuthEventHandshakeDenied AuthEventKind = "handshake_denied"
	AuthEventHandshakeFailed AuthEventKind = "handshake_failed"
	AuthEventRegister        AuthEventKind = "register"
)

// AuthEvent is an audit trail entry for one session transition
type AuthEvent struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Scope      string          `json:"scope" db:"scope"`
	Kind       AuthEventKind   `json:"kind" db:"kind"`
	Mechanism  Mechanism       `json:"mechanism,omitempty" db:"mechanism"`
	Subject    string          `json:"subject,omitempty" db:"subject"`
	Details    json.RawMessage `json:"details,omitempty" db:"details"`
	RequestID  string          `json:"request_id,omitempty" db:"request_id"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
}

// TableName returns the table name for the AuthEvent model
func (AuthEvent) TableName() string {
	return "auth_events"
}

// NewAuthEvent creates a new AuthEvent instance
func NewAuthEvent(scope string, kind AuthEventKind) *AuthEvent {
	return &AuthEvent{
		ID:         uuid.New(),
		Scope:      scope,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}

// WithMechanism sets the mechanism
func (e *AuthEvent) WithMechanism(m Mechanism) *AuthEvent {
	e.Mechanism = m
	return e
}

// WithSubject sets the token subject
func (e *AuthEvent) WithSubject(subject string) *AuthEvent {
	e.Subject = subject
	return e
}

// WithRequest sets the originating request ID
func (e *AuthEvent) WithRequest(requestID string) *AuthEvent {
	e.RequestID = requestID
	return e
}

// WithDetails sets the details
func (e *AuthEvent) WithDetails(details interface{}) *AuthEvent {
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}

// Failed reports whether the event records a failed transition
func (e *AuthEvent) Failed() bool {
	switch e.Kind {
	case AuthEventLoginFailed, AuthEventRefreshFailed, AuthEventHandshakeFailed:
		return true
	}
	return false
}
