package models

import "time"

// Session is a read-only snapshot of a scope's authentication state
type Session struct {
	Scope         string     `json:"scope"`
	Authenticated bool       `json:"authenticated"`
	Mechanism     Mechanism  `json:"mechanism,omitempty"`
	Subject       string     `json:"subject,omitempty"`
	Authorities   []string   `json:"authorities,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// PendingNavigation is the input of a single guard evaluation
type PendingNavigation struct {
	TargetURL string `json:"target_url"`
	ReturnURL string `json:"return_url"`
}

// NewPendingNavigation returns a navigation whose return URL is its own target
func NewPendingNavigation(target string) PendingNavigation {
	return PendingNavigation{TargetURL: target, ReturnURL: target}
}

// LoginRequest carries interactive credentials for POST /auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

// RegisterRequest carries sign-up data for POST /auth/register
type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required,min=8,max=1024"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Name     string `json:"name,omitempty" validate:"omitempty,max=256"`
}

// TokenResponse is the JSON body returned by /auth/login and /auth/refresh
type TokenResponse struct {
	Token string `json:"token"`
}

// RefreshRequest is the JSON body sent to /auth/refresh
type RefreshRequest struct {
	Token string `json:"token"`
}
