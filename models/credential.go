package models

import (
	"fmt"
	"time"
)

// Mechanism tags how the stored token was obtained
type Mechanism string

const (
	// MechanismForm marks tokens issued by the interactive username/password login
	MechanismForm Mechanism = "form"
	// MechanismKerberos marks tokens issued by the passive (ambient trust) handshake
	MechanismKerberos Mechanism = "kerberos"
)

// Valid reports whether m is a known mechanism
func (m Mechanism) Valid() bool {
	return m == MechanismForm || m == MechanismKerberos
}

// Passive reports whether the token came from the non-interactive handshake
func (m Mechanism) Passive() bool {
	return m == MechanismKerberos
}

// ParseMechanism converts a persisted tag back into a Mechanism
func ParseMechanism(s string) (Mechanism, error) {
	m := Mechanism(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown auth mechanism %q", s)
	}
	return m, nil
}

// Persisted storage keys, matching what the browser client kept in local storage
const (
	TokenKey     = "authToken"
	MechanismKey = "auth_type"
)

// Credential is the persisted token and its mechanism tag.
// Repositories always write and clear both fields together.
type Credential struct {
	Scope     string    `json:"scope" db:"scope"`
	Token     string    `json:"token" db:"auth_token"`
	Mechanism Mechanism `json:"mechanism" db:"auth_type"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Credential model
func (Credential) TableName() string {
	return "spa_credentials"
}

// NewCredential creates a Credential for the given scope
func NewCredential(scope, token string, mechanism Mechanism) *Credential {
	return &Credential{
		Scope:     scope,
		Token:     token,
		Mechanism: mechanism,
		UpdatedAt: time.Now(),
	}
}

// Validate rejects half-written pairs
func (c *Credential) Validate() error {
	if c.Scope == "" {
		return fmt.Errorf("credential scope is required")
	}
	if c.Token == "" {
		return fmt.Errorf("credential token is required")
	}
	if !c.Mechanism.Valid() {
		return fmt.Errorf("credential mechanism %q is invalid", c.Mechanism)
	}
	return nil
}
