package tokens

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRolePrefix is prepended to role names that do not already carry it
const DefaultRolePrefix = "ROLE_"

// Claims represents the claims carried by a session token
type Claims struct {
	jwt.RegisteredClaims
	Username    string      `json:"username,omitempty"`
	Email       string      `json:"email,omitempty"`
	Authorities Authorities `json:"authorities,omitempty"`
}

// Authorities is the granted role set. Issuers emit either a JSON array or a
// single comma-separated string; both decode to the same slice.
type Authorities []string

// UnmarshalJSON accepts ["ROLE_A","ROLE_B"] or "ROLE_A,ROLE_B"
func (a *Authorities) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = nil
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = list
		return nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("authorities must be a string or an array of strings: %w", err)
	}
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*a = out
	return nil
}

// Contains reports exact membership
func (a Authorities) Contains(role string) bool {
	for _, r := range a {
		if r == role {
			return true
		}
	}
	return false
}

// SubjectName returns sub, falling back to username
func (c *Claims) SubjectName() string {
	if c.RegisteredClaims.Subject != "" {
		return c.RegisteredClaims.Subject
	}
	return c.Username
}

// Expiry returns the embedded expiry, if any
func (c *Claims) Expiry() (time.Time, bool) {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.RegisteredClaims.ExpiresAt.Time, true
}

// Expired reports whether the token is unusable at now.
// A token without an exp claim never counts as live.
func (c *Claims) Expired(now time.Time) bool {
	exp, ok := c.Expiry()
	if !ok {
		return true
	}
	return !exp.After(now)
}

// HasRole normalizes role with prefix and tests it against the authorities claim
func (c *Claims) HasRole(prefix, role string) bool {
	if role == "" {
		return false
	}
	return c.Authorities.Contains(NormalizeRole(prefix, role))
}

// NormalizeRole prepends prefix unless role already starts with it
func NormalizeRole(prefix, role string) string {
	if prefix == "" {
		prefix = DefaultRolePrefix
	}
	if strings.HasPrefix(role, prefix) {
		return role
	}
	return prefix + role
}
