package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sign issues an HS256 token for claims. It exists for tests and local tooling;
// production tokens come from the remote auth API.
func Sign(secret []byte, claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// NewClaims builds claims for subject expiring after ttl (negative ttl yields an expired token)
func NewClaims(subject string, ttl time.Duration, authorities ...string) *Claims {
	now := time.Now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:    subject,
		Authorities: authorities,
	}
}
