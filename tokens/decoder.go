package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when the token cannot be decoded
	ErrMalformedToken = errors.New("malformed token")

	// ErrInvalidSignature is returned when a verifying decoder rejects the signature
	ErrInvalidSignature = errors.New("invalid token signature")
)

// Decoder turns a bearer string into claims. Expiry is not enforced here;
// callers check it with Claims.Expired so an expired token still yields its claims.
type Decoder interface {
	Decode(token string) (*Claims, error)
}

// UnverifiedDecoder reads claims without checking the signature, the way a
// browser client inspects its own token.
type UnverifiedDecoder struct {
	parser *jwt.Parser
}

// NewUnverifiedDecoder creates a decoder that skips signature verification
func NewUnverifiedDecoder() *UnverifiedDecoder {
	return &UnverifiedDecoder{
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}
}

// Decode parses the token payload
func (d *UnverifiedDecoder) Decode(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}
	claims := &Claims{}
	if _, _, err := d.parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// HMACDecoder verifies HS256/HS384/HS512 signatures against a shared secret
type HMACDecoder struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACDecoder creates a verifying decoder
func NewHMACDecoder(secret []byte) *HMACDecoder {
	return &HMACDecoder{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{
				jwt.SigningMethodHS256.Alg(),
				jwt.SigningMethodHS384.Alg(),
				jwt.SigningMethodHS512.Alg(),
			}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Decode verifies the signature and parses the claims
func (d *HMACDecoder) Decode(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}
	claims := &Claims{}
	_, err := d.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return d.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// NewDecoder picks the verifying decoder when a secret is configured
func NewDecoder(secret string) Decoder {
	if secret == "" {
		return NewUnverifiedDecoder()
	}
	return NewHMACDecoder([]byte(secret))
}

// Live reports whether token decodes and has not expired at now.
// Every decode failure is reported as false.
func Live(d Decoder, token string, now time.Time) bool {
	if token == "" {
		return false
	}
	claims, err := d.Decode(token)
	if err != nil {
		return false
	}
	return !claims.Expired(now)
}
