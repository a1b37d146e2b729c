package gotrue

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
)

// Claims are the access token claims the backend issues.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenDecoder reads identity out of access tokens. With a secret it
// verifies the HS256 signature; without one it trusts the backend and
// only decodes.
type TokenDecoder struct {
	secret []byte
}

// NewTokenDecoder creates a decoder. An empty secret disables verification.
func NewTokenDecoder(secret string) *TokenDecoder {
	d := &TokenDecoder{}
	if secret != "" {
		d.secret = []byte(secret)
	}
	return d
}

// Verifies reports whether signatures are checked.
func (d *TokenDecoder) Verifies() bool { return d.secret != nil }

// Decode parses token. Expiry is not enforced here; callers compare
// ExpiresAt to decide whether to refresh.
func (d *TokenDecoder) Decode(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.New("empty access token")
	}
	claims := &Claims{}

	if d.secret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("decode access token: %w", err)
		}
		return claims, nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return d.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// User returns the identity carried by the claims.
func (c *Claims) User() *auth.User {
	if c.Subject == "" {
		return nil
	}
	return &auth.User{ID: c.Subject, Email: c.Email}
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Identify decodes token and returns its user and expiry.
func (d *TokenDecoder) Identify(token string) (*auth.User, time.Time, error) {
	claims, err := d.Decode(token)
	if err != nil {
		return nil, time.Time{}, err
	}
	return claims.User(), claims.Expiry(), nil
}
