// ABOUTME: JWT token issuance and verification for every principal kind
// ABOUTME: Uses HS256 signing; revocation is checked before any signature work

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrRevokedToken = errors.New("token revoked")
	ErrMissingClaim = errors.New("missing required claim")
)

// MinSecretLength is the minimum HS256 secret size in bytes.
const MinSecretLength = 32

// DefaultTokenLifetime applies when no lifetime is configured.
const DefaultTokenLifetime = 7 * 24 * time.Hour

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// Issuer mints signed tokens for principals.
type Issuer interface {
	Issue(p Principal) (token string, expiresAt time.Time, err error)
}

// JWTVerifier implements TokenVerifier and Issuer using HS256 signed JWTs
type JWTVerifier struct {
	secret   []byte
	lifetime time.Duration
	registry *RevocationRegistry
	now      func() time.Time
}

// NewJWTVerifier creates a verifier. The registry may be nil when revocation
// is not needed; a nil clock uses time.Now.
func NewJWTVerifier(secret []byte, lifetime time.Duration, registry *RevocationRegistry, now func() time.Time) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	if now == nil {
		now = time.Now
	}
	return &JWTVerifier{
		secret:   secret,
		lifetime: lifetime,
		registry: registry,
		now:      now,
	}, nil
}

// Verify checks revocation, then signature and expiry, and returns the claims as signed.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	if v.registry != nil && v.registry.IsRevoked(tokenString) {
		return nil, ErrRevokedToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Issue creates a signed token for p valid for the configured lifetime.
func (v *JWTVerifier) Issue(p Principal) (string, time.Time, error) {
	claims, err := claimsFor(p)
	if err != nil {
		return "", time.Time{}, err
	}

	now := v.now()
	expiresAt := now.Add(v.lifetime)
	claims.ID = uuid.New().String()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt.Truncate(time.Second), nil
}

// Revoke adds token to the revocation registry.
func (v *JWTVerifier) Revoke(token string) error {
	if v.registry == nil {
		return errors.New("revocation registry not configured")
	}
	return v.registry.Revoke(token)
}
