// ABOUTME: In-memory registry of revoked tokens, bounded by each token's own expiry
// ABOUTME: Entries are keyed by SHA-256 digest and swept once the token would have expired anyway

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUndecodableToken is returned by Revoke when no expiry can be read from the token.
var ErrUndecodableToken = errors.New("token cannot be decoded for revocation")

// RevocationRegistry is the process-wide set of logged-out tokens.
// Lookups and inserts never wait on a sweep in progress.
type RevocationRegistry struct {
	entries sync.Map // digest -> time.Time expiry
	now     func() time.Time
	logger  *slog.Logger
}

// NewRevocationRegistry creates an empty registry. A nil clock uses time.Now.
func NewRevocationRegistry(now func() time.Time, logger *slog.Logger) *RevocationRegistry {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RevocationRegistry{
		now:    now,
		logger: logger.With("component", "revocation"),
	}
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Revoke records token until its own expiry. The signature is not checked;
// the token is decoded only to learn how long the entry must live.
func (r *RevocationRegistry) Revoke(token string) error {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodableToken, err)
	}
	if claims.ExpiresAt == nil {
		return fmt.Errorf("%w: no exp claim", ErrUndecodableToken)
	}

	r.entries.Store(tokenDigest(token), claims.ExpiresAt.Time)
	return nil
}

// IsRevoked reports whether token has been revoked.
func (r *RevocationRegistry) IsRevoked(token string) bool {
	_, ok := r.entries.Load(tokenDigest(token))
	return ok
}

// Sweep drops every entry whose expiry is at or before now and returns how many were removed.
func (r *RevocationRegistry) Sweep(now time.Time) int {
	removed := 0
	r.entries.Range(func(key, value any) bool {
		if exp, ok := value.(time.Time); ok && !exp.After(now) {
			if r.entries.CompareAndDelete(key, value) {
				removed++
			}
		}
		return true
	})
	return removed
}

// Len returns the number of live entries.
func (r *RevocationRegistry) Len() int {
	n := 0
	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Run sweeps on every tick until ctx is done.
func (r *RevocationRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.logger.Debug("swept revoked tokens", "removed", n, "remaining", r.Len())
			}
		}
	}
}
