// ABOUTME: HTTP credential extraction, client address detection and the lockout middleware
// ABOUTME: A well-formed bearer header always wins over the session cookie

package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// DefaultCookieName is the session cookie set by PIN login.
const DefaultCookieName = "nursery_session"

// CredentialKind says where a raw credential came from.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialBearer
	CredentialSession
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialBearer:
		return "bearer"
	case CredentialSession:
		return "session"
	default:
		return "none"
	}
}

// RawCredential is at most one unverified credential taken from a request.
type RawCredential struct {
	Kind  CredentialKind
	Value string
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// ExtractCredential returns the request's bearer token, or failing that its
// session cookie. A malformed Authorization header falls back to the cookie.
func ExtractCredential(r *http.Request, cookieName string) RawCredential {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return RawCredential{Kind: CredentialBearer, Value: token}
	}

	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return RawCredential{Kind: CredentialSession, Value: c.Value}
	}

	return RawCredential{Kind: CredentialNone}
}

// ClientIP returns the caller's address. The first X-Forwarded-For hop is only
// believed when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type sourceKey struct{}

// WithSource attaches the guard's source id to ctx.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFromContext returns the source id set by GuardMiddleware.
func SourceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}

// GuardMiddleware rejects locked-out sources with 429 before any credential
// is parsed, and records the source id for handlers that report outcomes.
func GuardMiddleware(g *Guard, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source := ClientIP(r, trustProxy)
			if status := g.Check(source); status.Locked {
				WriteError(w, LockedOutError(status))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSource(r.Context(), source)))
		})
	}
}

// LockedOutError builds the failure for a source that just crossed the threshold.
func LockedOutError(status LockStatus) *Error {
	return &Error{
		Kind:       KindLockedOut,
		Message:    "too many failed attempts, try again later",
		RetryAfter: status.Remaining,
	}
}
