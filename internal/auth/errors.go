// ABOUTME: Typed authentication and authorization failures with HTTP status mapping
// ABOUTME: WriteError renders the JSON failure body shared by gates and the lockout guard

package auth

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind is the machine-readable failure code surfaced to callers.
type ErrorKind string

const (
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindTokenInvalid       ErrorKind = "token_invalid"
	KindTokenRevoked       ErrorKind = "token_revoked"
	KindTenantClosed       ErrorKind = "tenant_closed"
	KindAccountClosed      ErrorKind = "account_closed"
	KindInsufficientRole   ErrorKind = "insufficient_role"
	KindSetupScope         ErrorKind = "setup_token_unauthorized_scope"
	KindEntitlementExpired ErrorKind = "entitlement_expired"
	KindLockedOut          ErrorKind = "locked_out"
	KindInternal           ErrorKind = "internal"
)

// ExpirationInfo is the remediation payload attached to entitlement failures.
type ExpirationInfo struct {
	ExpirationType ExpirationType `json:"expirationType"`
	ExpirationDate *time.Time     `json:"expirationDate,omitempty"`
	FamilySlug     string         `json:"familySlug,omitempty"`
}

// Error is a resolution or authorization failure.
type Error struct {
	Kind       ErrorKind
	Message    string
	Expiration *ExpirationInfo // set for KindEntitlementExpired
	RetryAfter time.Duration   // set for KindLockedOut
	Err        error           // underlying cause, never shown to callers
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps the failure kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindInsufficientRole, KindSetupScope, KindEntitlementExpired:
		return http.StatusForbidden
	case KindLockedOut:
		return http.StatusTooManyRequests
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

type errorBody struct {
	Error             string          `json:"error"`
	Code              ErrorKind       `json:"code"`
	Expiration        *ExpirationInfo `json:"expiration,omitempty"`
	RetryAfterSeconds int             `json:"retry_after_seconds,omitempty"`
}

// WriteError writes e as a JSON failure response.
// Internal causes are never included in the body.
func WriteError(w http.ResponseWriter, e *Error) {
	body := errorBody{
		Error:      e.Message,
		Code:       e.Kind,
		Expiration: e.Expiration,
	}
	if body.Error == "" {
		body.Error = string(e.Kind)
	}

	status := e.Status()
	if e.Kind == KindLockedOut && e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		body.RetryAfterSeconds = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="nursery"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
