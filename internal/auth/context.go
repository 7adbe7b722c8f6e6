// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// AuthContext is the per-request result of credential resolution.
// When Authenticated is false, Err says why and no principal fields are set.
type AuthContext struct {
	Authenticated bool
	Principal     Principal

	CaretakerID       string
	CaretakerRole     Role
	CaretakerType     string
	IsSystemCaretaker bool
	AccountID         string
	AccountEmail      string
	Verified          bool

	// CaretakerLinked is set when the account is linked to a caretaker,
	// even one that is inactive or deleted and so surfaces no role.
	CaretakerLinked bool

	FamilyID   string
	FamilySlug string

	IsSysAdmin    bool
	IsSetupAuth   bool
	IsAccountAuth bool

	Entitlement Entitlement
	Err         *Error
}

// Unauthenticated returns a failed context carrying err.
func Unauthenticated(err *Error) *AuthContext {
	return &AuthContext{Err: err}
}

// EffectiveRole is the role used by role gates. An account owner acting
// without a linked caretaker owns its family; one whose linked caretaker is
// no longer active has no role.
func (a *AuthContext) EffectiveRole() Role {
	switch {
	case !a.Authenticated:
		return ""
	case a.IsSysAdmin:
		return RoleOwner
	case a.IsAccountAuth && !a.CaretakerLinked && a.CaretakerID == "":
		return RoleOwner
	default:
		return a.CaretakerRole
	}
}

// IsCaretakerSession reports whether the caller is a plain caretaker login.
func (a *AuthContext) IsCaretakerSession() bool {
	return a.Authenticated && !a.IsSysAdmin && !a.IsSetupAuth && !a.IsAccountAuth
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
