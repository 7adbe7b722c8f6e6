// ABOUTME: HTTP authorization gates built on a once-per-request resolved AuthContext
// ABOUTME: Gates reuse an attached context and resolve only when none exists yet

package auth

import (
	"log/slog"
	"net/http"
)

// Authenticator produces gate middleware sharing one Resolver.
type Authenticator struct {
	resolver *Resolver
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(resolver *Resolver, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		resolver: resolver,
		logger:   logger.With("component", "gates"),
	}
}

// contextFor returns the request's AuthContext, resolving and attaching it
// when no earlier stage has.
func (a *Authenticator) contextFor(r *http.Request) (*AuthContext, *http.Request) {
	if ac := FromContext(r.Context()); ac != nil {
		return ac, r
	}
	ac := a.resolver.Resolve(r)
	return ac, r.WithContext(WithAuth(r.Context(), ac))
}

// Resolve attaches the AuthContext without rejecting anything.
func (a *Authenticator) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, r = a.contextFor(r)
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) gate(name string, check func(*AuthContext, *http.Request) *Error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, r := a.contextFor(r)
			if authErr := check(ac, r); authErr != nil {
				a.logger.Debug("request denied", "gate", name, "kind", authErr.Kind, "path", r.URL.Path)
				WriteError(w, authErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects unauthenticated requests with the resolution failure.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return a.gate("auth", func(ac *AuthContext, _ *http.Request) *Error {
		return CheckAuthenticated(ac)
	})(next)
}

// RequireRole rejects callers below min, unless they are the family's system
// caretaker or a system administrator.
func (a *Authenticator) RequireRole(min Role) func(http.Handler) http.Handler {
	return a.gate("role", func(ac *AuthContext, _ *http.Request) *Error {
		return CheckRole(ac, min)
	})
}

// RequireSysAdmin admits only system administrators.
func (a *Authenticator) RequireSysAdmin(next http.Handler) http.Handler {
	return a.gate("sysadmin", func(ac *AuthContext, _ *http.Request) *Error {
		return CheckSysAdmin(ac)
	})(next)
}

// RequireAccountOwner admits account owners and system administrators.
func (a *Authenticator) RequireAccountOwner(next http.Handler) http.Handler {
	return a.gate("account", func(ac *AuthContext, _ *http.Request) *Error {
		return CheckAccountOwner(ac)
	})(next)
}

// RequireSetup admits setup sessions and system administrators.
func (a *Authenticator) RequireSetup(next http.Handler) http.Handler {
	return a.gate("setup", func(ac *AuthContext, _ *http.Request) *Error {
		return CheckSetup(ac)
	})(next)
}

// RequireWrite rejects writes from callers whose entitlement has lapsed.
// Safe methods only need authentication.
func (a *Authenticator) RequireWrite(next http.Handler) http.Handler {
	return a.gate("write", func(ac *AuthContext, r *http.Request) *Error {
		if isSafeMethod(r.Method) {
			return CheckAuthenticated(ac)
		}
		return CheckWrite(ac)
	})(next)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// CheckAuthenticated fails unless ac is authenticated, preferring the
// resolution's own failure.
func CheckAuthenticated(ac *AuthContext) *Error {
	if ac != nil && ac.Authenticated {
		return nil
	}
	if ac != nil && ac.Err != nil {
		return ac.Err
	}
	return newError(KindUnauthenticated, "authentication required", nil)
}

// CheckRole fails unless ac holds at least min.
func CheckRole(ac *AuthContext, min Role) *Error {
	if err := CheckAuthenticated(ac); err != nil {
		return err
	}
	if ac.IsSysAdmin || ac.IsSystemCaretaker || ac.EffectiveRole().AtLeast(min) {
		return nil
	}
	return newError(KindInsufficientRole, string(min)+" role required", nil)
}

// CheckSysAdmin fails unless ac is a system administrator.
func CheckSysAdmin(ac *AuthContext) *Error {
	if err := CheckAuthenticated(ac); err != nil {
		return err
	}
	if !ac.IsSysAdmin {
		return newError(KindInsufficientRole, "system administrator required", nil)
	}
	return nil
}

// CheckAccountOwner fails unless ac is an account owner or system administrator.
func CheckAccountOwner(ac *AuthContext) *Error {
	if err := CheckAuthenticated(ac); err != nil {
		return err
	}
	if !ac.IsAccountAuth && !ac.IsSysAdmin {
		return newError(KindInsufficientRole, "account owner required", nil)
	}
	return nil
}

// CheckSetup fails unless ac is a setup session or system administrator.
func CheckSetup(ac *AuthContext) *Error {
	if err := CheckAuthenticated(ac); err != nil {
		return err
	}
	if !ac.IsSetupAuth && !ac.IsSysAdmin {
		return newError(KindInsufficientRole, "setup session required", nil)
	}
	return nil
}

// CheckWrite fails when ac is unauthenticated (before entitlement is looked
// at) or its entitlement has expired.
func CheckWrite(ac *AuthContext) *Error {
	if err := CheckAuthenticated(ac); err != nil {
		return err
	}
	if ac.Entitlement.IsExpired {
		return &Error{
			Kind:    KindEntitlementExpired,
			Message: "subscription expired, data is read-only",
			Expiration: &ExpirationInfo{
				ExpirationType: ac.Entitlement.ExpirationType,
				ExpirationDate: ac.Entitlement.ExpirationDate,
				FamilySlug:     ac.FamilySlug,
			},
		}
	}
	return nil
}
