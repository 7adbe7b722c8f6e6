// ABOUTME: The four principal variants a request can resolve to, and caretaker roles
// ABOUTME: Principal is a sealed interface; only this package defines its implementations

package auth

import "strings"

// PrincipalKind is the discriminant carried in every token's "kind" claim.
type PrincipalKind string

const (
	PrincipalSysAdmin  PrincipalKind = "sysadmin"
	PrincipalSetup     PrincipalKind = "setup"
	PrincipalAccount   PrincipalKind = "account"
	PrincipalCaretaker PrincipalKind = "caretaker"
)

// Principal is the resolved identity of a caller.
type Principal interface {
	Kind() PrincipalKind
	principal()
}

// SystemAdministrator operates across all families.
type SystemAdministrator struct{}

// SetupSession may only complete provisioning, optionally of a single family.
type SetupSession struct {
	SetupToken string
	FamilyID   string
}

// AccountOwner is a directly-authenticated subscription holder.
// CaretakerID and CaretakerRole are set when the account is linked to a caretaker.
type AccountOwner struct {
	AccountID     string
	Email         string
	Verified      bool
	FamilyID      string
	CaretakerID   string
	CaretakerRole Role
	Entitlement   Entitlement
}

// CaretakerSession is a family-scoped caretaker login.
type CaretakerSession struct {
	CaretakerID string
	Role        Role
	Type        string
	FamilyID    string
	FamilySlug  string
	System      bool // the family's built-in system caretaker
}

func (SystemAdministrator) Kind() PrincipalKind { return PrincipalSysAdmin }
func (SetupSession) Kind() PrincipalKind        { return PrincipalSetup }
func (AccountOwner) Kind() PrincipalKind        { return PrincipalAccount }
func (CaretakerSession) Kind() PrincipalKind    { return PrincipalCaretaker }

func (SystemAdministrator) principal() {}
func (SetupSession) principal()        {}
func (AccountOwner) principal()        {}
func (CaretakerSession) principal()    {}

// Role orders what a caller may do inside a family.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
	RoleOwner Role = "OWNER"
)

func (r Role) rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	case RoleOwner:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether r is min or higher. Unknown roles satisfy nothing.
func (r Role) AtLeast(min Role) bool {
	return r.rank() > 0 && r.rank() >= min.rank()
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r.rank() > 0
}

// ParseRole normalizes a stored role name.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}
