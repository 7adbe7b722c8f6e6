// ABOUTME: JWT claim set for all principal kinds, decoded via the "kind" discriminant
// ABOUTME: Converts between signed claims and typed Principal variants

package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the signed payload of every token the gateway issues.
// Only the fields of the variant named by Kind are populated.
type Claims struct {
	Kind PrincipalKind `json:"kind"`

	// caretaker
	CaretakerID     string `json:"cid,omitempty"`
	Role            string `json:"role,omitempty"`
	CaretakerType   string `json:"ctype,omitempty"`
	SystemCaretaker bool   `json:"sys,omitempty"`

	// caretaker, account and setup
	FamilyID   string `json:"fid,omitempty"`
	FamilySlug string `json:"fslug,omitempty"`

	// account
	AccountID string `json:"aid,omitempty"`
	Email     string `json:"email,omitempty"`
	Verified  bool   `json:"verified,omitempty"`

	// setup
	SetupToken string `json:"setup,omitempty"`

	jwt.RegisteredClaims
}

// Principal decodes the claims into their typed variant, checking the
// discriminant first and then that variant's required fields.
func (c *Claims) Principal() (Principal, error) {
	switch c.Kind {
	case PrincipalSysAdmin:
		return SystemAdministrator{}, nil

	case PrincipalSetup:
		if c.SetupToken == "" {
			return nil, fmt.Errorf("%w: setup", ErrMissingClaim)
		}
		return SetupSession{SetupToken: c.SetupToken, FamilyID: c.FamilyID}, nil

	case PrincipalAccount:
		if c.AccountID == "" {
			return nil, fmt.Errorf("%w: aid", ErrMissingClaim)
		}
		return AccountOwner{
			AccountID: c.AccountID,
			Email:     c.Email,
			Verified:  c.Verified,
			FamilyID:  c.FamilyID,
		}, nil

	case PrincipalCaretaker:
		if c.CaretakerID == "" {
			return nil, fmt.Errorf("%w: cid", ErrMissingClaim)
		}
		if c.FamilyID == "" {
			return nil, fmt.Errorf("%w: fid", ErrMissingClaim)
		}
		role, ok := ParseRole(c.Role)
		if !ok {
			return nil, fmt.Errorf("%w: role %q", ErrInvalidToken, c.Role)
		}
		return CaretakerSession{
			CaretakerID: c.CaretakerID,
			Role:        role,
			Type:        c.CaretakerType,
			FamilyID:    c.FamilyID,
			FamilySlug:  c.FamilySlug,
			System:      c.SystemCaretaker,
		}, nil

	case "":
		return nil, fmt.Errorf("%w: kind", ErrMissingClaim)

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, c.Kind)
	}
}

// claimsFor builds the variant-specific claims for p. Registered claims are
// filled in by the issuer.
func claimsFor(p Principal) (*Claims, error) {
	switch v := p.(type) {
	case SystemAdministrator:
		return &Claims{Kind: PrincipalSysAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "sysadmin"}}, nil
	case SetupSession:
		if v.SetupToken == "" {
			return nil, fmt.Errorf("%w: setup", ErrMissingClaim)
		}
		return &Claims{
			Kind:             PrincipalSetup,
			SetupToken:       v.SetupToken,
			FamilyID:         v.FamilyID,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "setup"},
		}, nil
	case AccountOwner:
		if v.AccountID == "" {
			return nil, fmt.Errorf("%w: aid", ErrMissingClaim)
		}
		return &Claims{
			Kind:             PrincipalAccount,
			AccountID:        v.AccountID,
			Email:            v.Email,
			Verified:         v.Verified,
			FamilyID:         v.FamilyID,
			RegisteredClaims: jwt.RegisteredClaims{Subject: v.AccountID},
		}, nil
	case CaretakerSession:
		if v.CaretakerID == "" || v.FamilyID == "" {
			return nil, fmt.Errorf("%w: cid/fid", ErrMissingClaim)
		}
		return &Claims{
			Kind:             PrincipalCaretaker,
			CaretakerID:      v.CaretakerID,
			Role:             string(v.Role),
			CaretakerType:    v.Type,
			SystemCaretaker:  v.System,
			FamilyID:         v.FamilyID,
			FamilySlug:       v.FamilySlug,
			RegisteredClaims: jwt.RegisteredClaims{Subject: v.CaretakerID},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported principal %T", p)
	}
}
