// ABOUTME: Session handlers for logout and for describing the resolved caller
// ABOUTME: Logout revokes the presented bearer token and always clears the session cookie

package gateway

import (
	"net/http"
	"time"

	"github.com/2389/nursery-gateway/internal/auth"
	"github.com/2389/nursery-gateway/internal/store"
)

// meResponse describes the resolved AuthContext.
type meResponse struct {
	Kind          auth.PrincipalKind   `json:"kind"`
	CaretakerID   string               `json:"caretakerId,omitempty"`
	Role          auth.Role            `json:"role,omitempty"`
	CaretakerType string               `json:"caretakerType,omitempty"`
	System        bool                 `json:"isSystemCaretaker"`
	AccountID     string               `json:"accountId,omitempty"`
	Email         string               `json:"email,omitempty"`
	Verified      bool                 `json:"verified"`
	FamilyID      string               `json:"familyId,omitempty"`
	FamilySlug    string               `json:"familySlug,omitempty"`
	IsSysAdmin    bool                 `json:"isSysAdmin"`
	IsSetupAuth   bool                 `json:"isSetupAuth"`
	IsAccountAuth bool                 `json:"isAccountAuth"`
	Entitlement   *entitlementResponse `json:"entitlement,omitempty"`
}

type entitlementResponse struct {
	IsExpired      bool                `json:"isExpired"`
	ExpirationType auth.ExpirationType `json:"expirationType,omitempty"`
	ExpirationDate *time.Time          `json:"expirationDate,omitempty"`
}

func newEntitlementResponse(e auth.Entitlement) *entitlementResponse {
	return &entitlementResponse{
		IsExpired:      e.IsExpired,
		ExpirationType: e.ExpirationType,
		ExpirationDate: e.ExpirationDate,
	}
}

// handleMe handles GET /api/auth/me.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	resp := meResponse{
		Kind:          ac.Principal.Kind(),
		CaretakerID:   ac.CaretakerID,
		Role:          ac.EffectiveRole(),
		CaretakerType: ac.CaretakerType,
		System:        ac.IsSystemCaretaker,
		AccountID:     ac.AccountID,
		Email:         ac.AccountEmail,
		Verified:      ac.Verified,
		FamilyID:      ac.FamilyID,
		FamilySlug:    ac.FamilySlug,
		IsSysAdmin:    ac.IsSysAdmin,
		IsSetupAuth:   ac.IsSetupAuth,
		IsAccountAuth: ac.IsAccountAuth,
	}
	if !ac.IsSysAdmin && !ac.IsSetupAuth {
		resp.Entitlement = newEntitlementResponse(ac.Entitlement)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout handles POST /api/auth/logout.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	cred := auth.ExtractCredential(r, g.config.Auth.CookieName)
	if cred.Kind == auth.CredentialBearer {
		if err := g.verifier.Revoke(cred.Value); err != nil {
			g.logger.Error("revoking token on logout", "error", err)
			writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.config.Auth.CookieName,
		Value:    "",
		Path:     "/api",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	ac := auth.FromContext(r.Context())
	entry := store.AuditEntry{
		Action:     store.AuditLogout,
		TargetType: "session",
		Detail:     map[string]any{"credential": cred.Kind.String()},
	}
	auditActor(&entry, ac.Principal)
	g.audit(r.Context(), r, entry)

	g.logger.Info("logged out", "kind", ac.Principal.Kind(), "credential", cred.Kind.String())
	w.WriteHeader(http.StatusNoContent)
}
