// ABOUTME: Login handlers issuing tokens for caretakers, accounts, administrators and setup
// ABOUTME: Every failed attempt is reported to the brute-force guard; success clears it

package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/nursery-gateway/internal/auth"
	"github.com/2389/nursery-gateway/internal/secrets"
	"github.com/2389/nursery-gateway/internal/store"
)

type pinLoginRequest struct {
	FamilySlug string `json:"familySlug"`
	LoginID    string `json:"loginId"`
	PIN        string `json:"pin"`
}

type accountLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type adminLoginRequest struct {
	Password string `json:"password"`
}

type setupLoginRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// loginResponse is returned by every successful login.
type loginResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Kind        string    `json:"kind"`
	CaretakerID string    `json:"caretakerId,omitempty"`
	Role        auth.Role `json:"role,omitempty"`
	FamilyID    string    `json:"familyId,omitempty"`
	FamilySlug  string    `json:"familySlug,omitempty"`
	AccountID   string    `json:"accountId,omitempty"`
}

var errInvalidCredentials = &auth.Error{Kind: auth.KindUnauthenticated, Message: "invalid credentials"}

// loginFailed records a failed attempt and writes 429 when it crossed the
// threshold, 401 otherwise.
func (g *Gateway) loginFailed(w http.ResponseWriter, r *http.Request, reason string) {
	source := auth.SourceFromContext(r.Context())
	status := g.guard.RecordFailure(source)
	g.logger.Info("login failed", "path", r.URL.Path, "source", source, "reason", reason, "failures", status.Failures)

	if status.Locked {
		g.audit(r.Context(), r, store.AuditEntry{
			ActorKind:  "anonymous",
			Action:     store.AuditLockout,
			TargetType: "source",
			TargetID:   source,
			Detail:     map[string]any{"path": r.URL.Path, "reason": reason, "failures": status.Failures},
		})
		auth.WriteError(w, auth.LockedOutError(status))
		return
	}
	auth.WriteError(w, errInvalidCredentials)
}

func (g *Gateway) loginInternalError(w http.ResponseWriter, what string, err error) {
	g.logger.Error("login failed", "stage", what, "error", err)
	writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
}

// issueInto signs a token for p into resp and resets the caller's failure
// count. On false an error response has already been written.
func (g *Gateway) issueInto(w http.ResponseWriter, r *http.Request, p auth.Principal, resp *loginResponse) bool {
	token, expiresAt, err := g.verifier.Issue(p)
	if err != nil {
		g.loginInternalError(w, "issue token", err)
		return false
	}
	g.guard.RecordSuccess(auth.SourceFromContext(r.Context()))

	entry := store.AuditEntry{
		Action:     store.AuditLogin,
		TargetType: "session",
		Detail:     map[string]any{"method": strings.TrimPrefix(r.URL.Path, "/api/auth/")},
	}
	auditActor(&entry, p)
	g.audit(r.Context(), r, entry)

	resp.Token = token
	resp.ExpiresAt = expiresAt
	resp.Kind = string(p.Kind())
	return true
}

// handlePINLogin handles POST /api/auth/pin.
func (g *Gateway) handlePINLogin(w http.ResponseWriter, r *http.Request) {
	var req pinLoginRequest
	if msg, ok := decodeJSON(r, &req); !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, msg)
		return
	}
	if req.FamilySlug == "" || req.LoginID == "" || req.PIN == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "familySlug, loginId and pin are required")
		return
	}

	ctx := r.Context()
	fam, err := g.store.GetFamilyBySlug(ctx, req.FamilySlug)
	if errors.Is(err, store.ErrNotFound) {
		g.loginFailed(w, r, "unknown family")
		return
	}
	if err != nil {
		g.loginInternalError(w, "load family", err)
		return
	}
	if fam.Closed() {
		auth.WriteError(w, &auth.Error{Kind: auth.KindTenantClosed, Message: "family is closed"})
		return
	}

	var (
		ct      *store.Caretaker
		reason  string
		loadErr error
	)
	if req.LoginID == store.SystemLoginID {
		ct, reason, loadErr = g.systemCaretakerLogin(ctx, fam, req.PIN)
	} else {
		ct, reason, loadErr = g.caretakerLogin(ctx, fam, req.LoginID, req.PIN)
	}
	if loadErr != nil {
		g.loginInternalError(w, "load caretaker", loadErr)
		return
	}
	if ct == nil {
		g.loginFailed(w, r, reason)
		return
	}

	role, ok := auth.ParseRole(ct.Role)
	if !ok {
		role = auth.RoleUser
	}
	sess := auth.CaretakerSession{
		CaretakerID: ct.ID,
		Role:        role,
		Type:        ct.Type,
		FamilyID:    fam.ID,
		FamilySlug:  fam.Slug,
		System:      ct.IsSystem(),
	}
	resp := loginResponse{
		CaretakerID: ct.ID,
		Role:        role,
		FamilyID:    fam.ID,
		FamilySlug:  fam.Slug,
	}
	if !g.issueInto(w, r, sess, &resp) {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.config.Auth.CookieName,
		Value:    ct.ID,
		Path:     "/api",
		Expires:  resp.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	g.logger.Info("caretaker logged in", "caretaker_id", ct.ID, "family_id", fam.ID, "system", ct.IsSystem())
	writeJSON(w, http.StatusOK, resp)
}

// systemCaretakerLogin checks the family's shared PIN. A nil caretaker with a
// reason means the attempt failed.
func (g *Gateway) systemCaretakerLogin(ctx context.Context, fam *store.Family, pin string) (*store.Caretaker, string, error) {
	count, err := g.store.CountActiveCaretakers(ctx, fam.ID)
	if err != nil {
		return nil, "", err
	}
	if !auth.SystemCaretakerEnabled(fam.AuthMode, count) {
		return nil, "system caretaker disabled", nil
	}
	if fam.SystemPINHash == "" || secrets.CheckPassword(fam.SystemPINHash, pin) != nil {
		return nil, "wrong system pin", nil
	}

	ct, err := g.store.GetCaretakerByLogin(ctx, fam.ID, store.SystemLoginID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "family has no system caretaker", nil
	}
	if err != nil {
		return nil, "", err
	}
	return ct, "", nil
}

func (g *Gateway) caretakerLogin(ctx context.Context, fam *store.Family, loginID, pin string) (*store.Caretaker, string, error) {
	ct, err := g.store.GetCaretakerByLogin(ctx, fam.ID, loginID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "unknown login id", nil
	}
	if err != nil {
		return nil, "", err
	}
	if ct.Inactive || ct.Deleted {
		return nil, "caretaker inactive", nil
	}
	if secrets.CheckPassword(ct.PINHash, pin) != nil {
		return nil, "wrong pin", nil
	}
	return ct, "", nil
}

// handleAccountLogin handles POST /api/auth/account.
func (g *Gateway) handleAccountLogin(w http.ResponseWriter, r *http.Request) {
	var req accountLoginRequest
	if msg, ok := decodeJSON(r, &req); !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, msg)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "email and password are required")
		return
	}

	acct, err := g.store.GetAccountByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, store.ErrNotFound) {
		g.loginFailed(w, r, "unknown email")
		return
	}
	if err != nil {
		g.loginInternalError(w, "load account", err)
		return
	}
	if secrets.CheckPassword(acct.PasswordHash, req.Password) != nil {
		g.loginFailed(w, r, "wrong password")
		return
	}
	if acct.Closed {
		auth.WriteError(w, &auth.Error{Kind: auth.KindAccountClosed, Message: "account is closed"})
		return
	}

	owner := auth.AccountOwner{
		AccountID:   acct.ID,
		Email:       acct.Email,
		Verified:    acct.Verified,
		FamilyID:    acct.FamilyID,
		CaretakerID: acct.CaretakerID,
	}
	if acct.Caretaker != nil {
		owner.CaretakerRole, _ = auth.ParseRole(acct.Caretaker.Role)
	}

	resp := loginResponse{
		AccountID:   acct.ID,
		CaretakerID: acct.CaretakerID,
		FamilyID:    acct.FamilyID,
		Role:        owner.CaretakerRole,
	}
	if acct.Family != nil {
		resp.FamilySlug = acct.Family.Slug
	}
	if !g.issueInto(w, r, owner, &resp) {
		return
	}
	g.logger.Info("account logged in", "account_id", acct.ID)
	writeJSON(w, http.StatusOK, resp)
}

// handleAdminLogin handles POST /api/auth/admin. The administrator password is
// stored encrypted in app settings; login is refused until one is set.
func (g *Gateway) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if msg, ok := decodeJSON(r, &req); !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, msg)
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "password is required")
		return
	}

	sealed, err := g.store.GetSetting(r.Context(), store.SettingAdminPassword)
	if errors.Is(err, store.ErrNotFound) {
		g.loginFailed(w, r, "admin password not set")
		return
	}
	if err != nil {
		g.loginInternalError(w, "load admin password", err)
		return
	}
	expected, err := g.cipher.Open(store.SettingAdminPassword, sealed)
	if err != nil {
		g.loginInternalError(w, "decrypt admin password", err)
		return
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(req.Password)) != 1 {
		g.loginFailed(w, r, "wrong admin password")
		return
	}

	resp := loginResponse{}
	if !g.issueInto(w, r, auth.SystemAdministrator{}, &resp) {
		return
	}
	g.logger.Info("system administrator logged in", "source", auth.SourceFromContext(r.Context()))
	writeJSON(w, http.StatusOK, resp)
}

// handleSetupLogin handles POST /api/auth/setup.
func (g *Gateway) handleSetupLogin(w http.ResponseWriter, r *http.Request) {
	var req setupLoginRequest
	if msg, ok := decodeJSON(r, &req); !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, msg)
		return
	}
	if req.Token == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "token and password are required")
		return
	}

	rec, err := g.store.GetSetupToken(r.Context(), req.Token)
	if errors.Is(err, store.ErrNotFound) {
		g.loginFailed(w, r, "unknown setup token")
		return
	}
	if err != nil {
		g.loginInternalError(w, "load setup token", err)
		return
	}
	if rec.Used {
		g.loginFailed(w, r, "setup token already used")
		return
	}
	if !g.now().Before(rec.ExpiresAt) {
		g.loginFailed(w, r, "setup token expired")
		return
	}
	if secrets.CheckPassword(rec.PasswordHash, req.Password) != nil {
		g.loginFailed(w, r, "wrong setup password")
		return
	}

	resp := loginResponse{FamilyID: rec.FamilyID}
	if !g.issueInto(w, r, auth.SetupSession{SetupToken: rec.Token, FamilyID: rec.FamilyID}, &resp) {
		return
	}
	g.logger.Info("setup session started", "family_id", rec.FamilyID)
	writeJSON(w, http.StatusOK, resp)
}
