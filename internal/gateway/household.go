// ABOUTME: Family-scoped activity log, account status and family provisioning handlers
// ABOUTME: Handlers trust the AuthContext attached by the gates in front of them

package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/nursery-gateway/internal/auth"
	"github.com/2389/nursery-gateway/internal/secrets"
	"github.com/2389/nursery-gateway/internal/store"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500

	idempotencyTTL     = 24 * time.Hour
	maxIdempotencyKeys = 10000
	idempotencyHeader  = "Idempotency-Key"
)

// ActivityResponse is the JSON form of one activity.
type ActivityResponse struct {
	ID          string    `json:"id"`
	CaretakerID string    `json:"caretakerId,omitempty"`
	Kind        string    `json:"kind"`
	Notes       string    `json:"notes,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newActivityResponse(a *store.Activity) ActivityResponse {
	return ActivityResponse{
		ID:          a.ID,
		CaretakerID: a.CaretakerID,
		Kind:        a.Kind,
		Notes:       a.Notes,
		OccurredAt:  a.OccurredAt,
		CreatedAt:   a.CreatedAt,
	}
}

type createActivityRequest struct {
	Kind       string     `json:"kind"`
	Notes      string     `json:"notes"`
	OccurredAt *time.Time `json:"occurredAt"`
}

// FamilyResponse is the JSON form of a family.
type FamilyResponse struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	AuthMode  string    `json:"authMode"`
	AccountID string    `json:"accountId,omitempty"`
	Closed    bool      `json:"closed"`
	CreatedAt time.Time `json:"createdAt"`
}

func newFamilyResponse(f *store.Family) FamilyResponse {
	return FamilyResponse{
		ID:        f.ID,
		Slug:      f.Slug,
		Name:      f.Name,
		AuthMode:  f.AuthMode,
		AccountID: f.AccountID,
		Closed:    f.Closed(),
		CreatedAt: f.CreatedAt,
	}
}

type setupFamilyRequest struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	AuthMode  string `json:"authMode"`
	SystemPIN string `json:"systemPin"`
}

type accountStatusResponse struct {
	AccountID   string               `json:"accountId"`
	Email       string               `json:"email"`
	Verified    bool                 `json:"verified"`
	FamilyID    string               `json:"familyId,omitempty"`
	FamilySlug  string               `json:"familySlug,omitempty"`
	PlanType    string               `json:"planType,omitempty"`
	Beta        bool                 `json:"betaParticipant"`
	Entitlement *entitlementResponse `json:"entitlement"`
}

// familyScope returns the caller's family, writing 400 when there is none.
func familyScope(w http.ResponseWriter, ac *auth.AuthContext) (string, bool) {
	if ac.FamilyID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "no family selected")
		return "", false
	}
	return ac.FamilyID, true
}

// handleListActivities handles GET /api/activities.
func (g *Gateway) handleListActivities(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	familyID, ok := familyScope(w, ac)
	if !ok {
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}

	activities, err := g.store.ListActivities(r.Context(), familyID, limit)
	if err != nil {
		g.logger.Error("listing activities", "family_id", familyID, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	resp := make([]ActivityResponse, 0, len(activities))
	for _, a := range activities {
		resp = append(resp, newActivityResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": resp})
}

// handleCreateActivity handles POST /api/activities.
func (g *Gateway) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	familyID, ok := familyScope(w, ac)
	if !ok {
		return
	}

	// Keys are scoped to the family so two households cannot collide.
	replayKey := ""
	if key := r.Header.Get(idempotencyHeader); key != "" {
		replayKey = familyID + "\x00" + key
		if prev, ok := g.replays.Get(replayKey); ok {
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusCreated, prev)
			return
		}
	}

	var req createActivityRequest
	if msg, ok := decodeJSON(r, &req); !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, msg)
		return
	}
	req.Kind = strings.TrimSpace(req.Kind)
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "kind is required")
		return
	}

	a := &store.Activity{
		FamilyID:    familyID,
		CaretakerID: ac.CaretakerID,
		Kind:        req.Kind,
		Notes:       req.Notes,
		CreatedAt:   g.now().UTC(),
	}
	if req.OccurredAt != nil {
		a.OccurredAt = req.OccurredAt.UTC()
	} else {
		a.OccurredAt = a.CreatedAt
	}

	if err := g.store.CreateActivity(r.Context(), a); err != nil {
		g.logger.Error("creating activity", "family_id", familyID, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	resp := newActivityResponse(a)
	if replayKey != "" {
		g.replays.Put(replayKey, resp)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleDeleteActivity handles DELETE /api/activities/{id}.
func (g *Gateway) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	familyID, ok := familyScope(w, ac)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	err := g.store.DeleteActivity(r.Context(), familyID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "activity not found")
		return
	}
	if err != nil {
		g.logger.Error("deleting activity", "family_id", familyID, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAccountStatus handles GET /api/account/status.
func (g *Gateway) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	if ac.AccountID == "" {
		writeError(w, http.StatusNotFound, codeNotFound, "no account for this session")
		return
	}

	acct, err := g.store.GetAccount(r.Context(), ac.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "account not found")
		return
	}
	if err != nil {
		g.logger.Error("loading account", "account_id", ac.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, accountStatusResponse{
		AccountID:   acct.ID,
		Email:       acct.Email,
		Verified:    acct.Verified,
		FamilyID:    ac.FamilyID,
		FamilySlug:  ac.FamilySlug,
		PlanType:    acct.PlanType,
		Beta:        acct.BetaParticipant,
		Entitlement: newEntitlementResponse(ac.Entitlement),
	})
}

// handleListFamilies handles GET /api/admin/families.
func (g *Gateway) handleListFamilies(w http.ResponseWriter, r *http.Request) {
	families, err := g.store.ListFamilies(r.Context())
	if err != nil {
		g.logger.Error("listing families", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	resp := make([]FamilyResponse, 0, len(families))
	for _, f := range families {
		resp = append(resp, newFamilyResponse(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"families": resp})
}

// handleSetupFamily handles POST /api/setup/families. It creates the family
// and its system caretaker, then consumes the setup token so it cannot be
// used again.
func (g *Gateway) handleSetupFamily(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req setupFamilyRequest
	if msg, ok := decodeJSON(r, &req); !ok {
		writeError(w, http.StatusBadRequest, codeBadRequest, msg)
		return
	}
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if req.Slug == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "slug and name are required")
		return
	}
	if req.AuthMode == "" {
		req.AuthMode = store.AuthModeSystem
	}
	if req.AuthMode != store.AuthModeSystem && req.AuthMode != store.AuthModeCaretaker {
		writeError(w, http.StatusBadRequest, codeBadRequest, "authMode must be SYSTEM or CARETAKER")
		return
	}

	familyID := r.URL.Query().Get("familyId")
	setup, isSetup := ac.Principal.(auth.SetupSession)
	if isSetup && setup.FamilyID != "" {
		if familyID != "" && familyID != setup.FamilyID {
			auth.WriteError(w, &auth.Error{Kind: auth.KindSetupScope, Message: "setup token is not valid for this family"})
			return
		}
		familyID = setup.FamilyID
	}

	fam := &store.Family{
		ID:       familyID,
		Slug:     req.Slug,
		Name:     req.Name,
		AuthMode: req.AuthMode,
	}
	if req.SystemPIN != "" {
		hash, err := secrets.HashPassword(req.SystemPIN)
		if err != nil {
			g.logger.Error("hashing system pin", "error", err)
			writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
			return
		}
		fam.SystemPINHash = hash
	}

	ctx := r.Context()
	prov := store.Provisioning{
		Family: fam,
		System: &store.Caretaker{
			LoginID: store.SystemLoginID,
			Name:    "Household",
			Type:    "SYSTEM",
			Role:    string(auth.RoleAdmin),
		},
	}
	if isSetup {
		usable, err := g.setupTokenUsable(ctx, setup.SetupToken)
		if err != nil {
			g.logger.Error("loading setup token", "error", err)
			writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
			return
		}
		if !usable {
			auth.WriteError(w, &auth.Error{Kind: auth.KindTokenInvalid, Message: "setup token has been used or has expired"})
			return
		}
		prov.SetupToken = setup.SetupToken
	}

	if err := g.store.ProvisionFamily(ctx, prov); err != nil {
		switch {
		case errors.Is(err, store.ErrSetupTokenUsed):
			auth.WriteError(w, &auth.Error{Kind: auth.KindTokenInvalid, Message: "setup token has been used or has expired"})
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, codeConflict, "family already exists")
		default:
			g.logger.Error("provisioning family", "slug", req.Slug, "error", err)
			writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		}
		return
	}

	if isSetup {
		if cred := auth.ExtractCredential(r, g.config.Auth.CookieName); cred.Kind == auth.CredentialBearer {
			if err := g.verifier.Revoke(cred.Value); err != nil {
				g.logger.Warn("revoking setup token", "error", err)
			}
		}
	}

	entry := store.AuditEntry{
		Action:     store.AuditProvisionFamily,
		TargetType: "family",
		TargetID:   fam.ID,
		Detail:     map[string]any{"slug": fam.Slug, "authMode": fam.AuthMode},
	}
	auditActor(&entry, ac.Principal)
	entry.FamilyID = fam.ID
	g.audit(ctx, r, entry)

	g.logger.Info("family provisioned", "family_id", fam.ID, "slug", fam.Slug, "by", ac.Principal.Kind())
	writeJSON(w, http.StatusCreated, newFamilyResponse(fam))
}

// setupTokenUsable reports whether the setup token record behind a setup
// session still exists, is unused and has not expired.
func (g *Gateway) setupTokenUsable(ctx context.Context, token string) (bool, error) {
	rec, err := g.store.GetSetupToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !rec.Used && g.now().Before(rec.ExpiresAt), nil
}
