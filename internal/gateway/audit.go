// ABOUTME: Security audit recording and the administrator audit log endpoint
// ABOUTME: Audit writes never fail the request that triggered them

package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/nursery-gateway/internal/auth"
	"github.com/2389/nursery-gateway/internal/store"
)

// AuditEntryResponse is the JSON form of an audit entry.
type AuditEntryResponse struct {
	ID         string         `json:"id"`
	ActorKind  string         `json:"actorKind"`
	ActorID    string         `json:"actorId,omitempty"`
	FamilyID   string         `json:"familyId,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId,omitempty"`
	Source     string         `json:"source,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
}

func newAuditEntryResponse(e store.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:         e.ID,
		ActorKind:  e.ActorKind,
		ActorID:    e.ActorID,
		FamilyID:   e.FamilyID,
		Action:     string(e.Action),
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Source:     e.Source,
		Timestamp:  e.Timestamp,
		Detail:     e.Detail,
	}
}

// audit appends e, stamping it with the gateway clock and the request's
// client address.
func (g *Gateway) audit(ctx context.Context, r *http.Request, e store.AuditEntry) {
	e.Timestamp = g.now().UTC()
	if r != nil {
		e.Source = auth.ClientIP(r, g.config.Server.TrustProxy)
	}
	if err := g.store.AppendAuditLog(ctx, &e); err != nil {
		g.logger.Warn("appending audit entry", "action", e.Action, "error", err)
	}
}

// auditActor fills the actor fields of e from a principal.
func auditActor(e *store.AuditEntry, p auth.Principal) {
	e.ActorKind = string(p.Kind())
	switch v := p.(type) {
	case auth.CaretakerSession:
		e.ActorID = v.CaretakerID
		e.FamilyID = v.FamilyID
	case auth.AccountOwner:
		e.ActorID = v.AccountID
		e.FamilyID = v.FamilyID
	case auth.SetupSession:
		e.FamilyID = v.FamilyID
	}
}

// handleListAudit handles GET /api/admin/audit.
func (g *Gateway) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.AuditFilter

	if v := q.Get("familyId"); v != "" {
		f.FamilyID = &v
	}
	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		if !action.IsValid() {
			writeError(w, http.StatusBadRequest, codeBadRequest, "unknown audit action")
			return
		}
		f.Action = &action
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, p.name+" must be an RFC 3339 timestamp")
			return
		}
		*p.dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	entries, err := g.store.ListAuditLog(r.Context(), f)
	if err != nil {
		g.logger.Error("listing audit log", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	resp := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, newAuditEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": resp})
}
