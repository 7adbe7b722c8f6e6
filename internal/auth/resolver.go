// ABOUTME: Resolves a request's credential into an AuthContext for one of four principal kinds
// ABOUTME: Consults the identity store for closed tenants, linked caretakers and entitlement

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/nursery-gateway/internal/store"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Verifier    TokenVerifier
	Store       store.IdentityStore
	CookieName  string
	MultiTenant bool // saas deployments enforce entitlement
	Now         func() time.Time
	Logger      *slog.Logger
	Recorder    Recorder
}

// Resolver turns credentials into AuthContexts. It holds no per-request state
// and is safe for concurrent use.
type Resolver struct {
	verifier    TokenVerifier
	store       store.IdentityStore
	cookieName  string
	multiTenant bool
	now         func() time.Time
	logger      *slog.Logger
	recorder    Recorder
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		verifier:    cfg.Verifier,
		store:       cfg.Store,
		cookieName:  cfg.CookieName,
		multiTenant: cfg.MultiTenant,
		now:         cfg.Now,
		logger:      cfg.Logger,
		recorder:    cfg.Recorder,
	}
	if r.cookieName == "" {
		r.cookieName = DefaultCookieName
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "auth")
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	return r
}

// RequestHints carries the request details used to scope setup sessions and
// to infer a system administrator's target family.
type RequestHints struct {
	FamilyID string // explicit familyId query parameter
	Path     string
	Referer  string
}

// HintsFromRequest collects RequestHints from r.
func HintsFromRequest(r *http.Request) RequestHints {
	return RequestHints{
		FamilyID: r.URL.Query().Get("familyId"),
		Path:     r.URL.Path,
		Referer:  r.Referer(),
	}
}

// Resolve resolves the credential carried by r. It never returns nil; a
// failed resolution has Authenticated=false and Err set.
func (r *Resolver) Resolve(req *http.Request) *AuthContext {
	return r.ResolveCredential(req.Context(), ExtractCredential(req, r.cookieName), HintsFromRequest(req))
}

// ResolveCredential resolves an already-extracted credential.
func (r *Resolver) ResolveCredential(ctx context.Context, cred RawCredential, hints RequestHints) *AuthContext {
	ac, authErr := r.resolve(ctx, cred, hints)
	if authErr != nil {
		r.recorder.ResolutionFailed(authErr.Kind)
		if cred.Kind == CredentialNone {
			r.logger.Debug("no credential presented")
		} else {
			r.logger.Warn("auth resolution failed",
				"kind", authErr.Kind,
				"credential", cred.Kind.String(),
				"error", authErr.Error(),
			)
		}
		return Unauthenticated(authErr)
	}

	r.recorder.Resolved(ac.Principal.Kind())
	return ac
}

func (r *Resolver) resolve(ctx context.Context, cred RawCredential, hints RequestHints) (*AuthContext, *Error) {
	switch cred.Kind {
	case CredentialNone:
		return nil, newError(KindUnauthenticated, "authentication required", nil)
	case CredentialSession:
		return r.resolveSession(ctx, cred.Value)
	}

	claims, err := r.verifier.Verify(cred.Value)
	if err != nil {
		switch {
		case errors.Is(err, ErrRevokedToken):
			return nil, newError(KindTokenRevoked, "token has been revoked", err)
		case errors.Is(err, ErrExpiredToken):
			return nil, newError(KindTokenInvalid, "token expired", err)
		default:
			return nil, newError(KindTokenInvalid, "invalid token", err)
		}
	}

	p, err := claims.Principal()
	if err != nil {
		return nil, newError(KindTokenInvalid, "invalid token", err)
	}

	switch v := p.(type) {
	case SetupSession:
		return r.resolveSetup(ctx, v, hints)
	case AccountOwner:
		return r.resolveAccount(ctx, v)
	case SystemAdministrator:
		return r.resolveSysAdmin(ctx, hints), nil
	case CaretakerSession:
		return r.resolveCaretaker(ctx, v)
	default:
		return nil, newError(KindTokenInvalid, "invalid token", nil)
	}
}

// storeFailure maps a store error. Missing records mean the credential no
// longer refers to anything.
func storeFailure(err error, what string) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindUnauthenticated, what+" not found", err)
	}
	return newError(KindInternal, "failed to load "+what, err)
}

func (r *Resolver) resolveSetup(ctx context.Context, s SetupSession, hints RequestHints) (*AuthContext, *Error) {
	ac := &AuthContext{
		Authenticated: true,
		Principal:     s,
		IsSetupAuth:   true,
		FamilyID:      s.FamilyID,
	}
	if hints.FamilyID == "" {
		return ac, nil
	}

	rec, err := r.store.GetSetupToken(ctx, s.SetupToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindTokenInvalid, "setup token no longer exists", err)
		}
		return nil, storeFailure(err, "setup token")
	}
	if rec.FamilyID != "" && rec.FamilyID != hints.FamilyID {
		return nil, newError(KindSetupScope, "setup token is not valid for this family", nil)
	}

	ac.FamilyID = hints.FamilyID
	fam, err := r.store.GetFamily(ctx, hints.FamilyID)
	switch {
	case err == nil:
		if fam.Closed() {
			return nil, newError(KindTenantClosed, "family is closed", nil)
		}
		ac.FamilySlug = fam.Slug
	case errors.Is(err, store.ErrNotFound):
		// provisioning may target a family that does not exist yet
	default:
		return nil, storeFailure(err, "family")
	}
	return ac, nil
}

func (r *Resolver) resolveAccount(ctx context.Context, claimed AccountOwner) (*AuthContext, *Error) {
	acct, err := r.store.GetAccount(ctx, claimed.AccountID)
	if err != nil {
		return nil, storeFailure(err, "account")
	}
	if acct.Closed {
		return nil, newError(KindAccountClosed, "account is closed", nil)
	}
	if acct.Family != nil && acct.Family.Closed() {
		return nil, newError(KindTenantClosed, "family is closed", nil)
	}

	owner := claimed
	if acct.FamilyID != "" {
		owner.FamilyID = acct.FamilyID
	}
	owner.Entitlement = EvaluateEntitlement(acct.Subscription, r.now(), r.multiTenant)

	ac := &AuthContext{
		Authenticated: true,
		IsAccountAuth: true,
		AccountID:     owner.AccountID,
		AccountEmail:  owner.Email,
		Verified:      owner.Verified,
		FamilyID:      owner.FamilyID,
		Entitlement:   owner.Entitlement,
	}
	if acct.Family != nil {
		ac.FamilySlug = acct.Family.Slug
	}

	ac.CaretakerLinked = acct.CaretakerID != ""
	if c := acct.Caretaker; c != nil && !c.Inactive && !c.Deleted {
		role, ok := ParseRole(c.Role)
		if !ok {
			return nil, newError(KindInternal, "linked caretaker has an unknown role", nil)
		}
		owner.CaretakerID = c.ID
		owner.CaretakerRole = role
		ac.CaretakerID = c.ID
		ac.CaretakerRole = role
		ac.CaretakerType = c.Type
	}

	ac.Principal = owner
	return ac, nil
}

func (r *Resolver) resolveSysAdmin(ctx context.Context, hints RequestHints) *AuthContext {
	ac := &AuthContext{
		Authenticated: true,
		Principal:     SystemAdministrator{},
		IsSysAdmin:    true,
	}
	if fam := r.inferFamily(ctx, hints); fam != nil {
		ac.FamilyID = fam.ID
		ac.FamilySlug = fam.Slug
	}
	return ac
}

// reservedSegments are first path segments that are never family slugs.
var reservedSegments = map[string]bool{
	"api":     true,
	"admin":   true,
	"health":  true,
	"metrics": true,
	"setup":   true,
	"login":   true,
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	if reservedSegments[strings.ToLower(path)] {
		return ""
	}
	return path
}

// inferFamily picks the family a system administrator is working in, trying
// the familyId parameter, then the first path segment as a slug, then the
// first segment of the Referer path. It only scopes an already-authenticated
// administrator and never grants access on its own.
func (r *Resolver) inferFamily(ctx context.Context, hints RequestHints) *store.Family {
	if hints.FamilyID != "" {
		if fam, err := r.store.GetFamily(ctx, hints.FamilyID); err == nil {
			return fam
		} else if !errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("family inference lookup failed", "family_id", hints.FamilyID, "error", err)
		}
	}

	slugs := []string{firstSegment(hints.Path)}
	if hints.Referer != "" {
		if u, err := url.Parse(hints.Referer); err == nil {
			slugs = append(slugs, firstSegment(u.Path))
		}
	}

	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		fam, err := r.store.GetFamilyBySlug(ctx, slug)
		if err == nil {
			return fam
		}
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("family inference lookup failed", "slug", slug, "error", err)
		}
	}
	return nil
}

// resolveSession loads a cookie session's caretaker fresh from the store.
func (r *Resolver) resolveSession(ctx context.Context, caretakerID string) (*AuthContext, *Error) {
	c, err := r.store.GetCaretaker(ctx, caretakerID)
	if err != nil {
		return nil, storeFailure(err, "session")
	}
	if c.Inactive || c.Deleted {
		return nil, newError(KindUnauthenticated, "caretaker is no longer active", nil)
	}
	role, ok := ParseRole(c.Role)
	if !ok {
		return nil, newError(KindInternal, "caretaker has an unknown role", nil)
	}

	return r.resolveCaretaker(ctx, CaretakerSession{
		CaretakerID: c.ID,
		Role:        role,
		Type:        c.Type,
		FamilyID:    c.FamilyID,
		System:      c.IsSystem(),
	})
}

func (r *Resolver) resolveCaretaker(ctx context.Context, sess CaretakerSession) (*AuthContext, *Error) {
	fam, err := r.store.GetFamily(ctx, sess.FamilyID)
	if err != nil {
		return nil, storeFailure(err, "family")
	}
	if fam.Closed() {
		return nil, newError(KindTenantClosed, "family is closed", nil)
	}

	if sess.System {
		n, err := r.store.CountActiveCaretakers(ctx, fam.ID)
		if err != nil {
			return nil, storeFailure(err, "caretakers")
		}
		if !SystemCaretakerEnabled(fam.AuthMode, n) {
			return nil, newError(KindUnauthenticated, "system caretaker is disabled for this family", nil)
		}
	}

	if sess.FamilySlug == "" {
		sess.FamilySlug = fam.Slug
	}

	ac := &AuthContext{
		Authenticated:     true,
		Principal:         sess,
		CaretakerID:       sess.CaretakerID,
		CaretakerRole:     sess.Role,
		CaretakerType:     sess.Type,
		IsSystemCaretaker: sess.System,
		FamilyID:          sess.FamilyID,
		FamilySlug:        fam.Slug,
	}
	if fam.Owner != nil {
		ac.Entitlement = EvaluateEntitlement(*fam.Owner, r.now(), r.multiTenant)
	}
	return ac, nil
}
