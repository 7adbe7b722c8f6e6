// ABOUTME: Tests for identity resolution across all four principal kinds
// ABOUTME: Covers closed tenants, setup scoping, sysadmin family inference and cookie sessions

package auth

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/2389/nursery-gateway/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_NoCredential(t *testing.T) {
	f := newFixture(t, false)

	ac := f.resolver.ResolveCredential(context.Background(), RawCredential{}, RequestHints{})
	assert.False(t, ac.Authenticated)
	require.NotNil(t, ac.Err)
	assert.Equal(t, KindUnauthenticated, ac.Err.Kind)
	assert.Nil(t, ac.Principal)
}

func TestResolve_InvalidAndRevokedTokensAreDistinguishable(t *testing.T) {
	f := newFixture(t, false)
	f.addFamily(t, &store.Family{ID: "fam", Slug: "smith", Name: "Smith"})

	token := f.issue(t, CaretakerSession{CaretakerID: "ct", Role: RoleUser, FamilyID: "fam"})
	require.True(t, f.resolveBearer(token, RequestHints{}).Authenticated)

	require.NoError(t, f.registry.Revoke(token))
	ac := f.resolveBearer(token, RequestHints{})
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindTokenRevoked, ac.Err.Kind)
	assert.Equal(t, 401, ac.Err.Status())

	ac = f.resolveBearer("garbage", RequestHints{})
	assert.Equal(t, KindTokenInvalid, ac.Err.Kind)
	assert.Equal(t, 401, ac.Err.Status())

	assert.Equal(t, 1, f.recorder.failures(KindTokenRevoked))
	assert.Equal(t, 1, f.recorder.failures(KindTokenInvalid))
	assert.Equal(t, 1, f.recorder.resolutions(PrincipalCaretaker))
}

func TestResolve_ExpiredToken(t *testing.T) {
	f := newFixture(t, false)
	token := f.issue(t, SystemAdministrator{})
	f.clock.Advance(2 * time.Hour)

	ac := f.resolveBearer(token, RequestHints{})
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindTokenInvalid, ac.Err.Kind)
	assert.ErrorIs(t, ac.Err, ErrExpiredToken)
}

func TestResolve_SetupWithoutFamilyNeedsNoStore(t *testing.T) {
	f := newFixture(t, false)
	f.store.FailWith("GetSetupToken", store.ErrInjected)
	f.store.FailWith("GetFamily", store.ErrInjected)

	setup := SetupSession{SetupToken: "tok"}
	ac := f.resolveBearer(f.issue(t, setup), RequestHints{})
	require.True(t, ac.Authenticated)
	assert.True(t, ac.IsSetupAuth)
	assert.False(t, ac.IsSysAdmin)
	assert.False(t, ac.IsAccountAuth)
	assert.Equal(t, setup, ac.Principal)
}

func TestResolve_SetupScope(t *testing.T) {
	tests := []struct {
		name         string
		recordFamily string
		wantErr      ErrorKind
	}{
		{name: "unscoped record", recordFamily: ""},
		{name: "matching record", recordFamily: "F1"},
		{name: "other family", recordFamily: "F2", wantErr: KindSetupScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			require.NoError(t, f.store.CreateSetupToken(context.Background(), &store.SetupToken{
				Token:     "tok",
				FamilyID:  tt.recordFamily,
				ExpiresAt: f.clock.Now().Add(time.Hour),
			}))

			ac := f.resolveBearer(f.issue(t, SetupSession{SetupToken: "tok"}), RequestHints{FamilyID: "F1"})
			if tt.wantErr != "" {
				assert.False(t, ac.Authenticated)
				require.NotNil(t, ac.Err)
				assert.Equal(t, tt.wantErr, ac.Err.Kind)
				assert.Equal(t, 403, ac.Err.Status())
				return
			}
			require.True(t, ac.Authenticated)
			assert.True(t, ac.IsSetupAuth)
			assert.Equal(t, "F1", ac.FamilyID)
		})
	}
}

func TestResolve_SetupScopedToClosedFamily(t *testing.T) {
	f := newFixture(t, true)
	owner := f.addAccount(t, &store.Account{Email: "o@example.com", Subscription: store.Subscription{Closed: true}})
	f.addFamily(t, &store.Family{ID: "F1", Slug: "closed", Name: "Closed", AccountID: owner.ID})
	require.NoError(t, f.store.CreateSetupToken(context.Background(), &store.SetupToken{Token: "tok", FamilyID: "F1"}))

	ac := f.resolveBearer(f.issue(t, SetupSession{SetupToken: "tok"}), RequestHints{FamilyID: "F1"})
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindTenantClosed, ac.Err.Kind)
}

func TestResolve_SetupRecordMissing(t *testing.T) {
	f := newFixture(t, false)

	ac := f.resolveBearer(f.issue(t, SetupSession{SetupToken: "gone"}), RequestHints{FamilyID: "F1"})
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindTokenInvalid, ac.Err.Kind)
}

func TestResolve_AccountWithLinkedCaretaker(t *testing.T) {
	f := newFixture(t, true)

	trialEnds := f.clock.Now().Add(24 * time.Hour)
	acct := f.addAccount(t, &store.Account{
		ID:           "acct",
		Email:        "owner@example.com",
		Verified:     true,
		FamilyID:     "fam",
		CaretakerID:  "ct",
		Subscription: store.Subscription{TrialEnds: &trialEnds},
	})
	f.addFamily(t, &store.Family{ID: "fam", Slug: "smith", Name: "Smith", AccountID: acct.ID})
	f.addCaretaker(t, &store.Caretaker{ID: "ct", FamilyID: "fam", LoginID: "01", Type: "PARENT", Role: "ADMIN"})

	claimed := AccountOwner{AccountID: "acct", Email: "owner@example.com", Verified: true, FamilyID: "fam"}
	ac := f.resolveBearer(f.issue(t, claimed), RequestHints{})
	require.True(t, ac.Authenticated, "err: %v", ac.Err)

	assert.True(t, ac.IsAccountAuth)
	assert.False(t, ac.IsSysAdmin)
	assert.False(t, ac.IsSetupAuth)
	assert.Equal(t, "acct", ac.AccountID)
	assert.Equal(t, "owner@example.com", ac.AccountEmail)
	assert.True(t, ac.Verified)
	assert.Equal(t, "fam", ac.FamilyID)
	assert.Equal(t, "smith", ac.FamilySlug)
	assert.Equal(t, "ct", ac.CaretakerID)
	assert.Equal(t, RoleAdmin, ac.CaretakerRole)
	assert.Equal(t, RoleAdmin, ac.EffectiveRole())
	assert.False(t, ac.Entitlement.IsExpired)

	owner, ok := ac.Principal.(AccountOwner)
	require.True(t, ok)
	assert.Equal(t, claimed.AccountID, owner.AccountID)
	assert.Equal(t, claimed.Email, owner.Email)
	assert.Equal(t, "ct", owner.CaretakerID)
	assert.Equal(t, RoleAdmin, owner.CaretakerRole)
}

func TestResolve_AccountWithInactiveLinkHasNoRole(t *testing.T) {
	tests := []struct {
		name      string
		caretaker *store.Caretaker
	}{
		{name: "inactive", caretaker: &store.Caretaker{ID: "ct", FamilyID: "fam", LoginID: "01", Type: "PARENT", Role: "USER", Inactive: true}},
		{name: "deleted", caretaker: &store.Caretaker{ID: "ct", FamilyID: "fam", LoginID: "01", Type: "PARENT", Role: "USER", Deleted: true}},
		{name: "missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			acct := f.addAccount(t, &store.Account{ID: "acct", Email: "owner@example.com", FamilyID: "fam", CaretakerID: "ct"})
			f.addFamily(t, &store.Family{ID: "fam", Slug: "smith", Name: "Smith", AccountID: acct.ID})
			if tt.caretaker != nil {
				f.addCaretaker(t, tt.caretaker)
			}

			ac := f.resolveBearer(f.issue(t, AccountOwner{AccountID: "acct"}), RequestHints{})
			require.True(t, ac.Authenticated, "err: %v", ac.Err)
			assert.True(t, ac.CaretakerLinked)
			assert.Empty(t, ac.CaretakerID)
			assert.Equal(t, Role(""), ac.EffectiveRole())

			err := CheckRole(ac, RoleAdmin)
			require.NotNil(t, err)
			assert.Equal(t, KindInsufficientRole, err.Kind)
			assert.NotNil(t, CheckRole(ac, RoleUser))
			assert.Nil(t, CheckAccountOwner(ac))
		})
	}
}

func TestResolve_AccountWithoutCaretakerOwnsFamily(t *testing.T) {
	f := newFixture(t, false)
	f.addAccount(t, &store.Account{ID: "acct", Email: "solo@example.com"})

	ac := f.resolveBearer(f.issue(t, AccountOwner{AccountID: "acct"}), RequestHints{})
	require.True(t, ac.Authenticated)
	assert.Empty(t, ac.CaretakerID)
	assert.Equal(t, RoleOwner, ac.EffectiveRole())
	// self-hosted: an account with no plan is never expired
	assert.False(t, ac.Entitlement.IsExpired)
}

func TestResolve_AccountEntitlementExpiredInSaaS(t *testing.T) {
	f := newFixture(t, true)
	f.addAccount(t, &store.Account{ID: "acct", Email: "late@example.com"})

	ac := f.resolveBearer(f.issue(t, AccountOwner{AccountID: "acct"}), RequestHints{})
	require.True(t, ac.Authenticated)
	assert.True(t, ac.Entitlement.IsExpired)
	assert.Equal(t, ExpirationNoPlan, ac.Entitlement.ExpirationType)
}

func TestResolve_ClosedTenantFailsEveryVariant(t *testing.T) {
	f := newFixture(t, true)

	owner := f.addAccount(t, &store.Account{ID: "owner", Email: "owner@example.com", FamilyID: "fam"})
	f.addFamily(t, &store.Family{ID: "fam", Slug: "smith", Name: "Smith", AccountID: owner.ID})
	f.addAccount(t, &store.Account{ID: "member", Email: "member@example.com", FamilyID: "fam"})
	f.addCaretaker(t, &store.Caretaker{ID: "ct", FamilyID: "fam", LoginID: "01", Role: "USER"})

	caretakerToken := f.issue(t, CaretakerSession{CaretakerID: "ct", Role: RoleUser, FamilyID: "fam"})
	ownerToken := f.issue(t, AccountOwner{AccountID: "owner"})
	memberToken := f.issue(t, AccountOwner{AccountID: "member"})

	require.True(t, f.resolveBearer(caretakerToken, RequestHints{}).Authenticated)
	require.NoError(t, f.store.UpdateSubscription("owner", store.Subscription{Closed: true}))

	ac := f.resolveBearer(caretakerToken, RequestHints{})
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindTenantClosed, ac.Err.Kind)

	ac = f.resolver.ResolveCredential(context.Background(), RawCredential{Kind: CredentialSession, Value: "ct"}, RequestHints{})
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindTenantClosed, ac.Err.Kind)

	ac = f.resolveBearer(ownerToken, RequestHints{})
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindAccountClosed, ac.Err.Kind)

	ac = f.resolveBearer(memberToken, RequestHints{})
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindTenantClosed, ac.Err.Kind)
}

func TestResolve_SysAdminFamilyInference(t *testing.T) {
	f := newFixture(t, false)
	f.addFamily(t, &store.Family{ID: "fam-a", Slug: "alpha", Name: "Alpha"})
	f.addFamily(t, &store.Family{ID: "fam-b", Slug: "beta", Name: "Beta"})
	token := f.issue(t, SystemAdministrator{})

	tests := []struct {
		name     string
		hints    RequestHints
		wantID   string
		wantSlug string
	}{
		{name: "query parameter", hints: RequestHints{FamilyID: "fam-b", Path: "/alpha/log"}, wantID: "fam-b", wantSlug: "beta"},
		{name: "path slug", hints: RequestHints{Path: "/alpha/log"}, wantID: "fam-a", wantSlug: "alpha"},
		{name: "unknown query falls through to path", hints: RequestHints{FamilyID: "nope", Path: "/beta"}, wantID: "fam-b", wantSlug: "beta"},
		{name: "referer path", hints: RequestHints{Path: "/api/activities", Referer: "https://nursery.example/beta/dashboard"}, wantID: "fam-b", wantSlug: "beta"},
		{name: "reserved segment only", hints: RequestHints{Path: "/api/activities"}},
		{name: "nothing to infer", hints: RequestHints{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac := f.resolveBearer(token, tt.hints)
			require.True(t, ac.Authenticated)
			assert.True(t, ac.IsSysAdmin)
			assert.Equal(t, SystemAdministrator{}, ac.Principal)
			assert.Equal(t, tt.wantID, ac.FamilyID)
			assert.Equal(t, tt.wantSlug, ac.FamilySlug)
		})
	}
}

func TestResolve_SysAdminInferenceIgnoresStoreErrors(t *testing.T) {
	f := newFixture(t, false)
	f.store.FailWith("GetFamilyBySlug", store.ErrInjected)

	ac := f.resolveBearer(f.issue(t, SystemAdministrator{}), RequestHints{Path: "/alpha"})
	require.True(t, ac.Authenticated)
	assert.Empty(t, ac.FamilyID)
}

func TestResolve_CaretakerBearerTrustsClaims(t *testing.T) {
	f := newFixture(t, true)
	future := f.clock.Now().Add(30 * 24 * time.Hour)
	owner := f.addAccount(t, &store.Account{Email: "o@example.com", Subscription: store.Subscription{PlanExpires: &future, PlanType: "monthly"}})
	f.addFamily(t, &store.Family{ID: "fam", Slug: "smith", Name: "Smith", AccountID: owner.ID})

	// the caretaker record is not consulted for bearer tokens
	sess := CaretakerSession{CaretakerID: "ct-ghost", Role: RoleAdmin, Type: "NANNY", FamilyID: "fam", FamilySlug: "smith"}
	ac := f.resolveBearer(f.issue(t, sess), RequestHints{})
	require.True(t, ac.Authenticated, "err: %v", ac.Err)

	assert.True(t, ac.IsCaretakerSession())
	assert.Equal(t, sess, ac.Principal)
	assert.Equal(t, "ct-ghost", ac.CaretakerID)
	assert.Equal(t, RoleAdmin, ac.CaretakerRole)
	assert.Equal(t, "NANNY", ac.CaretakerType)
	assert.Equal(t, "smith", ac.FamilySlug)
	assert.False(t, ac.Entitlement.IsExpired)
	assert.Equal(t, "monthly", ac.Entitlement.PlanType)
}

func TestResolve_CaretakerInOwnerlessFamilyIsNotEnforced(t *testing.T) {
	f := newFixture(t, true)
	f.addFamily(t, &store.Family{ID: "fam", Slug: "home", Name: "Home"})

	ac := f.resolveBearer(f.issue(t, CaretakerSession{CaretakerID: "ct", Role: RoleUser, FamilyID: "fam"}), RequestHints{})
	require.True(t, ac.Authenticated)
	assert.False(t, ac.Entitlement.IsExpired)
}

func TestResolve_CookieSessionReadsStore(t *testing.T) {
	f := newFixture(t, false)
	f.addFamily(t, &store.Family{ID: "fam", Slug: "smith", Name: "Smith"})
	f.addCaretaker(t, &store.Caretaker{ID: "ct", FamilyID: "fam", LoginID: "07", Type: "GRANDPARENT", Role: "ADMIN"})

	req := httptest.NewRequest("GET", "/api/activities", nil)
	req.Header.Set("Cookie", DefaultCookieName+"=ct")

	ac := f.resolver.Resolve(req)
	require.True(t, ac.Authenticated, "err: %v", ac.Err)
	assert.Equal(t, RoleAdmin, ac.CaretakerRole)
	assert.Equal(t, "GRANDPARENT", ac.CaretakerType)
	assert.Equal(t, "fam", ac.FamilyID)
	assert.Equal(t, "smith", ac.FamilySlug)
	assert.False(t, ac.IsSystemCaretaker)

	require.NoError(t, f.store.SetCaretakerStatus("ct", true, false))
	ac = f.resolver.Resolve(req)
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindUnauthenticated, ac.Err.Kind)

	require.NoError(t, f.store.SetCaretakerStatus("ct", false, true))
	ac = f.resolver.Resolve(req)
	assert.False(t, ac.Authenticated)

	unknown := httptest.NewRequest("GET", "/api/activities", nil)
	unknown.Header.Set("Cookie", DefaultCookieName+"=nobody")
	ac = f.resolver.Resolve(unknown)
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindUnauthenticated, ac.Err.Kind)
}

func TestResolve_SystemCaretakerPolicy(t *testing.T) {
	tests := []struct {
		name      string
		authMode  string
		regulars  int
		wantAllow bool
	}{
		{name: "system mode without regulars", authMode: store.AuthModeSystem, regulars: 0, wantAllow: true},
		{name: "system mode with regulars", authMode: store.AuthModeSystem, regulars: 1, wantAllow: false},
		{name: "caretaker mode without regulars", authMode: store.AuthModeCaretaker, regulars: 0, wantAllow: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.addFamily(t, &store.Family{ID: "fam", Slug: "fam", Name: "Fam", AuthMode: tt.authMode})
			f.addCaretaker(t, &store.Caretaker{ID: "sys", FamilyID: "fam", LoginID: store.SystemLoginID, Role: "USER"})
			for i := 0; i < tt.regulars; i++ {
				f.addCaretaker(t, &store.Caretaker{FamilyID: "fam", LoginID: fmt.Sprintf("1%d", i), Role: "USER"})
			}

			bearer := f.resolveBearer(f.issue(t, CaretakerSession{CaretakerID: "sys", Role: RoleUser, FamilyID: "fam", System: true}), RequestHints{})
			cookie := f.resolver.ResolveCredential(context.Background(), RawCredential{Kind: CredentialSession, Value: "sys"}, RequestHints{})

			for _, ac := range []*AuthContext{bearer, cookie} {
				assert.Equal(t, tt.wantAllow, ac.Authenticated)
				if tt.wantAllow {
					assert.True(t, ac.IsSystemCaretaker)
				}
			}
		})
	}
}

func TestResolve_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, false)
	f.store.FailWith("GetAccount", store.ErrInjected)

	ac := f.resolveBearer(f.issue(t, AccountOwner{AccountID: "acct"}), RequestHints{})
	assert.False(t, ac.Authenticated)
	assert.Equal(t, KindInternal, ac.Err.Kind)
	assert.Equal(t, 500, ac.Err.Status())
	assert.ErrorIs(t, ac.Err, store.ErrInjected)
}

func TestResolve_ConcurrentTenantsStayIsolated(t *testing.T) {
	f := newFixture(t, false)

	const families = 20
	tokens := make([]string, families)
	for i := 0; i < families; i++ {
		id := fmt.Sprintf("fam-%d", i)
		f.addFamily(t, &store.Family{ID: id, Slug: fmt.Sprintf("slug-%d", i), Name: id})
		tokens[i] = f.issue(t, CaretakerSession{CaretakerID: fmt.Sprintf("ct-%d", i), Role: RoleUser, FamilyID: id})
	}

	var wg sync.WaitGroup
	errs := make(chan string, families*5)
	for round := 0; round < 5; round++ {
		for i := 0; i < families; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ac := f.resolveBearer(tokens[i], RequestHints{})
				want := fmt.Sprintf("fam-%d", i)
				if !ac.Authenticated || ac.FamilyID != want || ac.FamilySlug != fmt.Sprintf("slug-%d", i) {
					errs <- fmt.Sprintf("token %d resolved to %q", i, ac.FamilyID)
				}
			}(i)
		}
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}
