// ABOUTME: Tests for the activity log, account status and family provisioning routes
// ABOUTME: Exercises role, write, account-owner, setup and sysadmin gates through real handlers

package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/nursery-gateway/internal/auth"
	"github.com/2389/nursery-gateway/internal/config"
	"github.com/2389/nursery-gateway/internal/store"
)

func (e *testEnv) caretakerToken(t *testing.T, id string, role auth.Role, familyID string) string {
	return e.token(t, auth.CaretakerSession{CaretakerID: id, Role: role, FamilyID: familyID})
}

func TestActivities_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	user := env.caretakerToken(t, "ct-user", auth.RoleUser, "fam")
	admin := env.caretakerToken(t, "ct-admin", auth.RoleAdmin, "fam")

	occurred := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)
	rec := env.do(t, http.MethodPost, "/api/activities",
		map[string]any{"kind": "feeding", "notes": "120ml", "occurredAt": occurred}, withToken(user))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created ActivityResponse
	decodeBody(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ct-user", created.CaretakerID)
	assert.True(t, occurred.Equal(created.OccurredAt))

	rec = env.do(t, http.MethodGet, "/api/activities", nil, withToken(user))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Activities []ActivityResponse `json:"activities"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Activities, 1)
	assert.Equal(t, "feeding", list.Activities[0].Kind)

	// deleting needs ADMIN
	rec = env.do(t, http.MethodDelete, "/api/activities/"+created.ID, nil, withToken(user))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(auth.KindInsufficientRole), errorCode(t, rec))

	rec = env.do(t, http.MethodDelete, "/api/activities/"+created.ID, nil, withToken(admin))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/activities/"+created.ID, nil, withToken(admin))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivities_FamilyIsolation(t *testing.T) {
	env := newTestEnv(t)
	user := env.caretakerToken(t, "ct-user", auth.RoleUser, "fam")
	require.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/api/activities", map[string]string{"kind": "sleep"}, withToken(user)).Code)

	other := env.caretakerToken(t, "lapsed-user", auth.RoleUser, "lapsed")
	rec := env.do(t, http.MethodGet, "/api/activities", nil, withToken(other))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"activities":[]}`, rec.Body.String())
}

func TestActivities_Validation(t *testing.T) {
	env := newTestEnv(t)
	user := env.caretakerToken(t, "ct-user", auth.RoleUser, "fam")

	rec := env.do(t, http.MethodPost, "/api/activities", map[string]string{"kind": "  "}, withToken(user))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/activities?limit=zero", nil, withToken(user))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a system administrator without a family in scope has nothing to list
	rec = env.do(t, http.MethodGet, "/api/activities", nil, withToken(env.token(t, auth.SystemAdministrator{})))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/activities?familyId=fam", nil, withToken(env.token(t, auth.SystemAdministrator{})))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActivities_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/activities", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/activities", map[string]string{"kind": "x"}).Code)

	setup := env.token(t, auth.SetupSession{SetupToken: "tok"})
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/activities", nil, withToken(setup)).Code)
}

func TestActivities_WriteGateInSaaS(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Deployment.Mode = config.ModeSaaS })
	lapsed := env.caretakerToken(t, "lapsed-user", auth.RoleUser, "lapsed")
	current := env.caretakerToken(t, "ct-user", auth.RoleUser, "fam")

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/activities", nil, withToken(lapsed)).Code)

	rec := env.do(t, http.MethodPost, "/api/activities", map[string]string{"kind": "diaper"}, withToken(lapsed))
	require.Equal(t, http.StatusForbidden, rec.Code)
	var body struct {
		Code       string              `json:"code"`
		Expiration auth.ExpirationInfo `json:"expiration"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, string(auth.KindEntitlementExpired), body.Code)
	assert.Equal(t, auth.ExpirationNoPlan, body.Expiration.ExpirationType)
	assert.Equal(t, "jones", body.Expiration.FamilySlug)

	assert.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/api/activities", map[string]string{"kind": "diaper"}, withToken(current)).Code)

	// self-hosted never enforces subscriptions
	selfHosted := newTestEnv(t)
	assert.Equal(t, http.StatusCreated,
		selfHosted.do(t, http.MethodPost, "/api/activities", map[string]string{"kind": "diaper"}, withToken(lapsed)).Code)
}

func TestAccountStatus(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Deployment.Mode = config.ModeSaaS })

	owner := env.token(t, auth.AccountOwner{AccountID: "owner", Email: "owner@example.com"})
	rec := env.do(t, http.MethodGet, "/api/account/status", nil, withToken(owner))
	require.Equal(t, http.StatusOK, rec.Code)

	var status accountStatusResponse
	decodeBody(t, rec, &status)
	assert.Equal(t, "owner", status.AccountID)
	assert.Equal(t, "smith", status.FamilySlug)
	assert.Equal(t, "monthly", status.PlanType)
	require.NotNil(t, status.Entitlement)
	assert.False(t, status.Entitlement.IsExpired)

	lapsed := env.token(t, auth.AccountOwner{AccountID: "lapsed-owner"})
	rec = env.do(t, http.MethodGet, "/api/account/status", nil, withToken(lapsed))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &status)
	assert.True(t, status.Entitlement.IsExpired)
	assert.Equal(t, auth.ExpirationNoPlan, status.Entitlement.ExpirationType)

	caretaker := env.caretakerToken(t, "ct-admin", auth.RoleAdmin, "fam")
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/account/status", nil, withToken(caretaker)).Code)

	// sysadmins pass the gate but have no account of their own
	admin := env.token(t, auth.SystemAdministrator{})
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/account/status", nil, withToken(admin)).Code)
}

func TestListFamilies(t *testing.T) {
	env := newTestEnv(t)

	caretaker := env.caretakerToken(t, "ct-admin", auth.RoleAdmin, "fam")
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/admin/families", nil, withToken(caretaker)).Code)

	rec := env.do(t, http.MethodGet, "/api/admin/families", nil, withToken(env.token(t, auth.SystemAdministrator{})))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Families []FamilyResponse `json:"families"`
	}
	decodeBody(t, rec, &body)
	slugs := make([]string, 0, len(body.Families))
	for _, f := range body.Families {
		slugs = append(slugs, f.Slug)
	}
	assert.ElementsMatch(t, []string{"smith", "solo", "jones"}, slugs)
}

func TestSetupFamily(t *testing.T) {
	env := newTestEnv(t)
	env.addSetupToken(t, "tok-open", "", "setup-pass", time.Hour)

	session := env.login(t, "/api/auth/setup", map[string]string{"token": "tok-open", "password": "setup-pass"})

	rec := env.do(t, http.MethodPost, "/api/setup/families",
		map[string]string{"slug": "Garcia", "name": "Garcia", "systemPin": "2468"}, withToken(session.Token))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var fam FamilyResponse
	decodeBody(t, rec, &fam)
	assert.Equal(t, "garcia", fam.Slug)
	assert.Equal(t, store.AuthModeSystem, fam.AuthMode)

	// the setup token is spent and its session revoked
	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, withToken(session.Token))
	assert.Equal(t, string(auth.KindTokenRevoked), errorCode(t, rec))
	rec = env.do(t, http.MethodPost, "/api/auth/setup", map[string]string{"token": "tok-open", "password": "setup-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// the new family's system caretaker can log in with the chosen PIN
	login := env.login(t, "/api/auth/pin", pinLogin("garcia", store.SystemLoginID, "2468"))
	assert.Equal(t, fam.ID, login.FamilyID)
}

func TestSetupFamily_Scope(t *testing.T) {
	env := newTestEnv(t)
	env.addSetupToken(t, "tok-f1", "f1", "setup-pass", time.Hour)
	session := env.token(t, auth.SetupSession{SetupToken: "tok-f1", FamilyID: "f1"})
	body := map[string]string{"slug": "lee", "name": "Lee"}

	// a token scoped to F1 cannot provision F2
	rec := env.do(t, http.MethodPost, "/api/setup/families?familyId=f2", body, withToken(session))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(auth.KindSetupScope), errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/setup/families", body, withToken(session))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var fam FamilyResponse
	decodeBody(t, rec, &fam)
	assert.Equal(t, "f1", fam.ID)

	st, err := env.store.GetSetupToken(context.Background(), "tok-f1")
	require.NoError(t, err)
	assert.True(t, st.Used)
}

func TestSetupFamily_Gate(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"slug": "smith", "name": "Dup"}

	caretaker := env.caretakerToken(t, "ct-admin", auth.RoleAdmin, "fam")
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/setup/families", body, withToken(caretaker)).Code)

	admin := env.token(t, auth.SystemAdministrator{})
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/setup/families", body, withToken(admin)).Code)

	body = map[string]string{"slug": "kim", "name": "Kim", "authMode": "OTHER"}
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/setup/families", body, withToken(admin)).Code)
}

func TestSetupFamily_TokenSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.addSetupToken(t, "tok-open", "", "setup-pass", time.Hour)
	creds := map[string]string{"token": "tok-open", "password": "setup-pass"}

	// two sessions minted from the same token before either provisions
	first := env.login(t, "/api/auth/setup", creds)
	second := env.login(t, "/api/auth/setup", creds)

	before, err := env.store.ListFamilies(context.Background())
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/setup/families", map[string]string{"slug": "lee", "name": "Lee"}, withToken(first.Token))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/setup/families", map[string]string{"slug": "kim", "name": "Kim"}, withToken(second.Token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(auth.KindTokenInvalid), errorCode(t, rec))

	after, err := env.store.ListFamilies(context.Background())
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)
}

func TestSetupFamily_ExpiredRecord(t *testing.T) {
	env := newTestEnv(t)
	env.addSetupToken(t, "tok-short", "", "setup-pass", time.Minute)
	session := env.token(t, auth.SetupSession{SetupToken: "tok-short"})

	env.clock.Advance(2 * time.Minute)
	rec := env.do(t, http.MethodPost, "/api/setup/families", map[string]string{"slug": "lee", "name": "Lee"}, withToken(session))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(auth.KindTokenInvalid), errorCode(t, rec))

	_, err := env.store.GetFamilyBySlug(context.Background(), "lee")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetupFamily_CaretakerFailureLeavesNoFamily(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, auth.SystemAdministrator{})
	body := map[string]string{"slug": "lee", "name": "Lee"}

	env.store.FailWith("CreateCaretaker", errors.New("disk full"))
	rec := env.do(t, http.MethodPost, "/api/setup/families", body, withToken(admin))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	_, err := env.store.GetFamilyBySlug(context.Background(), "lee")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// a retry completes instead of reporting a conflict
	env.store.FailWith("CreateCaretaker", nil)
	rec = env.do(t, http.MethodPost, "/api/setup/families", body, withToken(admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func withHeader(key, value string) reqOpt {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func TestActivities_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	user := env.caretakerToken(t, "ct-user", auth.RoleUser, "fam")
	body := map[string]string{"kind": "feeding"}

	first := env.do(t, http.MethodPost, "/api/activities", body, withToken(user), withHeader(idempotencyHeader, "retry-1"))
	require.Equal(t, http.StatusCreated, first.Code)
	replay := env.do(t, http.MethodPost, "/api/activities", body, withToken(user), withHeader(idempotencyHeader, "retry-1"))
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())

	// the same key in another family is a different request
	other := env.caretakerToken(t, "lapsed-user", auth.RoleUser, "lapsed")
	rec := env.do(t, http.MethodPost, "/api/activities", body, withToken(other), withHeader(idempotencyHeader, "retry-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))

	activities, err := env.store.ListActivities(context.Background(), "fam", 0)
	require.NoError(t, err)
	assert.Len(t, activities, 1)

	// once the key expires the write is applied again
	env.clock.Advance(idempotencyTTL)
	user = env.caretakerToken(t, "ct-user", auth.RoleUser, "fam")
	rec = env.do(t, http.MethodPost, "/api/activities", body, withToken(user), withHeader(idempotencyHeader, "retry-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
}
