// ABOUTME: Tests for the metrics collectors and HTTP instrumentation
// ABOUTME: Scrapes the handler and checks the exposition text

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/nursery-gateway/internal/auth"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorder(t *testing.T) {
	m := New(Sizes{})

	m.Resolved(auth.PrincipalCaretaker)
	m.Resolved(auth.PrincipalCaretaker)
	m.ResolutionFailed(auth.KindTokenRevoked)
	m.LockedOut()

	out := scrape(t, m)
	assert.Contains(t, out, `nursery_auth_resolutions_total{principal="caretaker"} 2`)
	assert.Contains(t, out, `nursery_auth_failures_total{kind="token_revoked"} 1`)
	assert.Contains(t, out, `nursery_auth_lockouts_total 1`)
}

func TestSizeGauges(t *testing.T) {
	revoked := 4
	m := New(Sizes{
		RevokedTokens:  func() int { return revoked },
		TrackedSources: func() int { return 2 },
	})

	out := scrape(t, m)
	assert.Contains(t, out, "nursery_auth_revoked_tokens 4")
	assert.Contains(t, out, "nursery_auth_guard_tracked_sources 2")

	revoked = 1
	assert.Contains(t, scrape(t, m), "nursery_auth_revoked_tokens 1")
}

func TestInstrument_UsesRoutePattern(t *testing.T) {
	m := New(Sizes{})

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Delete("/api/activities/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/activities/"+id, nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	out := scrape(t, m)
	assert.Contains(t, out, `nursery_http_requests_total{method="DELETE",route="/api/activities/{id}",status="204"} 3`)
	assert.NotContains(t, out, `/api/activities/a`)
}

func TestInstrument_Unmatched(t *testing.T) {
	m := New(Sizes{})
	h := m.Instrument(http.NotFoundHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Contains(t, scrape(t, m), `nursery_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
}
