// ABOUTME: Tests for the per-client login rate limiter
// ABOUTME: Uses a controllable clock so refill and sweeping are deterministic

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginLimiter_Allow(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLoginLimiter(0.5, 2, false, clock.Now)

	ok, _ := l.allow("a")
	assert.True(t, ok)
	ok, _ = l.allow("a")
	assert.True(t, ok)

	ok, wait := l.allow("a")
	assert.False(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	// a rejected attempt does not consume the next token
	clock.Advance(2 * time.Second)
	ok, _ = l.allow("a")
	assert.True(t, ok)

	// buckets are per key
	ok, _ = l.allow("b")
	assert.True(t, ok)
	assert.Equal(t, 2, l.Len())
}

func TestLoginLimiter_Sweep(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLoginLimiter(1, 1, false, clock.Now)

	l.allow("old")
	clock.Advance(bucketTTL)
	l.allow("fresh")

	assert.Equal(t, 0, l.Sweep(clock.Now()), "a bucket exactly bucketTTL old is kept")

	clock.Advance(time.Second)
	assert.Equal(t, 1, l.Sweep(clock.Now()))
	assert.Equal(t, 1, l.Len())
}

func TestLoginLimiter_Middleware(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLoginLimiter(0.25, 1, false, clock.Now)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/pin", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, call("192.0.2.7:1000").Code)

	rec := call("192.0.2.7:2000")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("Retry-After"))
	assert.Equal(t, codeRateLimited, errorCode(t, rec))

	// the port is not part of the key
	assert.Equal(t, http.StatusNoContent, call("192.0.2.8:2000").Code)
}

func TestLoginLimiter_RunStopsOnCancel(t *testing.T) {
	l := newLoginLimiter(1, 1, false, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
