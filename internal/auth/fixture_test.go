// ABOUTME: Shared test fixture for auth tests: controllable clock, mock store and verifier
// ABOUTME: Seeds families, accounts and caretakers used across resolver and gate tests

package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/2389/nursery-gateway/internal/store"
	"github.com/stretchr/testify/require"
)

// testSecret is a 32-byte secret that meets MinSecretLength.
var testSecret = []byte("nursery-test-secret-32-bytes-ok!")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	clock    *testClock
	store    *store.MockStore
	registry *RevocationRegistry
	verifier *JWTVerifier
	resolver *Resolver
	recorder *countingRecorder
}

func newFixture(t *testing.T, multiTenant bool) *fixture {
	t.Helper()

	f := &fixture{
		clock:    newTestClock(),
		store:    store.NewMockStore(),
		recorder: &countingRecorder{},
	}
	f.registry = NewRevocationRegistry(f.clock.Now, discardLogger())

	var err error
	f.verifier, err = NewJWTVerifier(testSecret, time.Hour, f.registry, f.clock.Now)
	require.NoError(t, err)

	f.resolver = NewResolver(ResolverConfig{
		Verifier:    f.verifier,
		Store:       f.store,
		MultiTenant: multiTenant,
		Now:         f.clock.Now,
		Logger:      discardLogger(),
		Recorder:    f.recorder,
	})
	return f
}

func (f *fixture) issue(t *testing.T, p Principal) string {
	t.Helper()
	token, _, err := f.verifier.Issue(p)
	require.NoError(t, err)
	return token
}

func (f *fixture) resolveBearer(token string, hints RequestHints) *AuthContext {
	return f.resolver.ResolveCredential(context.Background(), RawCredential{Kind: CredentialBearer, Value: token}, hints)
}

func (f *fixture) addAccount(t *testing.T, a *store.Account) *store.Account {
	t.Helper()
	require.NoError(t, f.store.CreateAccount(context.Background(), a))
	return a
}

func (f *fixture) addFamily(t *testing.T, fam *store.Family) *store.Family {
	t.Helper()
	require.NoError(t, f.store.CreateFamily(context.Background(), fam))
	return fam
}

func (f *fixture) addCaretaker(t *testing.T, c *store.Caretaker) *store.Caretaker {
	t.Helper()
	require.NoError(t, f.store.CreateCaretaker(context.Background(), c))
	return c
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// countingRecorder counts Recorder events.
type countingRecorder struct {
	mu       sync.Mutex
	resolved map[PrincipalKind]int
	failed   map[ErrorKind]int
	lockouts int
}

func (c *countingRecorder) Resolved(kind PrincipalKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved == nil {
		c.resolved = make(map[PrincipalKind]int)
	}
	c.resolved[kind]++
}

func (c *countingRecorder) ResolutionFailed(kind ErrorKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed == nil {
		c.failed = make(map[ErrorKind]int)
	}
	c.failed[kind]++
}

func (c *countingRecorder) LockedOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockouts++
}

func (c *countingRecorder) failures(kind ErrorKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed[kind]
}

func (c *countingRecorder) resolutions(kind PrincipalKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved[kind]
}
