// ABOUTME: Brute-force guard counting failed login attempts per source address
// ABOUTME: Locks a source out for a fixed window after a threshold of failures

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Lockout defaults.
const (
	DefaultLockoutThreshold = 3
	DefaultLockoutDuration  = 5 * time.Minute
)

// GuardConfig configures a Guard. Zero values select the defaults.
type GuardConfig struct {
	Threshold       int
	LockoutDuration time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// LockStatus is a snapshot of one source's state.
type LockStatus struct {
	Locked    bool
	Remaining time.Duration
	Failures  int
}

type failedAttempts struct {
	count       int
	lockedUntil time.Time
	lastFailure time.Time
}

// Guard tracks failed attempts by source id (normally the client IP).
type Guard struct {
	mu       sync.Mutex
	records  map[string]*failedAttempts
	cfg      GuardConfig
	logger   *slog.Logger
	recorder Recorder
}

// NewGuard creates a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultLockoutThreshold
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		records:  make(map[string]*failedAttempts),
		cfg:      cfg,
		logger:   logger.With("component", "lockout"),
		recorder: nopRecorder{},
	}
}

// SetRecorder routes lockout events to r.
func (g *Guard) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	g.recorder = r
}

// Check reports the lock state of source without recording anything.
// An elapsed lockout clears the source's record.
func (g *Guard) Check(source string) LockStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[source]
	if !ok {
		return LockStatus{}
	}

	now := g.cfg.Now()
	if !rec.lockedUntil.IsZero() {
		if now.Before(rec.lockedUntil) {
			return LockStatus{Locked: true, Remaining: rec.lockedUntil.Sub(now), Failures: rec.count}
		}
		delete(g.records, source)
		return LockStatus{}
	}
	return LockStatus{Failures: rec.count}
}

// RecordFailure counts a failed attempt and locks the source once the
// threshold is reached. Failures while locked do not extend the lockout.
func (g *Guard) RecordFailure(source string) LockStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.cfg.Now()
	rec, ok := g.records[source]
	if !ok {
		rec = &failedAttempts{}
		g.records[source] = rec
	}

	if !rec.lockedUntil.IsZero() {
		if now.Before(rec.lockedUntil) {
			return LockStatus{Locked: true, Remaining: rec.lockedUntil.Sub(now), Failures: rec.count}
		}
		*rec = failedAttempts{}
	}

	rec.count++
	rec.lastFailure = now

	if rec.count >= g.cfg.Threshold {
		rec.lockedUntil = now.Add(g.cfg.LockoutDuration)
		g.logger.Warn("source locked out", "source", source, "failures", rec.count, "until", rec.lockedUntil)
		g.recorder.LockedOut()
		return LockStatus{Locked: true, Remaining: g.cfg.LockoutDuration, Failures: rec.count}
	}
	return LockStatus{Failures: rec.count}
}

// RecordSuccess clears all failures and any lockout for source.
func (g *Guard) RecordSuccess(source string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, source)
}

// Sweep evicts records whose lockout has elapsed or whose last failure is
// older than the lockout window, returning how many were removed.
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for source, rec := range g.records {
		expired := !rec.lockedUntil.IsZero() && !now.Before(rec.lockedUntil)
		quiet := rec.lockedUntil.IsZero() && now.Sub(rec.lastFailure) >= g.cfg.LockoutDuration
		if expired || quiet {
			delete(g.records, source)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sources.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

// Run sweeps on every tick until ctx is done.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(g.cfg.Now()); n > 0 {
				g.logger.Debug("swept lockout records", "removed", n)
			}
		}
	}
}
