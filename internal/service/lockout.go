// Package service implements the authentication core: lockout
// tracking, TOTP, sessions, password-reset tokens, and the login
// orchestrator. Persistence is delegated to repository interfaces
// defined alongside the consumers.
package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
)

const (
	// DefaultMaxAttempts is the number of failed attempts inside the
	// window before an identity is locked.
	DefaultMaxAttempts = 5

	// DefaultLockoutDuration is both the failure-counting window and
	// the lock duration.
	DefaultLockoutDuration = 30 * time.Minute
)

// LockoutTracker counts failed login attempts per identity over a
// sliding window and locks identities that exceed the budget. State is
// process-local; unknown identities are tracked too, so response
// behavior does not reveal whether a username exists.
type LockoutTracker struct {
	mu sync.Mutex

	// failures maps identity to the timestamps of its failed attempts
	// inside the window.
	failures map[string][]time.Time

	// locks maps identity to its unlock time. Absence means unlocked.
	locks map[string]time.Time

	maxAttempts     int
	lockoutDuration time.Duration

	log *zap.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// LockoutOption is a functional option for configuring LockoutTracker.
type LockoutOption func(*LockoutTracker)

// WithMaxAttempts sets the failed-attempt budget.
func WithMaxAttempts(n int) LockoutOption {
	return func(t *LockoutTracker) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithLockoutDuration sets the sliding window and lock duration.
func WithLockoutDuration(d time.Duration) LockoutOption {
	return func(t *LockoutTracker) {
		if d > 0 {
			t.lockoutDuration = d
		}
	}
}

// NewLockoutTracker creates a LockoutTracker with the given options.
func NewLockoutTracker(log *zap.Logger, opts ...LockoutOption) *LockoutTracker {
	t := &LockoutTracker{
		failures:        make(map[string][]time.Time),
		locks:           make(map[string]time.Time),
		maxAttempts:     DefaultMaxAttempts,
		lockoutDuration: DefaultLockoutDuration,
		log:             log,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure appends a failed attempt for identity, prunes stale
// entries, and locks the identity when the windowed count reaches the
// budget.
func (t *LockoutTracker) RecordFailure(identity string, client models.ClientContext) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	window := append(t.pruneLocked(identity, now), now)
	t.failures[identity] = window

	if len(window) >= t.maxAttempts {
		unlockAt := now.Add(t.lockoutDuration)
		t.locks[identity] = unlockAt
		t.log.Warn("identity locked",
			zap.String("identity", identity),
			zap.Int("failures", len(window)),
			zap.Time("unlock_at", unlockAt),
			zap.String("ip", client.IPAddress),
		)
	}
}

// IsLocked reports whether identity is locked and, if so, the seconds
// until the lock expires. An expired lock is cleared lazily.
func (t *LockoutTracker) IsLocked(identity string) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	unlockAt, ok := t.locks[identity]
	if !ok {
		return false, 0
	}
	now := t.now()
	if !unlockAt.After(now) {
		delete(t.locks, identity)
		delete(t.failures, identity)
		return false, 0
	}
	remaining := int(unlockAt.Sub(now).Round(time.Second).Seconds())
	if remaining < 1 {
		remaining = 1
	}
	return true, remaining
}

// Clear removes both the failure window and the lock for identity.
// Called on successful authentication.
func (t *LockoutTracker) Clear(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, wasLocked := t.locks[identity]
	delete(t.failures, identity)
	delete(t.locks, identity)
	if wasLocked {
		t.log.Info("identity unlocked", zap.String("identity", identity))
	}
}

// FailureCount returns the number of failed attempts currently inside
// the window for identity.
func (t *LockoutTracker) FailureCount(identity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := t.pruneLocked(identity, t.now())
	if len(window) == 0 {
		delete(t.failures, identity)
	} else {
		t.failures[identity] = window
	}
	return len(window)
}

// Sweep drops identities whose windows emptied and whose locks
// expired. Run periodically; request handling prunes lazily anyway.
func (t *LockoutTracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for identity, unlockAt := range t.locks {
		if !unlockAt.After(now) {
			delete(t.locks, identity)
			delete(t.failures, identity)
		}
	}
	for identity := range t.failures {
		if len(t.pruneLocked(identity, now)) == 0 {
			delete(t.failures, identity)
		}
	}
}

// pruneLocked returns identity's attempts younger than the window.
// Caller holds mu.
func (t *LockoutTracker) pruneLocked(identity string, now time.Time) []time.Time {
	cutoff := now.Add(-t.lockoutDuration)
	window := t.failures[identity]
	kept := window[:0:0]
	for _, at := range window {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}
