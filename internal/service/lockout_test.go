package service

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
)

func newTestTracker(t *testing.T, opts ...LockoutOption) (*LockoutTracker, *time.Time) {
	t.Helper()
	tracker := NewLockoutTracker(zap.NewNop(), opts...)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }
	return tracker, &current
}

func TestLockoutTracker_UnknownIdentityNotLocked(t *testing.T) {
	tracker, _ := newTestTracker(t)

	locked, seconds := tracker.IsLocked("nobody")
	if locked {
		t.Fatal("unknown identity reported locked")
	}
	if seconds != 0 {
		t.Errorf("seconds = %d; want 0", seconds)
	}
	if n := tracker.FailureCount("nobody"); n != 0 {
		t.Errorf("FailureCount = %d; want 0", n)
	}
}

func TestLockoutTracker_LocksAfterMaxAttempts(t *testing.T) {
	tracker, _ := newTestTracker(t, WithMaxAttempts(5), WithLockoutDuration(30*time.Minute))
	client := models.ClientContext{IPAddress: "10.0.0.1"}

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("alice", client)
	}
	if locked, _ := tracker.IsLocked("alice"); locked {
		t.Fatal("locked before reaching max attempts")
	}

	tracker.RecordFailure("alice", client)
	locked, seconds := tracker.IsLocked("alice")
	if !locked {
		t.Fatal("not locked after max attempts")
	}
	if want := int((30 * time.Minute).Seconds()); seconds != want {
		t.Errorf("seconds remaining = %d; want %d", seconds, want)
	}
}

func TestLockoutTracker_WindowPrunesStaleFailures(t *testing.T) {
	tracker, current := newTestTracker(t, WithMaxAttempts(5), WithLockoutDuration(30*time.Minute))
	client := models.ClientContext{}

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("bob", client)
	}

	// Let the window fully elapse; stale failures must not combine
	// with a fresh one.
	*current = current.Add(31 * time.Minute)
	tracker.RecordFailure("bob", client)

	if locked, _ := tracker.IsLocked("bob"); locked {
		t.Fatal("stale failures combined with fresh failure")
	}
	if n := tracker.FailureCount("bob"); n != 1 {
		t.Errorf("FailureCount = %d; want 1", n)
	}
}

func TestLockoutTracker_ExpiredLockClearedLazily(t *testing.T) {
	tracker, current := newTestTracker(t, WithMaxAttempts(2), WithLockoutDuration(10*time.Minute))
	client := models.ClientContext{}

	tracker.RecordFailure("carol", client)
	tracker.RecordFailure("carol", client)
	if locked, _ := tracker.IsLocked("carol"); !locked {
		t.Fatal("expected lock")
	}

	*current = current.Add(10 * time.Minute)
	locked, seconds := tracker.IsLocked("carol")
	if locked {
		t.Fatal("lock not cleared after expiry")
	}
	if seconds != 0 {
		t.Errorf("seconds = %d; want 0", seconds)
	}
	if n := tracker.FailureCount("carol"); n != 0 {
		t.Errorf("FailureCount = %d after expiry; want 0", n)
	}
}

func TestLockoutTracker_ClearRemovesEverything(t *testing.T) {
	tracker, _ := newTestTracker(t, WithMaxAttempts(2))
	client := models.ClientContext{}

	tracker.RecordFailure("dave", client)
	tracker.RecordFailure("dave", client)
	tracker.Clear("dave")

	if locked, _ := tracker.IsLocked("dave"); locked {
		t.Fatal("still locked after Clear")
	}
	if n := tracker.FailureCount("dave"); n != 0 {
		t.Errorf("FailureCount = %d after Clear; want 0", n)
	}
}

func TestLockoutTracker_Sweep(t *testing.T) {
	tracker, current := newTestTracker(t, WithMaxAttempts(2), WithLockoutDuration(5*time.Minute))
	client := models.ClientContext{}

	tracker.RecordFailure("erin", client)
	tracker.RecordFailure("erin", client)
	tracker.RecordFailure("frank", client)

	*current = current.Add(6 * time.Minute)
	tracker.Sweep()

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.locks) != 0 {
		t.Errorf("locks remaining after sweep: %d", len(tracker.locks))
	}
	if len(tracker.failures) != 0 {
		t.Errorf("failure windows remaining after sweep: %d", len(tracker.failures))
	}
}

func TestLockoutTracker_TracksUnknownUsernames(t *testing.T) {
	tracker, _ := newTestTracker(t, WithMaxAttempts(3))
	client := models.ClientContext{}

	// Failures for a username that does not exist in the credential
	// store still count toward a lock.
	for i := 0; i < 3; i++ {
		tracker.RecordFailure("no-such-user", client)
	}
	if locked, _ := tracker.IsLocked("no-such-user"); !locked {
		t.Fatal("unknown username escaped lockout tracking")
	}
}
