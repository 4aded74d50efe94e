package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
	"github.com/McGuireTechnology/truledgr-auth/internal/repository"
)

const (
	// DefaultSessionTTL is the lifetime of an issued session.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultMaxSessionsPerUser caps concurrent active sessions.
	DefaultMaxSessionsPerUser = 5
)

// Revocation reasons recorded on terminated sessions.
const (
	RevokeReasonLogout          = "logout"
	RevokeReasonLogoutAll       = "logout_all"
	RevokeReasonSessionLimit    = "session_limit_exceeded"
	RevokeReasonPasswordChanged = "password_changed"
	RevokeReasonRevoked         = "revoked"
)

// SessionRepository defines the persistence operations required by the
// session manager.
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time, suspicious bool) error
	Revoke(ctx context.Context, sessionID, reason string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, exceptSessionID, reason string) (int64, error)
	DeactivateExpired(ctx context.Context, userID string, now time.Time) error
	CountActive(ctx context.Context, userID string) (int, error)
	OldestActive(ctx context.Context, userID string) (*models.Session, error)
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]models.Session, error)
}

// SessionManager creates, validates, and revokes sessions, enforcing a
// per-user concurrent-session cap. Plaintext tokens are handed to the
// caller and never stored; lookups go through the keyed hash.
type SessionManager struct {
	sessions SessionRepository
	hashKey  []byte

	ttl        time.Duration
	maxPerUser int

	log *zap.Logger

	// mu guards userLocks.
	mu sync.Mutex

	// userLocks serializes Create per user, so concurrent logins at
	// the cap cannot both observe the same count and oldest session.
	userLocks map[string]*sync.Mutex

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// SessionOption is a functional option for configuring SessionManager.
type SessionOption func(*SessionManager)

// WithSessionTTL sets the session lifetime.
func WithSessionTTL(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithMaxSessionsPerUser sets the concurrent-session cap.
func WithMaxSessionsPerUser(n int) SessionOption {
	return func(m *SessionManager) {
		if n > 0 {
			m.maxPerUser = n
		}
	}
}

// NewSessionManager constructs a SessionManager. hashKey keys the
// one-way hash applied to tokens before storage.
func NewSessionManager(sessions SessionRepository, hashKey []byte, log *zap.Logger, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		sessions:   sessions,
		hashKey:    hashKey,
		ttl:        DefaultSessionTTL,
		maxPerUser: DefaultMaxSessionsPerUser,
		log:        log,
		userLocks:  make(map[string]*sync.Mutex),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// userLock returns the mutex serializing Create for userID.
func (m *SessionManager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.userLocks[userID] = l
	}
	return l
}

// Create issues a new session for the user. Expired sessions are swept
// first; if the active count is at the cap, the oldest active session
// is evicted before the insert. The sweep, count, eviction, and insert
// run under a per-user lock so two concurrent logins cannot both pass
// the cap check against the same state.
func (m *SessionManager) Create(ctx context.Context, userID string, client models.ClientContext) (*models.Session, string, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := m.now().UTC()

	if err := m.sessions.DeactivateExpired(ctx, userID, now); err != nil {
		return nil, "", fmt.Errorf("sweep expired sessions: %w", err)
	}

	active, err := m.sessions.CountActive(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("count active sessions: %w", err)
	}
	for active >= m.maxPerUser {
		oldest, err := m.sessions.OldestActive(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("find oldest session: %w", err)
		}
		ok, err := m.sessions.Revoke(ctx, oldest.ID, RevokeReasonSessionLimit)
		if err != nil {
			return nil, "", fmt.Errorf("evict oldest session: %w", err)
		}
		if !ok {
			// Lost a race with another revocation path; re-count and
			// pick the oldest again.
			active, err = m.sessions.CountActive(ctx, userID)
			if err != nil {
				return nil, "", fmt.Errorf("count active sessions: %w", err)
			}
			continue
		}
		m.log.Info("evicted session over cap",
			zap.String("user_id", userID),
			zap.String("session_id", oldest.ID),
		)
		active--
	}

	token, err := generateToken()
	if err != nil {
		return nil, "", err
	}

	session := &models.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		TokenHash:      hashToken(m.hashKey, token),
		IPAddress:      client.IPAddress,
		UserAgent:      client.UserAgent,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.ttl),
		IsActive:       true,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	return session, token, nil
}

// Validate resolves a plaintext token to its session. Inactive and
// expired sessions yield (nil, nil), as does an unknown token; store
// failures are returned and must be treated as a denial. On acceptance
// the session's activity is updated, and the session is flagged (not
// rejected) as suspicious when the observed IP differs from the one
// recorded at creation.
func (m *SessionManager) Validate(ctx context.Context, token string, client models.ClientContext) (*models.Session, error) {
	session, err := m.sessions.GetByTokenHash(ctx, hashToken(m.hashKey, token))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up session: %w", err)
	}

	now := m.now().UTC()
	if !session.IsActive || !session.ExpiresAt.After(now) {
		return nil, nil
	}

	suspicious := client.IPAddress != "" && session.IPAddress != "" && client.IPAddress != session.IPAddress
	if suspicious && !session.Suspicious {
		m.log.Warn("session used from new address",
			zap.String("session_id", session.ID),
			zap.String("created_ip", session.IPAddress),
			zap.String("observed_ip", client.IPAddress),
		)
	}
	if err := m.sessions.Touch(ctx, session.ID, now, suspicious); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	session.LastActivityAt = now
	session.RequestCount++
	session.Suspicious = session.Suspicious || suspicious
	return session, nil
}

// Lookup resolves a plaintext token to its session without updating
// activity state. Unknown tokens yield (nil, nil).
func (m *SessionManager) Lookup(ctx context.Context, token string) (*models.Session, error) {
	session, err := m.sessions.GetByTokenHash(ctx, hashToken(m.hashKey, token))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up session: %w", err)
	}
	return session, nil
}

// Revoke terminates the session identified by the plaintext token.
// Returns false when the token resolves to nothing revocable.
func (m *SessionManager) Revoke(ctx context.Context, token, reason string) (bool, error) {
	session, err := m.sessions.GetByTokenHash(ctx, hashToken(m.hashKey, token))
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up session: %w", err)
	}
	return m.sessions.Revoke(ctx, session.ID, reason)
}

// RevokeByID terminates one session of the given user. Returns false
// when the session does not exist, is inactive, or belongs to someone
// else.
func (m *SessionManager) RevokeByID(ctx context.Context, userID, sessionID, reason string) (bool, error) {
	sessions, err := m.sessions.ListByUser(ctx, userID, true)
	if err != nil {
		return false, fmt.Errorf("list sessions: %w", err)
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			return m.sessions.Revoke(ctx, sessionID, reason)
		}
	}
	return false, nil
}

// RevokeAll terminates every active session of the user except
// exceptSessionID (pass "" to revoke all). Used for "log out
// everywhere" and after credential changes.
func (m *SessionManager) RevokeAll(ctx context.Context, userID, exceptSessionID, reason string) (int64, error) {
	count, err := m.sessions.RevokeAllForUser(ctx, userID, exceptSessionID, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	if count > 0 {
		m.log.Info("revoked sessions",
			zap.String("user_id", userID),
			zap.Int64("count", count),
			zap.String("reason", reason),
		)
	}
	return count, nil
}

// List returns the user's sessions, newest first.
func (m *SessionManager) List(ctx context.Context, userID string, activeOnly bool) ([]models.Session, error) {
	return m.sessions.ListByUser(ctx, userID, activeOnly)
}
