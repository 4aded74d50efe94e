package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
	"github.com/McGuireTechnology/truledgr-auth/internal/repository"
)

const (
	// DefaultResetTokenTTL is the lifetime of a reset token.
	DefaultResetTokenTTL = time.Hour

	// DefaultResetMaxPerWindow caps issuances per identity inside the
	// rolling window.
	DefaultResetMaxPerWindow = 3

	// DefaultResetRateWindow is the rolling rate-limit window.
	DefaultResetRateWindow = time.Hour

	// resetTokenMaxUses bounds verification attempts per token.
	resetTokenMaxUses = 1
)

// ResetTokenRepository defines the persistence operations required by
// the reset-token manager.
type ResetTokenRepository interface {
	Create(ctx context.Context, t *models.ResetToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.ResetToken, error)
	IncrementUseCount(ctx context.Context, tokenID string) (int, error)
	MarkUsed(ctx context.Context, tokenID string, at time.Time) (bool, error)
	InvalidateActiveForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PasswordWriter is the single credential-store operation the
// reset-token manager may perform: writing a new password hash on
// consumption.
type PasswordWriter interface {
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// ResetTokenManager issues, verifies, and consumes single-use
// password-reset tokens with per-identity rate limiting. Limiter state
// is process-local.
type ResetTokenManager struct {
	tokens      ResetTokenRepository
	credentials PasswordWriter
	hashKey     []byte

	ttl          time.Duration
	maxPerWindow int
	window       time.Duration

	mu       sync.Mutex
	limiters map[string]*resetLimiter

	log *zap.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

type resetLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ResetOption is a functional option for configuring ResetTokenManager.
type ResetOption func(*ResetTokenManager)

// WithResetTokenTTL sets the token lifetime.
func WithResetTokenTTL(d time.Duration) ResetOption {
	return func(m *ResetTokenManager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithResetRateLimit sets the per-identity issuance budget inside the
// rolling window.
func WithResetRateLimit(max int, window time.Duration) ResetOption {
	return func(m *ResetTokenManager) {
		if max > 0 {
			m.maxPerWindow = max
		}
		if window > 0 {
			m.window = window
		}
	}
}

// NewResetTokenManager constructs a ResetTokenManager. hashKey keys
// the one-way hash applied to tokens before storage; credentials is
// the only path this manager uses to write a new password hash.
func NewResetTokenManager(
	tokens ResetTokenRepository,
	credentials PasswordWriter,
	hashKey []byte,
	log *zap.Logger,
	opts ...ResetOption,
) *ResetTokenManager {
	m := &ResetTokenManager{
		tokens:       tokens,
		credentials:  credentials,
		hashKey:      hashKey,
		ttl:          DefaultResetTokenTTL,
		maxPerWindow: DefaultResetMaxPerWindow,
		window:       DefaultResetRateWindow,
		limiters:     make(map[string]*resetLimiter),
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// limiterFor returns the identity's token bucket, creating it on first
// use. The bucket refills maxPerWindow tokens per window.
func (m *ResetTokenManager) limiterFor(identity string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.limiters[identity]
	if !ok {
		entry = &resetLimiter{
			lim: rate.NewLimiter(rate.Every(m.window/time.Duration(m.maxPerWindow)), m.maxPerWindow),
		}
		m.limiters[identity] = entry
	}
	entry.lastSeen = m.now()
	return entry.lim
}

// Allow draws one issuance from identity's budget, returning a
// RateLimitedError carrying the wait time when the budget is spent.
// Callers key it on the requested address before any account lookup,
// so the limit behaves the same whether or not the address is
// registered.
func (m *ResetTokenManager) Allow(identity string) error {
	res := m.limiterFor(identity).Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return &RateLimitedError{RetryAfter: delay.Round(time.Second)}
	}
	return nil
}

// Issue creates a reset token for the user, invalidating any
// still-active token first so at most one is live per identity.
// Returns the plaintext token; only its hash is stored. Rate limiting
// happens in Allow, before the caller resolves the account.
func (m *ResetTokenManager) Issue(ctx context.Context, userID, email string, client models.ClientContext) (string, error) {
	now := m.now().UTC()
	if _, err := m.tokens.InvalidateActiveForUser(ctx, userID, now); err != nil {
		return "", fmt.Errorf("invalidate previous tokens: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	record := &models.ResetToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hashToken(m.hashKey, token),
		Email:     email,
		ExpiresAt: now.Add(m.ttl),
		MaxUses:   resetTokenMaxUses,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		CreatedAt: now,
	}
	if err := m.tokens.Create(ctx, record); err != nil {
		return "", fmt.Errorf("create reset token: %w", err)
	}

	m.log.Info("issued password-reset token",
		zap.String("user_id", userID),
		zap.Time("expires_at", record.ExpiresAt),
	)
	return token, nil
}

// Verify resolves a plaintext token to its record. Every attempt
// against an existing row increments the use counter, so replays burn
// through the budget even when they fail; exceeding MaxUses is
// terminal.
func (m *ResetTokenManager) Verify(ctx context.Context, token string) (*models.ResetToken, error) {
	record, err := m.tokens.GetByTokenHash(ctx, hashToken(m.hashKey, token))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("look up reset token: %w", err)
	}

	count, err := m.tokens.IncrementUseCount(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("count token use: %w", err)
	}
	record.UseCount = count

	if !record.Usable(m.now().UTC()) {
		return nil, ErrInvalidOrExpiredToken
	}
	return record, nil
}

// Consume marks the token used and writes the new password hash. This
// is the only path that mutates the credential store from the reset
// flow. Unlike Verify it does not burn a use-count increment, so
// verify-then-consume stays within the budget; the used mark is
// first-wins, so a concurrent second consume fails.
func (m *ResetTokenManager) Consume(ctx context.Context, token, newPasswordHash string) (*models.ResetToken, error) {
	record, err := m.tokens.GetByTokenHash(ctx, hashToken(m.hashKey, token))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("look up reset token: %w", err)
	}
	if !record.Usable(m.now().UTC()) {
		return nil, ErrInvalidOrExpiredToken
	}

	ok, err := m.tokens.MarkUsed(ctx, record.ID, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark token used: %w", err)
	}
	if !ok {
		return nil, ErrInvalidOrExpiredToken
	}

	if err := m.credentials.UpdatePasswordHash(ctx, record.UserID, newPasswordHash); err != nil {
		return nil, fmt.Errorf("write new password: %w", err)
	}

	m.log.Info("password reset completed", zap.String("user_id", record.UserID))
	return record, nil
}

// CleanupExpired deletes expired tokens and drops idle limiters.
// Idempotent; safe to run concurrently with live traffic.
func (m *ResetTokenManager) CleanupExpired(ctx context.Context) (int64, error) {
	now := m.now()

	m.mu.Lock()
	for identity, entry := range m.limiters {
		if now.Sub(entry.lastSeen) > m.window {
			delete(m.limiters, identity)
		}
	}
	m.mu.Unlock()

	return m.tokens.DeleteExpired(ctx, now.UTC())
}
