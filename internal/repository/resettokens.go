package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
)

// PostgresResetTokenRepository implements the password-reset token
// store on a PostgreSQL database.
type PostgresResetTokenRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresResetTokenRepository creates a new
// PostgresResetTokenRepository with the given database connection.
func NewPostgresResetTokenRepository(db *sql.DB) *PostgresResetTokenRepository {
	return &PostgresResetTokenRepository{DB: db}
}

const resetTokenColumns = `id, user_id, token_hash, email, expires_at,
       use_count, max_uses, used_at, revoked_at, ip_address, user_agent, created_at`

// Create inserts a new reset-token row.
func (r *PostgresResetTokenRepository) Create(ctx context.Context, t *models.ResetToken) error {
	_, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO password_reset_tokens (id, user_id, token_hash, email, expires_at,
            use_count, max_uses, used_at, revoked_at, ip_address, user_agent, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.UserID, t.TokenHash, t.Email, t.ExpiresAt,
		t.UseCount, t.MaxUses, t.UsedAt, t.RevokedAt, t.IPAddress, t.UserAgent, t.CreatedAt,
	)
	return err
}

// GetByTokenHash fetches a reset token by the hash of its value.
func (r *PostgresResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.ResetToken, error) {
	var t models.ResetToken
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT `+resetTokenColumns+` FROM password_reset_tokens WHERE token_hash = $1`,
		tokenHash,
	).Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.Email, &t.ExpiresAt,
		&t.UseCount, &t.MaxUses, &t.UsedAt, &t.RevokedAt, &t.IPAddress, &t.UserAgent, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IncrementUseCount bumps the token's use counter and returns the new
// value. Called on every verification attempt to bound replays.
func (r *PostgresResetTokenRepository) IncrementUseCount(ctx context.Context, tokenID string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(
		ctx,
		`UPDATE password_reset_tokens SET use_count = use_count + 1
          WHERE id = $1 RETURNING use_count`,
		tokenID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return count, err
}

// MarkUsed stamps the token as consumed. The is-null guard makes the
// operation first-wins under concurrent consumption.
func (r *PostgresResetTokenRepository) MarkUsed(ctx context.Context, tokenID string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(
		ctx,
		`UPDATE password_reset_tokens SET used_at = $2
          WHERE id = $1 AND used_at IS NULL AND revoked_at IS NULL`,
		tokenID, at,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// InvalidateActiveForUser marks every still-live token of a user as
// used, so at most one reset token is live per identity.
func (r *PostgresResetTokenRepository) InvalidateActiveForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.DB.ExecContext(
		ctx,
		`UPDATE password_reset_tokens SET used_at = $2
          WHERE user_id = $1 AND used_at IS NULL AND revoked_at IS NULL AND expires_at > $2`,
		userID, at,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes tokens whose expiry has passed and returns the
// number deleted.
func (r *PostgresResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(
		ctx,
		`DELETE FROM password_reset_tokens WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
