package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
)

// PostgresSessionRepository implements the session store on a
// PostgreSQL database.
type PostgresSessionRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresSessionRepository creates a new PostgresSessionRepository
// with the given database connection.
func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{DB: db}
}

const sessionColumns = `id, user_id, token_hash, ip_address, user_agent,
       created_at, last_activity_at, expires_at, is_active, revoked_reason,
       request_count, suspicious`

func scanSession(scan func(...any) error) (*models.Session, error) {
	var s models.Session
	err := scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.IPAddress, &s.UserAgent,
		&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt, &s.IsActive,
		&s.RevokedReason, &s.RequestCount, &s.Suspicious,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session row.
func (r *PostgresSessionRepository) Create(ctx context.Context, s *models.Session) error {
	_, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO sessions (id, user_id, token_hash, ip_address, user_agent,
            created_at, last_activity_at, expires_at, is_active, revoked_reason,
            request_count, suspicious)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.UserID, s.TokenHash, s.IPAddress, s.UserAgent,
		s.CreatedAt, s.LastActivityAt, s.ExpiresAt, s.IsActive, s.RevokedReason,
		s.RequestCount, s.Suspicious,
	)
	return err
}

// GetByTokenHash fetches a session by the hash of its token.
func (r *PostgresSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	row := r.DB.QueryRowContext(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`,
		tokenHash,
	)
	return scanSession(row.Scan)
}

// Touch records a validated request on the session: bumps the request
// counter, refreshes last activity, and latches the suspicious flag.
func (r *PostgresSessionRepository) Touch(ctx context.Context, sessionID string, at time.Time, suspicious bool) error {
	_, err := r.DB.ExecContext(
		ctx,
		`UPDATE sessions
            SET last_activity_at = $2,
                request_count = request_count + 1,
                suspicious = suspicious OR $3
          WHERE id = $1`,
		sessionID, at, suspicious,
	)
	return err
}

// Revoke deactivates a single session. Returns false when the session
// was already inactive or does not exist.
func (r *PostgresSessionRepository) Revoke(ctx context.Context, sessionID, reason string) (bool, error) {
	res, err := r.DB.ExecContext(
		ctx,
		`UPDATE sessions SET is_active = FALSE, revoked_reason = $2
          WHERE id = $1 AND is_active = TRUE`,
		sessionID, reason,
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

// RevokeAllForUser deactivates every active session of a user, keeping
// exceptSessionID alive when non-empty. Returns the number revoked.
func (r *PostgresSessionRepository) RevokeAllForUser(ctx context.Context, userID, exceptSessionID, reason string) (int64, error) {
	res, err := r.DB.ExecContext(
		ctx,
		`UPDATE sessions SET is_active = FALSE, revoked_reason = $3
          WHERE user_id = $1 AND is_active = TRUE AND id <> $2`,
		userID, exceptSessionID, reason,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateExpired sweeps expired-but-still-active sessions of one
// user. Safe to call concurrently with live traffic.
func (r *PostgresSessionRepository) DeactivateExpired(ctx context.Context, userID string, now time.Time) error {
	_, err := r.DB.ExecContext(
		ctx,
		`UPDATE sessions SET is_active = FALSE, revoked_reason = 'expired'
          WHERE user_id = $1 AND is_active = TRUE AND expires_at <= $2`,
		userID, now,
	)
	return err
}

// CountActive returns the number of active sessions for a user.
func (r *PostgresSessionRepository) CountActive(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND is_active = TRUE`,
		userID,
	).Scan(&n)
	return n, err
}

// OldestActive returns the least recently created active session of a
// user, the eviction candidate when the session cap is hit.
func (r *PostgresSessionRepository) OldestActive(ctx context.Context, userID string) (*models.Session, error) {
	row := r.DB.QueryRowContext(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions
          WHERE user_id = $1 AND is_active = TRUE
          ORDER BY created_at ASC LIMIT 1`,
		userID,
	)
	return scanSession(row.Scan)
}

// ListByUser returns the user's sessions, newest first.
func (r *PostgresSessionRepository) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
