package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
)

// PostgresCredentialRepository implements the credential store on a
// PostgreSQL database.
type PostgresCredentialRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresCredentialRepository creates a new PostgresCredentialRepository
// with the given database connection.
func NewPostgresCredentialRepository(db *sql.DB) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{DB: db}
}

const userColumns = `id, username, email, password_hash, is_active,
       COALESCE(totp_secret, ''), totp_enabled, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive,
		&u.TOTPSecret, &u.TOTPEnabled, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByLogin looks a user up by username or email.
func (r *PostgresCredentialRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	row := r.DB.QueryRowContext(
		ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1`,
		login,
	)
	return scanUser(row)
}

// GetByID looks a user up by ID.
func (r *PostgresCredentialRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := r.DB.QueryRowContext(
		ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

// GetByEmail looks a user up by email.
func (r *PostgresCredentialRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.DB.QueryRowContext(
		ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)
	return scanUser(row)
}

// CreateUser inserts a new user row. Returns ErrConflict when the
// username or email is already taken.
func (r *PostgresCredentialRepository) CreateUser(ctx context.Context, u *models.User) error {
	_, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO users (id, username, email, password_hash, is_active, totp_enabled, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.IsActive, u.TOTPEnabled, u.CreatedAt, u.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

// UpdatePasswordHash replaces the stored password hash for a user.
func (r *PostgresCredentialRepository) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res, err := r.DB.ExecContext(
		ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, hash, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTOTPSecret stores the encrypted TOTP seed without enabling 2FA;
// the user must confirm with a valid code first.
func (r *PostgresCredentialRepository) SetTOTPSecret(ctx context.Context, userID, encryptedSecret string) error {
	res, err := r.DB.ExecContext(
		ctx,
		`UPDATE users SET totp_secret = $2, updated_at = $3 WHERE id = $1`,
		userID, encryptedSecret, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTOTPEnabled flips the 2FA flag. Disabling also clears the stored
// seed and deletes any remaining backup codes.
func (r *PostgresCredentialRepository) SetTOTPEnabled(ctx context.Context, userID string, enabled bool) error {
	if enabled {
		res, err := r.DB.ExecContext(
			ctx,
			`UPDATE users SET totp_enabled = TRUE, updated_at = $2 WHERE id = $1`,
			userID, time.Now().UTC(),
		)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrNotFound
		}
		return nil
	}

	res, err := r.DB.ExecContext(
		ctx,
		`UPDATE users SET totp_enabled = FALSE, totp_secret = NULL, updated_at = $2 WHERE id = $1`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	_, err = r.DB.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID)
	return err
}

// ReplaceBackupCodes swaps the user's backup-code set with the given
// hashes in one transaction.
func (r *PostgresCredentialRepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, hash := range codeHashes {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2)`,
			userID, hash,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConsumeBackupCode removes a backup code by hash. The single DELETE
// makes the check-then-remove atomic: at most one caller observes
// true for a given code.
func (r *PostgresCredentialRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := r.DB.ExecContext(
		ctx,
		`DELETE FROM backup_codes WHERE user_id = $1 AND code_hash = $2`,
		userID, codeHash,
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
