package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
)

func setupCredentialMock(t *testing.T) (*PostgresCredentialRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresCredentialRepository(db)
	cleanup := func() { db.Close() }
	return repo, mock, cleanup
}

func userRows(u *models.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "is_active",
		"totp_secret", "totp_enabled", "created_at", "updated_at",
	}).AddRow(
		u.ID, u.Username, u.Email, u.PasswordHash, u.IsActive,
		u.TOTPSecret, u.TOTPEnabled, u.CreatedAt, u.UpdatedAt,
	)
}

func TestGetByLogin_Found(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	want := &models.User{
		ID:           "u1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1`)).
		WithArgs("alice").
		WillReturnRows(userRows(want))

	got, err := repo.GetByLogin(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != want.ID || got.Username != want.Username || got.Email != want.Email {
		t.Errorf("got user %+v, want %+v", got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetByLogin_NotFound(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1`)).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByLogin(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+userColumns+` FROM users WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetByEmail_Found(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	want := &models.User{ID: "u1", Username: "alice", Email: "alice@example.com", IsActive: true}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+userColumns+` FROM users WHERE email = $1`)).
		WithArgs("alice@example.com").
		WillReturnRows(userRows(want))

	got, err := repo.GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Email != want.Email {
		t.Errorf("email = %q, want %q", got.Email, want.Email)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreateUser_Success(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	u := &models.User{
		ID:           "u1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs(u.ID, u.Username, u.Email, u.PasswordHash, u.IsActive, u.TOTPEnabled, u.CreatedAt, u.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreateUser_Conflict(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	u := &models.User{ID: "u1", Username: "alice", Email: "alice@example.com"}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateUser(context.Background(), u)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`)).
		WithArgs("u1", "newhash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdatePasswordHash(context.Background(), "u1", "newhash"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdatePasswordHash_UnknownUser(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`)).
		WithArgs("missing", "newhash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdatePasswordHash(context.Background(), "missing", "newhash")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSetTOTPEnabled_DisableClearsState(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET totp_enabled = FALSE, totp_secret = NULL, updated_at = $2 WHERE id = $1`)).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM backup_codes WHERE user_id = $1`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := repo.SetTOTPEnabled(context.Background(), "u1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestReplaceBackupCodes(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	hashes := []string{"h1", "h2"}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM backup_codes WHERE user_id = $1`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	for _, h := range hashes {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2)`)).
			WithArgs("u1", h).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := repo.ReplaceBackupCodes(context.Background(), "u1", hashes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestConsumeBackupCode(t *testing.T) {
	repo, mock, cleanup := setupCredentialMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM backup_codes WHERE user_id = $1 AND code_hash = $2`)).
		WithArgs("u1", "h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM backup_codes WHERE user_id = $1 AND code_hash = $2`)).
		WithArgs("u1", "h1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	used, err := repo.ConsumeBackupCode(context.Background(), "u1", "h1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !used {
		t.Error("expected first consume to report true")
	}

	used, err = repo.ConsumeBackupCode(context.Background(), "u1", "h1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used {
		t.Error("expected second consume to report false")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
