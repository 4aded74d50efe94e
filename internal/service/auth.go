package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
	"github.com/McGuireTechnology/truledgr-auth/internal/repository"
)

// CredentialRepository defines the persistence operations the
// orchestrator needs from the credential store.
type CredentialRepository interface {
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	SetTOTPSecret(ctx context.Context, userID, encryptedSecret string) error
	SetTOTPEnabled(ctx context.Context, userID string, enabled bool) error
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

// AuthService composes the lockout tracker, TOTP engine, session
// manager, and reset-token manager into the end-to-end authentication
// flows exposed to the request layer.
type AuthService struct {
	credentials CredentialRepository
	lockout     *LockoutTracker
	totp        *TOTPEngine
	sessions    *SessionManager
	resets      *ResetTokenManager
	tokens      *TokenIssuer

	// secretKey encrypts TOTP seeds at rest.
	secretKey []byte

	log *zap.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewAuthService constructs the orchestrator from its collaborators.
func NewAuthService(
	credentials CredentialRepository,
	lockout *LockoutTracker,
	totp *TOTPEngine,
	sessions *SessionManager,
	resets *ResetTokenManager,
	tokens *TokenIssuer,
	secretKey []byte,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		credentials: credentials,
		lockout:     lockout,
		totp:        totp,
		sessions:    sessions,
		resets:      resets,
		tokens:      tokens,
		secretKey:   secretKey,
		log:         log,
		now:         time.Now,
	}
}

// Register creates a new account. The password must satisfy the
// policy; username and email must be unused.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if !usernameRegex.MatchString(username) {
		return nil, &PasswordPolicyError{Violations: []string{
			"username must be 3-30 characters (letters, numbers, _, -)",
		}}
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.credentials.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("registered user", zap.String("user_id", user.ID))
	return user, nil
}

// Login runs the login state machine: lockout check, credential
// check, optional TOTP check, session issue.
//
// Unknown identity, inactive identity, and wrong password all record
// a lockout failure and surface the same ErrInvalidCredentials. A
// wrong one-time code does not consume a lockout strike; 2FA failures
// are tracked apart from password failures.
func (s *AuthService) Login(ctx context.Context, login, password, totpCode string, client models.ClientContext) (*models.LoginResult, error) {
	login = strings.TrimSpace(login)

	if locked, seconds := s.lockout.IsLocked(login); locked {
		return nil, &AccountLockedError{SecondsRemaining: seconds}
	}

	user, err := s.credentials.GetByLogin(ctx, login)
	if errors.Is(err, repository.ErrNotFound) {
		// Failures for unknown usernames are recorded too, so the
		// response gives no signal about which accounts exist.
		s.lockout.RecordFailure(login, client)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive || !VerifyPassword(user.PasswordHash, password) {
		s.lockout.RecordFailure(login, client)
		return nil, ErrInvalidCredentials
	}

	s.lockout.Clear(login)

	if user.TOTPEnabled {
		if totpCode == "" {
			return &models.LoginResult{Status: models.LoginTOTPRequired}, nil
		}
		ok, err := s.checkSecondFactor(ctx, user, totpCode)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidTOTP
		}
	}

	return s.issueSession(ctx, user, client)
}

// checkSecondFactor accepts either a current TOTP code or an unused
// backup code.
func (s *AuthService) checkSecondFactor(ctx context.Context, user *models.User, code string) (bool, error) {
	secret, err := decryptSecret(s.secretKey, user.TOTPSecret)
	if err != nil {
		return false, fmt.Errorf("decrypt totp secret: %w", err)
	}
	if s.totp.VerifyCode(secret, code, s.now()) {
		return true, nil
	}
	used, err := s.totp.ConsumeBackupCode(ctx, user.ID, code)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return used, nil
}

// issueSession creates the session and signs the bearer tokens.
func (s *AuthService) issueSession(ctx context.Context, user *models.User, client models.ClientContext) (*models.LoginResult, error) {
	session, token, err := s.sessions.Create(ctx, user.ID, client)
	if err != nil {
		return nil, err
	}
	access, refresh, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, err
	}

	s.log.Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("session_id", session.ID),
		zap.String("ip", client.IPAddress),
	)
	return &models.LoginResult{
		Status:           models.LoginSuccess,
		User:             user,
		SessionID:        session.ID,
		SessionToken:     token,
		SessionExpiresAt: session.ExpiresAt,
		AccessToken:      access,
		RefreshToken:     refresh,
	}, nil
}

// ValidateSession resolves a session token to its user. Returns
// (nil, nil) for tokens that are unknown, tampered, expired, revoked,
// or owned by an inactive user.
func (s *AuthService) ValidateSession(ctx context.Context, token string, client models.ClientContext) (*models.User, error) {
	session, err := s.sessions.Validate(ctx, token, client)
	if err != nil || session == nil {
		return nil, err
	}
	user, err := s.credentials.GetByID(ctx, session.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return nil, nil
	}
	return user, nil
}

// Logout revokes the session behind the token; with allSessions it
// revokes every session of the owning user.
func (s *AuthService) Logout(ctx context.Context, token string, allSessions bool) error {
	if !allSessions {
		if _, err := s.sessions.Revoke(ctx, token, RevokeReasonLogout); err != nil {
			return err
		}
		return nil
	}

	session, err := s.sessions.Validate(ctx, token, models.ClientContext{})
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	_, err = s.sessions.RevokeAll(ctx, session.UserID, "", RevokeReasonLogoutAll)
	return err
}

// SetupTOTP generates a TOTP secret and backup codes for the user.
// The secret is stored encrypted but 2FA stays off until ConfirmTOTP.
func (s *AuthService) SetupTOTP(ctx context.Context, userID string) (*models.TOTPSetup, error) {
	user, err := s.credentials.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	uri, err := s.totp.ProvisioningURI(user.Email, secret)
	if err != nil {
		return nil, err
	}
	encrypted, err := encryptSecret(s.secretKey, secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt totp secret: %w", err)
	}
	if err := s.credentials.SetTOTPSecret(ctx, userID, encrypted); err != nil {
		return nil, fmt.Errorf("store totp secret: %w", err)
	}

	codes, err := s.totp.GenerateBackupCodes(DefaultBackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.totp.StoreBackupCodes(ctx, userID, codes); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}

	return &models.TOTPSetup{Secret: secret, URI: uri, BackupCodes: codes}, nil
}

// ConfirmTOTP verifies a code against the pending secret and enables
// 2FA for the account.
func (s *AuthService) ConfirmTOTP(ctx context.Context, userID, code string) error {
	user, err := s.credentials.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if user.TOTPSecret == "" {
		return ErrInvalidTOTP
	}
	secret, err := decryptSecret(s.secretKey, user.TOTPSecret)
	if err != nil {
		return fmt.Errorf("decrypt totp secret: %w", err)
	}
	if !s.totp.VerifyCode(secret, code, s.now()) {
		return ErrInvalidTOTP
	}
	if err := s.credentials.SetTOTPEnabled(ctx, userID, true); err != nil {
		return fmt.Errorf("enable totp: %w", err)
	}
	s.log.Info("totp enabled", zap.String("user_id", userID))
	return nil
}

// DisableTOTP turns 2FA off after a valid code or backup code,
// clearing the stored seed and remaining backup codes.
func (s *AuthService) DisableTOTP(ctx context.Context, userID, code string) error {
	user, err := s.credentials.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if !user.TOTPEnabled {
		return ErrInvalidTOTP
	}
	ok, err := s.checkSecondFactor(ctx, user, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTOTP
	}
	if err := s.credentials.SetTOTPEnabled(ctx, userID, false); err != nil {
		return fmt.Errorf("disable totp: %w", err)
	}
	s.log.Info("totp disabled", zap.String("user_id", userID))
	return nil
}

// RequestPasswordReset issues a reset token for the account behind
// email. An unknown or inactive address yields an empty token and no
// error, so callers can answer identically either way; the token is
// handed back for out-of-band delivery.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, client models.ClientContext) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	// The rate limit keys on the requested address and runs before the
	// lookup, so a limited response reveals nothing about whether the
	// address is registered.
	if err := s.resets.Allow(email); err != nil {
		return "", err
	}

	user, err := s.credentials.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return "", nil
	}
	return s.resets.Issue(ctx, user.ID, email, client)
}

// ConfirmPasswordReset consumes the token and writes the new
// password, then invalidates every session established before the
// credential change.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	record, err := s.resets.Consume(ctx, token, hash)
	if err != nil {
		return err
	}

	if _, err := s.sessions.RevokeAll(ctx, record.UserID, "", RevokeReasonPasswordChanged); err != nil {
		return err
	}
	if user, err := s.credentials.GetByID(ctx, record.UserID); err == nil {
		s.lockout.Clear(user.Username)
	}
	s.lockout.Clear(record.Email)
	return nil
}

// ChangePassword verifies the current password, writes the new one,
// and invalidates the user's sessions other than the one behind
// keepSessionToken. Pass an empty token to revoke every session.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionToken string) error {
	user, err := s.credentials.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if !VerifyPassword(user.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.credentials.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("write new password: %w", err)
	}

	keepSessionID := ""
	if keepSessionToken != "" {
		session, err := s.sessions.Lookup(ctx, keepSessionToken)
		if err != nil {
			return err
		}
		if session != nil && session.UserID == userID {
			keepSessionID = session.ID
		}
	}
	if _, err := s.sessions.RevokeAll(ctx, userID, keepSessionID, RevokeReasonPasswordChanged); err != nil {
		return err
	}
	s.log.Info("password changed", zap.String("user_id", userID))
	return nil
}

// ListSessions returns the user's sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string, activeOnly bool) ([]models.Session, error) {
	return s.sessions.List(ctx, userID, activeOnly)
}

// RevokeSession terminates one of the user's sessions by ID.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	ok, err := s.sessions.RevokeByID(ctx, userID, sessionID, RevokeReasonRevoked)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}
