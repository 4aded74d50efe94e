// Package models defines the core data structures for users, sessions,
// and password-reset tokens.
package models

import "time"

// User represents an application user with credentials and 2FA state.
type User struct {
	// ID is the unique identifier for the user.
	ID string `json:"id"`
	// Username is the login name chosen by the user.
	Username string `json:"username"`
	// Email is the address the user registered with.
	Email string `json:"email"`
	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash string `json:"-"`
	// IsActive reports whether the account may authenticate.
	IsActive bool `json:"is_active"`
	// TOTPSecret is the AES-GCM encrypted TOTP seed, empty when 2FA
	// was never set up.
	TOTPSecret string `json:"-"`
	// TOTPEnabled reports whether the user confirmed 2FA setup.
	TOTPEnabled bool `json:"totp_enabled"`
	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the account was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientContext carries the request metadata recorded alongside
// security-relevant events.
type ClientContext struct {
	// IPAddress is the remote address the request arrived from.
	IPAddress string `json:"ip_address"`
	// UserAgent is the client's User-Agent header.
	UserAgent string `json:"user_agent"`
}

// Session represents a persisted login session. The plaintext session
// token is never stored; TokenHash is its keyed SHA-256 digest.
type Session struct {
	// ID is the unique identifier for the session.
	ID string `json:"id"`
	// UserID references the owning user.
	UserID string `json:"user_id"`
	// TokenHash is the keyed hash of the session token.
	TokenHash string `json:"-"`
	// IPAddress is the client address recorded at creation.
	IPAddress string `json:"ip_address"`
	// UserAgent is the client user agent recorded at creation.
	UserAgent string `json:"user_agent"`
	// CreatedAt is when the session was issued.
	CreatedAt time.Time `json:"created_at"`
	// LastActivityAt is updated on every successful validation.
	LastActivityAt time.Time `json:"last_activity_at"`
	// ExpiresAt is the hard expiry of the session.
	ExpiresAt time.Time `json:"expires_at"`
	// IsActive is false once the session is revoked or evicted.
	IsActive bool `json:"is_active"`
	// RevokedReason records why the session was terminated.
	RevokedReason string `json:"revoked_reason,omitempty"`
	// RequestCount is the number of validated requests on this session.
	RequestCount int64 `json:"request_count"`
	// Suspicious is set when the observed client IP differs from the
	// one recorded at creation. The session stays valid.
	Suspicious bool `json:"suspicious"`
}

// ResetToken represents a single-use password-reset token. Only the
// keyed hash of the token is stored.
type ResetToken struct {
	// ID is the unique identifier for the token row.
	ID string `json:"id"`
	// UserID references the user the reset was requested for.
	UserID string `json:"user_id"`
	// TokenHash is the keyed hash of the reset token.
	TokenHash string `json:"-"`
	// Email is the address the token was sent to.
	Email string `json:"email"`
	// ExpiresAt is the token expiry.
	ExpiresAt time.Time `json:"expires_at"`
	// UseCount is incremented on every verification attempt.
	UseCount int `json:"use_count"`
	// MaxUses bounds verification attempts, default 1.
	MaxUses int `json:"max_uses"`
	// UsedAt is set when the token is consumed or superseded.
	UsedAt *time.Time `json:"used_at,omitempty"`
	// RevokedAt is set when the token is administratively revoked.
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	// IPAddress is the client address that requested the reset.
	IPAddress string `json:"ip_address"`
	// UserAgent is the client user agent that requested the reset.
	UserAgent string `json:"user_agent"`
	// CreatedAt is when the token was issued.
	CreatedAt time.Time `json:"created_at"`
}

// Usable reports whether the token can still be verified at now.
func (t *ResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil &&
		t.RevokedAt == nil &&
		t.ExpiresAt.After(now) &&
		t.UseCount <= t.MaxUses
}

// LoginStatus describes the outcome of a login attempt that did not
// fail outright.
type LoginStatus string

const (
	// LoginSuccess means a session was issued.
	LoginSuccess LoginStatus = "success"
	// LoginTOTPRequired means credentials were valid but a one-time
	// code must be supplied to finish the login.
	LoginTOTPRequired LoginStatus = "totp_required"
)

// LoginResult is returned by the authentication orchestrator on a
// successful or partially successful login.
type LoginResult struct {
	// Status is the outcome of the attempt.
	Status LoginStatus `json:"status"`
	// User is the authenticated user, nil until fully authenticated.
	User *User `json:"user,omitempty"`
	// SessionID identifies the issued session.
	SessionID string `json:"session_id,omitempty"`
	// SessionToken is the plaintext session token; the caller holds
	// the only copy.
	SessionToken string `json:"session_token,omitempty"`
	// SessionExpiresAt is the session expiry.
	SessionExpiresAt time.Time `json:"session_expires_at,omitempty"`
	// AccessToken is a short-lived signed bearer token.
	AccessToken string `json:"access_token,omitempty"`
	// RefreshToken is a long-lived signed bearer token.
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TOTPSetup is returned when 2FA setup is initiated. The secret and
// backup codes are shown to the user once and never persisted in the
// clear.
type TOTPSetup struct {
	// Secret is the base32 TOTP seed to load into an authenticator.
	Secret string `json:"secret"`
	// URI is the otpauth:// provisioning URI for QR rendering.
	URI string `json:"uri"`
	// BackupCodes are the single-use recovery codes.
	BackupCodes []string `json:"backup_codes"`
}
