package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials is returned for unknown users, inactive
	// users, and wrong passwords alike. The causes are deliberately
	// indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTOTP is returned when the supplied one-time code and
	// backup code both fail verification.
	ErrInvalidTOTP = errors.New("invalid totp code")
	// ErrInvalidOrExpiredToken is returned for reset tokens that are
	// unknown, used, revoked, expired, or over their use budget.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrSessionNotFound is returned when a session to revoke does not
	// exist or does not belong to the caller.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserExists is returned when registration hits a taken
	// username or email.
	ErrUserExists = errors.New("user already exists")
)

// AccountLockedError reports a lockout together with the remaining
// wait so callers can inform users without retry storms.
type AccountLockedError struct {
	// SecondsRemaining is the time until the lock expires.
	SecondsRemaining int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %ds", e.SecondsRemaining)
}

// RateLimitedError reports a rate-limit rejection with the wait until
// the next permitted attempt.
type RateLimitedError struct {
	// RetryAfter is the time until the limiter admits another event.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

// PasswordPolicyError carries the full list of violated password
// rules. Policy violations are not security-sensitive.
type PasswordPolicyError struct {
	// Violations are the human-readable rule descriptions that failed.
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password policy violation: " + strings.Join(e.Violations, "; ")
}
