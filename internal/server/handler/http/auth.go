// Package http provides HTTP handlers exposing the authentication
// core: login, logout, registration, 2FA, password management, and
// session management.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/McGuireTechnology/truledgr-auth/internal/middleware"
	"github.com/McGuireTechnology/truledgr-auth/internal/models"
	"github.com/McGuireTechnology/truledgr-auth/internal/service"
)

// AuthService defines the interface for authentication operations
// required by the HTTP handlers.
type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	Login(ctx context.Context, login, password, totpCode string, client models.ClientContext) (*models.LoginResult, error)
	Logout(ctx context.Context, token string, allSessions bool) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionToken string) error
	RequestPasswordReset(ctx context.Context, email string, client models.ClientContext) (string, error)
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	SetupTOTP(ctx context.Context, userID string) (*models.TOTPSetup, error)
	ConfirmTOTP(ctx context.Context, userID, code string) error
	DisableTOTP(ctx context.Context, userID, code string) error
	ListSessions(ctx context.Context, userID string, activeOnly bool) ([]models.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
}

// ResetTokenSender delivers a freshly issued reset token out of band.
// Email delivery lives outside this service; the default sender is a
// no-op.
type ResetTokenSender func(email, token string)

// AuthHandler handles HTTP requests for authentication flows.
type AuthHandler struct {
	// AuthService performs the underlying authentication operations.
	AuthService AuthService
	// SendResetToken is called with each issued reset token. Optional.
	SendResetToken ResetTokenSender
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps core errors onto HTTP responses. Credential
// failures stay undifferentiated; lockout and rate-limit responses
// carry the wait time.
func writeServiceError(w http.ResponseWriter, err error) {
	var locked *service.AccountLockedError
	var limited *service.RateLimitedError
	var policy *service.PasswordPolicyError

	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(locked.SecondsRemaining))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":             "account_locked",
			"seconds_remaining": locked.SecondsRemaining,
		})
	case errors.As(err, &limited):
		seconds := int(limited.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "rate_limited",
			"retry_after_seconds": seconds,
		})
	case errors.As(err, &policy):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "password_policy_violation",
			"violations": policy.Violations,
		})
	case errors.Is(err, service.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
	case errors.Is(err, service.ErrInvalidTOTP):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_totp"})
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_or_expired_token"})
	case errors.Is(err, service.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session_not_found"})
	case errors.Is(err, service.ErrUserExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "user_exists"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
	}
}

// RegisterRequest represents the JSON payload for user registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles user registration requests.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Username == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// LoginRequest represents the JSON payload for login.
type LoginRequest struct {
	// Login is a username or email.
	Login    string `json:"login"`
	Password string `json:"password"`
	// TOTPCode is the optional 6-digit one-time code or a backup code.
	TOTPCode string `json:"totp_code,omitempty"`
}

// Login handles login requests, driving the full authentication state
// machine. A 2FA-enabled account without a code gets a
// "totp_required" response rather than a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	result, err := h.AuthService.Login(
		r.Context(),
		req.Login, req.Password, req.TOTPCode,
		middleware.ClientContextFromRequest(r),
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// LogoutRequest represents the JSON payload for logout.
type LogoutRequest struct {
	// AllSessions revokes every session of the user, not just this one.
	AllSessions bool `json:"all_sessions"`
}

// Logout revokes the presented session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	token := middleware.GetSessionTokenFromContext(r.Context())
	if err := h.AuthService.Logout(r.Context(), token, req.AllSessions); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ChangePasswordRequest represents the JSON payload for a password
// change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword verifies the current password and replaces it. Other
// sessions of the user are revoked; the presented one stays alive.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.CurrentPassword == "" || req.NewPassword == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	keep := middleware.GetSessionTokenFromContext(r.Context())
	err := h.AuthService.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword, keep)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetRequestRequest represents the JSON payload for requesting a
// password reset.
type ResetRequestRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset issues a reset token for the given address.
// The response is identical whether or not the address is known, so
// the endpoint cannot be used to enumerate accounts.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.RequestPasswordReset(
		r.Context(), req.Email, middleware.ClientContextFromRequest(r),
	)
	if err != nil {
		var limited *service.RateLimitedError
		if errors.As(err, &limited) {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	if token != "" && h.SendResetToken != nil {
		h.SendResetToken(req.Email, token)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"detail": "if the address is registered, a reset link has been sent",
	})
}

// ResetConfirmRequest represents the JSON payload for confirming a
// password reset.
type ResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ConfirmPasswordReset consumes a reset token and sets the new
// password.
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Token == "" || req.NewPassword == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.AuthService.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
