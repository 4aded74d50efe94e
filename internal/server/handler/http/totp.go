package http

import (
	"encoding/json"
	"net/http"

	"github.com/McGuireTechnology/truledgr-auth/internal/middleware"
)

// SetupTOTP generates a TOTP secret and backup codes for the
// authenticated user. 2FA stays off until the user confirms with a
// valid code.
func (h *AuthHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	setup, err := h.AuthService.SetupTOTP(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

// TOTPCodeRequest represents the JSON payload carrying a one-time
// code.
type TOTPCodeRequest struct {
	Code string `json:"code"`
}

// ConfirmTOTP enables 2FA after verifying a code against the pending
// secret.
func (h *AuthHandler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req TOTPCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if err := h.AuthService.ConfirmTOTP(r.Context(), user.ID, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DisableTOTP turns 2FA off after verifying a code or backup code.
func (h *AuthHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	var req TOTPCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if err := h.AuthService.DisableTOTP(r.Context(), user.ID, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
