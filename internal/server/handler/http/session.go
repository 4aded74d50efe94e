package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/McGuireTechnology/truledgr-auth/internal/middleware"
)

// ListSessions returns the authenticated user's active sessions.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	sessions, err := h.AuthService.ListSessions(r.Context(), user.ID, true)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// RevokeSession terminates one of the user's sessions by ID.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.AuthService.RevokeSession(r.Context(), user.ID, sessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
