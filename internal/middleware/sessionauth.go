package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
)

type ctxKey string

const (
	userKey  ctxKey = "user"
	tokenKey ctxKey = "session_token"
)

// SessionValidator resolves a bearer session token to its user.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string, client models.ClientContext) (*models.User, error)
}

// ClientContextFromRequest extracts the client IP and user agent from
// a request.
func ClientContextFromRequest(r *http.Request) models.ClientContext {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return models.ClientContext{
		IPAddress: host,
		UserAgent: r.UserAgent(),
	}
}

// SessionAuth is a middleware that enforces bearer session-token
// authentication.
//
// It reads the Authorization header, validates the token against the
// session store, and on success stores the authenticated user and the
// presented token in the request context. Validation failures and
// store errors alike yield 401; the handler never learns why.
func SessionAuth(validator SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix))

			user, err := validator.ValidateSession(r.Context(), token, ClientContextFromRequest(r))
			if err != nil || user == nil {
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext extracts the authenticated user from the request
// context. Returns nil if not found.
func GetUserFromContext(ctx context.Context) *models.User {
	if u, ok := ctx.Value(userKey).(*models.User); ok {
		return u
	}
	return nil
}

// GetSessionTokenFromContext extracts the presented session token from
// the request context. Returns an empty string if not found.
func GetSessionTokenFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(tokenKey).(string); ok {
		return t
	}
	return ""
}
