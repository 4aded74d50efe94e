package http

import (
	"net/http"

	"github.com/McGuireTechnology/truledgr-auth/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves the
// authentication API. It applies JSON content-type enforcement and
// request logging globally, and bearer session-token authentication
// on the protected group.
//
// Routes:
//
//	POST   /api/register                 → authHandler.Register
//	POST   /api/login                    → authHandler.Login
//	POST   /api/password/reset/request   → authHandler.RequestPasswordReset
//	POST   /api/password/reset/confirm   → authHandler.ConfirmPasswordReset
//
// Protected (valid session required):
//
//	POST   /api/logout                   → authHandler.Logout
//	POST   /api/password/change          → authHandler.ChangePassword
//	POST   /api/totp/setup               → authHandler.SetupTOTP
//	POST   /api/totp/confirm             → authHandler.ConfirmTOTP
//	POST   /api/totp/disable             → authHandler.DisableTOTP
//	GET    /api/sessions                 → authHandler.ListSessions
//	DELETE /api/sessions/{sessionID}     → authHandler.RevokeSession
func NewRouter(
	authHandler *AuthHandler,
	validator middleware.SessionValidator,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Only allow requests with Content-Type: application/json
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))

	// Mount API routes
	r.Route("/api", func(r chi.Router) {
		// Public endpoints
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/password/reset/request", authHandler.RequestPasswordReset)
		r.Post("/password/reset/confirm", authHandler.ConfirmPasswordReset)

		// Protected group: requires a valid session token
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(validator))

			r.Post("/logout", authHandler.Logout)
			r.Post("/password/change", authHandler.ChangePassword)
			r.Post("/totp/setup", authHandler.SetupTOTP)
			r.Post("/totp/confirm", authHandler.ConfirmTOTP)
			r.Post("/totp/disable", authHandler.DisableTOTP)
			r.Get("/sessions", authHandler.ListSessions)
			r.Delete("/sessions/{sessionID}", authHandler.RevokeSession)
		})
	})

	return r
}
