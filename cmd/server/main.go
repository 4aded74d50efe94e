// Package main initializes and starts the TruLedgr authentication
// server, setting up configuration, logging, the database connection,
// repositories, services, handlers, and background sweeps.
package main

import (
	"cmp"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	nethttp "net/http"

	"github.com/McGuireTechnology/truledgr-auth/internal/config"
	"github.com/McGuireTechnology/truledgr-auth/internal/db"
	"github.com/McGuireTechnology/truledgr-auth/internal/logger"
	"github.com/McGuireTechnology/truledgr-auth/internal/repository"
	"github.com/McGuireTechnology/truledgr-auth/internal/server/handler/http"
	"github.com/McGuireTechnology/truledgr-auth/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

// keyOrRandom returns the configured key bytes, or fresh random bytes
// when unset. A random key means tokens do not survive a restart.
func keyOrRandom(configured string, log *zap.Logger, name string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatal("failed to generate key", zap.String("key", name), zap.Error(err))
	}
	log.Warn("generated ephemeral key; set it in config for production", zap.String("key", name))
	return b
}

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init("Info"); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}

	// Server-side keys.
	jwtSecret := keyOrRandom(options.JWTSecret, zapLogger, "jwt_secret")
	hashKey := keyOrRandom(options.TokenHashKey, zapLogger, "token_hash_key")
	var secretKey []byte
	if options.SecretEncryptionKey != "" {
		secretKey, err = hex.DecodeString(options.SecretEncryptionKey)
		if err != nil || len(secretKey) != 32 {
			zapLogger.Fatal("secret encryption key must be 32 bytes of hex")
		}
	} else {
		secretKey = keyOrRandom("", zapLogger, "secret_encryption_key")
	}

	// Initialize repositories.
	credentialRepo := repository.NewPostgresCredentialRepository(postgresDB)
	sessionRepo := repository.NewPostgresSessionRepository(postgresDB)
	resetRepo := repository.NewPostgresResetTokenRepository(postgresDB)

	// Initialize the authentication core.
	lockout := service.NewLockoutTracker(zapLogger,
		service.WithMaxAttempts(options.MaxLoginAttempts),
		service.WithLockoutDuration(options.LockoutDuration),
	)
	totpEngine := service.NewTOTPEngine(options.TOTPIssuer, credentialRepo)
	sessionManager := service.NewSessionManager(sessionRepo, hashKey, zapLogger,
		service.WithSessionTTL(options.SessionTTL),
		service.WithMaxSessionsPerUser(options.MaxSessionsPerUser),
	)
	resetManager := service.NewResetTokenManager(resetRepo, credentialRepo, hashKey, zapLogger,
		service.WithResetTokenTTL(options.ResetTokenTTL),
		service.WithResetRateLimit(options.ResetMaxPerWindow, options.ResetRateWindow),
	)
	tokenIssuer := service.NewTokenIssuer(jwtSecret)
	authService := service.NewAuthService(
		credentialRepo, lockout, totpEngine, sessionManager, resetManager,
		tokenIssuer, secretKey, zapLogger,
	)

	// Background sweeps: expired sessions, dead reset tokens, idle
	// lockout state.
	ctx := context.Background()
	db.StartExpiredSessionSweeper(ctx, postgresDB, 5*time.Minute, zapLogger)
	db.StartResetTokenSweeper(ctx, postgresDB,
		time.Hour,
		24*time.Hour, // retention
		zapLogger,
	)
	go func() {
		ticker := time.NewTicker(options.LockoutDuration)
		defer ticker.Stop()
		for range ticker.C {
			lockout.Sweep()
			if _, err := resetManager.CleanupExpired(ctx); err != nil {
				zapLogger.Error("reset-token cleanup failed", zap.Error(err))
			}
		}
	}()

	// Create HTTP handlers and build the router.
	authHandler := &http.AuthHandler{AuthService: authService}
	router := http.NewRouter(authHandler, authService, zapLogger)

	server := &nethttp.Server{
		Addr:    options.Port,
		Handler: router,
	}

	zapLogger.Info("starting HTTP server", zap.String("addr", options.Port))
	if err := server.ListenAndServe(); err != nil {
		zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
	}
}
