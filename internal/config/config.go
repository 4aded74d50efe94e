// Package config provides functionality for managing configuration options
// for the application using command-line flags and environment variables.
package config

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"
)

// Options holds the configuration values for the application.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string

	// Config is the path to the Config file.
	Config string

	// JWTSecret signs access and refresh bearer tokens.
	JWTSecret string

	// TokenHashKey keys the one-way hash applied to session and
	// password-reset tokens before storage.
	TokenHashKey string

	// SecretEncryptionKey encrypts TOTP seeds at rest. Must decode to
	// 32 bytes of hex.
	SecretEncryptionKey string

	// TOTPIssuer is the issuer name embedded in provisioning URIs.
	TOTPIssuer string

	// MaxLoginAttempts is the number of failed logins inside the
	// lockout window before an identity is locked.
	MaxLoginAttempts int

	// LockoutDuration is both the failure-counting window and the
	// lock duration.
	LockoutDuration time.Duration

	// SessionTTL is the lifetime of an issued session.
	SessionTTL time.Duration

	// MaxSessionsPerUser caps concurrent active sessions per user.
	MaxSessionsPerUser int

	// ResetTokenTTL is the lifetime of a password-reset token.
	ResetTokenTTL time.Duration

	// ResetMaxPerWindow caps reset-token issuances per identity
	// within ResetRateWindow.
	ResetMaxPerWindow int

	// ResetRateWindow is the rolling window for reset-token rate
	// limiting.
	ResetRateWindow time.Duration
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Port, "a", "localhost:8080", "run on ip:port server")
	flag.StringVar(&options.DatabaseDSN, "d", "", "db address")
	flag.StringVar(&options.Config, "config", "config.json", "path to config file")
	flag.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	flag.StringVar(&options.JWTSecret, "jwt-secret", "", "key for signing bearer tokens")
	flag.StringVar(&options.TokenHashKey, "token-hash-key", "", "key for hashing stored tokens")
	flag.StringVar(&options.SecretEncryptionKey, "secret-key", "", "hex key for encrypting TOTP seeds")
	flag.StringVar(&options.TOTPIssuer, "totp-issuer", "TruLedgr", "issuer for TOTP provisioning URIs")
	flag.IntVar(&options.MaxLoginAttempts, "max-attempts", 5, "failed logins before lockout")
	flag.DurationVar(&options.LockoutDuration, "lockout-duration", 30*time.Minute, "lockout window and duration")
	flag.DurationVar(&options.SessionTTL, "session-ttl", 24*time.Hour, "session lifetime")
	flag.IntVar(&options.MaxSessionsPerUser, "max-sessions", 5, "max concurrent sessions per user")
	flag.DurationVar(&options.ResetTokenTTL, "reset-ttl", time.Hour, "password-reset token lifetime")
	flag.IntVar(&options.ResetMaxPerWindow, "reset-max", 3, "reset tokens per identity per window")
	flag.DurationVar(&options.ResetRateWindow, "reset-window", time.Hour, "reset-token rate window")
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It returns a pointer to the Options struct containing
// the parsed configuration values.
func Parse() *Options {
	flag.Parse()

	// Override flags with environment variables if set
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	if serverAddress := os.Getenv("SERVER_ADDRESS"); serverAddress != "" {
		options.Port = serverAddress
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		options.JWTSecret = secret
	}
	if key := os.Getenv("TOKEN_HASH_KEY"); key != "" {
		options.TokenHashKey = key
	}
	if key := os.Getenv("SECRET_ENCRYPTION_KEY"); key != "" {
		options.SecretEncryptionKey = key
	}

	return options
}
