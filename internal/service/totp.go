package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// totpSecretBytes is the raw entropy of a TOTP seed (160 bits,
	// the RFC 4226 recommendation).
	totpSecretBytes = 20

	// totpPeriod is the code window in seconds.
	totpPeriod = 30

	// totpSkew accepts the immediately preceding and following
	// windows to absorb clock drift. Widening it widens the forgery
	// window; narrowing it locks out legitimate users.
	totpSkew = 1

	// backupCodeBytes is the entropy of one backup code; 4 bytes
	// encode to 8 hex characters.
	backupCodeBytes = 4

	// DefaultBackupCodeCount is the number of backup codes issued at
	// setup.
	DefaultBackupCodeCount = 10
)

// noPadB32 is the base32 alphabet without padding used for TOTP seeds.
var noPadB32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// BackupCodeStore persists hashed backup codes with atomic
// remove-on-use.
type BackupCodeStore interface {
	// ReplaceBackupCodes swaps the identity's backup-code set with
	// the given hashes.
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error
	// ConsumeBackupCode atomically removes one code by hash and
	// reports whether it existed.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
}

// TOTPEngine generates and verifies time-based one-time codes and
// manages single-use backup codes.
type TOTPEngine struct {
	// issuer is embedded in provisioning URIs.
	issuer string
	// codes stores hashed backup codes.
	codes BackupCodeStore
}

// NewTOTPEngine constructs a TOTPEngine for the given issuer.
func NewTOTPEngine(issuer string, codes BackupCodeStore) *TOTPEngine {
	return &TOTPEngine{issuer: issuer, codes: codes}
}

// GenerateSecret returns a fresh base32-encoded TOTP seed without
// padding.
func (e *TOTPEngine) GenerateSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return noPadB32.EncodeToString(raw), nil
}

// ProvisioningURI builds the otpauth:// URI for loading the secret
// into an authenticator app.
func (e *TOTPEngine) ProvisioningURI(account, secret string) (string, error) {
	raw, err := noPadB32.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: account,
		Secret:      raw,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// VerifyCode checks a 6-digit code against the secret at the given
// time, accepting the current window and its immediate neighbors.
func (e *TOTPEngine) VerifyCode(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateCode produces the valid code for secret at the given time.
func (e *TOTPEngine) GenerateCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// GenerateBackupCodes returns n fresh backup codes: 8 uppercase hex
// characters each.
func (e *TOTPEngine) GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		n = DefaultBackupCodeCount
	}
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		b := make([]byte, backupCodeBytes)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes = append(codes, strings.ToUpper(hex.EncodeToString(b)))
	}
	return codes, nil
}

// StoreBackupCodes hashes the given codes and replaces the identity's
// stored set.
func (e *TOTPEngine) StoreBackupCodes(ctx context.Context, userID string, codes []string) error {
	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		hashes = append(hashes, hashBackupCode(code))
	}
	return e.codes.ReplaceBackupCodes(ctx, userID, hashes)
}

// ConsumeBackupCode spends one backup code for the identity. The code
// is removed the instant it matches; a second use fails.
func (e *TOTPEngine) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	return e.codes.ConsumeBackupCode(ctx, userID, hashBackupCode(code))
}

// hashBackupCode derives the stored form of a backup code. Input is
// normalized to uppercase so user-typed lowercase still matches.
func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}
