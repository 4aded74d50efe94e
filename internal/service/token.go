package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/McGuireTechnology/truledgr-auth/internal/models"
)

const (
	// DefaultAccessTokenTTL is the lifetime of an access token.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the lifetime of a refresh token.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Token kinds carried in the "kind" claim.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// BearerClaims is the decoded claim set of a signed bearer token.
type BearerClaims struct {
	// Subject is the user ID.
	Subject string
	// Username is the user's login name.
	Username string
	// Email is the user's registered address.
	Email string
	// Kind is "access" or "refresh".
	Kind string
	// ExpiresAt is the token expiry.
	ExpiresAt time.Time
}

// TokenIssuer signs and parses HS256 bearer tokens asserting identity
// claims.
type TokenIssuer struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with the given signing key.
func NewTokenIssuer(signingKey []byte) *TokenIssuer {
	return &TokenIssuer{
		signingKey: signingKey,
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
		now:        time.Now,
	}
}

// IssuePair signs an access and a refresh token for the user.
func (i *TokenIssuer) IssuePair(user *models.User) (access, refresh string, err error) {
	access, err = i.issue(user, TokenKindAccess, i.accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = i.issue(user, TokenKindRefresh, i.refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (i *TokenIssuer) issue(user *models.User, kind string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"email":    user.Email,
		"kind":     kind,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Parse validates a signed bearer token and returns its claims.
func (i *TokenIssuer) Parse(tokenStr string) (*BearerClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return i.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse bearer token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid bearer token")
	}

	sub, _ := claims["sub"].(string)
	username, _ := claims["username"].(string)
	email, _ := claims["email"].(string)
	kind, _ := claims["kind"].(string)
	exp, _ := claims["exp"].(float64)

	return &BearerClaims{
		Subject:   sub,
		Username:  username,
		Email:     email,
		Kind:      kind,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}
