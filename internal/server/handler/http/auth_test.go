package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/McGuireTechnology/truledgr-auth/internal/middleware"
	"github.com/McGuireTechnology/truledgr-auth/internal/models"
	"github.com/McGuireTechnology/truledgr-auth/internal/service"
)

// fakeAuthService implements AuthService for testing.
type fakeAuthService struct {
	registerUser *models.User
	registerErr  error

	loginResult *models.LoginResult
	loginErr    error

	logoutErr         error
	changePasswordErr error
	keptSessionToken  string

	resetToken        string
	resetRequestErr   error
	resetConfirmErr   error
	sentEmail         string
	sentToken         string

	setupResult *models.TOTPSetup
	setupErr    error
	confirmErr  error
	disableErr  error

	sessions   []models.Session
	listErr    error
	revokeErr  error
	revokedID  string
	validUser  *models.User
}

func (f *fakeAuthService) Register(_ context.Context, username, email, password string) (*models.User, error) {
	return f.registerUser, f.registerErr
}

func (f *fakeAuthService) Login(_ context.Context, login, password, totpCode string, _ models.ClientContext) (*models.LoginResult, error) {
	return f.loginResult, f.loginErr
}

func (f *fakeAuthService) Logout(_ context.Context, token string, allSessions bool) error {
	return f.logoutErr
}

func (f *fakeAuthService) ChangePassword(_ context.Context, userID, currentPassword, newPassword, keepSessionToken string) error {
	f.keptSessionToken = keepSessionToken
	return f.changePasswordErr
}

func (f *fakeAuthService) RequestPasswordReset(_ context.Context, email string, _ models.ClientContext) (string, error) {
	return f.resetToken, f.resetRequestErr
}

func (f *fakeAuthService) ConfirmPasswordReset(_ context.Context, token, newPassword string) error {
	return f.resetConfirmErr
}

func (f *fakeAuthService) SetupTOTP(_ context.Context, userID string) (*models.TOTPSetup, error) {
	return f.setupResult, f.setupErr
}

func (f *fakeAuthService) ConfirmTOTP(_ context.Context, userID, code string) error {
	return f.confirmErr
}

func (f *fakeAuthService) DisableTOTP(_ context.Context, userID, code string) error {
	return f.disableErr
}

func (f *fakeAuthService) ListSessions(_ context.Context, userID string, activeOnly bool) ([]models.Session, error) {
	return f.sessions, f.listErr
}

func (f *fakeAuthService) RevokeSession(_ context.Context, userID, sessionID string) error {
	f.revokedID = sessionID
	return f.revokeErr
}

// ValidateSession lets the fake double as the middleware's validator.
func (f *fakeAuthService) ValidateSession(_ context.Context, token string, _ models.ClientContext) (*models.User, error) {
	if f.validUser != nil && token == "good-token" {
		return f.validUser, nil
	}
	return nil, nil
}

func TestAuthHandler_Register(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		service        *fakeAuthService
		expectedCode   int
		expectedSubstr string
	}{
		{
			name:           "invalid JSON",
			body:           `not a json`,
			service:        &fakeAuthService{},
			expectedCode:   http.StatusBadRequest,
			expectedSubstr: "invalid request",
		},
		{
			name:           "missing fields",
			body:           `{"username":"alice"}`,
			service:        &fakeAuthService{},
			expectedCode:   http.StatusBadRequest,
			expectedSubstr: "invalid request",
		},
		{
			name:           "duplicate user",
			body:           `{"username":"alice","email":"alice@example.com","password":"Sup3rSecret"}`,
			service:        &fakeAuthService{registerErr: service.ErrUserExists},
			expectedCode:   http.StatusConflict,
			expectedSubstr: "user_exists",
		},
		{
			name: "weak password",
			body: `{"username":"alice","email":"alice@example.com","password":"weak"}`,
			service: &fakeAuthService{registerErr: &service.PasswordPolicyError{
				Violations: []string{"password must be at least 8 characters"},
			}},
			expectedCode:   http.StatusBadRequest,
			expectedSubstr: "password_policy_violation",
		},
		{
			name: "success",
			body: `{"username":"alice","email":"alice@example.com","password":"Sup3rSecret"}`,
			service: &fakeAuthService{registerUser: &models.User{
				ID: "u1", Username: "alice", Email: "alice@example.com",
			}},
			expectedCode:   http.StatusCreated,
			expectedSubstr: `"alice"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/register", bytes.NewBufferString(tt.body))
			h := &AuthHandler{AuthService: tt.service}
			h.Register(rec, req)
			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.expectedCode {
				t.Fatalf("expected status %d, got %d", tt.expectedCode, res.StatusCode)
			}
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(res.Body); err != nil {
				t.Fatalf("failed to read body: %v", err)
			}
			if !bytes.Contains(buf.Bytes(), []byte(tt.expectedSubstr)) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedSubstr, buf.String())
			}
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		service        *fakeAuthService
		expectedCode   int
		expectedSubstr string
		retryAfter     bool
	}{
		{
			name:           "invalid JSON",
			body:           `not a json`,
			service:        &fakeAuthService{},
			expectedCode:   http.StatusBadRequest,
			expectedSubstr: "invalid request",
		},
		{
			name:           "wrong credentials",
			body:           `{"login":"alice","password":"nope"}`,
			service:        &fakeAuthService{loginErr: service.ErrInvalidCredentials},
			expectedCode:   http.StatusUnauthorized,
			expectedSubstr: "invalid_credentials",
		},
		{
			name:           "wrong one-time code",
			body:           `{"login":"alice","password":"pw","totp_code":"000000"}`,
			service:        &fakeAuthService{loginErr: service.ErrInvalidTOTP},
			expectedCode:   http.StatusUnauthorized,
			expectedSubstr: "invalid_totp",
		},
		{
			name:           "locked account",
			body:           `{"login":"alice","password":"pw"}`,
			service:        &fakeAuthService{loginErr: &service.AccountLockedError{SecondsRemaining: 900}},
			expectedCode:   http.StatusTooManyRequests,
			expectedSubstr: "account_locked",
			retryAfter:     true,
		},
		{
			name: "totp required",
			body: `{"login":"alice","password":"pw"}`,
			service: &fakeAuthService{loginResult: &models.LoginResult{
				Status: models.LoginTOTPRequired,
			}},
			expectedCode:   http.StatusOK,
			expectedSubstr: string(models.LoginTOTPRequired),
		},
		{
			name: "success",
			body: `{"login":"alice","password":"pw"}`,
			service: &fakeAuthService{loginResult: &models.LoginResult{
				Status:       models.LoginSuccess,
				SessionToken: "session-token",
			}},
			expectedCode:   http.StatusOK,
			expectedSubstr: "session-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/login", bytes.NewBufferString(tt.body))
			h := &AuthHandler{AuthService: tt.service}
			h.Login(rec, req)
			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.expectedCode {
				t.Fatalf("expected status %d, got %d", tt.expectedCode, res.StatusCode)
			}
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(res.Body); err != nil {
				t.Fatalf("failed to read body: %v", err)
			}
			if !bytes.Contains(buf.Bytes(), []byte(tt.expectedSubstr)) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedSubstr, buf.String())
			}
			if tt.retryAfter && res.Header.Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
		})
	}
}

func TestAuthHandler_RequestPasswordReset(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		service      *fakeAuthService
		expectedCode int
	}{
		{
			name:         "missing email",
			body:         `{}`,
			service:      &fakeAuthService{},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "unknown address still ok",
			body:         `{"email":"nobody@example.com"}`,
			service:      &fakeAuthService{resetToken: ""},
			expectedCode: http.StatusOK,
		},
		{
			name:         "known address ok",
			body:         `{"email":"alice@example.com"}`,
			service:      &fakeAuthService{resetToken: "reset-token"},
			expectedCode: http.StatusOK,
		},
		{
			name:         "rate limited",
			body:         `{"email":"alice@example.com"}`,
			service:      &fakeAuthService{resetRequestErr: &service.RateLimitedError{RetryAfter: 10 * time.Minute}},
			expectedCode: http.StatusTooManyRequests,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/password/reset/request", bytes.NewBufferString(tt.body))
			h := &AuthHandler{
				AuthService: tt.service,
				SendResetToken: func(email, token string) {
					tt.service.sentEmail = email
					tt.service.sentToken = token
				},
			}
			h.RequestPasswordReset(rec, req)
			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.expectedCode {
				t.Fatalf("expected status %d, got %d", tt.expectedCode, res.StatusCode)
			}
		})
	}
}

func TestAuthHandler_RequestPasswordReset_TokenNeverInResponse(t *testing.T) {
	svc := &fakeAuthService{resetToken: "reset-token"}
	h := &AuthHandler{
		AuthService:    svc,
		SendResetToken: func(email, token string) { svc.sentEmail, svc.sentToken = email, token },
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/password/reset/request", bytes.NewBufferString(`{"email":"alice@example.com"}`))
	h.RequestPasswordReset(rec, req)
	res := rec.Result()
	defer res.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(res.Body)
	if bytes.Contains(buf.Bytes(), []byte("reset-token")) {
		t.Error("reset token leaked into the HTTP response")
	}
	if svc.sentToken != "reset-token" || svc.sentEmail != "alice@example.com" {
		t.Errorf("sender got (%q, %q), want the issued token", svc.sentEmail, svc.sentToken)
	}
}

func TestAuthHandler_ConfirmPasswordReset(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		service      *fakeAuthService
		expectedCode int
	}{
		{
			name:         "missing token",
			body:         `{"new_password":"N3wPassword"}`,
			service:      &fakeAuthService{},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "dead token",
			body:         `{"token":"t","new_password":"N3wPassword"}`,
			service:      &fakeAuthService{resetConfirmErr: service.ErrInvalidOrExpiredToken},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "success",
			body:         `{"token":"t","new_password":"N3wPassword"}`,
			service:      &fakeAuthService{},
			expectedCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/password/reset/confirm", bytes.NewBufferString(tt.body))
			h := &AuthHandler{AuthService: tt.service}
			h.ConfirmPasswordReset(rec, req)
			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.expectedCode {
				t.Fatalf("expected status %d, got %d", tt.expectedCode, res.StatusCode)
			}
		})
	}
}

// authenticated runs a handler behind the session-auth middleware with
// the fake service doubling as the validator.
func authenticated(svc *fakeAuthService, handler http.HandlerFunc) http.Handler {
	return middleware.SessionAuth(svc)(handler)
}

func TestAuthHandler_ChangePassword(t *testing.T) {
	svc := &fakeAuthService{validUser: &models.User{ID: "u1", Username: "alice"}}
	h := &AuthHandler{AuthService: svc}
	protected := authenticated(svc, h.ChangePassword)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/password/change",
		bytes.NewBufferString(`{"current_password":"old","new_password":"N3wPassword"}`))
	req.Header.Set("Authorization", "Bearer good-token")
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if svc.keptSessionToken != "good-token" {
		t.Errorf("kept session token = %q; want the presented token", svc.keptSessionToken)
	}
}

func TestAuthHandler_ChangePassword_WrongCurrent(t *testing.T) {
	svc := &fakeAuthService{
		validUser:         &models.User{ID: "u1", Username: "alice"},
		changePasswordErr: service.ErrInvalidCredentials,
	}
	h := &AuthHandler{AuthService: svc}
	protected := authenticated(svc, h.ChangePassword)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/password/change",
		bytes.NewBufferString(`{"current_password":"wrong","new_password":"N3wPassword"}`))
	req.Header.Set("Authorization", "Bearer good-token")
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	svc := &fakeAuthService{validUser: &models.User{ID: "u1"}}
	h := &AuthHandler{AuthService: svc}
	protected := authenticated(svc, h.Logout)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/logout", bytes.NewBufferString(`{"all_sessions":true}`))
	req.Header.Set("Authorization", "Bearer good-token")
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}
