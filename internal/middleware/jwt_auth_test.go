package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAuth(t *testing.T) *JWTAuthMiddleware {
	t.Helper()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return NewJWTAuthMiddleware(&JWTAuthConfig{
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		JWTSecret:         "test-secret",
		JWTExpiryHours:    1,
	})
}

func TestValidateCredentials(t *testing.T) {
	auth := newTestAuth(t)

	if !auth.ValidateCredentials("admin", "s3cret") {
		t.Error("valid credentials should pass")
	}
	if auth.ValidateCredentials("admin", "wrong") {
		t.Error("wrong password should fail")
	}
	if auth.ValidateCredentials("root", "s3cret") {
		t.Error("wrong username should fail")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	auth := newTestAuth(t)

	token, err := auth.GenerateToken("admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("expected username admin, got %q", claims.Username)
	}

	if _, err := auth.ValidateToken(token + "tampered"); err == nil {
		t.Error("tampered token should not validate")
	}
}

func TestWrap_RejectsMissingAndInvalidTokens(t *testing.T) {
	auth := newTestAuth(t)
	var gotUser string
	handler := auth.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config/history", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}

	// Garbage token.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/config/history", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: expected 401, got %d", rec.Code)
	}

	// Valid token.
	token, _ := auth.GenerateToken("admin")
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/config/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", rec.Code)
	}
	if gotUser != "admin" {
		t.Errorf("handler should see the authenticated user, got %q", gotUser)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("request id should be in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("response should carry a request id")
	}

	// A client-provided id is echoed back.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-trace-id")
	handler.ServeHTTP(rec, req)
	if rec.Header().Get(RequestIDHeader) != "my-trace-id" {
		t.Errorf("expected echoed request id, got %q", rec.Header().Get(RequestIDHeader))
	}
}
