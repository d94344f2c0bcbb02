package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	return Config{JWTSecret: "test-secret", PasswordHash: hash, TokenDuration: time.Hour}
}

func TestLogin(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()

	token, expires, err := Login(cfg, "s3cret", now)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !expires.Equal(now.Add(time.Hour)) {
		t.Errorf("expiresAt = %v, want %v", expires, now.Add(time.Hour))
	}
	subject, err := ValidateToken(token, cfg.JWTSecret)
	if err != nil || subject != operatorSubject {
		t.Errorf("ValidateToken() = %q, %v", subject, err)
	}

	if _, _, err := Login(cfg, "wrong", now); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(wrong) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	now := time.Now()
	expired, _ := GenerateToken("operator", "secret", now.Add(-2*time.Hour), time.Hour)
	otherKey, _ := GenerateToken("operator", "other", now, time.Hour)

	tests := map[string]string{
		"expired":     expired,
		"wrong key":   otherKey,
		"not a token": "abc.def.ghi",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ValidateToken(token, "secret"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	cfg := testConfig(t)
	valid, _ := GenerateToken("operator", cfg.JWTSecret, time.Now(), time.Hour)

	var gotSubject string
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + valid, want: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer " + valid, want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodPost, "/api/queue/tick", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && gotSubject != "operator" {
				t.Errorf("subject = %q, want operator", gotSubject)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "")
	t.Setenv("ADMIN_PASSWORD_HASH", "")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	t.Setenv("ADMIN_TOKEN_HOURS", "2")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if !cfg.UsesDefaultSecret() {
		t.Error("expected default secret")
	}
	if cfg.TokenDuration != 2*time.Hour {
		t.Errorf("TokenDuration = %v, want 2h", cfg.TokenDuration)
	}
	if !CheckPassword("hunter2", cfg.PasswordHash) {
		t.Error("password hash does not match ADMIN_PASSWORD")
	}

	t.Setenv("ADMIN_TOKEN_HOURS", "-1")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Error("expected error for negative ADMIN_TOKEN_HOURS")
	}
}

func TestLoginLimiter(t *testing.T) {
	limiter := NewLoginLimiter(3, time.Hour)

	first := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	first.RemoteAddr = "203.0.113.7:4000"
	for i := 0; i < 3; i++ {
		if !limiter.Allow(first) {
			t.Fatalf("attempt %d was limited, want allowed", i+1)
		}
	}
	if limiter.Allow(first) {
		t.Error("fourth attempt was allowed, want limited")
	}

	// Same host on a different port shares the budget.
	samePort := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	samePort.RemoteAddr = "203.0.113.7:4001"
	if limiter.Allow(samePort) {
		t.Error("same IP on a new port was allowed")
	}

	other := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	other.RemoteAddr = "198.51.100.2:4000"
	if !limiter.Allow(other) {
		t.Error("a different IP was limited")
	}
}
