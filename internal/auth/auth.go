// Package auth protects the trigger endpoints with HS256 bearer tokens issued
// to the operator after a password login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login for a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	issuer          = "reelpulse"
	operatorSubject = "operator"
	defaultSecret   = "change-this-secret"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const subjectContextKey contextKey = "subject"

// Config holds authentication configuration
type Config struct {
	JWTSecret     string
	PasswordHash  string // bcrypt hash of the operator password
	TokenDuration time.Duration
}

// LoadConfigFromEnv reads ADMIN_JWT_SECRET, ADMIN_TOKEN_HOURS and either
// ADMIN_PASSWORD_HASH or ADMIN_PASSWORD, hashing the latter.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		JWTSecret:     os.Getenv("ADMIN_JWT_SECRET"),
		PasswordHash:  os.Getenv("ADMIN_PASSWORD_HASH"),
		TokenDuration: 24 * time.Hour,
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultSecret
	}

	if v := os.Getenv("ADMIN_TOKEN_HOURS"); v != "" {
		d, err := time.ParseDuration(v + "h")
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid ADMIN_TOKEN_HOURS: must be a positive number")
		}
		cfg.TokenDuration = d
	}

	if cfg.PasswordHash == "" {
		password := os.Getenv("ADMIN_PASSWORD")
		if password == "" {
			password = "admin"
		}
		hash, err := HashPassword(password)
		if err != nil {
			return Config{}, fmt.Errorf("failed to hash ADMIN_PASSWORD: %w", err)
		}
		cfg.PasswordHash = hash
	}
	return cfg, nil
}

// UsesDefaultSecret reports whether the signing secret was left unset.
func (c Config) UsesDefaultSecret() bool {
	return c.JWTSecret == defaultSecret
}

// Claims represents the JWT claims
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken creates a signed token for subject valid from now for duration.
func GenerateToken(subject, secret string, now time.Time, duration time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken validates a token and returns its subject.
func ValidateToken(tokenString, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.Subject, nil
	}

	return "", fmt.Errorf("invalid token")
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Login checks the operator password and issues a token.
func Login(cfg Config, password string, now time.Time) (token string, expiresAt time.Time, err error) {
	if !CheckPassword(password, cfg.PasswordHash) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	token, err = GenerateToken(operatorSubject, cfg.JWTSecret, now, cfg.TokenDuration)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, now.Add(cfg.TokenDuration), nil
}

// Middleware rejects requests without a valid bearer token.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			subject, err := ValidateToken(tokenString, config.JWTSecret)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), subjectContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the authenticated subject of a request.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectContextKey).(string)
	return subject, ok
}
