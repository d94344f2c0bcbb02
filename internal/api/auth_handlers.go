package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/reelpulse/reelpulse/internal/auth"
	"github.com/reelpulse/reelpulse/internal/models"
)

// AuthHandler handles operator login.
type AuthHandler struct {
	config  auth.Config
	limiter *auth.LoginLimiter
	clock   models.Clock
	logger  *slog.Logger
}

func NewAuthHandler(config auth.Config, clock models.Clock, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		config:  config,
		limiter: auth.NewLoginLimiter(5, time.Minute),
		clock:   clock,
		logger:  logger,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(r) {
		h.logger.Warn("login rate limited", "ip", r.RemoteAddr)
		respondJSON(w, h.logger, http.StatusTooManyRequests, errorResponse{Error: "Too many login attempts"})
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, h.logger, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	token, expiresAt, err := auth.Login(h.config, req.Password, h.clock.Now())
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.logger.Warn("failed login attempt", "ip", r.RemoteAddr)
		respondJSON(w, h.logger, http.StatusUnauthorized, errorResponse{Error: "Invalid credentials"})
		return
	}
	if err != nil {
		respondError(w, h.logger, "failed to generate token", err)
		return
	}

	h.logger.Info("successful login", "ip", r.RemoteAddr)
	respondJSON(w, h.logger, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}
