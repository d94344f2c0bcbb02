package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/queue"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, logger *slog.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// respondError maps service errors to status codes. Unknown errors are
// logged and reported as 500 without their message.
func respondError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, queue.ErrAccountNotFound):
		respondJSON(w, logger, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, queue.ErrInvalidPriority):
		respondJSON(w, logger, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		logger.Error(msg, "error", err)
		respondJSON(w, logger, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}
