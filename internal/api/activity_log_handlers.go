package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/reelpulse/reelpulse/internal/models"
)

const (
	defaultActivityLimit = 100
	maxActivityLimit     = 1000
)

type ActivityLogHandlers struct {
	repo   models.ActivityLogRepository
	logger *slog.Logger
}

func NewActivityLogHandlers(repo models.ActivityLogRepository, logger *slog.Logger) *ActivityLogHandlers {
	return &ActivityLogHandlers{
		repo:   repo,
		logger: logger,
	}
}

// ListActivities handles GET /api/activity
func (h *ActivityLogHandlers) ListActivities(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, maxActivityLimit)
		}
	}

	activityType := r.URL.Query().Get("activity_type")
	platform := r.URL.Query().Get("platform")

	logs, err := h.repo.List(r.Context(), limit, activityType, platform)
	if err != nil {
		respondError(w, h.logger, "failed to list activity logs", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
