package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/queue"
	"github.com/reelpulse/reelpulse/internal/validation"
)

type QueueHandlers struct {
	queue  QueueService
	logger *slog.Logger
}

func NewQueueHandlers(q QueueService, logger *slog.Logger) *QueueHandlers {
	return &QueueHandlers{queue: q, logger: logger}
}

// SyncRequest is the optional body of a manual sync trigger.
type SyncRequest struct {
	Priority string `json:"priority" validate:"omitempty,oneof=user scheduled"`
}

// SyncResponse reports the job that will sync the account.
type SyncResponse struct {
	Job     *models.SyncJob   `json:"job"`
	Created bool              `json:"created"`
	Tick    *queue.TickResult `json:"tick,omitempty"`
}

// TriggerSync handles POST /api/accounts/{accountID}/sync. The job is
// enqueued and a tick runs right away so an idle queue starts it without
// waiting for the scheduler.
func (h *QueueHandlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondJSON(w, h.logger, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	if result := validation.ValidateStruct(req); !result.Valid {
		respondJSON(w, h.logger, http.StatusBadRequest, errorResponse{Error: result.Error()})
		return
	}
	priority, err := queue.ParsePriority(req.Priority)
	if err != nil {
		respondError(w, h.logger, "failed to parse priority", err)
		return
	}

	accountID := r.PathValue("accountID")
	job, created, err := h.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		AccountID: accountID,
		Trigger:   models.JobTriggerManual,
		Priority:  priority,
	})
	if err != nil {
		respondError(w, h.logger, "failed to enqueue sync", err)
		return
	}

	resp := SyncResponse{Job: job, Created: created}
	if tick, err := h.queue.Tick(r.Context()); err != nil {
		h.logger.Warn("opportunistic tick failed", "account_id", accountID, "error", err)
	} else {
		resp.Tick = &tick
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	respondJSON(w, h.logger, status, resp)
}

// Tick handles POST /api/queue/tick
func (h *QueueHandlers) Tick(w http.ResponseWriter, r *http.Request) {
	result, err := h.queue.Tick(r.Context())
	if err != nil {
		respondError(w, h.logger, "queue tick failed", err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, result)
}

// Status handles GET /api/queue/status
func (h *QueueHandlers) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.queue.Status(r.Context())
	if err != nil {
		respondError(w, h.logger, "failed to read queue status", err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, status)
}
