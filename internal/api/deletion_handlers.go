package api

import (
	"log/slog"
	"net/http"
)

type DeletionHandlers struct {
	cleanup CleanupService
	logger  *slog.Logger
}

func NewDeletionHandlers(cleanup CleanupService, logger *slog.Logger) *DeletionHandlers {
	return &DeletionHandlers{cleanup: cleanup, logger: logger}
}

// DeleteAccount handles DELETE /api/projects/{projectID}/accounts/{accountID}
func (h *DeletionHandlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	report, err := h.cleanup.DeleteAccount(r.Context(), r.PathValue("projectID"), r.PathValue("accountID"))
	if err != nil {
		respondError(w, h.logger, "failed to delete account", err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, report)
}

// RequestAccountDeletion handles POST /api/projects/{projectID}/accounts/{accountID}/deletion.
// The account is hidden at once and removed by the next sweep.
func (h *DeletionHandlers) RequestAccountDeletion(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.cleanup.RequestAccountDeletion(r.Context(), r.PathValue("projectID"), r.PathValue("accountID"))
	if err != nil {
		respondError(w, h.logger, "failed to request account deletion", err)
		return
	}
	respondJSON(w, h.logger, http.StatusAccepted, map[string]int{"jobs_cancelled": cancelled})
}

// DeleteVideo handles DELETE /api/projects/{projectID}/videos/{videoID}
func (h *DeletionHandlers) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	report, err := h.cleanup.DeleteVideo(r.Context(), r.PathValue("projectID"), r.PathValue("videoID"))
	if err != nil {
		respondError(w, h.logger, "failed to delete video", err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, report)
}

// DeleteProject handles DELETE /api/projects/{projectID}
func (h *DeletionHandlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	report, err := h.cleanup.DeleteProject(r.Context(), r.PathValue("projectID"))
	if err != nil {
		respondError(w, h.logger, "failed to delete project", err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, report)
}

// Sweep handles POST /api/cleanup/sweep
func (h *DeletionHandlers) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.cleanup.Sweep(r.Context())
	if err != nil {
		respondError(w, h.logger, "cleanup sweep failed", err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, result)
}
