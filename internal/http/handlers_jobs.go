package httpx

import (
	"net/http"

	"github.com/scoutline/scout-api/internal/domain/model"
	"github.com/scoutline/scout-api/internal/service"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 200
)

// JobHandlers provides HTTP handlers for owner-scoped job reads and cancellation.
type JobHandlers struct {
	Svc *service.JobService
}

// List handles GET /api/jobs. Supports status filter and pagination.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	opts := model.JobListOptions{OwnerID: ownerID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if err := opts.Status.UnmarshalText([]byte(raw)); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_status", Err: err})
			return
		}
	}
	opts.Limit, opts.Offset = ParseLimitOffset(r, defaultJobsLimit, maxJobsLimit)

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	job, err := h.Svc.GetByID(r.Context(), r.PathValue("id"), ownerID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// jobProgressResponse is the lightweight polling payload for one job.
type jobProgressResponse struct {
	ID        string          `json:"id"`
	Status    model.JobStatus `json:"status"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Error     *string         `json:"error,omitempty"`
}

// GetProgress handles GET /api/jobs/{id}/progress.
func (h *JobHandlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	job, err := h.Svc.GetByID(r.Context(), r.PathValue("id"), ownerID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, jobProgressResponse{
		ID:        job.ID,
		Status:    job.Status,
		Completed: job.Progress.Completed,
		Total:     job.Progress.Total,
		Error:     job.Error,
	})
}

// Cancel handles POST /api/jobs/{id}/cancel.
func (h *JobHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	job, err := h.Svc.Cancel(r.Context(), r.PathValue("id"), ownerID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}
