// Package httpx provides HTTP handlers and utilities for the scout scoring API.
package httpx

import (
	"net/http"

	"github.com/scoutline/scout-api/internal/domain/model"
	"github.com/scoutline/scout-api/internal/service"
)

const (
	defaultResultsLimit = 50
	maxResultsLimit     = 1000
)

// RunHandlers provides HTTP handlers for run submission and reads.
type RunHandlers struct {
	Runs   *service.RunService
	Status *service.StatusService
}

// createRunResponse is the submission response: the durable row plus the
// in-memory job driving it.
type createRunResponse struct {
	Run *model.Run `json:"run"`
	Job *model.Job `json:"job"`
}

// Create handles POST /api/runs.
func (h *RunHandlers) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req model.CreateRunRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.OwnerID = ownerID

	run, job, err := h.Runs.Create(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, createRunResponse{Run: run, Job: job})
}

// runStatusResponse is the poll payload: the status snapshot plus one page of
// persisted results.
type runStatusResponse struct {
	*service.RunStatusSnapshot
	Results      []*model.Result `json:"results"`
	TotalResults int             `json:"total_results"`
}

// Get handles GET /api/runs/{id}. The response carries the run row, the job
// mirror while one is in memory, health for active runs, final stats for
// terminal ones, and a paginated slice of results.
func (h *RunHandlers) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	snapshot, err := h.Status.GetStatus(r.Context(), id, ownerID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	limit, offset := ParseLimitOffset(r, defaultResultsLimit, maxResultsLimit)
	results, total, err := h.Runs.ListResults(r.Context(), ownerID, model.ResultListOptions{
		RunID:          id,
		Classification: r.URL.Query().Get("classification"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, runStatusResponse{
		RunStatusSnapshot: snapshot,
		Results:           results,
		TotalResults:      total,
	})
}

// resultListResponse pages through a run's results.
type resultListResponse struct {
	Results []*model.Result `json:"results"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListResults handles GET /api/runs/{id}/results.
func (h *RunHandlers) ListResults(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	limit, offset := ParseLimitOffset(r, defaultResultsLimit, maxResultsLimit)
	opts := model.ResultListOptions{
		RunID:          r.PathValue("id"),
		Classification: r.URL.Query().Get("classification"),
		Limit:          limit,
		Offset:         offset,
	}

	results, total, err := h.Runs.ListResults(r.Context(), ownerID, opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, resultListResponse{
		Results: results,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// GetStats handles GET /api/runs/{id}/stats.
func (h *RunHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	stats, err := h.Runs.Stats(r.Context(), r.PathValue("id"), ownerID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

// Cancel handles POST /api/runs/{id}/cancel. The run row stays untouched so
// the remainder can be resumed; only the job stops.
func (h *RunHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	job, err := h.Runs.Cancel(r.Context(), r.PathValue("id"), ownerID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}
