package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/fulfillment/internal/jobs"
	"github.com/shopforge/fulfillment/internal/platform/httpx"
)

// jobRunner triggers one queue polling pass.
type jobRunner interface {
	RunDueJobs(ctx context.Context) (jobs.RunStats, error)
}

type runJobsResponse struct {
	Claimed     int `json:"claimed"`
	Succeeded   int `json:"succeeded"`
	Rescheduled int `json:"rescheduled"`
	GaveUp      int `json:"gave_up"`
	Skipped     int `json:"skipped"`
}

// InternalHandlers exposes operational endpoints for trusted callers. The
// router guards this group with HMAC middleware.
type InternalHandlers struct {
	runner jobRunner
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(runner jobRunner) *InternalHandlers {
	return &InternalHandlers{runner: runner}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/run", h.runJobs)
}

func (h *InternalHandlers) runJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.runner == nil {
		httpx.WriteError(ctx, w, httpx.NewError("runner_unavailable", "job runner unavailable", http.StatusServiceUnavailable))
		return
	}

	stats, err := h.runner.RunDueJobs(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("run_failed", "job run failed", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, runJobsResponse{
		Claimed:     stats.Claimed,
		Succeeded:   stats.Succeeded,
		Rescheduled: stats.Rescheduled,
		GaveUp:      stats.GaveUp,
		Skipped:     stats.Skipped,
	})
}
