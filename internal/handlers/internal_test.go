package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/fulfillment/internal/jobs"
)

type stubJobRunner struct {
	runFn func(ctx context.Context) (jobs.RunStats, error)
}

func (s *stubJobRunner) RunDueJobs(ctx context.Context) (jobs.RunStats, error) {
	return s.runFn(ctx)
}

func TestRunJobsEndpointReportsStats(t *testing.T) {
	runner := &stubJobRunner{
		runFn: func(ctx context.Context) (jobs.RunStats, error) {
			return jobs.RunStats{Claimed: 4, Succeeded: 2, Rescheduled: 1, GaveUp: 1}, nil
		},
	}
	r := chi.NewRouter()
	NewInternalHandlers(runner).Routes(r)

	req := httptest.NewRequest(http.MethodPost, "/jobs/run", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload runJobsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Claimed != 4 || payload.Succeeded != 2 || payload.Rescheduled != 1 || payload.GaveUp != 1 {
		t.Fatalf("unexpected stats %#v", payload)
	}
}

func TestRunJobsEndpointFailure(t *testing.T) {
	runner := &stubJobRunner{
		runFn: func(ctx context.Context) (jobs.RunStats, error) {
			return jobs.RunStats{}, errors.New("firestore unavailable")
		},
	}
	r := chi.NewRouter()
	NewInternalHandlers(runner).Routes(r)

	req := httptest.NewRequest(http.MethodPost, "/jobs/run", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
