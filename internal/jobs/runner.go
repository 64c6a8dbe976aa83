// Package jobs drives the durable background queue: claiming due jobs,
// executing their side effects against the provider gateways, and applying
// the retry policy on failure.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/gateways"
	"github.com/shopforge/fulfillment/internal/repositories"
	"github.com/shopforge/fulfillment/internal/services"
)

const (
	defaultMaxAttempts = 5
	defaultBaseBackoff = time.Minute
	defaultMaxBackoff  = time.Hour
	defaultBatchSize   = 20
	defaultExecTimeout = 30 * time.Second
)

// Executor performs the side effect for one job type. Executions must be
// idempotent: the runner may deliver the same job again after a timeout.
type Executor interface {
	Execute(ctx context.Context, job domain.Job) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job domain.Job) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, job domain.Job) error {
	return f(ctx, job)
}

// giveUpHandler lets an executor apply a terminal effect when its job
// exhausts the retry budget.
type giveUpHandler interface {
	HandleGiveUp(ctx context.Context, job domain.Job, cause error) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying. The runner gives up on the
// job immediately instead of consuming the remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RunStats summarises one RunDueJobs pass.
type RunStats struct {
	Claimed     int
	Succeeded   int
	Rescheduled int
	GaveUp      int
	Skipped     int
}

// RunnerDeps wires the dependencies required by the queue runner.
type RunnerDeps struct {
	Jobs      repositories.JobRepository
	Executors map[domain.JobType]Executor
	Alerts    services.AlertPublisher

	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	BatchSize   int
	ExecTimeout time.Duration

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Runner polls the queue and executes due jobs.
type Runner struct {
	jobs      repositories.JobRepository
	executors map[domain.JobType]Executor
	alerts    services.AlertPublisher

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	batchSize   int
	execTimeout time.Duration

	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewRunner constructs a Runner validating required dependencies.
func NewRunner(deps RunnerDeps) (*Runner, error) {
	if deps.Jobs == nil {
		return nil, errors.New("job runner: job repository is required")
	}
	if len(deps.Executors) == 0 {
		return nil, errors.New("job runner: at least one executor is required")
	}

	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseBackoff := deps.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = defaultBaseBackoff
	}
	maxBackoff := deps.MaxBackoff
	if maxBackoff < baseBackoff {
		maxBackoff = defaultMaxBackoff
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	execTimeout := deps.ExecTimeout
	if execTimeout <= 0 {
		execTimeout = defaultExecTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Runner{
		jobs:        deps.Jobs,
		executors:   deps.Executors,
		alerts:      deps.Alerts,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		batchSize:   batchSize,
		execTimeout: execTimeout,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// RunDueJobs executes one polling pass: list due jobs, claim each one, and
// run its executor. A claim lost to a concurrent runner is skipped silently.
func (r *Runner) RunDueJobs(ctx context.Context) (RunStats, error) {
	var stats RunStats

	due, err := r.jobs.ListDue(ctx, r.now(), r.batchSize)
	if err != nil {
		return stats, fmt.Errorf("job runner: list due jobs: %w", err)
	}

	for _, job := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		claimed, err := r.jobs.Claim(ctx, job.ID, r.now())
		if err != nil {
			if repositories.IsConflict(err) || repositories.IsNotFound(err) {
				stats.Skipped++
				continue
			}
			r.logger(ctx, "jobs.claim_failed", map[string]any{
				"jobId": job.ID,
				"error": err.Error(),
			})
			stats.Skipped++
			continue
		}
		stats.Claimed++

		r.runOne(ctx, claimed, &stats)
	}

	return stats, nil
}

func (r *Runner) runOne(ctx context.Context, job domain.Job, stats *RunStats) {
	exec, ok := r.executors[job.Type]
	if !ok {
		r.giveUp(ctx, nil, job, fmt.Errorf("no executor registered for job type %q", job.Type), stats)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, r.execTimeout)
	err := exec.Execute(execCtx, job)
	cancel()

	if err == nil {
		if markErr := r.jobs.MarkSucceeded(ctx, job.ID, r.now()); markErr != nil {
			// The effect is applied; the next delivery will be absorbed by
			// the executor's idempotency.
			r.logger(ctx, "jobs.mark_succeeded_failed", map[string]any{
				"jobId": job.ID,
				"error": markErr.Error(),
			})
		}
		stats.Succeeded++
		r.logger(ctx, "jobs.succeeded", map[string]any{
			"jobId":   job.ID,
			"type":    string(job.Type),
			"orderId": job.OrderID,
		})
		return
	}

	attempts := job.Attempts + 1
	if r.permanent(err) || attempts >= r.maxAttempts {
		r.giveUp(ctx, exec, job, err, stats)
		return
	}

	nextRunAt := r.now().Add(r.backoff(attempts))
	if rescheduleErr := r.jobs.Reschedule(ctx, job.ID, attempts, nextRunAt, err.Error(), r.now()); rescheduleErr != nil {
		r.logger(ctx, "jobs.reschedule_failed", map[string]any{
			"jobId": job.ID,
			"error": rescheduleErr.Error(),
		})
		return
	}
	stats.Rescheduled++
	r.logger(ctx, "jobs.rescheduled", map[string]any{
		"jobId":     job.ID,
		"type":      string(job.Type),
		"orderId":   job.OrderID,
		"attempts":  attempts,
		"nextRunAt": nextRunAt.Format(time.RFC3339),
		"error":     err.Error(),
	})
}

func (r *Runner) giveUp(ctx context.Context, exec Executor, job domain.Job, cause error, stats *RunStats) {
	attempts := job.Attempts + 1
	if err := r.jobs.MarkGaveUp(ctx, job.ID, attempts, cause.Error(), r.now()); err != nil {
		r.logger(ctx, "jobs.mark_gave_up_failed", map[string]any{
			"jobId": job.ID,
			"error": err.Error(),
		})
		return
	}
	stats.GaveUp++

	if handler, ok := exec.(giveUpHandler); ok {
		if err := handler.HandleGiveUp(ctx, job, cause); err != nil {
			r.logger(ctx, "jobs.give_up_effect_failed", map[string]any{
				"jobId": job.ID,
				"error": err.Error(),
			})
		}
	}

	r.logger(ctx, "jobs.gave_up", map[string]any{
		"jobId":    job.ID,
		"type":     string(job.Type),
		"orderId":  job.OrderID,
		"attempts": attempts,
		"error":    cause.Error(),
	})

	if r.alerts != nil {
		if _, err := r.alerts.PublishAlert(ctx, services.OpsAlert{
			Kind:    "job_gave_up",
			OrderID: job.OrderID,
			JobID:   job.ID,
			Detail:  cause.Error(),
		}); err != nil {
			r.logger(ctx, "jobs.alert_failed", map[string]any{
				"jobId": job.ID,
				"error": err.Error(),
			})
		}
	}
}

// permanent reports whether the failure should not be retried. Gateway errors
// carry an explicit classification; unknown errors are retried until the
// attempt budget runs out.
func (r *Runner) permanent(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return true
	}
	var gatewayErr *gateways.Error
	if errors.As(err, &gatewayErr) {
		return !gatewayErr.Retryable
	}
	return false
}

// backoff returns the delay before the given attempt number runs again,
// doubling per attempt and capped at maxBackoff.
func (r *Runner) backoff(attempts int) time.Duration {
	d := r.baseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= r.maxBackoff {
			return r.maxBackoff
		}
	}
	return d
}
