package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shopforge/fulfillment/internal/domain"
	pfirestore "github.com/shopforge/fulfillment/internal/platform/firestore"
	"github.com/shopforge/fulfillment/internal/repositories"
)

const jobsCollection = "jobs"

// JobRepository persists durable queue jobs within Firestore.
type JobRepository struct {
	base     *pfirestore.BaseRepository[jobDocument]
	provider *pfirestore.Provider
}

// NewJobRepository constructs a Firestore-backed job repository.
func NewJobRepository(provider *pfirestore.Provider) (*JobRepository, error) {
	if provider == nil {
		return nil, errors.New("job repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[jobDocument](provider, jobsCollection)
	return &JobRepository{base: base, provider: provider}, nil
}

// Create stores a new job. The write fails with a conflict when the ID
// already exists, which collapses duplicate enqueues from concurrent webhook
// deliveries into a single job.
func (r *JobRepository) Create(ctx context.Context, job domain.Job) error {
	if r == nil || r.base == nil {
		return errors.New("job repository not initialised")
	}
	jobID := strings.TrimSpace(job.ID)
	if jobID == "" {
		return errors.New("job repository: job id is required")
	}
	if strings.TrimSpace(job.OrderID) == "" {
		return errors.New("job repository: order id is required")
	}
	err := r.base.Create(ctx, jobID, newJobDocument(job))
	return err
}

// FindByID loads a single job.
func (r *JobRepository) FindByID(ctx context.Context, jobID string) (domain.Job, error) {
	if r == nil || r.base == nil {
		return domain.Job{}, errors.New("job repository not initialised")
	}
	id := strings.TrimSpace(jobID)
	if id == "" {
		return domain.Job{}, errors.New("job repository: job id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListDue returns PENDING jobs whose retry gate has passed, earliest first.
func (r *JobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("job repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		// Firestore requires the inequality field to sort first; the
		// secondary createdAt sort keeps simultaneously-due jobs FIFO.
		// Needs the composite (status, nextRunAt, createdAt) index.
		q = q.Where("status", "==", string(domain.JobStatusPending)).
			Where("nextRunAt", "<=", now.UTC()).
			OrderBy("nextRunAt", firestore.Asc).
			OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(docs))
	for _, doc := range docs {
		jobs = append(jobs, doc.Data.toDomain(doc.ID))
	}
	return jobs, nil
}

// ListByOrder returns every job tied to the order, oldest first.
func (r *JobRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Job, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("job repository not initialised")
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return nil, errors.New("job repository: order id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", oid).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(docs))
	for _, doc := range docs {
		jobs = append(jobs, doc.Data.toDomain(doc.ID))
	}
	return jobs, nil
}

// Claim atomically transitions the job from PENDING to IN_PROGRESS. Losing
// the race surfaces as a conflict so a second worker skips the job.
func (r *JobRepository) Claim(ctx context.Context, jobID string, now time.Time) (domain.Job, error) {
	return r.mutate(ctx, jobID, "firestore.jobs.claim", func(job *domain.Job) error {
		if job.Status != domain.JobStatusPending {
			return repositories.NewError(repositories.ErrorCodeConflict, fmt.Sprintf("job %s is %s, not claimable", job.ID, job.Status), nil)
		}
		job.Status = domain.JobStatusInProgress
		job.UpdatedAt = now.UTC()
		return nil
	})
}

// MarkSucceeded finalises a claimed job.
func (r *JobRepository) MarkSucceeded(ctx context.Context, jobID string, now time.Time) error {
	_, err := r.mutate(ctx, jobID, "firestore.jobs.succeed", func(job *domain.Job) error {
		if job.Status != domain.JobStatusInProgress {
			return repositories.NewError(repositories.ErrorCodeInvalidState, fmt.Sprintf("job %s is %s, not in progress", job.ID, job.Status), nil)
		}
		job.Status = domain.JobStatusSucceeded
		job.LastError = ""
		job.UpdatedAt = now.UTC()
		return nil
	})
	return err
}

// Reschedule returns a claimed job to PENDING with the attempt count and
// retry gate updated.
func (r *JobRepository) Reschedule(ctx context.Context, jobID string, attempts int, nextRunAt time.Time, lastError string, now time.Time) error {
	_, err := r.mutate(ctx, jobID, "firestore.jobs.reschedule", func(job *domain.Job) error {
		if job.Status != domain.JobStatusInProgress {
			return repositories.NewError(repositories.ErrorCodeInvalidState, fmt.Sprintf("job %s is %s, not in progress", job.ID, job.Status), nil)
		}
		gate := nextRunAt.UTC()
		job.Status = domain.JobStatusPending
		job.Attempts = attempts
		job.LastError = lastError
		job.NextRunAt = &gate
		job.UpdatedAt = now.UTC()
		return nil
	})
	return err
}

// MarkGaveUp parks a job for manual remediation after retries are exhausted
// or a permanent failure occurred.
func (r *JobRepository) MarkGaveUp(ctx context.Context, jobID string, attempts int, lastError string, now time.Time) error {
	_, err := r.mutate(ctx, jobID, "firestore.jobs.giveup", func(job *domain.Job) error {
		if job.Status != domain.JobStatusInProgress {
			return repositories.NewError(repositories.ErrorCodeInvalidState, fmt.Sprintf("job %s is %s, not in progress", job.ID, job.Status), nil)
		}
		job.Status = domain.JobStatusGaveUp
		job.Attempts = attempts
		job.LastError = lastError
		job.UpdatedAt = now.UTC()
		return nil
	})
	return err
}

func (r *JobRepository) mutate(ctx context.Context, jobID, op string, fn func(job *domain.Job) error) (domain.Job, error) {
	if r == nil || r.provider == nil {
		return domain.Job{}, errors.New("job repository not initialised")
	}
	id := strings.TrimSpace(jobID)
	if id == "" {
		return domain.Job{}, errors.New("job repository: job id is required")
	}

	var mutated domain.Job
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewError(repositories.ErrorCodeNotFound, fmt.Sprintf("job %s not found", id), err)
			}
			return err
		}
		var doc jobDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}

		job := doc.toDomain(id)
		if err := fn(&job); err != nil {
			return err
		}
		job.ID = id

		mutated = job
		return tx.Set(ref, newJobDocument(job))
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			return domain.Job{}, err
		}
		return domain.Job{}, pfirestore.WrapError(op, err)
	}
	return mutated, nil
}

type jobDocument struct {
	Type      string         `firestore:"type"`
	OrderID   string         `firestore:"orderId"`
	Status    string         `firestore:"status"`
	Attempts  int            `firestore:"attempts"`
	LastError string         `firestore:"lastError,omitempty"`
	NextRunAt time.Time      `firestore:"nextRunAt"`
	Payload   map[string]any `firestore:"payload,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
	UpdatedAt time.Time      `firestore:"updatedAt"`
}

func newJobDocument(job domain.Job) jobDocument {
	doc := jobDocument{
		Type:      string(job.Type),
		OrderID:   strings.TrimSpace(job.OrderID),
		Status:    string(job.Status),
		Attempts:  job.Attempts,
		LastError: job.LastError,
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt.UTC(),
		UpdatedAt: job.UpdatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	// The due query filters on nextRunAt, so immediately runnable jobs
	// persist their creation time as the gate.
	if job.NextRunAt != nil && !job.NextRunAt.IsZero() {
		doc.NextRunAt = job.NextRunAt.UTC()
	} else {
		doc.NextRunAt = doc.CreatedAt
	}
	return doc
}

func (d jobDocument) toDomain(id string) domain.Job {
	job := domain.Job{
		ID:        id,
		Type:      domain.JobType(d.Type),
		OrderID:   d.OrderID,
		Status:    domain.JobStatus(d.Status),
		Attempts:  d.Attempts,
		LastError: d.LastError,
		Payload:   d.Payload,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if !d.NextRunAt.IsZero() {
		gate := d.NextRunAt
		job.NextRunAt = &gate
	}
	return job
}

var _ repositories.JobRepository = (*JobRepository)(nil)
