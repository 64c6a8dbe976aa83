package repositories

import (
	"context"
	"time"

	domain "github.com/shopforge/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Payments() PaymentRepository
	Jobs() JobRepository
	Coupons() CouponRepository
	Carts() CartRepository
	Inventory() InventoryRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderListFilter narrows order listings for user-facing endpoints.
type OrderListFilter struct {
	OwnerID  string
	Statuses []domain.OrderStatus
	Limit    int
}

// OrderRepository persists the order aggregate. Status mutations performed via
// Mutate run inside a transaction with a fresh read, giving compare-and-set
// semantics without a global lock.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByShippingOrderID(ctx context.Context, shippingOrderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	// Mutate re-reads the order inside a transaction and applies fn to the
	// fresh copy before writing it back. fn returning an error aborts the
	// write and surfaces the error unchanged.
	Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error)
}

// PaymentRepository persists payment attempts. Insert must fail with a
// conflict when ExternalID or CallbackToken already exist.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByExternalID(ctx context.Context, externalID string) (domain.Payment, error)
	FindActiveByOrder(ctx context.Context, orderID string) (domain.Payment, error)
	// Mutate applies fn to a freshly read payment inside a transaction.
	Mutate(ctx context.Context, paymentID string, fn func(payment *domain.Payment) error) (domain.Payment, error)
}

// JobRepository persists durable queue jobs. Create must fail with a conflict
// when the job ID already exists, which is how duplicate enqueues from
// concurrent webhook deliveries collapse to a single job.
type JobRepository interface {
	Create(ctx context.Context, job domain.Job) error
	FindByID(ctx context.Context, jobID string) (domain.Job, error)
	// ListDue returns PENDING jobs whose NextRunAt has passed, ordered by
	// NextRunAt ascending. NextRunAt is always persisted; enqueue writes the
	// creation time when no retry gate applies.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Job, error)
	// Claim atomically transitions the job from PENDING to IN_PROGRESS. It
	// returns a conflict error when another worker already holds the claim.
	Claim(ctx context.Context, jobID string, now time.Time) (domain.Job, error)
	MarkSucceeded(ctx context.Context, jobID string, now time.Time) error
	// Reschedule returns a claimed job to PENDING with the attempt count and
	// retry gate updated.
	Reschedule(ctx context.Context, jobID string, attempts int, nextRunAt time.Time, lastError string, now time.Time) error
	MarkGaveUp(ctx context.Context, jobID string, attempts int, lastError string, now time.Time) error
}

// CouponRepository resolves coupon rules by their public code.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
}

// CartRepository owns mutable cart persistence.
type CartRepository interface {
	GetCart(ctx context.Context, ownerID string) (domain.Cart, error)
	ClearCart(ctx context.Context, ownerID string) error
}

// StockLine names a per-product quantity for reservation requests.
type StockLine struct {
	ProductID string
	Quantity  int
}

// InventoryRepository adjusts stock levels transactionally. Reserve fails with
// a conflict when any line lacks available stock.
type InventoryRepository interface {
	Reserve(ctx context.Context, lines []StockLine) error
	Release(ctx context.Context, lines []StockLine) error
}

// HealthRepository aggregates dependency probes for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
