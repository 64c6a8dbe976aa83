package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment completion.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment succeeded and shipment creation is queued.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped indicates the shipping gateway accepted the shipment.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the courier reported final delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before payment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunding indicates a refund has been requested and is in flight.
	OrderStatusRefunding OrderStatus = "refunding"
	// OrderStatusRefunded indicates the refund completed.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Valid reports whether the value is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusRefunding, OrderStatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus enumerates gateway-facing payment states.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the invoice awaits customer payment.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates the gateway confirmed payment.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusExpired indicates the invoice expired unpaid.
	PaymentStatusExpired PaymentStatus = "expired"
	// PaymentStatusFailed indicates the payment attempt was abandoned or rejected.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefundRequested indicates a refund job has been enqueued.
	PaymentStatusRefundRequested PaymentStatus = "refund_requested"
	// PaymentStatusRefunded indicates the gateway confirmed the refund.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusRefundFailed indicates refund attempts were exhausted.
	PaymentStatusRefundFailed PaymentStatus = "refund_failed"
)

// OrderLine is one priced line captured from the cart at checkout time.
// Lines are immutable once the order exists; prices are never re-read from
// the live catalog.
type OrderLine struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	Subtotal  int64
}

// ShipmentTracking stores courier enrichment delivered by shipping webhooks.
type ShipmentTracking struct {
	WaybillID   string
	Status      string
	DriverName  string
	DriverPhone string
	TrackingURL string
	UpdatedAt   *time.Time
}

// Order is the fulfillment aggregate. Status mutations go exclusively
// through the order service transition functions.
type Order struct {
	ID              string
	OwnerID         string
	Status          OrderStatus
	Currency        string
	Lines           []OrderLine
	ItemsTotal      int64
	Discount        int64
	ShippingCost    int64
	TotalAmount     int64
	CouponCode      string
	ShippingAddress *Address
	Courier         string
	ShippingOrderID string
	Tracking        ShipmentTracking
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
}

// Payment records a single payment attempt against an order. ExternalID and
// CallbackToken are generated exactly once at creation and reused across
// gateway retries of the same logical operation.
type Payment struct {
	ID            string
	OrderID       string
	ExternalID    string
	Method        string
	Status        PaymentStatus
	Amount        int64
	Currency      string
	InvoiceID     string
	InvoiceURL    string
	CallbackToken string
	PayerEmail    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobType distinguishes the two queue instantiations.
type JobType string

const (
	// JobTypeShippingCreate creates the provider shipment after payment.
	JobTypeShippingCreate JobType = "shipping_create"
	// JobTypeRefundCreate issues a gateway refund after cancellation.
	JobTypeRefundCreate JobType = "refund_create"
)

// JobStatus enumerates queue states for durable jobs.
type JobStatus string

const (
	// JobStatusPending indicates the job is eligible once NextRunAt passes.
	JobStatusPending JobStatus = "pending"
	// JobStatusInProgress indicates a worker holds the claim.
	JobStatusInProgress JobStatus = "in_progress"
	// JobStatusSucceeded indicates the gateway call completed.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusGaveUp indicates retries were exhausted or the failure was
	// non-retryable; manual remediation is required.
	JobStatusGaveUp JobStatus = "gave_up"
)

// Job is a durable, at-least-once task mutated only by the queue runner.
// Jobs reference orders by id so queue retries stay decoupled from the
// order lifecycle.
type Job struct {
	ID        string
	Type      JobType
	OrderID   string
	Status    JobStatus
	Attempts  int
	LastError string
	NextRunAt *time.Time
	Payload   map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CouponType selects the discount formula.
type CouponType string

const (
	// CouponTypePercent discounts a percentage of the items subtotal.
	CouponTypePercent CouponType = "percent"
	// CouponTypeFixed discounts a fixed amount, capped at the subtotal.
	CouponTypeFixed CouponType = "fixed"
)

// Coupon describes a discount rule. Value for percent coupons is in whole
// percentage points within [0,100]; for fixed coupons it is a minor-unit
// amount.
type Coupon struct {
	ID       string
	Code     string
	Type     CouponType
	Value    int64
	MinSpend int64
	Active   bool
}

// CartItem stores a single product entry within a mutable cart.
type CartItem struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	AddedAt   time.Time
}

// Cart aggregates the mutable pre-checkout state for a user.
type Cart struct {
	ID        string
	OwnerID   string
	Currency  string
	Items     []CartItem
	UpdatedAt time.Time
}

// Address represents the postal destination of a shipment.
type Address struct {
	Recipient  string
	Phone      string
	Line1      string
	Line2      *string
	City       string
	Province   string
	PostalCode string
	Country    string
	AreaCode   string
}

// Courier describes a shipping option from the gateway's reference data.
type Courier struct {
	Code    string
	Name    string
	Service string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency is degraded but the service keeps running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	GeneratedAt time.Time
}
