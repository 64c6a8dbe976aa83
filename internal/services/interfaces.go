package services

import (
	"context"

	domain "github.com/shopforge/fulfillment/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order            = domain.Order
	OrderStatus      = domain.OrderStatus
	OrderLine        = domain.OrderLine
	Payment          = domain.Payment
	PaymentStatus    = domain.PaymentStatus
	Job              = domain.Job
	Coupon           = domain.Coupon
	Cart             = domain.Cart
	CartItem         = domain.CartItem
	Address          = domain.Address
	Courier          = domain.Courier
	ShipmentTracking = domain.ShipmentTracking
)

// CreateOrderCommand carries the checkout request for a cart owner.
type CreateOrderCommand struct {
	OwnerID      string
	CouponCode   string
	Courier      string
	ShippingCost int64
	Address      Address
	PayerEmail   string
	SuccessURL   string
	CancelURL    string
}

// CheckoutResult returns the created aggregate plus the hosted invoice the
// customer must pay.
type CheckoutResult struct {
	Order      Order
	Payment    Payment
	InvoiceURL string
}

// CancelOrderCommand cancels a not-yet-paid order.
type CancelOrderCommand struct {
	OwnerID string
	OrderID string
	Reason  string
}

// RequestRefundCommand moves a paid or shipped order into the refund flow.
type RequestRefundCommand struct {
	OwnerID string
	OrderID string
	Reason  string
}

// ListOrdersQuery narrows the order listing for one owner.
type ListOrdersQuery struct {
	OwnerID  string
	Statuses []OrderStatus
	Limit    int
}

// CouponPreview reports the discount a coupon would yield for a subtotal.
type CouponPreview struct {
	Code     string
	Type     domain.CouponType
	Discount int64
	Applied  bool
}

// CheckoutService converts a cart into an order with a pending payment.
type CheckoutService interface {
	CreateOrderFromCart(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error)
	// PreviewCoupon evaluates a coupon against a hypothetical subtotal
	// without touching the cart.
	PreviewCoupon(ctx context.Context, code string, subtotal int64) (CouponPreview, error)
}

// OrderService owns every order status transition. All mutations run as
// guarded transactional updates keyed on the expected current status.
type OrderService interface {
	GetOrder(ctx context.Context, ownerID, orderID string) (Order, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) ([]Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Order, error)

	// MarkPaid applies the payment webhook's effect and enqueues the
	// shipping job exactly once per order.
	MarkPaid(ctx context.Context, orderID string) (Order, error)
	// MarkShipped applies the shipping job's success effect.
	MarkShipped(ctx context.Context, orderID, shippingOrderID string, tracking ShipmentTracking) (Order, error)
	// ApplyTrackingUpdate enriches courier fields and finalises delivery.
	ApplyTrackingUpdate(ctx context.Context, orderID string, tracking ShipmentTracking, delivered bool) (Order, error)
	// MarkRefunded applies the refund job's success effect.
	MarkRefunded(ctx context.Context, orderID string) (Order, error)
	// MarkRefundFailed records exhausted refund attempts; the order stays
	// REFUNDING for manual remediation.
	MarkRefundFailed(ctx context.Context, orderID, reason string) error
}

// PaymentEvent is the parsed payload of a payment gateway webhook.
type PaymentEvent struct {
	ExternalID    string
	Status        string
	CallbackToken string
	PayerEmail    string
}

// ShippingEvent is the parsed payload of a shipping gateway webhook.
type ShippingEvent struct {
	ShippingOrderID string
	Status          string
	WaybillID       string
	DriverName      string
	DriverPhone     string
	TrackingURL     string
}

// WebhookService converts gateway callbacks into state machine transitions
// exactly once per logical event.
type WebhookService interface {
	HandlePaymentEvent(ctx context.Context, event PaymentEvent) error
	HandleShippingEvent(ctx context.Context, event ShippingEvent) error
}

// AreaQuery filters the shipping gateway's area reference data.
type AreaQuery struct {
	Search string
}

// Area mirrors the shipping gateway's area reference entries.
type Area struct {
	ID         string
	Name       string
	PostalCode string
}

// ReferenceService serves cached shipping reference data.
type ReferenceService interface {
	Couriers(ctx context.Context) ([]Courier, error)
	Areas(ctx context.Context, query AreaQuery) ([]Area, error)
}

// SystemService reports service health for the operational endpoints.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderEvent is the message body for order lifecycle notifications.
type OrderEvent struct {
	OrderID    string `json:"orderId"`
	OwnerID    string `json:"ownerId"`
	Status     string `json:"status"`
	PrevStatus string `json:"prevStatus,omitempty"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	OccurredAt string `json:"occurredAt"`
}

// OrderEventPublisher emits order lifecycle events to interested consumers.
// Publishing is best effort; failures are logged and never block a
// transition.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// OpsAlert is the message body for the operational alert channel.
type OpsAlert struct {
	Kind    string `json:"kind"`
	OrderID string `json:"orderId,omitempty"`
	JobID   string `json:"jobId,omitempty"`
	Detail  string `json:"detail"`
}

// AlertPublisher surfaces operational failures that need human attention.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert OpsAlert) (string, error)
}
