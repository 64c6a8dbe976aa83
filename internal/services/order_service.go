package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/gateways/payment"
	"github.com/shopforge/fulfillment/internal/repositories"
)

const (
	refundJobIDPrefix   = "job_refund_"
	shippingJobIDPrefix = "job_ship_"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid parameters.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("orders: forbidden")
	// ErrOrderInvalidState indicates the transition is not legal from the
	// order's current status.
	ErrOrderInvalidState = errors.New("orders: invalid state transition")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("orders: unavailable")
)

// errTransitionNoop aborts a guarded mutation when the current status already
// dominates the target, so the duplicate trigger acks without side effects.
var errTransitionNoop = errors.New("orders: transition already applied")

// dominatedBy lists, per target status, the states that already include the
// target's effect. A transition request against one of these states is a
// benign duplicate, not an error.
var dominatedBy = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPaid: {
		domain.OrderStatusPaid, domain.OrderStatusShipped, domain.OrderStatusDelivered,
		domain.OrderStatusRefunding, domain.OrderStatusRefunded,
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusShipped, domain.OrderStatusDelivered,
		domain.OrderStatusRefunding, domain.OrderStatusRefunded,
	},
	domain.OrderStatusDelivered: {domain.OrderStatusDelivered},
	domain.OrderStatusRefunding: {domain.OrderStatusRefunding, domain.OrderStatusRefunded},
	domain.OrderStatusRefunded:  {domain.OrderStatusRefunded},
	domain.OrderStatusCancelled: {domain.OrderStatusCancelled},
}

func statusDominates(current, target domain.OrderStatus) bool {
	for _, s := range dominatedBy[target] {
		if current == s {
			return true
		}
	}
	return false
}

// orderInvoiceExpirer abstracts the payment gateway call used on cancellation.
type orderInvoiceExpirer interface {
	ExpireInvoice(ctx context.Context, invoiceID string) error
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Payments  repositories.PaymentRepository
	Jobs      repositories.JobRepository
	Inventory repositories.InventoryRepository
	Invoices  orderInvoiceExpirer
	Events    OrderEventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	payments  repositories.PaymentRepository
	jobs      repositories.JobRepository
	inventory repositories.InventoryRepository
	invoices  orderInvoiceExpirer
	events    OrderEventPublisher
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment repository is required")
	}
	if deps.Jobs == nil {
		return nil, errors.New("order service: job repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		payments:  deps.Payments,
		jobs:      deps.Jobs,
		inventory: deps.Inventory,
		invoices:  deps.Invoices,
		events:    deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetOrder loads a single order scoped to its owner. An empty ownerID skips
// the ownership check for internal callers.
func (s *orderService) GetOrder(ctx context.Context, ownerID, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if owner := strings.TrimSpace(ownerID); owner != "" && order.OwnerID != owner {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

// ListOrders returns the owner's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) ([]Order, error) {
	owner := strings.TrimSpace(query.OwnerID)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrOrderInvalidInput)
	}

	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		OwnerID:  owner,
		Statuses: query.Statuses,
		Limit:    query.Limit,
	})
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return orders, nil
}

// CancelOrder cancels a PENDING order. Cancellation after payment must go
// through the refund path instead.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	owner := strings.TrimSpace(cmd.OwnerID)

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)

	order, err := s.orders.Mutate(ctx, id, func(order *domain.Order) error {
		if owner != "" && order.OwnerID != owner {
			return ErrOrderForbidden
		}
		if order.Status == domain.OrderStatusCancelled {
			return errTransitionNoop
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: cannot cancel %s order", ErrOrderInvalidState, order.Status)
		}
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		if reason != "" {
			order.CancelReason = &reason
		}
		return nil
	})
	if errors.Is(err, errTransitionNoop) {
		return s.orders.FindByID(ctx, id)
	}
	if err != nil {
		return Order{}, s.translateTransitionError(err)
	}

	s.releaseOrderStock(ctx, order)
	s.failPendingPayment(ctx, order.ID)
	s.publishEvent(ctx, order, domain.OrderStatusPending)

	s.logger(ctx, "orders.cancelled", map[string]any{
		"orderId": order.ID,
		"reason":  reason,
	})
	return order, nil
}

// MarkPaid transitions a PENDING order to PAID and enqueues the shipping job.
// The job ID is derived from the order ID, so concurrent duplicate webhook
// deliveries collapse into a single job.
func (s *orderService) MarkPaid(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	order, err := s.orders.Mutate(ctx, id, func(order *domain.Order) error {
		if statusDominates(order.Status, domain.OrderStatusPaid) {
			return errTransitionNoop
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: cannot mark %s order paid", ErrOrderInvalidState, order.Status)
		}
		order.Status = domain.OrderStatusPaid
		order.PaidAt = &now
		return nil
	})
	if errors.Is(err, errTransitionNoop) {
		return s.orders.FindByID(ctx, id)
	}
	if err != nil {
		return Order{}, s.translateTransitionError(err)
	}

	if err := s.jobs.Create(ctx, domain.Job{
		ID:      shippingJobIDPrefix + order.ID,
		Type:    domain.JobTypeShippingCreate,
		OrderID: order.ID,
		Status:  domain.JobStatusPending,
	}); err != nil && !repositories.IsConflict(err) {
		return Order{}, s.translateRepoError(err)
	}

	s.publishEvent(ctx, order, domain.OrderStatusPending)
	s.logger(ctx, "orders.paid", map[string]any{"orderId": order.ID})
	return order, nil
}

// RequestRefund moves a PAID or SHIPPED order to REFUNDING and enqueues the
// refund job for the full order amount.
func (s *orderService) RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	owner := strings.TrimSpace(cmd.OwnerID)
	reason := strings.TrimSpace(cmd.Reason)

	order, err := s.orders.Mutate(ctx, id, func(order *domain.Order) error {
		if owner != "" && order.OwnerID != owner {
			return ErrOrderForbidden
		}
		if statusDominates(order.Status, domain.OrderStatusRefunding) {
			return errTransitionNoop
		}
		if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusShipped {
			return fmt.Errorf("%w: cannot refund %s order", ErrOrderInvalidState, order.Status)
		}
		order.Status = domain.OrderStatusRefunding
		return nil
	})
	if errors.Is(err, errTransitionNoop) {
		return s.orders.FindByID(ctx, id)
	}
	if err != nil {
		return Order{}, s.translateTransitionError(err)
	}

	if err := s.jobs.Create(ctx, domain.Job{
		ID:      refundJobIDPrefix + order.ID,
		Type:    domain.JobTypeRefundCreate,
		OrderID: order.ID,
		Status:  domain.JobStatusPending,
		Payload: map[string]any{
			"amount": order.TotalAmount,
			"reason": reason,
		},
	}); err != nil && !repositories.IsConflict(err) {
		return Order{}, s.translateRepoError(err)
	}

	s.markActivePayment(ctx, order.ID, domain.PaymentStatusRefundRequested)
	s.publishEvent(ctx, order, domain.OrderStatusPaid)

	s.logger(ctx, "orders.refund_requested", map[string]any{
		"orderId": order.ID,
		"reason":  reason,
	})
	return order, nil
}

// MarkShipped records the provider shipment on the order. Applied by the
// shipping job after the gateway accepted the order.
func (s *orderService) MarkShipped(ctx context.Context, orderID, shippingOrderID string, tracking ShipmentTracking) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	sid := strings.TrimSpace(shippingOrderID)
	if sid == "" {
		return Order{}, fmt.Errorf("%w: shipping order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	order, err := s.orders.Mutate(ctx, id, func(order *domain.Order) error {
		if statusDominates(order.Status, domain.OrderStatusShipped) {
			return errTransitionNoop
		}
		if order.Status != domain.OrderStatusPaid {
			return fmt.Errorf("%w: cannot ship %s order", ErrOrderInvalidState, order.Status)
		}
		order.Status = domain.OrderStatusShipped
		order.ShippingOrderID = sid
		order.ShippedAt = &now
		mergeTracking(&order.Tracking, tracking, now)
		return nil
	})
	if errors.Is(err, errTransitionNoop) {
		return s.orders.FindByID(ctx, id)
	}
	if err != nil {
		return Order{}, s.translateTransitionError(err)
	}

	s.publishEvent(ctx, order, domain.OrderStatusPaid)
	s.logger(ctx, "orders.shipped", map[string]any{
		"orderId":         order.ID,
		"shippingOrderId": sid,
	})
	return order, nil
}

// ApplyTrackingUpdate enriches courier fields from a shipping webhook and
// finalises delivery when the provider reports the terminal status.
func (s *orderService) ApplyTrackingUpdate(ctx context.Context, orderID string, tracking ShipmentTracking, delivered bool) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	prev := domain.OrderStatusShipped
	order, err := s.orders.Mutate(ctx, id, func(order *domain.Order) error {
		if order.Status == domain.OrderStatusDelivered {
			return errTransitionNoop
		}
		if order.Status != domain.OrderStatusShipped && order.Status != domain.OrderStatusPaid {
			return fmt.Errorf("%w: cannot track %s order", ErrOrderInvalidState, order.Status)
		}
		prev = order.Status
		mergeTracking(&order.Tracking, tracking, now)
		if delivered {
			order.Status = domain.OrderStatusDelivered
			order.DeliveredAt = &now
		}
		return nil
	})
	if errors.Is(err, errTransitionNoop) {
		return s.orders.FindByID(ctx, id)
	}
	if err != nil {
		return Order{}, s.translateTransitionError(err)
	}

	if delivered {
		s.publishEvent(ctx, order, prev)
	}
	return order, nil
}

// MarkRefunded applies the refund job's success effect.
func (s *orderService) MarkRefunded(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	order, err := s.orders.Mutate(ctx, id, func(order *domain.Order) error {
		if statusDominates(order.Status, domain.OrderStatusRefunded) {
			return errTransitionNoop
		}
		if order.Status != domain.OrderStatusRefunding {
			return fmt.Errorf("%w: cannot complete refund for %s order", ErrOrderInvalidState, order.Status)
		}
		order.Status = domain.OrderStatusRefunded
		order.RefundedAt = &now
		return nil
	})
	if errors.Is(err, errTransitionNoop) {
		return s.orders.FindByID(ctx, id)
	}
	if err != nil {
		return Order{}, s.translateTransitionError(err)
	}

	s.markActivePayment(ctx, order.ID, domain.PaymentStatusRefunded)
	s.publishEvent(ctx, order, domain.OrderStatusRefunding)

	s.logger(ctx, "orders.refunded", map[string]any{"orderId": order.ID})
	return order, nil
}

// MarkRefundFailed records exhausted refund attempts on the payment. The
// order deliberately stays REFUNDING for manual remediation.
func (s *orderService) MarkRefundFailed(ctx context.Context, orderID, reason string) error {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	s.markActivePayment(ctx, id, domain.PaymentStatusRefundFailed)
	s.logger(ctx, "orders.refund_failed", map[string]any{
		"orderId": id,
		"reason":  reason,
	})
	return nil
}

// releaseOrderStock returns the reservation taken at checkout. Failures are
// logged, not surfaced; the cancellation itself has already committed.
func (s *orderService) releaseOrderStock(ctx context.Context, order Order) {
	if s.inventory == nil || len(order.Lines) == 0 {
		return
	}
	lines := make([]repositories.StockLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, repositories.StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	if err := s.inventory.Release(ctx, lines); err != nil {
		s.logger(ctx, "orders.stock_release_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

// failPendingPayment abandons the open invoice of a cancelled order.
func (s *orderService) failPendingPayment(ctx context.Context, orderID string) {
	pay, err := s.payments.FindActiveByOrder(ctx, orderID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			s.logger(ctx, "orders.payment_lookup_failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
		return
	}
	if pay.Status != domain.PaymentStatusPending {
		return
	}

	if _, err := s.payments.Mutate(ctx, pay.ID, func(p *domain.Payment) error {
		if p.Status != domain.PaymentStatusPending {
			return errTransitionNoop
		}
		p.Status = domain.PaymentStatusFailed
		return nil
	}); err != nil && !errors.Is(err, errTransitionNoop) {
		s.logger(ctx, "orders.payment_fail_failed", map[string]any{
			"orderId":   orderID,
			"paymentId": pay.ID,
			"error":     err.Error(),
		})
		return
	}

	if s.invoices != nil && pay.InvoiceID != "" {
		if err := s.invoices.ExpireInvoice(ctx, pay.InvoiceID); err != nil {
			s.logger(ctx, "orders.invoice_expire_failed", map[string]any{
				"orderId":   orderID,
				"invoiceId": pay.InvoiceID,
				"error":     err.Error(),
			})
		}
	}
}

func (s *orderService) markActivePayment(ctx context.Context, orderID string, target domain.PaymentStatus) {
	pay, err := s.payments.FindActiveByOrder(ctx, orderID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			s.logger(ctx, "orders.payment_lookup_failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
		return
	}

	if _, err := s.payments.Mutate(ctx, pay.ID, func(p *domain.Payment) error {
		if p.Status == target {
			return errTransitionNoop
		}
		p.Status = target
		return nil
	}); err != nil && !errors.Is(err, errTransitionNoop) {
		s.logger(ctx, "orders.payment_update_failed", map[string]any{
			"orderId":   orderID,
			"paymentId": pay.ID,
			"target":    string(target),
			"error":     err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, order Order, prev domain.OrderStatus) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEvent{
		OrderID:    order.ID,
		OwnerID:    order.OwnerID,
		Status:     string(order.Status),
		PrevStatus: string(prev),
		Amount:     order.TotalAmount,
		Currency:   order.Currency,
		OccurredAt: s.now().Format(time.RFC3339),
	}); err != nil {
		s.logger(ctx, "orders.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %s", ErrOrderNotFound, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("%w: %s", ErrOrderUnavailable, err)
	default:
		return err
	}
}

func (s *orderService) translateTransitionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOrderInvalidState),
		errors.Is(err, ErrOrderForbidden),
		errors.Is(err, ErrOrderInvalidInput):
		return err
	default:
		return s.translateRepoError(err)
	}
}

func mergeTracking(dst *domain.ShipmentTracking, src ShipmentTracking, now time.Time) {
	if src.WaybillID != "" {
		dst.WaybillID = src.WaybillID
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.DriverName != "" {
		dst.DriverName = src.DriverName
	}
	if src.DriverPhone != "" {
		dst.DriverPhone = src.DriverPhone
	}
	if src.TrackingURL != "" {
		dst.TrackingURL = src.TrackingURL
	}
	dst.UpdatedAt = &now
}

var _ orderInvoiceExpirer = (payment.Gateway)(nil)
