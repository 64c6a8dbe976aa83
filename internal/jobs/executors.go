package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/gateways/payment"
	"github.com/shopforge/fulfillment/internal/gateways/shipping"
	"github.com/shopforge/fulfillment/internal/repositories"
	"github.com/shopforge/fulfillment/internal/services"
)

// shippingCreator is the slice of the shipping gateway the executor needs.
type shippingCreator interface {
	CreateOrder(ctx context.Context, req shipping.CreateOrderRequest) (shipping.OrderResult, error)
}

// refundGateway is the slice of the payment gateway the refund executor needs.
type refundGateway interface {
	LookupInvoice(ctx context.Context, invoiceID string) (payment.Invoice, error)
	CreateRefund(ctx context.Context, req payment.RefundRequest) (payment.Refund, error)
}

// ShippingExecutorDeps wires the dependencies of the shipment creation job.
type ShippingExecutorDeps struct {
	Orders    repositories.OrderRepository
	Gateway   shippingCreator
	Lifecycle services.OrderService

	// Origin is the warehouse pickup address attached to every shipment.
	Origin shipping.OrderAddress
}

// ShippingExecutor opens the provider shipment for a paid order and records
// the result on the order. ReferenceID carries the order ID so retried
// gateway calls collapse on the provider side.
type ShippingExecutor struct {
	orders    repositories.OrderRepository
	gateway   shippingCreator
	lifecycle services.OrderService
	origin    shipping.OrderAddress
}

// NewShippingExecutor constructs a ShippingExecutor validating required dependencies.
func NewShippingExecutor(deps ShippingExecutorDeps) (*ShippingExecutor, error) {
	if deps.Orders == nil {
		return nil, errors.New("shipping executor: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("shipping executor: shipping gateway is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("shipping executor: order service is required")
	}
	return &ShippingExecutor{
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		lifecycle: deps.Lifecycle,
		origin:    deps.Origin,
	}, nil
}

var _ Executor = (*ShippingExecutor)(nil)

// Execute implements Executor.
func (e *ShippingExecutor) Execute(ctx context.Context, job domain.Job) error {
	order, err := e.orders.FindByID(ctx, job.OrderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Permanent(fmt.Errorf("order %s not found", job.OrderID))
		}
		return err
	}

	switch order.Status {
	case domain.OrderStatusPaid:
		// Proceed.
	case domain.OrderStatusShipped, domain.OrderStatusDelivered:
		// A previous attempt already created the shipment.
		return nil
	case domain.OrderStatusRefunding, domain.OrderStatusRefunded:
		// The order left the fulfillment path while the job waited.
		return Permanent(fmt.Errorf("order %s is %s, shipment no longer wanted", order.ID, order.Status))
	default:
		return Permanent(fmt.Errorf("order %s is %s, not ready to ship", order.ID, order.Status))
	}

	result, err := e.gateway.CreateOrder(ctx, shipping.CreateOrderRequest{
		ReferenceID: order.ID,
		Courier:     order.Courier,
		Origin:      e.origin,
		Destination: shippingAddressFromOrder(order),
		Items:       shippingItemsFromLines(order.Lines),
	})
	if err != nil {
		return err
	}

	if _, err := e.lifecycle.MarkShipped(ctx, order.ID, result.ShippingOrderID, domain.ShipmentTracking{
		WaybillID:   result.WaybillID,
		Status:      result.Status,
		TrackingURL: result.TrackingURL,
	}); err != nil {
		if errors.Is(err, services.ErrOrderInvalidState) {
			// Raced by another path; the shipment exists and the order moved on.
			return nil
		}
		return err
	}
	return nil
}

// RefundExecutorDeps wires the dependencies of the refund job.
type RefundExecutorDeps struct {
	Payments  repositories.PaymentRepository
	Gateway   refundGateway
	Lifecycle services.OrderService
}

// RefundExecutor issues the provider refund for a refunding order. The
// payment's ExternalID is reused as the provider idempotency key, so a
// retried job cannot refund twice.
type RefundExecutor struct {
	payments  repositories.PaymentRepository
	gateway   refundGateway
	lifecycle services.OrderService
}

// NewRefundExecutor constructs a RefundExecutor validating required dependencies.
func NewRefundExecutor(deps RefundExecutorDeps) (*RefundExecutor, error) {
	if deps.Payments == nil {
		return nil, errors.New("refund executor: payment repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("refund executor: payment gateway is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("refund executor: order service is required")
	}
	return &RefundExecutor{
		payments:  deps.Payments,
		gateway:   deps.Gateway,
		lifecycle: deps.Lifecycle,
	}, nil
}

var _ Executor = (*RefundExecutor)(nil)
var _ giveUpHandler = (*RefundExecutor)(nil)

// Execute implements Executor.
func (e *RefundExecutor) Execute(ctx context.Context, job domain.Job) error {
	pay, err := e.payments.FindActiveByOrder(ctx, job.OrderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Permanent(fmt.Errorf("no refundable payment for order %s", job.OrderID))
		}
		return err
	}
	if pay.Status != domain.PaymentStatusRefundRequested && pay.Status != domain.PaymentStatusPaid {
		return Permanent(fmt.Errorf("payment %s is %s, not refundable", pay.ID, pay.Status))
	}

	amount := payloadAmount(job.Payload, pay.Amount)
	reason, _ := job.Payload["reason"].(string)

	invoice, err := e.gateway.LookupInvoice(ctx, pay.InvoiceID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(invoice.IntentID) == "" {
		return Permanent(fmt.Errorf("invoice %s has no captured payment intent", pay.InvoiceID))
	}

	if _, err := e.gateway.CreateRefund(ctx, payment.RefundRequest{
		IntentID:   invoice.IntentID,
		ExternalID: pay.ExternalID,
		Amount:     amount,
		Reason:     reason,
		Metadata: map[string]string{
			"orderId": job.OrderID,
			"jobId":   job.ID,
		},
	}); err != nil {
		return err
	}

	if _, err := e.lifecycle.MarkRefunded(ctx, job.OrderID); err != nil {
		if errors.Is(err, services.ErrOrderInvalidState) {
			return nil
		}
		return err
	}
	return nil
}

// HandleGiveUp records the refund failure on the order so operators can pick
// it up; the order deliberately stays in its refunding state.
func (e *RefundExecutor) HandleGiveUp(ctx context.Context, job domain.Job, cause error) error {
	return e.lifecycle.MarkRefundFailed(ctx, job.OrderID, cause.Error())
}

func shippingAddressFromOrder(order domain.Order) shipping.OrderAddress {
	if order.ShippingAddress == nil {
		return shipping.OrderAddress{}
	}
	addr := *order.ShippingAddress
	line := addr.Line1
	if addr.Line2 != nil && *addr.Line2 != "" {
		line += ", " + *addr.Line2
	}
	return shipping.OrderAddress{
		Name:       addr.Recipient,
		Phone:      addr.Phone,
		Address:    line,
		City:       addr.City,
		Province:   addr.Province,
		PostalCode: addr.PostalCode,
		AreaCode:   addr.AreaCode,
		Country:    addr.Country,
	}
}

func shippingItemsFromLines(lines []domain.OrderLine) []shipping.OrderItem {
	items := make([]shipping.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, shipping.OrderItem{
			Name:     line.Name,
			SKU:      line.ProductID,
			Quantity: line.Quantity,
			Value:    line.UnitPrice,
		})
	}
	return items
}

// payloadAmount reads the refund amount out of the job payload, tolerating
// the numeric widening a datastore round trip applies.
func payloadAmount(payload map[string]any, fallback int64) int64 {
	switch v := payload["amount"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return fallback
	}
}
