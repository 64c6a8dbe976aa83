package jobs

import (
	"context"
	"errors"
	"testing"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/gateways/payment"
	"github.com/shopforge/fulfillment/internal/gateways/shipping"
	"github.com/shopforge/fulfillment/internal/repositories"
	"github.com/shopforge/fulfillment/internal/services"
)

type stubOrderRepo struct {
	order domain.Order
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	s.order = order
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.order.ID != orderID {
		return domain.Order{}, repositories.NewError(repositories.ErrorCodeNotFound, "order not found", nil)
	}
	return s.order, nil
}

func (s *stubOrderRepo) FindByShippingOrderID(ctx context.Context, shippingOrderID string) (domain.Order, error) {
	return s.order, nil
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	return []domain.Order{s.order}, nil
}

func (s *stubOrderRepo) Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	order := s.order
	if err := fn(&order); err != nil {
		return domain.Order{}, err
	}
	s.order = order
	return order, nil
}

type stubPaymentRepo struct {
	payment domain.Payment
}

func (s *stubPaymentRepo) Insert(ctx context.Context, payment domain.Payment) error {
	s.payment = payment
	return nil
}

func (s *stubPaymentRepo) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	return s.payment, nil
}

func (s *stubPaymentRepo) FindByExternalID(ctx context.Context, externalID string) (domain.Payment, error) {
	return s.payment, nil
}

func (s *stubPaymentRepo) FindActiveByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if s.payment.OrderID != orderID {
		return domain.Payment{}, repositories.NewError(repositories.ErrorCodeNotFound, "payment not found", nil)
	}
	return s.payment, nil
}

func (s *stubPaymentRepo) Mutate(ctx context.Context, paymentID string, fn func(payment *domain.Payment) error) (domain.Payment, error) {
	payment := s.payment
	if err := fn(&payment); err != nil {
		return domain.Payment{}, err
	}
	s.payment = payment
	return payment, nil
}

// stubLifecycle records the transition calls the executors apply.
type stubLifecycle struct {
	services.OrderService

	markShippedFn      func(ctx context.Context, orderID, shippingOrderID string, tracking services.ShipmentTracking) (services.Order, error)
	markRefundedFn     func(ctx context.Context, orderID string) (services.Order, error)
	markRefundFailedFn func(ctx context.Context, orderID, reason string) error

	shipped       []string
	refunded      []string
	refundFailed  []string
	failureReason string
}

func (s *stubLifecycle) MarkShipped(ctx context.Context, orderID, shippingOrderID string, tracking services.ShipmentTracking) (services.Order, error) {
	if s.markShippedFn != nil {
		return s.markShippedFn(ctx, orderID, shippingOrderID, tracking)
	}
	s.shipped = append(s.shipped, shippingOrderID)
	return services.Order{ID: orderID, Status: domain.OrderStatusShipped}, nil
}

func (s *stubLifecycle) MarkRefunded(ctx context.Context, orderID string) (services.Order, error) {
	if s.markRefundedFn != nil {
		return s.markRefundedFn(ctx, orderID)
	}
	s.refunded = append(s.refunded, orderID)
	return services.Order{ID: orderID, Status: domain.OrderStatusRefunded}, nil
}

func (s *stubLifecycle) MarkRefundFailed(ctx context.Context, orderID, reason string) error {
	if s.markRefundFailedFn != nil {
		return s.markRefundFailedFn(ctx, orderID, reason)
	}
	s.refundFailed = append(s.refundFailed, orderID)
	s.failureReason = reason
	return nil
}

type stubShippingCreator struct {
	result   shipping.OrderResult
	err      error
	requests []shipping.CreateOrderRequest
}

func (s *stubShippingCreator) CreateOrder(ctx context.Context, req shipping.CreateOrderRequest) (shipping.OrderResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return shipping.OrderResult{}, s.err
	}
	return s.result, nil
}

type stubRefundGateway struct {
	invoice   payment.Invoice
	lookupErr error
	refund    payment.Refund
	refundErr error
	requests  []payment.RefundRequest
}

func (s *stubRefundGateway) LookupInvoice(ctx context.Context, invoiceID string) (payment.Invoice, error) {
	if s.lookupErr != nil {
		return payment.Invoice{}, s.lookupErr
	}
	return s.invoice, nil
}

func (s *stubRefundGateway) CreateRefund(ctx context.Context, req payment.RefundRequest) (payment.Refund, error) {
	s.requests = append(s.requests, req)
	if s.refundErr != nil {
		return payment.Refund{}, s.refundErr
	}
	return s.refund, nil
}

func paidOrder() domain.Order {
	line2 := "Unit 4"
	return domain.Order{
		ID:      "ord_1",
		OwnerID: "cus_1",
		Status:  domain.OrderStatusPaid,
		Courier: "jne",
		Lines: []domain.OrderLine{
			{ProductID: "sku_a", Name: "Widget", UnitPrice: 2500, Quantity: 2, Subtotal: 5000},
		},
		ShippingAddress: &domain.Address{
			Recipient:  "Alex Doe",
			Phone:      "+620000000",
			Line1:      "Jl. Example 1",
			Line2:      &line2,
			City:       "Jakarta",
			PostalCode: "10110",
		},
		TotalAmount: 5500,
	}
}

func TestShippingExecutorCreatesShipment(t *testing.T) {
	orders := &stubOrderRepo{order: paidOrder()}
	gateway := &stubShippingCreator{result: shipping.OrderResult{
		ShippingOrderID: "ship_9",
		WaybillID:       "wb_1",
		Status:          "confirmed",
		TrackingURL:     "https://track.example/wb_1",
	}}
	lifecycle := &stubLifecycle{}
	exec, err := NewShippingExecutor(ShippingExecutorDeps{
		Orders:    orders,
		Gateway:   gateway,
		Lifecycle: lifecycle,
		Origin:    shipping.OrderAddress{Name: "Warehouse", City: "Bandung"},
	})
	if err != nil {
		t.Fatalf("NewShippingExecutor: %v", err)
	}

	if err := exec.Execute(context.Background(), domain.Job{ID: "job_ship_ord_1", OrderID: "ord_1"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(gateway.requests) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(gateway.requests))
	}
	req := gateway.requests[0]
	if req.ReferenceID != "ord_1" {
		t.Errorf("reference id must carry the order id, got %q", req.ReferenceID)
	}
	if req.Courier != "jne" || req.Origin.City != "Bandung" {
		t.Errorf("unexpected request %#v", req)
	}
	if req.Destination.Address != "Jl. Example 1, Unit 4" {
		t.Errorf("unexpected destination address %q", req.Destination.Address)
	}
	if len(req.Items) != 1 || req.Items[0].SKU != "sku_a" || req.Items[0].Quantity != 2 {
		t.Errorf("unexpected items %#v", req.Items)
	}
	if len(lifecycle.shipped) != 1 || lifecycle.shipped[0] != "ship_9" {
		t.Fatalf("expected MarkShipped with ship_9, got %v", lifecycle.shipped)
	}
}

func TestShippingExecutorSkipsAlreadyShippedOrder(t *testing.T) {
	order := paidOrder()
	order.Status = domain.OrderStatusShipped
	orders := &stubOrderRepo{order: order}
	gateway := &stubShippingCreator{}
	lifecycle := &stubLifecycle{}
	exec, _ := NewShippingExecutor(ShippingExecutorDeps{Orders: orders, Gateway: gateway, Lifecycle: lifecycle})

	if err := exec.Execute(context.Background(), domain.Job{OrderID: "ord_1"}); err != nil {
		t.Fatalf("expected duplicate delivery to succeed, got %v", err)
	}
	if len(gateway.requests) != 0 {
		t.Error("shipped order must not open a second shipment")
	}
}

func TestShippingExecutorRefundingOrderIsPermanent(t *testing.T) {
	order := paidOrder()
	order.Status = domain.OrderStatusRefunding
	orders := &stubOrderRepo{order: order}
	exec, _ := NewShippingExecutor(ShippingExecutorDeps{Orders: orders, Gateway: &stubShippingCreator{}, Lifecycle: &stubLifecycle{}})

	err := exec.Execute(context.Background(), domain.Job{OrderID: "ord_1"})
	if err == nil {
		t.Fatal("expected error for refunding order")
	}
	var perm *permanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestShippingExecutorPropagatesGatewayError(t *testing.T) {
	orders := &stubOrderRepo{order: paidOrder()}
	gateway := &stubShippingCreator{err: errors.New("upstream busy")}
	exec, _ := NewShippingExecutor(ShippingExecutorDeps{Orders: orders, Gateway: gateway, Lifecycle: &stubLifecycle{}})

	if err := exec.Execute(context.Background(), domain.Job{OrderID: "ord_1"}); err == nil {
		t.Fatal("expected gateway error to propagate")
	}
}

func refundJob() domain.Job {
	return domain.Job{
		ID:      "job_refund_ord_1",
		Type:    domain.JobTypeRefundCreate,
		OrderID: "ord_1",
		Payload: map[string]any{"amount": int64(5500), "reason": "damaged"},
	}
}

func TestRefundExecutorIssuesRefund(t *testing.T) {
	payments := &stubPaymentRepo{payment: domain.Payment{
		ID:         "pay_1",
		OrderID:    "ord_1",
		ExternalID: "ext_1",
		Status:     domain.PaymentStatusRefundRequested,
		InvoiceID:  "inv_1",
		Amount:     5500,
	}}
	gateway := &stubRefundGateway{
		invoice: payment.Invoice{ID: "inv_1", IntentID: "pi_1"},
		refund:  payment.Refund{ID: "re_1", Status: payment.RefundStatusSucceeded, Amount: 5500},
	}
	lifecycle := &stubLifecycle{}
	exec, err := NewRefundExecutor(RefundExecutorDeps{Payments: payments, Gateway: gateway, Lifecycle: lifecycle})
	if err != nil {
		t.Fatalf("NewRefundExecutor: %v", err)
	}

	if err := exec.Execute(context.Background(), refundJob()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(gateway.requests) != 1 {
		t.Fatalf("expected one refund call, got %d", len(gateway.requests))
	}
	req := gateway.requests[0]
	if req.IntentID != "pi_1" || req.Amount != 5500 || req.Reason != "damaged" {
		t.Errorf("unexpected refund request %#v", req)
	}
	if req.ExternalID != "ext_1" {
		t.Errorf("refund must reuse the payment external id, got %q", req.ExternalID)
	}
	if len(lifecycle.refunded) != 1 || lifecycle.refunded[0] != "ord_1" {
		t.Fatalf("expected MarkRefunded, got %v", lifecycle.refunded)
	}
}

func TestRefundExecutorFallsBackToPaymentAmount(t *testing.T) {
	payments := &stubPaymentRepo{payment: domain.Payment{
		ID:         "pay_1",
		OrderID:    "ord_1",
		ExternalID: "ext_1",
		Status:     domain.PaymentStatusRefundRequested,
		InvoiceID:  "inv_1",
		Amount:     5500,
	}}
	gateway := &stubRefundGateway{invoice: payment.Invoice{IntentID: "pi_1"}}
	exec, _ := NewRefundExecutor(RefundExecutorDeps{Payments: payments, Gateway: gateway, Lifecycle: &stubLifecycle{}})

	job := refundJob()
	job.Payload = nil
	if err := exec.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gateway.requests[0].Amount != 5500 {
		t.Fatalf("expected fallback to payment amount, got %d", gateway.requests[0].Amount)
	}
}

func TestRefundExecutorMissingPaymentIsPermanent(t *testing.T) {
	payments := &stubPaymentRepo{payment: domain.Payment{OrderID: "ord_other"}}
	exec, _ := NewRefundExecutor(RefundExecutorDeps{Payments: payments, Gateway: &stubRefundGateway{}, Lifecycle: &stubLifecycle{}})

	err := exec.Execute(context.Background(), refundJob())
	var perm *permanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestRefundExecutorMissingIntentIsPermanent(t *testing.T) {
	payments := &stubPaymentRepo{payment: domain.Payment{
		ID:         "pay_1",
		OrderID:    "ord_1",
		Status:     domain.PaymentStatusRefundRequested,
		InvoiceID:  "inv_1",
		ExternalID: "ext_1",
	}}
	gateway := &stubRefundGateway{invoice: payment.Invoice{ID: "inv_1"}}
	exec, _ := NewRefundExecutor(RefundExecutorDeps{Payments: payments, Gateway: gateway, Lifecycle: &stubLifecycle{}})

	err := exec.Execute(context.Background(), refundJob())
	var perm *permanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestRefundExecutorGiveUpMarksRefundFailed(t *testing.T) {
	lifecycle := &stubLifecycle{}
	exec, _ := NewRefundExecutor(RefundExecutorDeps{Payments: &stubPaymentRepo{}, Gateway: &stubRefundGateway{}, Lifecycle: lifecycle})

	cause := errors.New("card network rejected the refund")
	if err := exec.HandleGiveUp(context.Background(), refundJob(), cause); err != nil {
		t.Fatalf("HandleGiveUp: %v", err)
	}
	if len(lifecycle.refundFailed) != 1 || lifecycle.refundFailed[0] != "ord_1" {
		t.Fatalf("expected MarkRefundFailed, got %v", lifecycle.refundFailed)
	}
	if lifecycle.failureReason != cause.Error() {
		t.Errorf("unexpected reason %q", lifecycle.failureReason)
	}
}
