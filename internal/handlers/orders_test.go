package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/platform/auth"
	"github.com/shopforge/fulfillment/internal/services"
)

type stubOrderService struct {
	getFn          func(ctx context.Context, ownerID, orderID string) (services.Order, error)
	listFn         func(ctx context.Context, query services.ListOrdersQuery) ([]services.Order, error)
	cancelFn       func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	refundFn       func(ctx context.Context, cmd services.RequestRefundCommand) (services.Order, error)
	markPaidFn     func(ctx context.Context, orderID string) (services.Order, error)
	markShippedFn  func(ctx context.Context, orderID, shippingOrderID string, tracking services.ShipmentTracking) (services.Order, error)
	trackingFn     func(ctx context.Context, orderID string, tracking services.ShipmentTracking, delivered bool) (services.Order, error)
	markRefundedFn func(ctx context.Context, orderID string) (services.Order, error)
	refundFailedFn func(ctx context.Context, orderID, reason string) error
}

func (s *stubOrderService) GetOrder(ctx context.Context, ownerID, orderID string) (services.Order, error) {
	return s.getFn(ctx, ownerID, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, query services.ListOrdersQuery) ([]services.Order, error) {
	return s.listFn(ctx, query)
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) RequestRefund(ctx context.Context, cmd services.RequestRefundCommand) (services.Order, error) {
	return s.refundFn(ctx, cmd)
}

func (s *stubOrderService) MarkPaid(ctx context.Context, orderID string) (services.Order, error) {
	return s.markPaidFn(ctx, orderID)
}

func (s *stubOrderService) MarkShipped(ctx context.Context, orderID, shippingOrderID string, tracking services.ShipmentTracking) (services.Order, error) {
	return s.markShippedFn(ctx, orderID, shippingOrderID, tracking)
}

func (s *stubOrderService) ApplyTrackingUpdate(ctx context.Context, orderID string, tracking services.ShipmentTracking, delivered bool) (services.Order, error) {
	return s.trackingFn(ctx, orderID, tracking, delivered)
}

func (s *stubOrderService) MarkRefunded(ctx context.Context, orderID string) (services.Order, error) {
	return s.markRefundedFn(ctx, orderID)
}

func (s *stubOrderService) MarkRefundFailed(ctx context.Context, orderID, reason string) error {
	return s.refundFailedFn(ctx, orderID, reason)
}

func withTestIdentity(r *http.Request, customerID string) *http.Request {
	identity := &auth.Identity{CustomerID: customerID, Roles: []string{auth.RoleCustomer}}
	return r.WithContext(auth.WithIdentity(r.Context(), identity))
}

func newOrderTestRouter(svc services.OrderService) chi.Router {
	r := chi.NewRouter()
	NewOrderHandlers(svc).Routes(r)
	return r
}

func sampleOrder() services.Order {
	return services.Order{
		ID:           "ord_1",
		OwnerID:      "cus_1",
		Status:       domain.OrderStatusPending,
		Currency:     "USD",
		Lines:        []domain.OrderLine{{ProductID: "sku_a", Name: "Widget", UnitPrice: 2500, Quantity: 2, Subtotal: 5000}},
		ItemsTotal:   5000,
		ShippingCost: 500,
		TotalAmount:  5500,
		CreatedAt:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestGetOrderReturnsPayload(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(ctx context.Context, ownerID, orderID string) (services.Order, error) {
			if ownerID != "cus_1" || orderID != "ord_1" {
				t.Fatalf("unexpected lookup %s %s", ownerID, orderID)
			}
			return sampleOrder(), nil
		},
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/ord_1", nil), "cus_1")
	rr := httptest.NewRecorder()
	newOrderTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Order.ID != "ord_1" || payload.Order.TotalAmount != 5500 {
		t.Fatalf("unexpected payload %#v", payload.Order)
	}
	if payload.Order.TotalAmount != payload.Order.ItemsTotal-payload.Order.Discount+payload.Order.ShippingCost {
		t.Error("payload must preserve the totals invariant")
	}
}

func TestGetOrderRequiresIdentity(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(ctx context.Context, ownerID, orderID string) (services.Order, error) {
			t.Fatal("service must not be called without identity")
			return services.Order{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/ord_1", nil)
	rr := httptest.NewRecorder()
	newOrderTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestGetOrderForbiddenMapsToNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(ctx context.Context, ownerID, orderID string) (services.Order, error) {
			return services.Order{}, services.ErrOrderForbidden
		},
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/ord_1", nil), "cus_2")
	rr := httptest.NewRecorder()
	newOrderTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign order, got %d", rr.Code)
	}
}

func TestListOrdersAppliesFilters(t *testing.T) {
	var captured services.ListOrdersQuery
	svc := &stubOrderService{
		listFn: func(ctx context.Context, query services.ListOrdersQuery) ([]services.Order, error) {
			captured = query
			return []services.Order{sampleOrder()}, nil
		},
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/?status=paid,shipped&limit=5", nil), "cus_1")
	rr := httptest.NewRecorder()
	newOrderTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OwnerID != "cus_1" || captured.Limit != 5 {
		t.Fatalf("unexpected query %#v", captured)
	}
	if len(captured.Statuses) != 2 || captured.Statuses[0] != domain.OrderStatusPaid {
		t.Fatalf("unexpected status filter %#v", captured.Statuses)
	}
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	svc := &stubOrderService{
		listFn: func(ctx context.Context, query services.ListOrdersQuery) ([]services.Order, error) {
			t.Fatal("service must not be called for an invalid filter")
			return nil, nil
		},
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/?status=teleported", nil), "cus_1")
	rr := httptest.NewRecorder()
	newOrderTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCancelOrderPassesReason(t *testing.T) {
	var captured services.CancelOrderCommand
	svc := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	body := strings.NewReader(`{"reason":"changed my mind"}`)
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/ord_1:cancel", body), "cus_1")
	rr := httptest.NewRecorder()
	newOrderTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OwnerID != "cus_1" || captured.OrderID != "ord_1" || captured.Reason != "changed my mind" {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestCancelOrderInvalidStateMapsToConflict(t *testing.T) {
	svc := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/ord_1:cancel", nil), "cus_1")
	rr := httptest.NewRecorder()
	newOrderTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestRequestRefundReturnsAccepted(t *testing.T) {
	svc := &stubOrderService{
		refundFn: func(ctx context.Context, cmd services.RequestRefundCommand) (services.Order, error) {
			order := sampleOrder()
			order.Status = domain.OrderStatusRefunding
			return order, nil
		},
	}

	body := strings.NewReader(`{"reason":"damaged"}`)
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/ord_1:refund", body), "cus_1")
	rr := httptest.NewRecorder()
	newOrderTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Order.Status != string(domain.OrderStatusRefunding) {
		t.Fatalf("unexpected status %q", payload.Order.Status)
	}
}
