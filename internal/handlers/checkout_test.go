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
	"github.com/shopforge/fulfillment/internal/services"
)

type stubCheckoutService struct {
	createFn  func(ctx context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error)
	previewFn func(ctx context.Context, code string, subtotal int64) (services.CouponPreview, error)
}

func (s *stubCheckoutService) CreateOrderFromCart(ctx context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubCheckoutService) PreviewCoupon(ctx context.Context, code string, subtotal int64) (services.CouponPreview, error) {
	return s.previewFn(ctx, code, subtotal)
}

func newCheckoutTestRouter(svc services.CheckoutService, opts ...CheckoutHandlerOption) chi.Router {
	r := chi.NewRouter()
	NewCheckoutHandlers(svc, opts...).Routes(r)
	return r
}

func TestCreateOrderEndpoint(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubCheckoutService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{
				Order: services.Order{
					ID:          "ord_1",
					Status:      domain.OrderStatusPending,
					TotalAmount: 5500,
					Currency:    "USD",
				},
				Payment: services.Payment{
					ID:         "pay_1",
					Status:     domain.PaymentStatusPending,
					Amount:     5500,
					Currency:   "USD",
					InvoiceURL: "https://pay.example/inv_1",
				},
				InvoiceURL: "https://pay.example/inv_1",
			}, nil
		},
	}

	body := strings.NewReader(`{
		"coupon_code": "SAVE10",
		"courier": "jne",
		"shipping_cost": 500,
		"payer_email": "buyer@example.com",
		"address": {"recipient": "Alex Doe", "phone": "+620000000", "line1": "Jl. Example 1", "city": "Jakarta", "postal_code": "10110"}
	}`)
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/", body), "cus_1")
	rr := httptest.NewRecorder()
	newCheckoutTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OwnerID != "cus_1" || captured.CouponCode != "SAVE10" || captured.ShippingCost != 500 {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.Address.City != "Jakarta" {
		t.Fatalf("address not forwarded: %#v", captured.Address)
	}

	var payload checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.InvoiceURL != "https://pay.example/inv_1" || payload.Payment.ID != "pay_1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestCreateOrderEndpointRequiresIdentity(t *testing.T) {
	svc := &stubCheckoutService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error) {
			t.Fatal("service must not be called without identity")
			return services.CheckoutResult{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"courier":"jne"}`))
	rr := httptest.NewRecorder()
	newCheckoutTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCreateOrderEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"empty cart", services.ErrCheckoutEmptyCart, http.StatusUnprocessableEntity},
		{"insufficient stock", services.ErrCheckoutInsufficientStock, http.StatusConflict},
		{"coupon not found", services.ErrCheckoutCouponNotFound, http.StatusNotFound},
		{"payment failed", services.ErrCheckoutPaymentFailed, http.StatusBadGateway},
		{"unavailable", services.ErrCheckoutUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCheckoutService{
				createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}

			req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"courier":"jne"}`)), "cus_1")
			rr := httptest.NewRecorder()
			newCheckoutTestRouter(svc).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCreateOrderEndpointRateLimited(t *testing.T) {
	calls := 0
	svc := &stubCheckoutService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error) {
			calls++
			return services.CheckoutResult{}, nil
		},
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newFixedWindowLimiter(1, time.Minute, func() time.Time { return now })
	router := newCheckoutTestRouter(svc, WithCheckoutRateLimit(limiter))

	for i := 0; i < 2; i++ {
		req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"courier":"jne"}`)), "cus_1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if i == 0 && rr.Code != http.StatusCreated {
			t.Fatalf("first request: expected 201, got %d", rr.Code)
		}
		if i == 1 && rr.Code != http.StatusTooManyRequests {
			t.Fatalf("second request: expected 429, got %d", rr.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one service call, got %d", calls)
	}
}

func TestPreviewCouponEndpoint(t *testing.T) {
	svc := &stubCheckoutService{
		previewFn: func(ctx context.Context, code string, subtotal int64) (services.CouponPreview, error) {
			if code != "SAVE10" || subtotal != 6000 {
				t.Fatalf("unexpected preview args %s %d", code, subtotal)
			}
			return services.CouponPreview{Code: "SAVE10", Type: domain.CouponTypePercent, Discount: 600, Applied: true}, nil
		},
	}

	r := chi.NewRouter()
	NewCouponHandlers(svc).Routes(r)
	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/SAVE10?subtotal=6000", nil), "cus_1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload couponPreviewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Discount != 600 || !payload.Applied {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestPreviewCouponEndpointNotFound(t *testing.T) {
	svc := &stubCheckoutService{
		previewFn: func(ctx context.Context, code string, subtotal int64) (services.CouponPreview, error) {
			return services.CouponPreview{}, services.ErrCheckoutCouponNotFound
		},
	}

	r := chi.NewRouter()
	NewCouponHandlers(svc).Routes(r)
	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/NOPE", nil), "cus_1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
