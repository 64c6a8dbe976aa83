package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/platform/auth"
	"github.com/shopforge/fulfillment/internal/platform/httpx"
	"github.com/shopforge/fulfillment/internal/services"
)

const maxCheckoutBodySize = 32 * 1024

type checkoutAddressPayload struct {
	Recipient  string  `json:"recipient"`
	Phone      string  `json:"phone"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	Province   string  `json:"province,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country,omitempty"`
	AreaCode   string  `json:"area_code,omitempty"`
}

type checkoutRequest struct {
	CouponCode   string                  `json:"coupon_code,omitempty"`
	Courier      string                  `json:"courier"`
	ShippingCost int64                   `json:"shipping_cost"`
	Address      *checkoutAddressPayload `json:"address,omitempty"`
	PayerEmail   string                  `json:"payer_email,omitempty"`
	SuccessURL   string                  `json:"success_url,omitempty"`
	CancelURL    string                  `json:"cancel_url,omitempty"`
}

type checkoutResponse struct {
	Order      orderPayload   `json:"order"`
	Payment    paymentPayload `json:"payment"`
	InvoiceURL string         `json:"invoice_url"`
}

// CheckoutHandlers exposes the cart-to-order conversion endpoint.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  rateLimiter
}

// CheckoutHandlerOption customises CheckoutHandlers construction.
type CheckoutHandlerOption func(*CheckoutHandlers)

// WithCheckoutRateLimit bounds checkout attempts per customer.
func WithCheckoutRateLimit(limiter rateLimiter) CheckoutHandlerOption {
	return func(h *CheckoutHandlers) {
		h.limiter = limiter
	}
}

// WithCheckoutRateLimitWindow applies a fixed-window per-customer limit.
func WithCheckoutRateLimitWindow(limit int, window time.Duration) CheckoutHandlerOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, time.Now)
	}
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutHandlerOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.CustomerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		OwnerID:      identity.CustomerID,
		CouponCode:   strings.TrimSpace(req.CouponCode),
		Courier:      strings.TrimSpace(req.Courier),
		ShippingCost: req.ShippingCost,
		PayerEmail:   strings.TrimSpace(req.PayerEmail),
		SuccessURL:   strings.TrimSpace(req.SuccessURL),
		CancelURL:    strings.TrimSpace(req.CancelURL),
	}
	if req.Address != nil {
		cmd.Address = domain.Address{
			Recipient:  strings.TrimSpace(req.Address.Recipient),
			Phone:      strings.TrimSpace(req.Address.Phone),
			Line1:      strings.TrimSpace(req.Address.Line1),
			Line2:      req.Address.Line2,
			City:       strings.TrimSpace(req.Address.City),
			Province:   strings.TrimSpace(req.Address.Province),
			PostalCode: strings.TrimSpace(req.Address.PostalCode),
			Country:    strings.TrimSpace(req.Address.Country),
			AreaCode:   strings.TrimSpace(req.Address.AreaCode),
		}
	}

	result, err := h.checkout.CreateOrderFromCart(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Order:      buildOrderPayload(result.Order),
		Payment:    buildPaymentPayload(result.Payment),
		InvoiceURL: result.InvoiceURL,
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon does not exist", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "not enough stock for the cart items", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment provider rejected the invoice", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "checkout failed", http.StatusInternalServerError))
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.CustomerID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}
