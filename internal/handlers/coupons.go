package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/fulfillment/internal/platform/httpx"
	"github.com/shopforge/fulfillment/internal/services"
)

type couponPreviewResponse struct {
	Code     string `json:"code"`
	Type     string `json:"type"`
	Discount int64  `json:"discount"`
	Applied  bool   `json:"applied"`
}

// CouponHandlers exposes the coupon preview endpoint.
type CouponHandlers struct {
	checkout services.CheckoutService
}

// NewCouponHandlers constructs a new CouponHandlers instance.
func NewCouponHandlers(checkout services.CheckoutService) *CouponHandlers {
	return &CouponHandlers{checkout: checkout}
}

// Routes registers the /coupons endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{code}", h.previewCoupon)
}

func (h *CouponHandlers) previewCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon code is required", http.StatusBadRequest))
		return
	}

	var subtotal int64
	if raw := strings.TrimSpace(r.URL.Query().Get("subtotal")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subtotal must be a non-negative integer", http.StatusBadRequest))
			return
		}
		subtotal = parsed
	}

	preview, err := h.checkout.PreviewCoupon(ctx, code, subtotal)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCheckoutInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrCheckoutCouponNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon does not exist", http.StatusNotFound))
		case errors.Is(err, services.ErrCheckoutUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "coupon lookup temporarily unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "coupon preview failed", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, couponPreviewResponse{
		Code:     preview.Code,
		Type:     string(preview.Type),
		Discount: preview.Discount,
		Applied:  preview.Applied,
	})
}
