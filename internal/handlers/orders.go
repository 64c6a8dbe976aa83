package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/platform/httpx"
	"github.com/shopforge/fulfillment/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 4 * 1024
)

type orderLinePayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type trackingPayload struct {
	WaybillID   string `json:"waybill_id,omitempty"`
	Status      string `json:"status,omitempty"`
	DriverName  string `json:"driver_name,omitempty"`
	DriverPhone string `json:"driver_phone,omitempty"`
	TrackingURL string `json:"tracking_url,omitempty"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	Status          string             `json:"status"`
	Currency        string             `json:"currency"`
	Lines           []orderLinePayload `json:"lines"`
	ItemsTotal      int64              `json:"items_total"`
	Discount        int64              `json:"discount"`
	ShippingCost    int64              `json:"shipping_cost"`
	TotalAmount     int64              `json:"total_amount"`
	CouponCode      string             `json:"coupon_code,omitempty"`
	Courier         string             `json:"courier,omitempty"`
	ShippingOrderID string             `json:"shipping_order_id,omitempty"`
	Tracking        *trackingPayload   `json:"tracking,omitempty"`
	CancelReason    string             `json:"cancel_reason,omitempty"`
	CreatedAt       string             `json:"created_at"`
	PaidAt          string             `json:"paid_at,omitempty"`
	ShippedAt       string             `json:"shipped_at,omitempty"`
	DeliveredAt     string             `json:"delivered_at,omitempty"`
}

type paymentPayload struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	InvoiceURL string `json:"invoice_url,omitempty"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderActionRequest struct {
	Reason string `json:"reason"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal,
		})
	}

	payload := orderPayload{
		ID:              order.ID,
		Status:          string(order.Status),
		Currency:        order.Currency,
		Lines:           lines,
		ItemsTotal:      order.ItemsTotal,
		Discount:        order.Discount,
		ShippingCost:    order.ShippingCost,
		TotalAmount:     order.TotalAmount,
		CouponCode:      order.CouponCode,
		Courier:         order.Courier,
		ShippingOrderID: order.ShippingOrderID,
		CreatedAt:       order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if order.Tracking != (domain.ShipmentTracking{}) {
		payload.Tracking = &trackingPayload{
			WaybillID:   order.Tracking.WaybillID,
			Status:      order.Tracking.Status,
			DriverName:  order.Tracking.DriverName,
			DriverPhone: order.Tracking.DriverPhone,
			TrackingURL: order.Tracking.TrackingURL,
		}
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	if order.PaidAt != nil {
		payload.PaidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	if order.ShippedAt != nil {
		payload.ShippedAt = order.ShippedAt.UTC().Format(time.RFC3339)
	}
	if order.DeliveredAt != nil {
		payload.DeliveredAt = order.DeliveredAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func buildPaymentPayload(payment domain.Payment) paymentPayload {
	return paymentPayload{
		ID:         payment.ID,
		Status:     string(payment.Status),
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		InvoiceURL: payment.InvoiceURL,
	}
}

// OrderHandlers exposes order read and transition endpoints for customers.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:refund", h.requestRefund)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses, err := parseOrderStatuses(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	limit := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case parsed <= 0:
			limit = defaultOrderPageSize
		case parsed > maxOrderPageSize:
			limit = maxOrderPageSize
		default:
			limit = parsed
		}
	}

	orders, err := h.orders.ListOrders(ctx, services.ListOrdersQuery{
		OwnerID:  identity.CustomerID,
		Statuses: statuses,
		Limit:    limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, identity.CustomerID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	reason, ok := readOrderActionReason(w, r)
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OwnerID: identity.CustomerID,
		OrderID: orderID,
		Reason:  reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	reason, ok := readOrderActionReason(w, r)
	if !ok {
		return
	}

	order, err := h.orders.RequestRefund(ctx, services.RequestRefundCommand{
		OwnerID: identity.CustomerID,
		OrderID: orderID,
		Reason:  reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, orderResponse{Order: buildOrderPayload(order)})
}

// readOrderActionReason parses the optional {"reason": ...} body. An absent
// body is fine; a present but malformed one is rejected.
func readOrderActionReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if errors.Is(err, errEmptyBody) {
			return "", true
		}
		writeBodyError(w, r, err)
		return "", false
	}
	var req orderActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return "", false
	}
	return strings.TrimSpace(req.Reason), true
}

func parseOrderStatuses(raw []string) ([]domain.OrderStatus, error) {
	var statuses []domain.OrderStatus
	for _, value := range raw {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status := domain.OrderStatus(part)
			if !status.Valid() {
				return nil, errors.New("status filter contains an unknown order status")
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		// Hide existence of other customers' orders.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order cannot perform this action in its current status", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "order operation failed", http.StatusInternalServerError))
	}
}
