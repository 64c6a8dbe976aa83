package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/fulfillment/internal/platform/httpx"
	"github.com/shopforge/fulfillment/internal/services"
)

const maxWebhookBodySize = 64 * 1024

type paymentWebhookRequest struct {
	ExternalID    string `json:"external_id"`
	Status        string `json:"status"`
	CallbackToken string `json:"callback_token"`
	PayerEmail    string `json:"payer_email,omitempty"`
}

type shippingWebhookRequest struct {
	ShippingOrderID string `json:"order_id"`
	Status          string `json:"status"`
	WaybillID       string `json:"waybill_id,omitempty"`
	DriverName      string `json:"driver_name,omitempty"`
	DriverPhone     string `json:"driver_phone,omitempty"`
	TrackingURL     string `json:"tracking_url,omitempty"`
}

type webhookAckResponse struct {
	Received bool `json:"received"`
}

// WebhookHandlers ingests provider callbacks for payments and shipments.
// A processed or deliberately ignored event always acks with 200 so the
// provider stops redelivering; only authentication and malformed payloads
// are rejected.
type WebhookHandlers struct {
	webhooks services.WebhookService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(webhooks services.WebhookService) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.paymentEvent)
	r.Post("/shipping", h.shippingEvent)
}

func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	err = h.webhooks.HandlePaymentEvent(ctx, services.PaymentEvent{
		ExternalID:    req.ExternalID,
		Status:        req.Status,
		CallbackToken: req.CallbackToken,
		PayerEmail:    req.PayerEmail,
	})
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
}

func (h *WebhookHandlers) shippingEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	var req shippingWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	err = h.webhooks.HandleShippingEvent(ctx, services.ShippingEvent{
		ShippingOrderID: req.ShippingOrderID,
		Status:          req.Status,
		WaybillID:       req.WaybillID,
		DriverName:      req.DriverName,
		DriverPhone:     req.DriverPhone,
		TrackingURL:     req.TrackingURL,
	})
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
}

func writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrWebhookAuthentication):
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unauthorized", "event could not be authenticated", http.StatusUnauthorized))
	case errors.Is(err, services.ErrWebhookPayload):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWebhookUnavailable):
		// A 5xx asks the provider to redeliver once the dependency recovers.
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "webhook processing failed", http.StatusInternalServerError))
	}
}
