package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/fulfillment/internal/platform/httpx"
	"github.com/shopforge/fulfillment/internal/services"
)

type courierPayload struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Service string `json:"service,omitempty"`
}

type areaPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PostalCode string `json:"postal_code,omitempty"`
}

// ReferenceHandlers exposes courier and destination reference data.
type ReferenceHandlers struct {
	reference services.ReferenceService
}

// NewReferenceHandlers constructs a new ReferenceHandlers instance.
func NewReferenceHandlers(reference services.ReferenceService) *ReferenceHandlers {
	return &ReferenceHandlers{reference: reference}
}

// Routes registers the /reference endpoints.
func (h *ReferenceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/couriers", h.listCouriers)
	r.Get("/areas", h.listAreas)
}

func (h *ReferenceHandlers) listCouriers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reference == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reference_unavailable", "reference service unavailable", http.StatusServiceUnavailable))
		return
	}

	couriers, err := h.reference.Couriers(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("reference_unavailable", "courier list temporarily unavailable", http.StatusBadGateway))
		return
	}

	items := make([]courierPayload, 0, len(couriers))
	for _, courier := range couriers {
		items = append(items, courierPayload{
			Code:    courier.Code,
			Name:    courier.Name,
			Service: courier.Service,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *ReferenceHandlers) listAreas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reference == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reference_unavailable", "reference service unavailable", http.StatusServiceUnavailable))
		return
	}

	search := strings.TrimSpace(r.URL.Query().Get("search"))
	if search == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "search query is required", http.StatusBadRequest))
		return
	}

	areas, err := h.reference.Areas(ctx, services.AreaQuery{Search: search})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("reference_unavailable", "area search temporarily unavailable", http.StatusBadGateway))
		return
	}

	items := make([]areaPayload, 0, len(areas))
	for _, area := range areas {
		items = append(items, areaPayload{
			ID:         area.ID,
			Name:       area.Name,
			PostalCode: area.PostalCode,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}
