// Package shipping wraps the courier aggregator HTTP API.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopforge/fulfillment/internal/gateways"
)

const defaultTimeout = 10 * time.Second

// Logger defines the logging contract for shipping gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Courier is one shipping option advertised by the aggregator.
type Courier struct {
	Code    string `json:"courier_code"`
	Name    string `json:"courier_name"`
	Service string `json:"service_type"`
}

// Area is a deliverable region used for destination lookups.
type Area struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PostalCode string `json:"postal_code"`
}

// OrderItem describes one parcel line sent to the aggregator.
type OrderItem struct {
	Name     string `json:"name"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
	Value    int64  `json:"value"`
}

// OrderAddress is the aggregator's address shape.
type OrderAddress struct {
	Name       string `json:"contact_name"`
	Phone      string `json:"contact_phone"`
	Address    string `json:"address"`
	City       string `json:"city,omitempty"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postal_code"`
	AreaCode   string `json:"area_id,omitempty"`
	Country    string `json:"country,omitempty"`
}

// CreateOrderRequest captures the payload to open a shipment with the aggregator.
// ReferenceID carries our order ID so the aggregator call is idempotent on
// their side and webhook events can be correlated back.
type CreateOrderRequest struct {
	ReferenceID string       `json:"reference_id"`
	Courier     string       `json:"courier_code"`
	Service     string       `json:"service_type,omitempty"`
	Origin      OrderAddress `json:"origin"`
	Destination OrderAddress `json:"destination"`
	Items       []OrderItem  `json:"items"`
}

// OrderResult normalises the aggregator's shipment response.
type OrderResult struct {
	ShippingOrderID string `json:"order_id"`
	WaybillID       string `json:"waybill_id"`
	Status          string `json:"status"`
	TrackingURL     string `json:"tracking_url"`
}

// Gateway defines the courier aggregator operations used by the service.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, shippingOrderID, reason string) error
	Couriers(ctx context.Context) ([]Courier, error)
	Areas(ctx context.Context, query string) ([]Area, error)
}

// Client is an HTTP Gateway implementation.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     Logger
}

// ClientOption customises the Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithLogger sets the structured event logger.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a Client against the aggregator base URL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping: base url is required")
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// CreateOrder opens a shipment for a paid order.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (OrderResult, error) {
	if strings.TrimSpace(req.ReferenceID) == "" {
		return OrderResult{}, gateways.NewError("shipping.order.create", "missing_reference", false, errors.New("reference id is required"))
	}
	if strings.TrimSpace(req.Courier) == "" {
		return OrderResult{}, gateways.NewError("shipping.order.create", "missing_courier", false, errors.New("courier code is required"))
	}

	var result OrderResult
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &result, "shipping.order.create"); err != nil {
		return OrderResult{}, err
	}

	c.logger(ctx, "shipping.order.created", map[string]any{
		"referenceId":     req.ReferenceID,
		"shippingOrderId": result.ShippingOrderID,
		"courier":         req.Courier,
	})
	return result, nil
}

// CancelOrder cancels a shipment that has not been picked up yet.
func (c *Client) CancelOrder(ctx context.Context, shippingOrderID, reason string) error {
	if strings.TrimSpace(shippingOrderID) == "" {
		return gateways.NewError("shipping.order.cancel", "missing_order", false, errors.New("shipping order id is required"))
	}

	payload := map[string]string{"reason": reason}
	path := fmt.Sprintf("/v1/orders/%s/cancel", url.PathEscape(shippingOrderID))
	if err := c.do(ctx, http.MethodPost, path, payload, nil, "shipping.order.cancel"); err != nil {
		return err
	}

	c.logger(ctx, "shipping.order.cancelled", map[string]any{
		"shippingOrderId": shippingOrderID,
	})
	return nil
}

// Couriers lists the available courier services.
func (c *Client) Couriers(ctx context.Context) ([]Courier, error) {
	var result struct {
		Couriers []Courier `json:"couriers"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/couriers", nil, &result, "shipping.couriers.list"); err != nil {
		return nil, err
	}
	return result.Couriers, nil
}

// Areas searches deliverable regions by free-text query.
func (c *Client) Areas(ctx context.Context, query string) ([]Area, error) {
	path := "/v1/areas"
	if q := strings.TrimSpace(query); q != "" {
		path += "?q=" + url.QueryEscape(q)
	}

	var result struct {
		Areas []Area `json:"areas"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result, "shipping.areas.search"); err != nil {
		return nil, err
	}
	return result.Areas, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any, op string) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return gateways.NewError(op, "encode", false, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return gateways.NewError(op, "request", false, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and timeouts are worth retrying.
		return gateways.NewError(op, "transport", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.errorFromResponse(op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gateways.NewError(op, "decode", false, err)
	}
	return nil
}

func (c *Client) errorFromResponse(op string, resp *http.Response) error {
	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &apiErr)

	code := apiErr.Code
	if code == "" {
		code = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	message := apiErr.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	if message == "" {
		message = resp.Status
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return gateways.NewError(op, code, retryable, fmt.Errorf("status %d: %s", resp.StatusCode, message))
}
