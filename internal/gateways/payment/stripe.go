package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/shopforge/fulfillment/internal/gateways"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeGateway implements the Gateway interface using Stripe Checkout sessions
// as hosted invoices.
type StripeGateway struct {
	api    stripeClients
	clock  func() time.Time
	logger StripeLogger
}

// NewStripeGateway constructs a Stripe Gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			refunds:  sc.Refunds,
		}
	}

	if clients.sessions == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api: clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateInvoice opens a Stripe Checkout session for the requested amount. The
// caller-supplied ExternalID is forwarded as the Stripe idempotency key, so a
// retried call returns the original session instead of opening a new one.
func (g *StripeGateway) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (Invoice, error) {
	if g == nil {
		return Invoice{}, errors.New("stripe: gateway is nil")
	}
	if req.Amount <= 0 {
		return Invoice{}, gateways.NewError("stripe.invoice.create", "invalid_amount", false, fmt.Errorf("amount %d is not positive", req.Amount))
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}

	params.Context = ctx
	if key := strings.TrimSpace(req.ExternalID); key != "" {
		params.SetIdempotencyKey(key)
		params.ClientReferenceID = stripe.String(key)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{
				"sku": item.SKU,
			}
		}
		lineItems = append(lineItems, line)
	}

	if len(lineItems) == 0 {
		name := req.Description
		if name == "" {
			name = "Order"
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		})
	}

	params.LineItems = lineItems
	if len(req.Metadata) > 0 {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: make(map[string]string, len(req.Metadata)),
		}
		for k, v := range req.Metadata {
			params.PaymentIntentData.Metadata[k] = v
		}
	}

	session, err := g.api.sessions.New(params)
	if err != nil {
		return Invoice{}, wrapStripeError("stripe.invoice.create", err)
	}

	g.logger(ctx, "payments.stripe.invoice.created", map[string]any{
		"sessionId":  session.ID,
		"externalId": req.ExternalID,
		"currency":   session.Currency,
	})

	return g.invoiceFromSession(session), nil
}

// LookupInvoice retrieves the current state of a Checkout session.
func (g *StripeGateway) LookupInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	if g == nil {
		return Invoice{}, errors.New("stripe: gateway is nil")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.api.sessions.Get(invoiceID, params)
	if err != nil {
		return Invoice{}, wrapStripeError("stripe.invoice.lookup", err)
	}
	return g.invoiceFromSession(session), nil
}

// ExpireInvoice cancels an open Checkout session so the customer can no longer pay it.
func (g *StripeGateway) ExpireInvoice(ctx context.Context, invoiceID string) error {
	if g == nil {
		return errors.New("stripe: gateway is nil")
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := g.api.sessions.Expire(invoiceID, params); err != nil {
		return wrapStripeError("stripe.invoice.expire", err)
	}
	g.logger(ctx, "payments.stripe.invoice.expired", map[string]any{
		"sessionId": invoiceID,
	})
	return nil
}

// CreateRefund issues a refund against the payment intent behind a paid invoice.
func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	if g == nil {
		return Refund{}, errors.New("stripe: gateway is nil")
	}
	if strings.TrimSpace(req.IntentID) == "" {
		return Refund{}, gateways.NewError("stripe.refund.create", "missing_intent", false, errors.New("payment intent id is required"))
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.ExternalID); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	refund, err := g.api.refunds.New(params)
	if err != nil {
		return Refund{}, wrapStripeError("stripe.refund.create", err)
	}

	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"refundId":      refund.ID,
		"paymentIntent": req.IntentID,
		"amount":        refund.Amount,
	})

	return Refund{
		ID:     refund.ID,
		Status: refundStatusFromStripe(refund.Status),
		Amount: refund.Amount,
	}, nil
}

func (g *StripeGateway) invoiceFromSession(session *stripe.CheckoutSession) Invoice {
	if session == nil {
		return Invoice{}
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	expiresAt := g.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return Invoice{
		ID:        session.ID,
		IntentID:  intentID,
		URL:       session.URL,
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
		Status:    invoiceStatusFromSession(session),
		ExpiresAt: expiresAt,
	}
}

func invoiceStatusFromSession(session *stripe.CheckoutSession) InvoiceStatus {
	switch session.Status {
	case stripe.CheckoutSessionStatusExpired:
		return InvoiceStatusExpired
	case stripe.CheckoutSessionStatusComplete:
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return InvoiceStatusPending
		}
		return InvoiceStatusPaid
	default:
		return InvoiceStatusPending
	}
}

func refundStatusFromStripe(status stripe.RefundStatus) RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return RefundStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return RefundStatusFailed
	default:
		return RefundStatusPending
	}
}

func wrapStripeError(op string, err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		retryable := stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode >= 500 ||
			stripeErr.Type == stripe.ErrorTypeAPI
		return gateways.NewError(op, string(stripeErr.Code), retryable, err)
	}

	// Transport level failures carry no Stripe error payload.
	return gateways.NewError(op, "transport", true, err)
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
