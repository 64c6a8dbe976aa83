package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/platform/observability"
	"github.com/shopforge/fulfillment/internal/repositories"
)

var (
	// ErrWebhookAuthentication indicates the callback token or subject did
	// not match a known aggregate. The event must not be processed.
	ErrWebhookAuthentication = errors.New("webhooks: authentication failed")
	// ErrWebhookPayload indicates the payload could not be interpreted.
	ErrWebhookPayload = errors.New("webhooks: invalid payload")
	// ErrWebhookUnavailable indicates webhook dependencies are currently unavailable.
	ErrWebhookUnavailable = errors.New("webhooks: unavailable")
)

// deliveredShippingStatuses are the provider statuses that denote final
// delivery.
var deliveredShippingStatuses = map[string]bool{
	"delivered": true,
	"completed": true,
}

// WebhookServiceDeps wires the dependencies required by the webhook service.
type WebhookServiceDeps struct {
	Orders    repositories.OrderRepository
	Payments  repositories.PaymentRepository
	Lifecycle OrderService
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	orders    repositories.OrderRepository
	payments  repositories.PaymentRepository
	lifecycle OrderService
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookService constructs a WebhookService validating required dependencies.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("webhook service: payment repository is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("webhook service: order service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		orders:    deps.Orders,
		payments:  deps.Payments,
		lifecycle: deps.Lifecycle,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandlePaymentEvent authenticates a payment gateway callback against the
// stored callback token and applies the matching transition. Replays of an
// already-applied event ack without side effects.
func (s *webhookService) HandlePaymentEvent(ctx context.Context, event PaymentEvent) error {
	externalID := strings.TrimSpace(event.ExternalID)
	if externalID == "" {
		return fmt.Errorf("%w: external id is required", ErrWebhookPayload)
	}

	pay, err := s.payments.FindByExternalID(ctx, externalID)
	if err != nil {
		if repositories.IsNotFound(err) {
			s.logger(ctx, "webhooks.payment.unknown_external_id", map[string]any{
				"externalId": externalID,
			})
			return ErrWebhookAuthentication
		}
		return s.translateError(err)
	}

	if subtle.ConstantTimeCompare([]byte(pay.CallbackToken), []byte(event.CallbackToken)) != 1 {
		s.logger(ctx, "webhooks.payment.token_mismatch", map[string]any{
			"paymentId":    pay.ID,
			"offeredToken": observability.RedactToken(event.CallbackToken),
		})
		return ErrWebhookAuthentication
	}

	switch normaliseEventStatus(event.Status) {
	case "paid":
		return s.applyPaid(ctx, pay, event)
	case "expired":
		return s.applyExpired(ctx, pay)
	default:
		s.logger(ctx, "webhooks.payment.unknown_status", map[string]any{
			"paymentId": pay.ID,
			"status":    event.Status,
		})
		return fmt.Errorf("%w: unknown payment status %q", ErrWebhookPayload, event.Status)
	}
}

func (s *webhookService) applyPaid(ctx context.Context, pay Payment, event PaymentEvent) error {
	payer := strings.TrimSpace(event.PayerEmail)

	_, err := s.payments.Mutate(ctx, pay.ID, func(p *domain.Payment) error {
		if p.Status != domain.PaymentStatusPending {
			// Duplicate delivery or a payment already moving through the
			// refund flow; the order transition below is idempotent either
			// way.
			return errTransitionNoop
		}
		p.Status = domain.PaymentStatusPaid
		if payer != "" {
			p.PayerEmail = payer
		}
		return nil
	})
	if err != nil && !errors.Is(err, errTransitionNoop) {
		return s.translateError(err)
	}

	if _, err := s.lifecycle.MarkPaid(ctx, pay.OrderID); err != nil {
		if errors.Is(err, ErrOrderInvalidState) {
			// The order advanced past PENDING through another path. The
			// event carries no new information.
			s.logger(ctx, "webhooks.payment.paid_noop", map[string]any{
				"orderId":   pay.OrderID,
				"paymentId": pay.ID,
			})
			return nil
		}
		return err
	}

	s.logger(ctx, "webhooks.payment.paid", map[string]any{
		"orderId":   pay.OrderID,
		"paymentId": pay.ID,
	})
	return nil
}

func (s *webhookService) applyExpired(ctx context.Context, pay Payment) error {
	_, err := s.payments.Mutate(ctx, pay.ID, func(p *domain.Payment) error {
		if p.Status == domain.PaymentStatusExpired {
			return errTransitionNoop
		}
		if p.Status != domain.PaymentStatusPending {
			// Expiry racing a successful payment loses; the paid state wins.
			return errTransitionNoop
		}
		p.Status = domain.PaymentStatusExpired
		return nil
	})
	if err != nil && !errors.Is(err, errTransitionNoop) {
		return s.translateError(err)
	}

	// The order deliberately stays PENDING; a new checkout is required for
	// another payment attempt.
	s.logger(ctx, "webhooks.payment.expired", map[string]any{
		"orderId":   pay.OrderID,
		"paymentId": pay.ID,
	})
	return nil
}

// HandleShippingEvent matches a courier callback to the order owning the
// shipment and enriches its tracking state.
func (s *webhookService) HandleShippingEvent(ctx context.Context, event ShippingEvent) error {
	shippingOrderID := strings.TrimSpace(event.ShippingOrderID)
	if shippingOrderID == "" {
		return fmt.Errorf("%w: shipping order id is required", ErrWebhookPayload)
	}
	status := strings.ToLower(strings.TrimSpace(event.Status))
	if status == "" {
		return fmt.Errorf("%w: status is required", ErrWebhookPayload)
	}

	order, err := s.orders.FindByShippingOrderID(ctx, shippingOrderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			s.logger(ctx, "webhooks.shipping.unknown_order", map[string]any{
				"shippingOrderId": shippingOrderID,
			})
			return ErrWebhookAuthentication
		}
		return s.translateError(err)
	}

	tracking := ShipmentTracking{
		WaybillID:   strings.TrimSpace(event.WaybillID),
		Status:      status,
		DriverName:  strings.TrimSpace(event.DriverName),
		DriverPhone: strings.TrimSpace(event.DriverPhone),
		TrackingURL: strings.TrimSpace(event.TrackingURL),
	}

	if _, err := s.lifecycle.ApplyTrackingUpdate(ctx, order.ID, tracking, deliveredShippingStatuses[status]); err != nil {
		if errors.Is(err, ErrOrderInvalidState) {
			s.logger(ctx, "webhooks.shipping.update_noop", map[string]any{
				"orderId": order.ID,
				"status":  status,
			})
			return nil
		}
		return err
	}

	s.logger(ctx, "webhooks.shipping.update", map[string]any{
		"orderId":         order.ID,
		"shippingOrderId": shippingOrderID,
		"status":          status,
	})
	return nil
}

func (s *webhookService) translateError(err error) error {
	if err == nil {
		return nil
	}
	if repositories.IsUnavailable(err) {
		return fmt.Errorf("%w: %s", ErrWebhookUnavailable, err)
	}
	return err
}

// normaliseEventStatus strips gateway framing like "invoice.paid" down to the
// bare status word.
func normaliseEventStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[idx+1:]
	}
	return s
}
