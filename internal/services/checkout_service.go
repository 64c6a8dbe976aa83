package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/gateways/payment"
	"github.com/shopforge/fulfillment/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates the cart holds no items.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutInsufficientStock indicates stock could not be reserved for the cart items.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutCouponNotFound indicates the supplied coupon code does not exist.
	ErrCheckoutCouponNotFound = errors.New("checkout: coupon not found")
	// ErrCheckoutPaymentFailed indicates the gateway invoice could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// checkoutInvoiceCreator abstracts the payment gateway for easier testing.
type checkoutInvoiceCreator interface {
	CreateInvoice(ctx context.Context, req payment.CreateInvoiceRequest) (payment.Invoice, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts     repositories.CartRepository
	Coupons   repositories.CouponRepository
	Orders    repositories.OrderRepository
	Payments  repositories.PaymentRepository
	Inventory repositories.InventoryRepository
	Invoices  checkoutInvoiceCreator
	Events    OrderEventPublisher

	// CallbackBaseURL prefixes the success and cancel redirect URLs when the
	// command omits absolute ones.
	CallbackBaseURL string
	Currency        string

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts     repositories.CartRepository
	coupons   repositories.CouponRepository
	orders    repositories.OrderRepository
	payments  repositories.PaymentRepository
	inventory repositories.InventoryRepository
	invoices  checkoutInvoiceCreator
	events    OrderEventPublisher

	callbackBaseURL string
	currency        string

	now    func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("checkout service: inventory repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string {
			return strings.ToLower(ulid.Make().String())
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	return &checkoutService{
		carts:           deps.Carts,
		coupons:         deps.Coupons,
		orders:          deps.Orders,
		payments:        deps.Payments,
		inventory:       deps.Inventory,
		invoices:        deps.Invoices,
		events:          deps.Events,
		callbackBaseURL: strings.TrimRight(strings.TrimSpace(deps.CallbackBaseURL), "/"),
		currency:        currency,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// CreateOrderFromCart snapshots the cart into an immutable PENDING order,
// reserves stock, opens a gateway invoice, and persists the payment attempt.
// The stock reservation is released again when the invoice or the persist
// step fails, so a failed checkout leaves no residue.
func (s *checkoutService) CreateOrderFromCart(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error) {
	owner := strings.TrimSpace(cmd.OwnerID)
	if owner == "" {
		return CheckoutResult{}, fmt.Errorf("%w: owner id is required", ErrCheckoutInvalidInput)
	}
	if cmd.ShippingCost < 0 {
		return CheckoutResult{}, fmt.Errorf("%w: shipping cost must not be negative", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, owner)
	if err != nil {
		if repositories.IsNotFound(err) {
			return CheckoutResult{}, ErrCheckoutEmptyCart
		}
		return CheckoutResult{}, s.translateError(err)
	}
	lines := domain.SnapshotCart(cart)
	if len(lines) == 0 {
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}

	coupon, err := s.resolveCoupon(ctx, cmd.CouponCode)
	if err != nil {
		return CheckoutResult{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cart.Currency))
	if currency == "" {
		currency = s.currency
	}
	pricing := domain.PriceLines(lines, coupon, cmd.ShippingCost, currency)

	now := s.now()
	order := domain.Order{
		ID:           "ord_" + s.newID(),
		OwnerID:      owner,
		Status:       domain.OrderStatusPending,
		Currency:     pricing.Currency,
		Lines:        lines,
		ItemsTotal:   pricing.ItemsTotal,
		Discount:     pricing.Discount,
		ShippingCost: pricing.Shipping,
		TotalAmount:  pricing.Total,
		Courier:      strings.TrimSpace(cmd.Courier),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if coupon != nil {
		order.CouponCode = coupon.Code
	}
	if cmd.Address != (domain.Address{}) {
		addr := cmd.Address
		order.ShippingAddress = &addr
	}

	// ExternalID and CallbackToken are generated exactly once here; gateway
	// retries of this logical operation reuse them as idempotency keys.
	pay := domain.Payment{
		ID:            "pay_" + s.newID(),
		OrderID:       order.ID,
		ExternalID:    "ext_" + s.newID(),
		Status:        domain.PaymentStatusPending,
		Amount:        pricing.Total,
		Currency:      pricing.Currency,
		CallbackToken: newCallbackToken(),
		PayerEmail:    strings.TrimSpace(cmd.PayerEmail),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	stock := stockLinesFromOrder(lines)
	if err := s.inventory.Reserve(ctx, stock); err != nil {
		if repositories.IsConflict(err) {
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutInsufficientStock, err)
		}
		return CheckoutResult{}, s.translateError(err)
	}

	invoice, err := s.invoices.CreateInvoice(ctx, payment.CreateInvoiceRequest{
		ExternalID:  pay.ExternalID,
		Amount:      pricing.Total,
		Currency:    pricing.Currency,
		Description: fmt.Sprintf("Order %s", order.ID),
		CustomerID:  owner,
		SuccessURL:  s.redirectURL(cmd.SuccessURL, order.ID, "success"),
		CancelURL:   s.redirectURL(cmd.CancelURL, order.ID, "cancel"),
		Items:       invoiceItemsFromLines(lines),
		Metadata: map[string]string{
			"orderId":   order.ID,
			"paymentId": pay.ID,
		},
	})
	if err != nil {
		s.releaseStock(ctx, order.ID, stock, "invoice_failed")
		return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutPaymentFailed, err)
	}
	pay.InvoiceID = invoice.ID
	pay.InvoiceURL = invoice.URL

	if err := s.orders.Insert(ctx, order); err != nil {
		s.releaseStock(ctx, order.ID, stock, "persist_failed")
		return CheckoutResult{}, s.translateError(err)
	}
	if err := s.payments.Insert(ctx, pay); err != nil {
		s.releaseStock(ctx, order.ID, stock, "persist_failed")
		return CheckoutResult{}, s.translateError(err)
	}

	// A stale cart is an inconvenience, not a checkout failure.
	if err := s.carts.ClearCart(ctx, owner); err != nil {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"ownerId": owner,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	if s.events != nil {
		if _, err := s.events.PublishOrderEvent(ctx, OrderEvent{
			OrderID:    order.ID,
			OwnerID:    owner,
			Status:     string(order.Status),
			Amount:     order.TotalAmount,
			Currency:   order.Currency,
			OccurredAt: now.Format(time.RFC3339),
		}); err != nil {
			s.logger(ctx, "checkout.event_publish_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderId":   order.ID,
		"paymentId": pay.ID,
		"total":     order.TotalAmount,
		"currency":  order.Currency,
	})

	return CheckoutResult{
		Order:      order,
		Payment:    pay,
		InvoiceURL: invoice.URL,
	}, nil
}

// PreviewCoupon evaluates a coupon against a subtotal without creating an
// order. Inactive or below-minimum coupons report a zero discount rather
// than an error, mirroring the checkout behaviour.
func (s *checkoutService) PreviewCoupon(ctx context.Context, code string, subtotal int64) (CouponPreview, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return CouponPreview{}, fmt.Errorf("%w: coupon code is required", ErrCheckoutInvalidInput)
	}
	if subtotal < 0 {
		return CouponPreview{}, fmt.Errorf("%w: subtotal must not be negative", ErrCheckoutInvalidInput)
	}

	coupon, err := s.resolveCoupon(ctx, trimmed)
	if err != nil {
		return CouponPreview{}, err
	}
	if coupon == nil {
		return CouponPreview{}, fmt.Errorf("%w: %s", ErrCheckoutCouponNotFound, trimmed)
	}

	discount := domain.CalculateDiscount(*coupon, subtotal)
	return CouponPreview{
		Code:     coupon.Code,
		Type:     coupon.Type,
		Discount: discount,
		Applied:  discount > 0,
	}, nil
}

func (s *checkoutService) resolveCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || s.coupons == nil {
		return nil, nil
	}
	coupon, err := s.coupons.FindByCode(ctx, trimmed)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutCouponNotFound, trimmed)
		}
		return nil, s.translateError(err)
	}
	return &coupon, nil
}

func (s *checkoutService) releaseStock(ctx context.Context, orderID string, lines []repositories.StockLine, reason string) {
	if err := s.inventory.Release(ctx, lines); err != nil {
		s.logger(ctx, "checkout.stock_release_failed", map[string]any{
			"orderId": orderID,
			"reason":  reason,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) redirectURL(explicit, orderID, outcome string) string {
	if u := strings.TrimSpace(explicit); u != "" {
		return u
	}
	if s.callbackBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/orders/%s/%s", s.callbackBaseURL, orderID, outcome)
}

func (s *checkoutService) translateError(err error) error {
	if err == nil {
		return nil
	}
	if repositories.IsUnavailable(err) {
		return fmt.Errorf("%w: %s", ErrCheckoutUnavailable, err)
	}
	return err
}

func stockLinesFromOrder(lines []domain.OrderLine) []repositories.StockLine {
	out := make([]repositories.StockLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, repositories.StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return out
}

func invoiceItemsFromLines(lines []domain.OrderLine) []payment.InvoiceItem {
	items := make([]payment.InvoiceItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, payment.InvoiceItem{
			SKU:      line.ProductID,
			Name:     line.Name,
			Quantity: int64(line.Quantity),
			Amount:   line.UnitPrice,
		})
	}
	return items
}

// newCallbackToken returns a random token used to authenticate gateway
// webhooks for one specific payment.
func newCallbackToken() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
