package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shopforge/fulfillment/internal/domain"
	pfirestore "github.com/shopforge/fulfillment/internal/platform/firestore"
	"github.com/shopforge/fulfillment/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert stores a new order. The write fails with a conflict when the ID is
// already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	err := r.base.Create(ctx, orderID, newOrderDocument(order))
	return err
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByShippingOrderID resolves the order that owns a provider shipment,
// used when correlating shipping webhooks.
func (r *OrderRepository) FindByShippingOrderID(ctx context.Context, shippingOrderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	sid := strings.TrimSpace(shippingOrderID)
	if sid == "" {
		return domain.Order{}, errors.New("order repository: shipping order id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("shippingOrderId", "==", sid).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, repositories.NewError(repositories.ErrorCodeNotFound, fmt.Sprintf("order with shipment %s not found", sid), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if owner := strings.TrimSpace(filter.OwnerID); owner != "" {
			q = q.Where("ownerId", "==", owner)
		}
		if len(filter.Statuses) > 0 {
			values := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				values = append(values, string(s))
			}
			q = q.Where("status", "in", values)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// Mutate re-reads the order inside a transaction, applies fn to the fresh
// copy, and writes the result back. fn returning an error aborts the write.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order repository: mutate function is required")
	}

	var mutated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewError(repositories.ErrorCodeNotFound, fmt.Sprintf("order %s not found", id), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", id, err)
		}

		order := doc.toDomain(id)
		if err := fn(&order); err != nil {
			return err
		}
		order.ID = id
		order.UpdatedAt = time.Now().UTC()

		mutated = order
		return tx.Set(ref, newOrderDocument(order))
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			return domain.Order{}, err
		}
		return domain.Order{}, pfirestore.WrapError("firestore.orders.mutate", err)
	}
	return mutated, nil
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	Subtotal  int64  `firestore:"subtotal"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Phone      string  `firestore:"phone"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	Province   string  `firestore:"province"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	AreaCode   string  `firestore:"areaCode,omitempty"`
}

type trackingDocument struct {
	WaybillID   string     `firestore:"waybillId,omitempty"`
	Status      string     `firestore:"status,omitempty"`
	DriverName  string     `firestore:"driverName,omitempty"`
	DriverPhone string     `firestore:"driverPhone,omitempty"`
	TrackingURL string     `firestore:"trackingUrl,omitempty"`
	UpdatedAt   *time.Time `firestore:"updatedAt,omitempty"`
}

type orderDocument struct {
	OwnerID         string              `firestore:"ownerId"`
	Status          string              `firestore:"status"`
	Currency        string              `firestore:"currency"`
	Lines           []orderLineDocument `firestore:"lines"`
	ItemsTotal      int64               `firestore:"itemsTotal"`
	Discount        int64               `firestore:"discount"`
	ShippingCost    int64               `firestore:"shippingCost"`
	TotalAmount     int64               `firestore:"totalAmount"`
	CouponCode      string              `firestore:"couponCode,omitempty"`
	ShippingAddress *addressDocument    `firestore:"shippingAddress,omitempty"`
	Courier         string              `firestore:"courier,omitempty"`
	ShippingOrderID string              `firestore:"shippingOrderId,omitempty"`
	Tracking        *trackingDocument   `firestore:"tracking,omitempty"`
	CancelReason    *string             `firestore:"cancelReason,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	PaidAt          *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	RefundedAt      *time.Time          `firestore:"refundedAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OwnerID:         strings.TrimSpace(order.OwnerID),
		Status:          string(order.Status),
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		ItemsTotal:      order.ItemsTotal,
		Discount:        order.Discount,
		ShippingCost:    order.ShippingCost,
		TotalAmount:     order.TotalAmount,
		CouponCode:      strings.TrimSpace(order.CouponCode),
		Courier:         strings.TrimSpace(order.Courier),
		ShippingOrderID: strings.TrimSpace(order.ShippingOrderID),
		CancelReason:    order.CancelReason,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		PaidAt:          order.PaidAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		RefundedAt:      order.RefundedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}

	doc.Lines = make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal,
		})
	}

	if order.ShippingAddress != nil {
		doc.ShippingAddress = &addressDocument{
			Recipient:  order.ShippingAddress.Recipient,
			Phone:      order.ShippingAddress.Phone,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			Province:   order.ShippingAddress.Province,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			AreaCode:   order.ShippingAddress.AreaCode,
		}
	}

	if order.Tracking != (domain.ShipmentTracking{}) {
		doc.Tracking = &trackingDocument{
			WaybillID:   order.Tracking.WaybillID,
			Status:      order.Tracking.Status,
			DriverName:  order.Tracking.DriverName,
			DriverPhone: order.Tracking.DriverPhone,
			TrackingURL: order.Tracking.TrackingURL,
			UpdatedAt:   order.Tracking.UpdatedAt,
		}
	}

	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:              id,
		OwnerID:         d.OwnerID,
		Status:          domain.OrderStatus(d.Status),
		Currency:        d.Currency,
		ItemsTotal:      d.ItemsTotal,
		Discount:        d.Discount,
		ShippingCost:    d.ShippingCost,
		TotalAmount:     d.TotalAmount,
		CouponCode:      d.CouponCode,
		Courier:         d.Courier,
		ShippingOrderID: d.ShippingOrderID,
		CancelReason:    d.CancelReason,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		PaidAt:          d.PaidAt,
		ShippedAt:       d.ShippedAt,
		DeliveredAt:     d.DeliveredAt,
		CancelledAt:     d.CancelledAt,
		RefundedAt:      d.RefundedAt,
	}

	order.Lines = make([]domain.OrderLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal,
		})
	}

	if d.ShippingAddress != nil {
		order.ShippingAddress = &domain.Address{
			Recipient:  d.ShippingAddress.Recipient,
			Phone:      d.ShippingAddress.Phone,
			Line1:      d.ShippingAddress.Line1,
			Line2:      d.ShippingAddress.Line2,
			City:       d.ShippingAddress.City,
			Province:   d.ShippingAddress.Province,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
			AreaCode:   d.ShippingAddress.AreaCode,
		}
	}

	if d.Tracking != nil {
		order.Tracking = domain.ShipmentTracking{
			WaybillID:   d.Tracking.WaybillID,
			Status:      d.Tracking.Status,
			DriverName:  d.Tracking.DriverName,
			DriverPhone: d.Tracking.DriverPhone,
			TrackingURL: d.Tracking.TrackingURL,
			UpdatedAt:   d.Tracking.UpdatedAt,
		}
	}

	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
