package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/shopforge/fulfillment/internal/domain"
	pfirestore "github.com/shopforge/fulfillment/internal/platform/firestore"
	"github.com/shopforge/fulfillment/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository persists mutable carts within Firestore, keyed by owner ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection)
	return &CartRepository{base: base}, nil
}

// GetCart loads the cart for the given owner.
func (r *CartRepository) GetCart(ctx context.Context, ownerID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return domain.Cart{}, errors.New("cart repository: owner id is required")
	}

	doc, err := r.base.Get(ctx, owner)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := domain.Cart{
		ID:       doc.ID,
		OwnerID:  doc.ID,
		Currency: strings.ToUpper(strings.TrimSpace(doc.Data.Currency)),
		Items:    make([]domain.CartItem, 0, len(doc.Data.Items)),
		UpdatedAt: func() time.Time {
			if !doc.UpdateTime.IsZero() {
				return doc.UpdateTime
			}
			return doc.Data.UpdatedAt
		}(),
	}
	for _, item := range doc.Data.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
		})
	}
	return cart, nil
}

// ClearCart empties the owner's cart after a successful checkout. A missing
// cart is treated as already cleared.
func (r *CartRepository) ClearCart(ctx context.Context, ownerID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return errors.New("cart repository: owner id is required")
	}

	doc, err := r.base.Get(ctx, owner)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil
		}
		return err
	}

	cleared := doc.Data
	cleared.Items = nil
	cleared.UpdatedAt = time.Now().UTC()
	err = r.base.Set(ctx, owner, cleared)
	return err
}

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Name      string    `firestore:"name"`
	UnitPrice int64     `firestore:"unitPrice"`
	Quantity  int       `firestore:"quantity"`
	AddedAt   time.Time `firestore:"addedAt"`
}

type cartDocument struct {
	Currency  string             `firestore:"currency"`
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
