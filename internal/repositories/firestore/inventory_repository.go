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

	pfirestore "github.com/shopforge/fulfillment/internal/platform/firestore"
	"github.com/shopforge/fulfillment/internal/repositories"
)

const inventoryCollection = "inventory"

// InventoryRepository adjusts stock counts within Firestore. Stock documents
// are keyed by product ID and all lines of a request commit in one
// transaction, so a partially available order reserves nothing.
type InventoryRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection)
	return &InventoryRepository{provider: provider, stocks: stocks}, nil
}

// Reserve decrements available stock for every line or fails as a whole.
func (r *InventoryRepository) Reserve(ctx context.Context, lines []repositories.StockLine) error {
	return r.adjust(ctx, "firestore.inventory.reserve", lines, func(doc *stockDocument, line repositories.StockLine) error {
		available := doc.OnHand - doc.Reserved
		if available < line.Quantity {
			return repositories.NewError(repositories.ErrorCodeInsufficientStock, fmt.Sprintf("insufficient stock for %s", line.ProductID), nil)
		}
		doc.Reserved += line.Quantity
		return nil
	})
}

// Release returns previously reserved stock, clamping at zero so a duplicate
// release cannot drive the counter negative.
func (r *InventoryRepository) Release(ctx context.Context, lines []repositories.StockLine) error {
	return r.adjust(ctx, "firestore.inventory.release", lines, func(doc *stockDocument, line repositories.StockLine) error {
		doc.Reserved -= line.Quantity
		if doc.Reserved < 0 {
			doc.Reserved = 0
		}
		return nil
	})
}

func (r *InventoryRepository) adjust(ctx context.Context, op string, lines []repositories.StockLine, apply func(doc *stockDocument, line repositories.StockLine) error) error {
	if r == nil || r.provider == nil {
		return errors.New("inventory repository not initialised")
	}
	if len(lines) == 0 {
		return errors.New("inventory repository: at least one line is required")
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return errors.New("inventory repository: product id is required")
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("inventory repository: quantity for %s must be positive", line.ProductID)
		}
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now().UTC()
		for _, line := range lines {
			productID := strings.TrimSpace(line.ProductID)
			ref, err := r.stocks.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewError(repositories.ErrorCodeNotFound, fmt.Sprintf("stock %s not found", productID), err)
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", productID, err)
			}
			if err := apply(&doc, line); err != nil {
				return err
			}
			doc.UpdatedAt = now
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			return err
		}
		return pfirestore.WrapError(op, err)
	}
	return nil
}

type stockDocument struct {
	OnHand    int       `firestore:"onHand"`
	Reserved  int       `firestore:"reserved"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
