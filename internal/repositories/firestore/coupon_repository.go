package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/shopforge/fulfillment/internal/domain"
	pfirestore "github.com/shopforge/fulfillment/internal/platform/firestore"
	"github.com/shopforge/fulfillment/internal/repositories"
)

const couponsCollection = "coupons"

// CouponRepository resolves coupon rules within Firestore. Documents are
// keyed by the normalised coupon code.
type CouponRepository struct {
	base *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection)
	return &CouponRepository{base: base}, nil
}

// FindByCode loads the coupon rule for a public code. Lookups are
// case-insensitive; codes are stored upper-cased.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalised := strings.ToUpper(strings.TrimSpace(code))
	if normalised == "" {
		return domain.Coupon{}, repositories.NewError(repositories.ErrorCodeNotFound, "coupon code is empty", nil)
	}

	doc, err := r.base.Get(ctx, normalised)
	if err == nil {
		return doc.Data.toDomain(doc.ID), nil
	}
	if !repositories.IsNotFound(err) {
		return domain.Coupon{}, err
	}

	// Legacy documents carry random IDs with the code as a field.
	docs, queryErr := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalised).Limit(1)
	})
	if queryErr != nil {
		return domain.Coupon{}, queryErr
	}
	if len(docs) == 0 {
		return domain.Coupon{}, repositories.NewError(repositories.ErrorCodeNotFound, fmt.Sprintf("coupon %s not found", normalised), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

type couponDocument struct {
	Code     string `firestore:"code"`
	Type     string `firestore:"type"`
	Value    int64  `firestore:"value"`
	MinSpend int64  `firestore:"minSpend"`
	Active   bool   `firestore:"active"`
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	code := strings.ToUpper(strings.TrimSpace(d.Code))
	if code == "" {
		code = id
	}
	return domain.Coupon{
		ID:       id,
		Code:     code,
		Type:     domain.CouponType(d.Type),
		Value:    d.Value,
		MinSpend: d.MinSpend,
		Active:   d.Active,
	}
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
