package firestore

import (
	"context"
	"errors"

	domaincache "github.com/shopforge/fulfillment/internal/platform/cache"
	pfirestore "github.com/shopforge/fulfillment/internal/platform/firestore"
	"github.com/shopforge/fulfillment/internal/repositories"
)

// RegistryConfig wires the Firestore registry's dependencies.
type RegistryConfig struct {
	Provider *pfirestore.Provider
	// ExtraProbes extends the readiness probe set beyond the Firestore
	// default, typically with cache and shipping checks.
	ExtraProbes []repositories.DependencyProbe
}

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry interface.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	payments  *PaymentRepository
	jobs      *JobRepository
	coupons   *CouponRepository
	carts     *CartRepository
	inventory *InventoryRepository
	health    repositories.HealthRepository
}

// NewRegistry constructs every repository against a shared provider.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(cfg.Provider)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(cfg.Provider)
	if err != nil {
		return nil, err
	}
	jobs, err := NewJobRepository(cfg.Provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(cfg.Provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(cfg.Provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(cfg.Provider)
	if err != nil {
		return nil, err
	}

	probes := append([]repositories.DependencyProbe{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := cfg.Provider.Client(ctx)
				return err
			},
		},
	}, cfg.ExtraProbes...)
	health, err := repositories.NewHealthRepository(probes)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  cfg.Provider,
		orders:    orders,
		payments:  payments,
		jobs:      jobs,
		coupons:   coupons,
		carts:     carts,
		inventory: inventory,
		health:    health,
	}, nil
}

// CacheProbe builds a readiness probe for a cache store.
func CacheProbe(store domaincache.Store) repositories.DependencyProbe {
	return repositories.DependencyProbe{
		Name: "cache",
		Check: func(ctx context.Context) error {
			_, _, err := store.Get(ctx, "healthcheck")
			return err
		},
	}
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }
func (r *Registry) Jobs() repositories.JobRepository { return r.jobs }
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }
func (r *Registry) Carts() repositories.CartRepository { return r.carts }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Health() repositories.HealthRepository { return r.health }

var _ repositories.Registry = (*Registry)(nil)
