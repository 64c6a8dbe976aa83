package di

import (
	"context"
	"errors"
	"net/http"
	"time"

	domain "github.com/shopforge/fulfillment/internal/domain"
	"github.com/shopforge/fulfillment/internal/gateways/payment"
	"github.com/shopforge/fulfillment/internal/gateways/shipping"
	"github.com/shopforge/fulfillment/internal/jobs"
	"github.com/shopforge/fulfillment/internal/platform/cache"
	"github.com/shopforge/fulfillment/internal/platform/config"
	"github.com/shopforge/fulfillment/internal/repositories"
	"github.com/shopforge/fulfillment/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Webhooks  services.WebhookService
	Reference services.ReferenceService
	System    services.SystemService
}

// ContainerDeps carries the infrastructure clients assembled by the entrypoints.
// The API and worker binaries share this wiring so both run the same service
// graph against the same collaborators.
type ContainerDeps struct {
	Config       config.Config
	Repositories repositories.Registry
	Payments     payment.Gateway
	Shipping     *shipping.Client
	Cache        cache.Store
	Events       services.OrderEventPublisher
	Alerts       services.AlertPublisher
	Build        services.BuildInfo
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and the job runner for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Runner       *jobs.Runner

	// Idempotency guards mutating endpoints with Idempotency-Key replay
	// semantics. Nil when no durable store is available.
	Idempotency func(http.Handler) http.Handler
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and gateways.
func NewContainer(deps ContainerDeps) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("di: repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("di: payment gateway is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("di: shipping client is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	reg := deps.Repositories
	cfg := deps.Config

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Payments:  reg.Payments(),
		Jobs:      reg.Jobs(),
		Inventory: reg.Inventory(),
		Invoices:  deps.Payments,
		Events:    deps.Events,
		Clock:     clock,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:           reg.Carts(),
		Coupons:         reg.Coupons(),
		Orders:          reg.Orders(),
		Payments:        reg.Payments(),
		Inventory:       reg.Inventory(),
		Invoices:        deps.Payments,
		Events:          deps.Events,
		CallbackBaseURL: cfg.Payments.CallbackBaseURL,
		Currency:        cfg.Payments.Currency,
		Clock:           clock,
		Logger:          deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	webhookService, err := services.NewWebhookService(services.WebhookServiceDeps{
		Orders:    reg.Orders(),
		Payments:  reg.Payments(),
		Lifecycle: orderService,
		Clock:     clock,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	store := deps.Cache
	if store == nil {
		store = cache.NewMemoryStore()
	}
	referenceService, err := services.NewReferenceService(services.ReferenceServiceDeps{
		Gateway: deps.Shipping,
		Cache:   store,
		TTL:     cfg.Cache.ReferenceTTL,
		Logger:  deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		Health: reg.Health(),
		Clock:  clock,
		Build:  deps.Build,
	})
	if err != nil {
		return nil, err
	}

	runner, err := buildRunner(cfg, reg, deps, orderService, clock)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services: Services{
			Checkout:  checkoutService,
			Orders:    orderService,
			Webhooks:  webhookService,
			Reference: referenceService,
			System:    systemService,
		},
		Runner: runner,
	}, nil
}

func buildRunner(cfg config.Config, reg repositories.Registry, deps ContainerDeps, lifecycle services.OrderService, clock func() time.Time) (*jobs.Runner, error) {
	shippingExec, err := jobs.NewShippingExecutor(jobs.ShippingExecutorDeps{
		Orders:    reg.Orders(),
		Gateway:   deps.Shipping,
		Lifecycle: lifecycle,
		Origin:    shippingOrigin(cfg.Shipping.Origin),
	})
	if err != nil {
		return nil, err
	}
	refundExec, err := jobs.NewRefundExecutor(jobs.RefundExecutorDeps{
		Payments:  reg.Payments(),
		Gateway:   deps.Payments,
		Lifecycle: lifecycle,
	})
	if err != nil {
		return nil, err
	}

	return jobs.NewRunner(jobs.RunnerDeps{
		Jobs: reg.Jobs(),
		Executors: map[domain.JobType]jobs.Executor{
			domain.JobTypeShippingCreate: shippingExec,
			domain.JobTypeRefundCreate:   refundExec,
		},
		Alerts:      deps.Alerts,
		MaxAttempts: cfg.Jobs.MaxAttempts,
		BaseBackoff: cfg.Jobs.BaseBackoff,
		MaxBackoff:  cfg.Jobs.MaxBackoff,
		BatchSize:   cfg.Jobs.BatchSize,
		ExecTimeout: cfg.Jobs.ExecTimeout,
		Clock:       clock,
		Logger:      deps.Logger,
	})
}

func shippingOrigin(origin config.OriginAddress) shipping.OrderAddress {
	return shipping.OrderAddress{
		Name:       origin.Name,
		Phone:      origin.Phone,
		Address:    origin.Address,
		City:       origin.City,
		Province:   origin.Province,
		PostalCode: origin.PostalCode,
		AreaCode:   origin.AreaCode,
		Country:    origin.Country,
	}
}

// Close releases resources such as repository clients and cache connections.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}
