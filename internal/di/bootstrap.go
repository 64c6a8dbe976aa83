package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shopforge/fulfillment/internal/gateways/payment"
	"github.com/shopforge/fulfillment/internal/gateways/shipping"
	"github.com/shopforge/fulfillment/internal/platform/cache"
	"github.com/shopforge/fulfillment/internal/platform/config"
	"github.com/shopforge/fulfillment/internal/platform/events"
	pfirestore "github.com/shopforge/fulfillment/internal/platform/firestore"
	"github.com/shopforge/fulfillment/internal/platform/idempotency"
	"github.com/shopforge/fulfillment/internal/platform/observability"
	"github.com/shopforge/fulfillment/internal/repositories"
	firestoreRepo "github.com/shopforge/fulfillment/internal/repositories/firestore"
	"github.com/shopforge/fulfillment/internal/services"
)

// Bootstrap opens the infrastructure clients (Firestore, Redis, Pub/Sub,
// payment and shipping gateways) and assembles the service container. Both
// binaries share this wiring so they run the same service graph. The returned
// cleanup closes every client that was opened, last first.
func Bootstrap(ctx context.Context, logger *zap.Logger, env map[string]string, cfg config.Config) (*Container, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Container, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		return fail(fmt.Errorf("firestore client: %w", err))
	}
	closers = append(closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	})

	store, extraProbes, redisCleanup, err := buildCacheStore(cfg)
	if err != nil {
		return fail(err)
	}
	if redisCleanup != nil {
		closers = append(closers, redisCleanup)
	}

	registry, err := firestoreRepo.NewRegistry(firestoreRepo.RegistryConfig{
		Provider:    firestoreProvider,
		ExtraProbes: extraProbes,
	})
	if err != nil {
		return fail(fmt.Errorf("repository registry: %w", err))
	}

	stripeGateway, err := payment.NewStripeGateway(payment.StripeGatewayConfig{
		APIKey: cfg.Payments.StripeAPIKey,
		Logger: payment.StripeLogger(observability.ServiceLogger(logger.Named("stripe"))),
		Clock:  time.Now,
	})
	if err != nil {
		return fail(fmt.Errorf("stripe gateway: %w", err))
	}

	shippingClient, err := shipping.NewClient(cfg.Shipping.BaseURL, cfg.Shipping.APIKey,
		shipping.WithTimeout(cfg.Shipping.Timeout),
		shipping.WithLogger(shipping.Logger(observability.ServiceLogger(logger.Named("shipping")))),
	)
	if err != nil {
		return fail(fmt.Errorf("shipping client: %w", err))
	}

	orderEvents, alerts, pubsubCleanup, err := buildPublishers(ctx, logger, cfg)
	if err != nil {
		return fail(err)
	}
	if pubsubCleanup != nil {
		closers = append(closers, pubsubCleanup)
	}

	container, err := NewContainer(ContainerDeps{
		Config:       cfg,
		Repositories: registry,
		Payments:     stripeGateway,
		Shipping:     shippingClient,
		Cache:        store,
		Events:       orderEvents,
		Alerts:       alerts,
		Build:        buildInfoFromEnv(env, cfg),
		Clock:        time.Now,
		Logger:       observability.ServiceLogger(logger.Named("services")),
	})
	if err != nil {
		return fail(err)
	}

	idemLogger := logger.Named("idempotency").Sugar()
	container.Idempotency = idempotency.Middleware(
		idempotency.NewFirestoreStore(firestoreClient),
		idempotency.WithMethods("POST"),
		idempotency.WithLogger(printfLogger{sugar: idemLogger}),
	)

	return container, cleanup, nil
}

type printfLogger struct {
	sugar *zap.SugaredLogger
}

func (l printfLogger) Printf(format string, args ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

func buildCacheStore(cfg config.Config) (cache.Store, []repositories.DependencyProbe, func(), error) {
	addr := strings.TrimSpace(cfg.Cache.RedisAddr)
	if addr == "" {
		return cache.NewMemoryStore(), nil, nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Cache.RedisPassword,
	})
	store, err := cache.NewRedisStore(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	probes := []repositories.DependencyProbe{firestoreRepo.CacheProbe(store)}
	return store, probes, func() { _ = client.Close() }, nil
}

func buildPublishers(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.OrderEventPublisher, services.AlertPublisher, func(), error) {
	if strings.TrimSpace(cfg.PubSub.ProjectID) == "" {
		return nil, nil, nil, nil
	}
	if cfg.PubSub.OrderTopic == "" && cfg.PubSub.OpsAlertsTopic == "" {
		return nil, nil, nil, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	closer := func() {
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}

	var orderEvents services.OrderEventPublisher
	if cfg.PubSub.OrderTopic != "" {
		publisher, err := events.NewPubSubOrderEventPublisher(client.Topic(cfg.PubSub.OrderTopic))
		if err != nil {
			closer()
			return nil, nil, nil, fmt.Errorf("order event publisher: %w", err)
		}
		orderEvents = publisher
	}

	var alerts services.AlertPublisher
	if cfg.PubSub.OpsAlertsTopic != "" {
		publisher, err := events.NewPubSubAlertPublisher(client.Topic(cfg.PubSub.OpsAlertsTopic))
		if err != nil {
			closer()
			return nil, nil, nil, fmt.Errorf("alert publisher: %w", err)
		}
		alerts = publisher
	}

	return orderEvents, alerts, closer, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
	}
}
