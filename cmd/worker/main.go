package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shopforge/fulfillment/internal/di"
	"github.com/shopforge/fulfillment/internal/platform/config"
	"github.com/shopforge/fulfillment/internal/platform/observability"
	"github.com/shopforge/fulfillment/internal/platform/secrets"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("worker")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, cleanup, err := di.Bootstrap(ctx, logger, envValues, cfg)
	if err != nil {
		logger.Fatal("failed to assemble dependencies", zap.Error(err))
	}
	defer cleanup()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Info("shutdown signal received; finishing current pass")
		cancel()
	}()

	pollLogger := logger.Named("queue").With(zap.Duration("interval", cfg.Jobs.PollInterval))
	pollLogger.Info("job queue worker polling")

	ticker := time.NewTicker(cfg.Jobs.PollInterval)
	defer ticker.Stop()

	runOnce(runCtx, pollLogger, container)
	for {
		select {
		case <-runCtx.Done():
			logger.Info("worker stopped")
			return
		case <-ticker.C:
			runOnce(runCtx, pollLogger, container)
		}
	}
}

func runOnce(ctx context.Context, logger *zap.Logger, container *di.Container) {
	if ctx.Err() != nil {
		return
	}
	stats, err := container.Runner.RunDueJobs(ctx)
	if err != nil {
		logger.Error("job pass failed", zap.Error(err))
		return
	}
	if stats.Claimed == 0 {
		return
	}
	logger.Info("job pass complete",
		zap.Int("claimed", stats.Claimed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("rescheduled", stats.Rescheduled),
		zap.Int("gave_up", stats.GaveUp),
		zap.Int("skipped", stats.Skipped),
	)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}

	return secrets.NewFetcher(ctx, opts...)
}
