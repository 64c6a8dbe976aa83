package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "sf-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Payments.Currency != defaultCurrency {
		t.Errorf("expected default currency, got %s", cfg.Payments.Currency)
	}
	if cfg.Shipping.Timeout != defaultShippingTimeout {
		t.Errorf("unexpected default shipping timeout: %s", cfg.Shipping.Timeout)
	}
	if cfg.Jobs.MaxAttempts != defaultJobMaxAttempts {
		t.Errorf("unexpected default max attempts: %d", cfg.Jobs.MaxAttempts)
	}
	if cfg.Jobs.BaseBackoff != defaultJobBaseBackoff {
		t.Errorf("unexpected default base backoff: %s", cfg.Jobs.BaseBackoff)
	}
	if cfg.Jobs.MaxBackoff != defaultJobMaxBackoff {
		t.Errorf("unexpected default max backoff: %s", cfg.Jobs.MaxBackoff)
	}
	if cfg.Cache.ReferenceTTL != defaultCacheReferenceTTL {
		t.Errorf("unexpected default reference ttl: %s", cfg.Cache.ReferenceTTL)
	}
	if cfg.PubSub.ProjectID != "sf-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.IdentityHeader != defaultIdentityHeader {
		t.Errorf("expected default identity header, got %s", cfg.Security.IdentityHeader)
	}
	if cfg.Security.HMAC.SignatureHeader != defaultHMACSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Security.HMAC.SignatureHeader)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_READ_TIMEOUT":            "20s",
		"API_SERVER_WRITE_TIMEOUT":           "25s",
		"API_SERVER_IDLE_TIMEOUT":            "2m",
		"API_FIRESTORE_PROJECT_ID":           "sf-prod",
		"API_PAYMENTS_STRIPE_API_KEY":        "secret://stripe/api",
		"API_PAYMENTS_CALLBACK_BASE_URL":     "https://api.example.com",
		"API_PAYMENTS_CURRENCY":              "EUR",
		"API_SHIPPING_BASE_URL":              "https://couriers.example.com",
		"API_SHIPPING_API_KEY":               "secret://shipping/key",
		"API_SHIPPING_TIMEOUT":               "5s",
		"API_JOBS_MAX_ATTEMPTS":              "7",
		"API_JOBS_BASE_BACKOFF":              "30s",
		"API_JOBS_MAX_BACKOFF":               "2h",
		"API_JOBS_BATCH_SIZE":                "50",
		"API_JOBS_EXEC_TIMEOUT":              "45s",
		"API_JOBS_POLL_INTERVAL":             "5s",
		"API_CACHE_REDIS_ADDR":               "localhost:6379",
		"API_CACHE_REDIS_PASSWORD":           "secret://redis/password",
		"API_CACHE_REFERENCE_TTL":            "20m",
		"API_PUBSUB_PROJECT_ID":              "sf-events",
		"API_PUBSUB_ORDER_TOPIC":             "order-events",
		"API_PUBSUB_OPS_ALERTS_TOPIC":        "ops-alerts",
		"API_SECURITY_ENVIRONMENT":           "prod",
		"API_SECURITY_IDENTITY_HEADER":       "X-Shop-Customer",
		"API_SECURITY_HMAC_SECRETS":          "jobs=secret://hmac/jobs,payments=payments-secret",
		"API_SECURITY_HMAC_HEADER_SIGNATURE": "X-Custom-Signature",
		"API_SECURITY_HMAC_CLOCK_SKEW":       "3m",
		"API_SECURITY_HMAC_NONCE_TTL":        "10m",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "stripe-key",
		"secret://shipping/key":   "shipping-key",
		"secret://redis/password": "redis-pass",
		"secret://hmac/jobs":      "jobs-hmac",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Payments.StripeAPIKey != "stripe-key" {
		t.Errorf("expected resolved stripe api key, got %s", cfg.Payments.StripeAPIKey)
	}
	if cfg.Payments.Currency != "EUR" {
		t.Errorf("unexpected currency %s", cfg.Payments.Currency)
	}
	if cfg.Shipping.APIKey != "shipping-key" {
		t.Errorf("expected resolved shipping key, got %s", cfg.Shipping.APIKey)
	}
	if cfg.Shipping.Timeout != 5*time.Second {
		t.Errorf("unexpected shipping timeout %s", cfg.Shipping.Timeout)
	}
	if cfg.Jobs.MaxAttempts != 7 {
		t.Errorf("unexpected max attempts %d", cfg.Jobs.MaxAttempts)
	}
	if cfg.Jobs.BaseBackoff != 30*time.Second {
		t.Errorf("unexpected base backoff %s", cfg.Jobs.BaseBackoff)
	}
	if cfg.Jobs.MaxBackoff != 2*time.Hour {
		t.Errorf("unexpected max backoff %s", cfg.Jobs.MaxBackoff)
	}
	if cfg.Jobs.BatchSize != 50 {
		t.Errorf("unexpected batch size %d", cfg.Jobs.BatchSize)
	}
	if cfg.Cache.RedisAddr != "localhost:6379" {
		t.Errorf("unexpected redis addr %s", cfg.Cache.RedisAddr)
	}
	if cfg.Cache.RedisPassword != "redis-pass" {
		t.Errorf("expected resolved redis password, got %s", cfg.Cache.RedisPassword)
	}
	if cfg.PubSub.ProjectID != "sf-events" {
		t.Errorf("unexpected pubsub project %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderTopic != "order-events" {
		t.Errorf("unexpected order topic %s", cfg.PubSub.OrderTopic)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected security environment prod, got %s", cfg.Security.Environment)
	}
	if cfg.Security.IdentityHeader != "X-Shop-Customer" {
		t.Errorf("unexpected identity header %s", cfg.Security.IdentityHeader)
	}
	if cfg.Security.HMAC.Secrets["jobs"] != "jobs-hmac" {
		t.Errorf("expected resolved jobs hmac secret, got %s", cfg.Security.HMAC.Secrets["jobs"])
	}
	if cfg.Security.HMAC.Secrets["payments"] != "payments-secret" {
		t.Errorf("expected payments secret fallback, got %s", cfg.Security.HMAC.Secrets["payments"])
	}
	if cfg.Security.HMAC.SignatureHeader != "X-Custom-Signature" {
		t.Errorf("unexpected signature header %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Security.HMAC.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Security.HMAC.ClockSkew)
	}
	if cfg.Security.HMAC.NonceTTL != 10*time.Minute {
		t.Errorf("unexpected nonce ttl %s", cfg.Security.HMAC.NonceTTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIRESTORE_PROJECT_ID=sf-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "sf-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadInvalidJobsBackoffOrdering(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "sf-dev",
		"API_JOBS_BASE_BACKOFF":    "1h",
		"API_JOBS_MAX_BACKOFF":     "1m",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if len(fields) != 1 || fields[0] != "Jobs.MaxBackoff" {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID":    "sf-dev",
		"API_PAYMENTS_STRIPE_API_KEY": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://stripe/api=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "sf-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.StripeAPIKey"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Payments.StripeAPIKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "sf-dev",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Payments.StripeAPIKey" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.StripeAPIKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "sf-dev",
		"API_SHIPPING_API_KEY":     "sm://shipping/key",
	}

	secrets := map[string]string{
		"secret://shipping/key": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Shipping.APIKey != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Shipping.APIKey)
	}
}
