package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopforge/fulfillment/internal/platform/requestctx"
)

func TestRequireIdentity_Success(t *testing.T) {
	middleware := NewIdentityMiddleware()

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set(defaultIdentityHeader, "cus_123")
	req.Header.Set(defaultRolesHeader, "customer, staff")

	rr := httptest.NewRecorder()

	var captured *Identity
	middleware.RequireIdentity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		captured = identity

		owner, ok := requestctx.Owner(r.Context())
		if !ok || owner != "cus_123" {
			t.Fatalf("expected owner cus_123 in request context, got %q", owner)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if captured.CustomerID != "cus_123" {
		t.Errorf("unexpected customer id %s", captured.CustomerID)
	}
	if len(captured.Roles) != 2 || captured.Roles[0] != "customer" || captured.Roles[1] != "staff" {
		t.Errorf("unexpected roles %v", captured.Roles)
	}
}

func TestRequireIdentity_MissingHeader(t *testing.T) {
	middleware := NewIdentityMiddleware()

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	rr := httptest.NewRecorder()

	middleware.RequireIdentity()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireIdentity_InsufficientRole(t *testing.T) {
	middleware := NewIdentityMiddleware()

	req := httptest.NewRequest(http.MethodPost, "/v1/coupons", nil)
	req.Header.Set(defaultIdentityHeader, "cus_456")

	rr := httptest.NewRecorder()

	middleware.RequireIdentity(RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireIdentity_FallbackRole(t *testing.T) {
	middleware := NewIdentityMiddleware(WithFallbackRole(RoleCustomer))

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set(defaultIdentityHeader, "cus_789")

	rr := httptest.NewRecorder()

	middleware.RequireIdentity(RoleCustomer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if !identity.HasRole(RoleCustomer) {
			t.Errorf("expected fallback customer role, got %v", identity.Roles)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}
