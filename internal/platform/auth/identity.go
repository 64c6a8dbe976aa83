package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopforge/fulfillment/internal/platform/requestctx"
)

// Role constants used throughout the API when checking authorisation boundaries.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

const (
	defaultIdentityHeader = "X-Customer-ID"
	defaultRolesHeader    = "X-Customer-Roles"
)

// Identity captures the authenticated principal forwarded by the API gateway.
// The gateway terminates end-user authentication; this service trusts the
// headers it injects.
type Identity struct {
	CustomerID string
	Roles      []string
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type contextKey string

const identityContextKey contextKey = "github.com/shopforge/fulfillment/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// IdentityMiddleware extracts the gateway-injected identity headers and enforces
// their presence, optionally restricting access to the given roles.
type IdentityMiddleware struct {
	identityHeader string
	rolesHeader    string
	fallbackRole   string
}

// IdentityOption customises IdentityMiddleware behaviour.
type IdentityOption func(*IdentityMiddleware)

// WithIdentityHeader overrides the header carrying the customer ID.
func WithIdentityHeader(name string) IdentityOption {
	return func(m *IdentityMiddleware) {
		name = strings.TrimSpace(name)
		if name != "" {
			m.identityHeader = name
		}
	}
}

// WithRolesHeader overrides the header carrying the comma separated role list.
func WithRolesHeader(name string) IdentityOption {
	return func(m *IdentityMiddleware) {
		name = strings.TrimSpace(name)
		if name != "" {
			m.rolesHeader = name
		}
	}
}

// WithFallbackRole sets the role applied when the gateway omits the roles header.
func WithFallbackRole(role string) IdentityOption {
	return func(m *IdentityMiddleware) {
		role = normaliseRole(role)
		if role != "" {
			m.fallbackRole = role
		}
	}
}

// NewIdentityMiddleware constructs the middleware with optional overrides.
func NewIdentityMiddleware(opts ...IdentityOption) *IdentityMiddleware {
	m := &IdentityMiddleware{
		identityHeader: defaultIdentityHeader,
		rolesHeader:    defaultRolesHeader,
		fallbackRole:   RoleCustomer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// RequireIdentity rejects requests without a gateway identity and ensures allowed roles.
func (m *IdentityMiddleware) RequireIdentity(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			customerID := strings.TrimSpace(r.Header.Get(m.identityHeader))
			if customerID == "" {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "identity header missing")
				return
			}

			roles := parseRoles(r.Header.Get(m.rolesHeader))
			if len(roles) == 0 && m.fallbackRole != "" {
				roles = []string{m.fallbackRole}
			}

			if len(allowed) > 0 && !hasAllowedRole(roles, allowed) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			identity := &Identity{CustomerID: customerID, Roles: roles}
			ctx := WithIdentity(r.Context(), identity)
			ctx = requestctx.WithOwner(ctx, customerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAllowedRole(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func parseRoles(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		role := normaliseRole(part)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
