package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/tenant"
)

// TenantResolver returns the handles serving a tenant.
type TenantResolver interface {
	Handles(ctx context.Context, tenantID string) (*tenant.Handles, error)
}

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	handlesKey  contextKey = "tenant_handles"
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", simplemedia.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// SessionMiddleware requires a valid JWT (verified by jwtauth.Verifier
// upstream) carrying a non-empty tenant claim.
func SessionMiddleware(claim string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				writeMessage(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			tenantID, _ := claims[claim].(string)
			if tenantID == "" {
				writeMessage(w, r, http.StatusForbidden, "session carries no tenant")
				return
			}
			ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaticTenantMiddleware serves every request as tenantID. For development
// setups without sessions.
func StaticTenantMiddleware(tenantID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantMiddleware resolves the session's tenant to its handles.
func TenantMiddleware(resolver TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, _ := r.Context().Value(tenantIDKey).(string)
			h, err := resolver.Handles(r.Context(), tenantID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), handlesKey, h)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandlesFromContext returns the handles installed by TenantMiddleware.
func HandlesFromContext(ctx context.Context) (*tenant.Handles, bool) {
	h, ok := ctx.Value(handlesKey).(*tenant.Handles)
	return h, ok
}

// TenantIDFromContext returns the tenant of the current session.
func TenantIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantIDKey).(string)
	return id
}

func handles(r *http.Request) *tenant.Handles {
	h, ok := HandlesFromContext(r.Context())
	if !ok {
		panic("api: tenant handles missing from request context")
	}
	return h
}
