package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKeyTenantID struct{}
type contextKeyCorrelationID struct{}

// Tenant resolves the caller's tenant from the X-Tenant-Id header and the
// request correlation from X-Correlation-Id (minted when absent). Requests
// without a valid tenant are rejected before reaching handlers.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := uuid.Parse(r.Header.Get("X-Tenant-Id"))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_tenant","error_description":"X-Tenant-Id header must be a valid UUID"}`))
			return
		}

		correlationID, err := uuid.Parse(r.Header.Get("X-Correlation-Id"))
		if err != nil {
			correlationID = uuid.New()
		}

		ctx := r.Context()
		ctx = context.WithValue(ctx, contextKeyTenantID{}, tenantID)
		ctx = context.WithValue(ctx, contextKeyCorrelationID{}, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantID retrieves the tenant from the context.
func GetTenantID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(contextKeyTenantID{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetCorrelationID retrieves the correlation ID from the context.
func GetCorrelationID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(contextKeyCorrelationID{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// WithTenant injects tenant and correlation identifiers into a context.
// Useful for service unit tests that don't run the full middleware chain.
func WithTenant(ctx context.Context, tenantID, correlationID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, contextKeyTenantID{}, tenantID)
	ctx = context.WithValue(ctx, contextKeyCorrelationID{}, correlationID)
	return ctx
}
