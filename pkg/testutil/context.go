package testutil

import (
	"net/http"

	"github.com/google/uuid"

	"authhub/internal/platform/middleware"
)

// WithTenant stamps tenant and correlation identifiers onto the request
// context, simulating the tenant middleware for handler-level tests.
func WithTenant(req *http.Request, tenantID, correlationID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithTenant(req.Context(), tenantID, correlationID))
}

// WithTenantHeaders sets the tenant and correlation headers the middleware
// chain resolves, for tests that run the full router.
func WithTenantHeaders(req *http.Request, tenantID, correlationID uuid.UUID) *http.Request {
	req.Header.Set("X-Tenant-Id", tenantID.String())
	req.Header.Set("X-Correlation-Id", correlationID.String())
	return req
}
