package dispatch

import (
	"context"

	"github.com/google/uuid"
)

// Store persists dispatch rows. Update replaces the mutable fields of the row
// identified by (tenant, id) as one snapshot.
type Store interface {
	Insert(ctx context.Context, d OperatorDispatch) error
	Update(ctx context.Context, d OperatorDispatch) error
	// FindLatestByAuthorization returns the newest dispatch row by creation
	// time for the authorization, or nil when none exists.
	FindLatestByAuthorization(ctx context.Context, tenantID, authorizationID uuid.UUID) (*OperatorDispatch, error)
}
