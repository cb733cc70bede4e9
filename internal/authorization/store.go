package authorization

import (
	"context"

	"github.com/google/uuid"
)

// Store persists authorization snapshots. UpdateStatus replaces the whole row
// identified by (tenant, id); partial field mutation is not part of the
// contract.
type Store interface {
	Insert(ctx context.Context, auth Authorization) error
	UpdateStatus(ctx context.Context, auth Authorization) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Authorization, error)
}
