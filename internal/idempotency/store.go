// Package idempotency implements the ledger mapping (tenant, client key) to
// a request hash and, once the owning command resolves, to an authorization
// and response snapshot. The unique insert on (tenant, key) is the sole
// concurrency-control primitive for create commands.
package idempotency

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateKey signals the unique-violation on InsertPending. Callers must
// treat it as a race and retry the lookup path.
var ErrDuplicateKey = errors.New("idempotency key already inserted")

// ErrRecordNotFound is returned by Link when no pending row exists.
var ErrRecordNotFound = errors.New("idempotency record not found")

// Record is one ledger row. AuthorizationID stays nil while the command that
// owns the key is still executing.
type Record struct {
	TenantID        uuid.UUID
	Key             string
	RequestHash     string
	AuthorizationID *uuid.UUID
	ResponseSnapshot *string
}

// Resolved reports whether the owning command has finished.
func (r Record) Resolved() bool { return r.AuthorizationID != nil }

// Store is the ledger persistence contract.
type Store interface {
	Find(ctx context.Context, tenantID uuid.UUID, key string) (*Record, error)
	// InsertPending creates the row on first sight of a key and returns
	// ErrDuplicateKey when the (tenant, key) pair already exists.
	InsertPending(ctx context.Context, tenantID uuid.UUID, key, requestHash string) error
	// Link resolves a pending record exactly once.
	Link(ctx context.Context, tenantID uuid.UUID, key string, authorizationID uuid.UUID, responseSnapshot string) error
}
