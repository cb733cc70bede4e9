// Package adapters contains the operator integration strategies, one per
// dispatch classification. Adapters are synchronous and bounded by the
// caller's context;
// failures are returned as errors, never panics.
package adapters

import (
	"context"
	"fmt"

	"authhub/internal/dispatch"
)

// ExternalStatus is the operator-side resolution observed by a poll.
type ExternalStatus string

const (
	ExternalPending  ExternalStatus = "PENDING"
	ExternalApproved ExternalStatus = "APPROVED"
	ExternalDenied   ExternalStatus = "DENIED"
)

// SendResult reports the outcome of an initial transmission.
type SendResult struct {
	TechnicalStatus  dispatch.TechnicalStatus
	ExternalProtocol *string
}

// PollObservation reports one status inquiry against the operator.
type PollObservation struct {
	Status            ExternalStatus
	OperatorReference *string
	DenialReasonCode  *string
	DenialReason      *string
}

// Adapter transmits a dispatch to its operator.
type Adapter interface {
	Type() dispatch.Type
	Send(ctx context.Context, d dispatch.OperatorDispatch) (SendResult, error)
}

// Poller is implemented by adapters whose operators resolve asynchronously.
type Poller interface {
	Poll(ctx context.Context, d dispatch.OperatorDispatch) (PollObservation, error)
}

// Registry maps classifications to adapter instances. It is built once at
// startup; a missing entry is a configuration error surfaced at first use.
type Registry struct {
	byType map[dispatch.Type]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	byType := make(map[dispatch.Type]Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := byType[a.Type()]; dup {
			return nil, fmt.Errorf("duplicate adapter for %s", a.Type())
		}
		byType[a.Type()] = a
	}
	return &Registry{byType: byType}, nil
}

// Lookup returns the adapter registered for the classification, if any.
func (r *Registry) Lookup(t dispatch.Type) (Adapter, bool) {
	a, ok := r.byType[t]
	return a, ok
}
