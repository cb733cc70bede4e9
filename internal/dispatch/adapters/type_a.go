package adapters

import (
	"context"

	"github.com/google/uuid"

	"authhub/internal/dispatch"
)

// TypeA models operators that acknowledge synchronously: send returns an
// operator protocol reference immediately and no polling is required.
type TypeA struct{}

func NewTypeA() *TypeA { return &TypeA{} }

func (a *TypeA) Type() dispatch.Type { return dispatch.TypeA }

func (a *TypeA) Send(_ context.Context, _ dispatch.OperatorDispatch) (SendResult, error) {
	proto := "A-" + uuid.New().String()[:8]
	return SendResult{
		TechnicalStatus:  dispatch.StatusAckReceived,
		ExternalProtocol: &proto,
	}, nil
}

// Poll exists for completeness; TYPE_A dispatches resolve at send time, so a
// poll only re-reports the acknowledged reference.
func (a *TypeA) Poll(_ context.Context, d dispatch.OperatorDispatch) (PollObservation, error) {
	return PollObservation{
		Status:            ExternalApproved,
		OperatorReference: d.ExternalProtocol,
	}, nil
}
