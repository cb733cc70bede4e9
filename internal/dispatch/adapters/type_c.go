package adapters

import (
	"context"

	"authhub/internal/dispatch"
)

// TypeC models fire-and-forget operators: the dispatch is marked SENT with no
// external reference and is never polled.
type TypeC struct{}

func NewTypeC() *TypeC { return &TypeC{} }

func (c *TypeC) Type() dispatch.Type { return dispatch.TypeC }

func (c *TypeC) Send(_ context.Context, _ dispatch.OperatorDispatch) (SendResult, error) {
	return SendResult{TechnicalStatus: dispatch.StatusSent}, nil
}
