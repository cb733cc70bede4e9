package adapters

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"authhub/internal/dispatch"
)

// TypeB models asynchronously-polled operators: send always returns
// "polling required" and the resolution is discovered by later polls.
// Options inject deterministic outcomes for exercising retry and backoff.
type TypeB struct {
	pollErr error
	denyAll bool
}

// TypeBOption configures a TypeB adapter.
type TypeBOption func(*TypeB)

// WithPollFailure makes every poll fail with err.
func WithPollFailure(err error) TypeBOption {
	return func(b *TypeB) { b.pollErr = err }
}

// WithDenyAll makes every poll resolve to a denial.
func WithDenyAll() TypeBOption {
	return func(b *TypeB) { b.denyAll = true }
}

func NewTypeB(opts ...TypeBOption) *TypeB {
	b := &TypeB{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *TypeB) Type() dispatch.Type { return dispatch.TypeB }

func (b *TypeB) Send(_ context.Context, _ dispatch.OperatorDispatch) (SendResult, error) {
	proto := "B-" + uuid.New().String()[:8]
	return SendResult{
		TechnicalStatus:  dispatch.StatusPolling,
		ExternalProtocol: &proto,
	}, nil
}

func (b *TypeB) Poll(_ context.Context, d dispatch.OperatorDispatch) (PollObservation, error) {
	if b.pollErr != nil {
		return PollObservation{}, b.pollErr
	}

	operator := normalizeForRules(d.OperatorCode)
	switch {
	case b.denyAll || strings.Contains(operator, "ALLIANZ"):
		code := "COVERAGE_EXCLUSION"
		reason := "Procedimento nao coberto pelo plano"
		return PollObservation{
			Status:            ExternalDenied,
			OperatorReference: d.ExternalProtocol,
			DenialReasonCode:  &code,
			DenialReason:      &reason,
		}, nil
	case strings.Contains(operator, "MEDISERVICE"):
		return PollObservation{
			Status:            ExternalPending,
			OperatorReference: d.ExternalProtocol,
		}, nil
	default:
		return PollObservation{
			Status:            ExternalApproved,
			OperatorReference: d.ExternalProtocol,
		}, nil
	}
}

func normalizeForRules(code string) string {
	upper := strings.ToUpper(strings.TrimSpace(code))
	var b strings.Builder
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
