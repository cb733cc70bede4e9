package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authhub/internal/authorization"
	"authhub/internal/dispatch"
	"authhub/internal/dispatch/adapters"
	"authhub/internal/platform/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, reg *adapters.Registry, opts ...Option) *Engine {
	t.Helper()
	eng, err := New(NewClassifier(DefaultTypeACodes(), DefaultTypeBCodes()), reg, DefaultConfig(), testLogger(), opts...)
	require.NoError(t, err)
	return eng
}

func newAuth(operator string) authorization.Authorization {
	now := time.Now().UTC()
	return authorization.Authorization{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		PatientID:      "patient-001",
		OperatorCode:   operator,
		ProcedureCodes: []string{"10101012"},
		Status:         authorization.StatusValidated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func fullRegistry(t *testing.T, opts ...adapters.TypeBOption) *adapters.Registry {
	t.Helper()
	reg, err := adapters.NewRegistry(adapters.NewTypeA(), adapters.NewTypeB(opts...), adapters.NewTypeC())
	require.NoError(t, err)
	return reg
}

func TestNewValidation(t *testing.T) {
	reg := fullRegistry(t)
	classifier := NewClassifier(DefaultTypeACodes(), DefaultTypeBCodes())

	_, err := New(nil, reg, DefaultConfig(), testLogger())
	assert.Error(t, err)

	_, err = New(classifier, nil, DefaultConfig(), testLogger())
	assert.Error(t, err)

	_, err = New(classifier, reg, Config{MaxPollAttempts: 0, BackoffDelays: DefaultConfig().BackoffDelays}, testLogger())
	assert.Error(t, err)

	_, err = New(classifier, reg, Config{MaxPollAttempts: 5}, testLogger())
	assert.Error(t, err)
}

func TestRequestDispatchTypeA(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	eng := newTestEngine(t, fullRegistry(t))
	auth := newAuth("BRADESCO")

	d, err := eng.RequestDispatch(context.Background(), store, auth)
	require.NoError(t, err)

	assert.Equal(t, dispatch.TypeA, d.Type)
	assert.Equal(t, dispatch.StatusAckReceived, d.TechnicalStatus)
	assert.Equal(t, 1, d.AttemptCount)
	require.NotNil(t, d.ExternalProtocol)
	assert.NotEmpty(t, *d.ExternalProtocol)
	assert.NotNil(t, d.SentAt)
	assert.NotNil(t, d.AckAt)

	stored, err := store.FindLatestByAuthorization(context.Background(), auth.TenantID, auth.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, d.ID, stored.ID)
	assert.Equal(t, dispatch.StatusAckReceived, stored.TechnicalStatus)
}

func TestRequestDispatchTypeB(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	eng := newTestEngine(t, fullRegistry(t))

	d, err := eng.RequestDispatch(context.Background(), store, newAuth("UNIMED_ANAPOLIS"))
	require.NoError(t, err)

	assert.Equal(t, dispatch.TypeB, d.Type)
	assert.Equal(t, dispatch.StatusPolling, d.TechnicalStatus)
	require.NotNil(t, d.ExternalProtocol)
	assert.Nil(t, d.AckAt)
}

func TestRequestDispatchTypeC(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	eng := newTestEngine(t, fullRegistry(t))

	d, err := eng.RequestDispatch(context.Background(), store, newAuth("OPERADORA_REGIONAL"))
	require.NoError(t, err)

	assert.Equal(t, dispatch.TypeC, d.Type)
	assert.Equal(t, dispatch.StatusSent, d.TechnicalStatus)
	assert.Nil(t, d.ExternalProtocol)
}

func TestRequestDispatchMissingAdapter(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	reg, err := adapters.NewRegistry(adapters.NewTypeB())
	require.NoError(t, err)
	eng := newTestEngine(t, reg)

	d, err := eng.RequestDispatch(context.Background(), store, newAuth("BRADESCO"))
	require.NoError(t, err)

	assert.Equal(t, dispatch.StatusTechnicalError, d.TechnicalStatus)
	require.NotNil(t, d.LastErrorCode)
	assert.Equal(t, ErrCodeAdapterNotFound, *d.LastErrorCode)
}

func TestRequestDispatchRecordsMetrics(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	m := metrics.NewWith(prometheus.NewRegistry())
	eng := newTestEngine(t, fullRegistry(t), WithMetrics(m))

	_, err := eng.RequestDispatch(context.Background(), store, newAuth("BRADESCO"))
	require.NoError(t, err)

	sent := m.DispatchesSent.WithLabelValues(string(dispatch.TypeA), string(dispatch.StatusAckReceived))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(sent))

	// A send without a registered adapter counts under its error status.
	partial, err := adapters.NewRegistry(adapters.NewTypeB())
	require.NoError(t, err)
	eng = newTestEngine(t, partial, WithMetrics(m))

	_, err = eng.RequestDispatch(context.Background(), store, newAuth("BRADESCO"))
	require.NoError(t, err)

	failed := m.DispatchesSent.WithLabelValues(string(dispatch.TypeA), string(dispatch.StatusTechnicalError))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(failed))
}

func TestPollDispatchApproved(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	eng := newTestEngine(t, fullRegistry(t))
	ctx := context.Background()

	d, err := eng.RequestDispatch(ctx, store, newAuth("UNIMED_ANAPOLIS"))
	require.NoError(t, err)

	result, err := eng.PollDispatch(ctx, store, d)
	require.NoError(t, err)
	require.NotNil(t, result.Observation)
	assert.Nil(t, result.Failure)
	assert.Equal(t, adapters.ExternalApproved, result.Observation.Status)
	assert.Equal(t, dispatch.StatusCompleted, result.Dispatch.TechnicalStatus)
	assert.NotNil(t, result.Dispatch.CompletedAt)
}

func TestPollDispatchDenied(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	eng := newTestEngine(t, fullRegistry(t))
	ctx := context.Background()

	d, err := eng.RequestDispatch(ctx, store, newAuth("ALLIANZ_SAUDE"))
	require.NoError(t, err)

	result, err := eng.PollDispatch(ctx, store, d)
	require.NoError(t, err)
	require.NotNil(t, result.Observation)
	assert.Equal(t, adapters.ExternalDenied, result.Observation.Status)
	require.NotNil(t, result.Observation.DenialReasonCode)
	assert.Equal(t, "COVERAGE_EXCLUSION", *result.Observation.DenialReasonCode)
	assert.Equal(t, dispatch.StatusCompleted, result.Dispatch.TechnicalStatus)
}

func TestPollDispatchPending(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	eng := newTestEngine(t, fullRegistry(t))
	ctx := context.Background()

	d, err := eng.RequestDispatch(ctx, store, newAuth("MEDISERVICE"))
	require.NoError(t, err)

	result, err := eng.PollDispatch(ctx, store, d)
	require.NoError(t, err)
	require.NotNil(t, result.Observation)
	assert.Equal(t, adapters.ExternalPending, result.Observation.Status)
	assert.Equal(t, dispatch.StatusPolling, result.Dispatch.TechnicalStatus)
	assert.Nil(t, result.Dispatch.CompletedAt)
}

func TestPollDispatchFailureSchedulesBackoff(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eng := newTestEngine(t,
		fullRegistry(t, adapters.WithPollFailure(errors.New("operator timeout"))),
		WithClock(func() time.Time { return base }),
	)
	ctx := context.Background()

	d, err := eng.RequestDispatch(ctx, store, newAuth("UNIMED_ANAPOLIS"))
	require.NoError(t, err)
	require.Equal(t, 1, d.AttemptCount)

	delays := DefaultConfig().BackoffDelays

	// Attempts 2 through 4 stay pollable with the table delay; attempt 5
	// exhausts the budget and dead-letters the lineage.
	for i := 0; i < 3; i++ {
		result, err := eng.PollDispatch(ctx, store, d)
		require.NoError(t, err)
		require.NotNil(t, result.Failure)
		assert.Nil(t, result.Observation)
		assert.False(t, result.Failure.MovedToDeadLetter)
		assert.Equal(t, ErrCodePollError, result.Failure.ErrorCode)
		require.NotNil(t, result.Failure.NextAttemptAt)
		assert.Equal(t, base.Add(delays[result.Dispatch.AttemptCount-1]), *result.Failure.NextAttemptAt)
		assert.Equal(t, dispatch.StatusPolling, result.Dispatch.TechnicalStatus)
		d = result.Dispatch
	}

	result, err := eng.PollDispatch(ctx, store, d)
	require.NoError(t, err)
	require.NotNil(t, result.Failure)
	assert.True(t, result.Failure.MovedToDeadLetter)
	assert.Nil(t, result.Failure.NextAttemptAt)
	assert.Equal(t, dispatch.StatusDLQ, result.Dispatch.TechnicalStatus)
	assert.Equal(t, 5, result.Dispatch.AttemptCount)

	stored, err := store.FindLatestByAuthorization(ctx, d.TenantID, d.AuthorizationID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusDLQ, stored.TechnicalStatus)
}

func TestPollDispatchWithoutPollingSupport(t *testing.T) {
	store := dispatch.NewInMemoryStore()
	eng := newTestEngine(t, fullRegistry(t))
	ctx := context.Background()

	d, err := eng.RequestDispatch(ctx, store, newAuth("OPERADORA_REGIONAL"))
	require.NoError(t, err)

	_, err = eng.PollDispatch(ctx, store, d)
	assert.Error(t, err)
}

func TestBackoffDelayClamped(t *testing.T) {
	eng := newTestEngine(t, fullRegistry(t))
	delays := DefaultConfig().BackoffDelays

	assert.Equal(t, delays[0], eng.backoffDelay(0))
	assert.Equal(t, delays[0], eng.backoffDelay(1))
	assert.Equal(t, delays[1], eng.backoffDelay(2))
	assert.Equal(t, delays[4], eng.backoffDelay(5))
	assert.Equal(t, delays[4], eng.backoffDelay(50))

	// Delays never shrink as attempts deepen.
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		next := eng.backoffDelay(attempt)
		assert.GreaterOrEqual(t, next, prev)
		prev = next
	}
}
