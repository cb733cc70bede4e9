package relay

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

	"authhub/internal/events"
	"authhub/internal/outbox"
	"authhub/internal/platform/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func appendEvent(t *testing.T, store *outbox.InMemoryStore, tenantID uuid.UUID, eventType string) events.Event {
	t.Helper()
	event := events.New(eventType, tenantID, uuid.New(), map[string]any{"k": "v"})
	require.NoError(t, store.Append(context.Background(), events.AggregateAudit, event.EventID, event))
	return event
}

func TestProcessPendingPublishes(t *testing.T) {
	store := outbox.NewInMemoryStore()
	tenantID := uuid.New()
	appendEvent(t, store, tenantID, events.TypeAuditRecord)
	appendEvent(t, store, tenantID, events.TypeAuditRecord)

	rel := New(store, NewLoggingPublisher(testLogger()), testLogger())

	result, err := rel.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 2, Published: 2}, result)

	stats, err := rel.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(0), stats.Pending)
}

func TestProcessPendingSchedulesRetryOnFailure(t *testing.T) {
	store := outbox.NewInMemoryStore()
	tenantID := uuid.New()
	appendEvent(t, store, tenantID, events.TypeAuditRecord)

	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	publisher := NewLoggingPublisher(testLogger(), WithFailingEventTypes(events.TypeAuditRecord))
	rel := New(store, publisher, testLogger(), WithClock(clock))

	result, err := rel.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, Failed: 1}, result)

	// The retry window has not elapsed; a second pass scans nothing.
	result, err = rel.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)

	// Past the first delay the event is due again.
	now = now.Add(DefaultPublishDelays()[0] + time.Second)
	result, err = rel.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, Failed: 1}, result)
}

func TestProcessPendingDeadLettersAfterBudget(t *testing.T) {
	store := outbox.NewInMemoryStore()
	tenantID := uuid.New()
	appendEvent(t, store, tenantID, events.TypeAuditRecord)

	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	publisher := NewLoggingPublisher(testLogger(), WithFailingEventTypes(events.TypeAuditRecord))
	delays := []time.Duration{time.Second, 2 * time.Second}
	rel := New(store, publisher, testLogger(), WithClock(clock), WithPublishDelays(delays))

	require.Equal(t, 3, rel.MaxAttempts())

	for attempt := 1; attempt <= 3; attempt++ {
		result, err := rel.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Scanned, "attempt %d", attempt)
		assert.Equal(t, 1, result.Failed, "attempt %d", attempt)
		if attempt == 3 {
			assert.Equal(t, 1, result.DeadLettered)
		} else {
			assert.Equal(t, 0, result.DeadLettered)
		}
		now = now.Add(time.Minute)
	}

	stats, err := rel.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DeadLetter)
	assert.Equal(t, int64(0), stats.Pending)

	letters, err := rel.DeadLetters(context.Background(), tenantID, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, events.TypeAuditRecord, letters[0].EventType)
}

func TestProcessPendingRespectsBatchSize(t *testing.T) {
	store := outbox.NewInMemoryStore()
	tenantID := uuid.New()
	for i := 0; i < 5; i++ {
		appendEvent(t, store, tenantID, events.TypeAuditRecord)
	}

	rel := New(store, NewLoggingPublisher(testLogger()), testLogger(), WithBatchSize(2))

	result, err := rel.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 2, Published: 2}, result)
}

func TestRequeueDeadLettersAppendsNotice(t *testing.T) {
	store := outbox.NewInMemoryStore()
	tenantID := uuid.New()
	appendEvent(t, store, tenantID, events.TypeAuditRecord)

	failing := NewLoggingPublisher(testLogger(), WithFailingEventTypes(events.TypeAuditRecord))
	rel := New(store, failing, testLogger(), WithPublishDelays([]time.Duration{time.Nanosecond}))

	// Burn the budget so the event dead-letters.
	for i := 0; i < rel.MaxAttempts(); i++ {
		time.Sleep(time.Millisecond)
		_, err := rel.ProcessPending(context.Background())
		require.NoError(t, err)
	}
	stats, err := rel.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.DeadLetter)

	correlationID := uuid.New()
	requeued, err := rel.RequeueDeadLetters(context.Background(), tenantID, correlationID, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	// The requeued event is pending again, plus the audit notice.
	stats, err = rel.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.DeadLetter)
	assert.Equal(t, int64(2), stats.Pending)
}

func TestRequeueDeadLettersNoopWithoutEntries(t *testing.T) {
	store := outbox.NewInMemoryStore()
	rel := New(store, NewLoggingPublisher(testLogger()), testLogger())

	requeued, err := rel.RequeueDeadLetters(context.Background(), uuid.New(), uuid.New(), 10)
	require.NoError(t, err)
	assert.Zero(t, requeued)

	stats, err := rel.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, clampLimit(0))
	assert.Equal(t, 1, clampLimit(-5))
	assert.Equal(t, 50, clampLimit(50))
	assert.Equal(t, 200, clampLimit(200))
	assert.Equal(t, 200, clampLimit(10_000))
}

// flakyPublisher fails a fixed number of calls before succeeding.
type flakyPublisher struct {
	failures int
	calls    int
}

func (p *flakyPublisher) Publish(context.Context, outbox.Event) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestProcessPendingPublishesAfterTransientFailures(t *testing.T) {
	store := outbox.NewInMemoryStore()
	tenantID := uuid.New()
	appendEvent(t, store, tenantID, events.TypeAuditRecord)

	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	publisher := &flakyPublisher{failures: 2}
	rel := New(store, publisher, testLogger(), WithClock(clock),
		WithPublishDelays([]time.Duration{time.Second, 2 * time.Second}))
	require.Equal(t, 3, rel.MaxAttempts())

	// Burn all but the last attempt on failures.
	for i := 0; i < 2; i++ {
		result, err := rel.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Result{Scanned: 1, Failed: 1}, result)
		now = now.Add(time.Minute)
	}

	// The final attempt inside the budget succeeds; the event ends
	// published, never dead-lettered.
	result, err := rel.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, Published: 1}, result)

	stats, err := rel.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Published)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.DeadLetter)
}

func TestProcessPendingRecordsMetrics(t *testing.T) {
	store := outbox.NewInMemoryStore()
	tenantID := uuid.New()
	appendEvent(t, store, tenantID, events.TypeAuditRecord)
	appendEvent(t, store, tenantID, events.TypeAuditRecord)

	m := metrics.NewWith(prometheus.NewRegistry())
	rel := New(store, NewLoggingPublisher(testLogger()), testLogger(), WithMetrics(m))

	_, err := rel.ProcessPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.OutboxPublished))
	assert.Zero(t, promtestutil.ToFloat64(m.OutboxPublishFailures))
	assert.Zero(t, promtestutil.ToFloat64(m.OutboxPending))
}

func TestProcessPendingRecordsFailureMetrics(t *testing.T) {
	store := outbox.NewInMemoryStore()
	tenantID := uuid.New()
	appendEvent(t, store, tenantID, events.TypeAuditRecord)

	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	failing := NewLoggingPublisher(testLogger(), WithFailingEventTypes(events.TypeAuditRecord))
	m := metrics.NewWith(prometheus.NewRegistry())
	rel := New(store, failing, testLogger(), WithClock(clock),
		WithPublishDelays([]time.Duration{time.Second}), WithMetrics(m))
	require.Equal(t, 2, rel.MaxAttempts())

	_, err := rel.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.OutboxPublishFailures))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.OutboxPending))

	now = now.Add(time.Minute)
	_, err = rel.ProcessPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.OutboxPublishFailures))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.OutboxDeadLettered))
	assert.Zero(t, promtestutil.ToFloat64(m.OutboxPublished))
	assert.Zero(t, promtestutil.ToFloat64(m.OutboxPending))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := outbox.NewInMemoryStore()
	rel := New(store, NewLoggingPublisher(testLogger()), testLogger(), WithTick(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rel.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
}
