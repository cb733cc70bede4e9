//go:build integration

package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"authhub/internal/events"
	"authhub/internal/outbox"
	"authhub/internal/platform/postgres"
	txcontext "authhub/internal/platform/tx"
	"authhub/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *outbox.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(postgres.EnsureSchema(context.Background(), s.postgres.DB))
	s.store = outbox.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "outbox_events", "audit_trail", "outbox_dead_letters")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) appendEvent(eventType string, payload map[string]any) (events.Event, uuid.UUID) {
	event := events.New(eventType, uuid.New(), uuid.New(), payload)
	aggregateID := uuid.New()
	err := s.store.Append(context.Background(), events.AggregateAuthorization, aggregateID, event)
	s.Require().NoError(err)
	return event, aggregateID
}

func (s *PostgresStoreSuite) TestAppendWritesEventAuditAndShadow() {
	ctx := context.Background()
	event, aggregateID := s.appendEvent(events.TypeDraftCreated, map[string]any{"patientId": "P-1"})

	pending, err := s.store.FindPending(ctx, 10, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(events.TypeDraftCreated, pending[0].EventType)
	s.Equal(aggregateID, pending[0].AggregateID)
	s.Equal(events.TypeAuditRecord, pending[1].EventType)
	s.Equal(events.AggregateAudit, pending[1].AggregateType)
	s.Equal(aggregateID, pending[1].AggregateID)
	s.JSONEq(`{
		"action": "EVT-001",
		"sourceEventId": "`+event.EventID.String()+`",
		"aggregateType": "AUTHORIZATION",
		"aggregateId": "`+aggregateID.String()+`"
	}`, string(pending[1].Payload))

	var auditRows int
	err = s.postgres.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_trail WHERE event_id = $1", event.EventID).Scan(&auditRows)
	s.Require().NoError(err)
	s.Equal(1, auditRows)
}

func (s *PostgresStoreSuite) TestAppendAuditRecordHasNoShadow() {
	ctx := context.Background()
	s.appendEvent(events.TypeAuditRecord, map[string]any{"action": "DEAD_LETTER_REQUEUE"})

	pending, err := s.store.FindPending(ctx, 10, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(events.TypeAuditRecord, pending[0].EventType)

	var auditRows int
	err = s.postgres.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_trail").Scan(&auditRows)
	s.Require().NoError(err)
	s.Zero(auditRows)
}

func (s *PostgresStoreSuite) TestFindTimelineOrdersByOccurrence() {
	ctx := context.Background()
	tenantID := uuid.New()
	correlationID := uuid.New()
	aggregateID := uuid.New()

	base := time.Now().UTC().Add(-time.Minute)
	for i, eventType := range []string{events.TypeDraftCreated, events.TypeValidated, events.TypeGuideGenerated} {
		event := events.New(eventType, tenantID, correlationID, map[string]any{"seq": i})
		event.OccurredAt = base.Add(time.Duration(i) * time.Second)
		err := s.store.Append(ctx, events.AggregateAuthorization, aggregateID, event)
		s.Require().NoError(err)
	}
	// Another aggregate must not leak into the timeline.
	other := events.New(events.TypeDraftCreated, tenantID, correlationID, nil)
	s.Require().NoError(s.store.Append(ctx, events.AggregateAuthorization, uuid.New(), other))

	timeline, err := s.store.FindTimeline(ctx, tenantID, events.AggregateAuthorization, aggregateID)
	s.Require().NoError(err)
	s.Require().Len(timeline, 3)
	s.Equal(events.TypeDraftCreated, timeline[0].EventType)
	s.Equal(events.TypeValidated, timeline[1].EventType)
	s.Equal(events.TypeGuideGenerated, timeline[2].EventType)
}

func (s *PostgresStoreSuite) TestMarkPublished() {
	ctx := context.Background()
	s.appendEvent(events.TypeAuditRecord, nil)

	pending, err := s.store.FindPending(ctx, 10, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	err = s.store.MarkPublished(ctx, pending[0].RowID, time.Now().UTC())
	s.Require().NoError(err)

	pending, err = s.store.FindPending(ctx, 10, time.Now().UTC())
	s.Require().NoError(err)
	s.Empty(pending)

	stats, err := s.store.Stats(ctx)
	s.Require().NoError(err)
	s.Equal(outbox.Stats{Published: 1}, stats)
}

func (s *PostgresStoreSuite) TestMarkFailureSchedulesRetry() {
	ctx := context.Background()
	s.appendEvent(events.TypeAuditRecord, nil)

	now := time.Now().UTC()
	pending, err := s.store.FindPending(ctx, 10, now)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	retryAt := now.Add(30 * time.Second)
	moved, err := s.store.MarkFailure(ctx, pending[0], "broker unavailable", 5, retryAt)
	s.Require().NoError(err)
	s.False(moved)

	// Not due yet.
	pending, err = s.store.FindPending(ctx, 10, now)
	s.Require().NoError(err)
	s.Empty(pending)

	// Due once the retry time passes.
	pending, err = s.store.FindPending(ctx, 10, retryAt.Add(time.Second))
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(1, pending[0].PublishAttempts)
	s.Require().NotNil(pending[0].LastError)
	s.Equal("broker unavailable", *pending[0].LastError)
}

func (s *PostgresStoreSuite) TestMarkFailureDeadLettersAtBudget() {
	ctx := context.Background()
	event, _ := s.appendEvent(events.TypeAuditRecord, nil)

	now := time.Now().UTC()
	pending, err := s.store.FindPending(ctx, 10, now)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	moved, err := s.store.MarkFailure(ctx, pending[0], "broker unavailable", 1, now)
	s.Require().NoError(err)
	s.True(moved)

	pending, err = s.store.FindPending(ctx, 10, now.Add(time.Hour))
	s.Require().NoError(err)
	s.Empty(pending)

	entries, err := s.store.FindDeadLetters(ctx, event.TenantID, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(event.EventID, entries[0].EventID)
	s.Equal("broker unavailable", entries[0].FailureReason)

	stats, err := s.store.Stats(ctx)
	s.Require().NoError(err)
	s.Equal(outbox.Stats{DeadLetter: 1}, stats)
}

func (s *PostgresStoreSuite) TestRequeueDeadLetters() {
	ctx := context.Background()
	event, _ := s.appendEvent(events.TypeAuditRecord, nil)

	now := time.Now().UTC()
	pending, err := s.store.FindPending(ctx, 10, now)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	moved, err := s.store.MarkFailure(ctx, pending[0], "broker unavailable", 1, now)
	s.Require().NoError(err)
	s.True(moved)

	requeued, err := s.store.RequeueDeadLetters(ctx, event.TenantID, 10)
	s.Require().NoError(err)
	s.Equal(1, requeued)

	pending, err = s.store.FindPending(ctx, 10, now.Add(time.Second))
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(0, pending[0].PublishAttempts)
	s.Nil(pending[0].NextAttemptAt)

	entries, err := s.store.FindDeadLetters(ctx, event.TenantID, 10)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *PostgresStoreSuite) TestRequeueDeadLettersScopedToTenant() {
	ctx := context.Background()
	event, _ := s.appendEvent(events.TypeAuditRecord, nil)

	now := time.Now().UTC()
	pending, err := s.store.FindPending(ctx, 10, now)
	s.Require().NoError(err)
	moved, err := s.store.MarkFailure(ctx, pending[0], "broker unavailable", 1, now)
	s.Require().NoError(err)
	s.True(moved)

	requeued, err := s.store.RequeueDeadLetters(ctx, uuid.New(), 10)
	s.Require().NoError(err)
	s.Zero(requeued)

	entries, err := s.store.FindDeadLetters(ctx, event.TenantID, 10)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *PostgresStoreSuite) TestAppendRollsBackWithTransaction() {
	ctx := context.Background()
	runner := txcontext.NewRunner(s.postgres.DB)

	sentinel := errSentinel("downstream failed")
	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		event := events.New(events.TypeDraftCreated, uuid.New(), uuid.New(), nil)
		if err := s.store.Append(ctx, events.AggregateAuthorization, uuid.New(), event); err != nil {
			return err
		}
		return sentinel
	})
	s.Require().ErrorIs(err, sentinel)

	stats, err := s.store.Stats(ctx)
	s.Require().NoError(err)
	s.Equal(outbox.Stats{}, stats)
}

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
