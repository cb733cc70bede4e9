// Package outbox implements the transactional outbox: a durable append-only
// event log with per-event delivery state, a compliance audit trail shadowing
// every business append, and a dead-letter table for events that exhausted
// their delivery budget.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Event is one outbox row: an immutable domain event plus delivery
// bookkeeping. At any time exactly one of {PublishedAt set, DeadLetterAt set,
// both nil (pending)} holds.
type Event struct {
	RowID         int64
	EventID       uuid.UUID
	TenantID      uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	EventVersion  int
	CorrelationID uuid.UUID
	Payload       []byte
	OccurredAt    time.Time

	PublishAttempts int
	NextAttemptAt   *time.Time
	PublishedAt     *time.Time
	DeadLetterAt    *time.Time
	LastError       *string
}

// Pending reports whether the event still awaits delivery.
func (e Event) Pending() bool {
	return e.PublishedAt == nil && e.DeadLetterAt == nil
}

// AuditEntry is one row of the compliance audit trail. The trail never
// competes with business event delivery; it is written in the same atomic
// unit as the event it shadows.
type AuditEntry struct {
	ID            int64
	TenantID      uuid.UUID
	EventID       uuid.UUID
	EventType     string
	AggregateType string
	AggregateID   uuid.UUID
	RecordedAt    time.Time
}

// DeadLetterEntry is a denormalized copy of a dead-lettered event kept for
// inspection and requeue.
type DeadLetterEntry struct {
	OutboxRowID   int64
	EventID       uuid.UUID
	TenantID      uuid.UUID
	EventType     string
	Payload       []byte
	FailureReason string
	FailedAt      time.Time
}

// Stats are the outbox processing counters exposed operationally.
type Stats struct {
	Pending    int64
	Published  int64
	DeadLetter int64
}

// TimelineEntry is one event in an aggregate's ordered history.
type TimelineEntry struct {
	EventType  string
	OccurredAt time.Time
	Payload    []byte
}
