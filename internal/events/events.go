// Package events defines the immutable domain events recorded in the outbox.
// Events are append-only values; nothing mutates them after creation.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event type codes. The numeric catalogue is part of the published contract
// consumed by downstream systems; do not renumber.
const (
	TypeDraftCreated        = "EVT-001"
	TypeValidated           = "EVT-002"
	TypeGuideGenerated      = "EVT-003"
	TypeGuideInvalid        = "EVT-004"
	TypeDispatchRequested   = "EVT-005"
	TypeDispatchSent        = "EVT-006"
	TypeAckReceived         = "EVT-007"
	TypePollObserved        = "EVT-008"
	TypeApproved            = "EVT-009"
	TypeDenied              = "EVT-010"
	TypeCancelled           = "EVT-011"
	TypePollRetryScheduled  = "EVT-012"
	TypeTechnicalError      = "EVT-013"
	TypeDispatchDeadLetter  = "EVT-014"
	TypeIdempotencyConflict = "EVT-015"
	TypeAuditRecord         = "EVT-016"
)

// Aggregate types stamped on outbox rows.
const (
	AggregateAuthorization = "AUTHORIZATION"
	AggregateIdempotency   = "IDEMPOTENCY"
	AggregateAudit         = "AUDIT"
)

// Event is a versioned, tenant- and correlation-stamped domain event.
type Event struct {
	EventID       uuid.UUID
	EventType     string
	EventVersion  int
	OccurredAt    time.Time
	TenantID      uuid.UUID
	CorrelationID uuid.UUID
	Payload       map[string]any
}

// New builds a version-1 event stamped with the current time.
func New(eventType string, tenantID, correlationID uuid.UUID, payload map[string]any) Event {
	return Event{
		EventID:       uuid.New(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		TenantID:      tenantID,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}
