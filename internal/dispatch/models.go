// Package dispatch holds the operator dispatch aggregate: one row per attempt
// lineage to transmit and track an authorization with an external operator.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Type buckets an operator by integration pattern.
type Type string

const (
	TypeA Type = "TYPE_A" // synchronous acknowledgment
	TypeB Type = "TYPE_B" // asynchronous polling
	TypeC Type = "TYPE_C" // fire-and-forget
)

// TechnicalStatus tracks the transmission lifecycle of a dispatch.
type TechnicalStatus string

const (
	StatusReady          TechnicalStatus = "READY"
	StatusSent           TechnicalStatus = "SENT"
	StatusAckReceived    TechnicalStatus = "ACK_RECEIVED"
	StatusPolling        TechnicalStatus = "POLLING"
	StatusCompleted      TechnicalStatus = "COMPLETED"
	StatusTechnicalError TechnicalStatus = "TECHNICAL_ERROR"
	StatusDLQ            TechnicalStatus = "DLQ"
)

// OperatorDispatch is one dispatch attempt sequence. DLQ is terminal for the
// lineage; the latest row by creation time is the authoritative dispatch for
// an authorization.
type OperatorDispatch struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	AuthorizationID  uuid.UUID
	OperatorCode     string
	Type             Type
	TechnicalStatus  TechnicalStatus
	AttemptCount     int
	ExternalProtocol *string
	LastErrorCode    *string
	LastErrorMessage *string
	NextAttemptAt    *time.Time
	SentAt           *time.Time
	AckAt            *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
