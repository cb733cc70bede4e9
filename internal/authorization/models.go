// Package authorization holds the prior-authorization aggregate and its
// stores. The aggregate is owned by the orchestrator service; stores only
// persist whole-row snapshots so a status change and its updatedAt are never
// observed independently.
package authorization

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an authorization request.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusValidated       Status = "VALIDATED"
	StatusDispatched      Status = "DISPATCHED"
	StatusPendingOperator Status = "PENDING_OPERATOR"
	StatusAuthorized      Status = "AUTHORIZED"
	StatusDenied          Status = "DENIED"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
	StatusFailedTechnical Status = "FAILED_TECHNICAL"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAuthorized, StatusDenied, StatusCancelled, StatusExpired, StatusFailedTechnical:
		return true
	}
	return false
}

// Authorization is one tenant-scoped prior-authorization request.
type Authorization struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	PatientID             string
	OperatorCode          string
	ProcedureCodes        []string
	ClinicalJustification string
	Status                Status
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// WithStatus returns a new snapshot carrying the transition; the receiver is
// left untouched.
func (a Authorization) WithStatus(status Status, at time.Time) Authorization {
	next := a
	next.ProcedureCodes = append([]string(nil), a.ProcedureCodes...)
	next.Status = status
	next.UpdatedAt = at
	return next
}
