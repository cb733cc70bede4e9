package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"authhub/internal/events"
	dErrors "authhub/pkg/domain-errors"
)

// TimelineItem is one recorded event in an authorization's history.
type TimelineItem struct {
	At        time.Time       `json:"at"`
	EventType string          `json:"eventType"`
	Detail    json.RawMessage `json:"detail"`
}

// DispatchSnapshot is the read-model view of the latest dispatch.
type DispatchSnapshot struct {
	DispatchID       uuid.UUID `json:"dispatchId"`
	DispatchType     string    `json:"dispatchType"`
	TechnicalStatus  string    `json:"technicalStatus"`
	AttemptCount     int       `json:"attemptCount"`
	ExternalProtocol *string   `json:"externalProtocol,omitempty"`
}

// StatusView is the full read model for one authorization: current status,
// its event timeline, and the latest dispatch if any.
type StatusView struct {
	AuthorizationID uuid.UUID         `json:"authorizationId"`
	Status          string            `json:"status"`
	Timeline        []TimelineItem    `json:"timeline"`
	Dispatch        *DispatchSnapshot `json:"dispatch,omitempty"`
}

// OperatorProtocol returns the external protocol of the latest dispatch, or
// nil when no dispatch exists or the operator issued no protocol.
func (s *Service) OperatorProtocol(ctx context.Context, tenantID, authorizationID uuid.UUID) (*string, error) {
	latest, err := s.dispatches.FindLatestByAuthorization(ctx, tenantID, authorizationID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	return latest.ExternalProtocol, nil
}

// GetStatus assembles the status view for an authorization.
func (s *Service) GetStatus(ctx context.Context, tenantID, authorizationID uuid.UUID) (StatusView, error) {
	ctx, span := s.tracer.Start(ctx, "authorization.get_status")
	defer span.End()

	auth, err := s.auths.FindByID(ctx, tenantID, authorizationID)
	if err != nil {
		return StatusView{}, err
	}
	if auth == nil {
		return StatusView{}, dErrors.New(dErrors.CodeNotFound, "authorization not found")
	}

	entries, err := s.outbox.FindTimeline(ctx, tenantID, events.AggregateAuthorization, authorizationID)
	if err != nil {
		return StatusView{}, err
	}
	timeline := make([]TimelineItem, 0, len(entries))
	for _, entry := range entries {
		timeline = append(timeline, TimelineItem{
			At:        entry.OccurredAt,
			EventType: entry.EventType,
			Detail:    json.RawMessage(entry.Payload),
		})
	}

	view := StatusView{
		AuthorizationID: auth.ID,
		Status:          string(auth.Status),
		Timeline:        timeline,
	}

	latest, err := s.dispatches.FindLatestByAuthorization(ctx, tenantID, authorizationID)
	if err != nil {
		return StatusView{}, err
	}
	if latest != nil {
		view.Dispatch = &DispatchSnapshot{
			DispatchID:       latest.ID,
			DispatchType:     string(latest.Type),
			TechnicalStatus:  string(latest.TechnicalStatus),
			AttemptCount:     latest.AttemptCount,
			ExternalProtocol: latest.ExternalProtocol,
		}
	}
	return view, nil
}
