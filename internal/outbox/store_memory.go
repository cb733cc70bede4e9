package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"authhub/internal/events"
)

// InMemoryStore keeps the outbox, audit trail and dead-letter table in
// process memory. Append order doubles as occurrence order, which keeps
// timelines stable when several events share a wall-clock instant.
type InMemoryStore struct {
	mu          sync.RWMutex
	nextRowID   int64
	events      []Event
	auditTrail  []AuditEntry
	deadLetters []DeadLetterEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextRowID: 1}
}

func (s *InMemoryStore) Append(_ context.Context, aggregateType string, aggregateID uuid.UUID, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.insertLocked(aggregateType, aggregateID, event); err != nil {
		return err
	}

	// EVT-016 is itself the audit record; it gets neither a trail row nor a
	// second shadow.
	if event.EventType == events.TypeAuditRecord {
		return nil
	}

	s.auditTrail = append(s.auditTrail, AuditEntry{
		ID:            int64(len(s.auditTrail) + 1),
		TenantID:      event.TenantID,
		EventID:       event.EventID,
		EventType:     event.EventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RecordedAt:    event.OccurredAt,
	})

	shadow := events.New(events.TypeAuditRecord, event.TenantID, event.CorrelationID, map[string]any{
		"action":        event.EventType,
		"sourceEventId": event.EventID.String(),
		"aggregateType": aggregateType,
		"aggregateId":   aggregateID.String(),
	})
	// The shadow keeps the source aggregate's id so audit rows can be
	// grouped by the aggregate they describe.
	_, err := s.insertLocked(events.AggregateAudit, aggregateID, shadow)
	return err
}

func (s *InMemoryStore) insertLocked(aggregateType string, aggregateID uuid.UUID, event events.Event) (*Event, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	row := Event{
		RowID:         s.nextRowID,
		EventID:       event.EventID,
		TenantID:      event.TenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     event.EventType,
		EventVersion:  event.EventVersion,
		CorrelationID: event.CorrelationID,
		Payload:       payload,
		OccurredAt:    event.OccurredAt,
	}
	s.nextRowID++
	s.events = append(s.events, row)
	return &s.events[len(s.events)-1], nil
}

func (s *InMemoryStore) FindTimeline(_ context.Context, tenantID uuid.UUID, aggregateType string, aggregateID uuid.UUID) ([]TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var timeline []TimelineEntry
	for _, row := range s.events {
		if row.TenantID == tenantID && row.AggregateType == aggregateType && row.AggregateID == aggregateID {
			timeline = append(timeline, TimelineEntry{
				EventType:  row.EventType,
				OccurredAt: row.OccurredAt,
				Payload:    append([]byte(nil), row.Payload...),
			})
		}
	}
	return timeline, nil
}

func (s *InMemoryStore) FindPending(_ context.Context, limit int, now time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []Event
	for _, row := range s.events {
		if len(pending) >= limit {
			break
		}
		if !row.Pending() {
			continue
		}
		if row.NextAttemptAt != nil && row.NextAttemptAt.After(now) {
			continue
		}
		pending = append(pending, row)
	}
	return pending, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, rowID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.findLocked(rowID)
	if row == nil {
		return fmt.Errorf("outbox row %d not found", rowID)
	}
	published := at
	row.PublishedAt = &published
	row.NextAttemptAt = nil
	return nil
}

func (s *InMemoryStore) MarkFailure(_ context.Context, event Event, reason string, maxAttempts int, nextAttemptAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.findLocked(event.RowID)
	if row == nil {
		return false, fmt.Errorf("outbox row %d not found", event.RowID)
	}

	row.PublishAttempts++
	row.LastError = &reason
	if row.PublishAttempts >= maxAttempts {
		now := time.Now().UTC()
		row.DeadLetterAt = &now
		row.NextAttemptAt = nil
		s.deadLetters = append(s.deadLetters, DeadLetterEntry{
			OutboxRowID:   row.RowID,
			EventID:       row.EventID,
			TenantID:      row.TenantID,
			EventType:     row.EventType,
			Payload:       append([]byte(nil), row.Payload...),
			FailureReason: reason,
			FailedAt:      now,
		})
		return true, nil
	}
	next := nextAttemptAt
	row.NextAttemptAt = &next
	return false, nil
}

func (s *InMemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats Stats
	for _, row := range s.events {
		switch {
		case row.PublishedAt != nil:
			stats.Published++
		case row.DeadLetterAt != nil:
			stats.DeadLetter++
		default:
			stats.Pending++
		}
	}
	return stats, nil
}

func (s *InMemoryStore) FindDeadLetters(_ context.Context, tenantID uuid.UUID, limit int) ([]DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []DeadLetterEntry
	for _, entry := range s.deadLetters {
		if len(entries) >= limit {
			break
		}
		if entry.TenantID == tenantID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *InMemoryStore) RequeueDeadLetters(_ context.Context, tenantID uuid.UUID, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	requeued := 0
	remaining := s.deadLetters[:0]
	for _, entry := range s.deadLetters {
		if requeued >= limit || entry.TenantID != tenantID {
			remaining = append(remaining, entry)
			continue
		}
		if row := s.findLocked(entry.OutboxRowID); row != nil {
			row.DeadLetterAt = nil
			row.NextAttemptAt = nil
			row.PublishAttempts = 0
			row.LastError = nil
		}
		requeued++
	}
	s.deadLetters = remaining
	return requeued, nil
}

func (s *InMemoryStore) findLocked(rowID int64) *Event {
	for i := range s.events {
		if s.events[i].RowID == rowID {
			return &s.events[i]
		}
	}
	return nil
}

// AuditTrail returns a copy of the audit trail; used by tests and the status
// surface.
func (s *InMemoryStore) AuditTrail() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEntry(nil), s.auditTrail...)
}
