package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"authhub/internal/events"
	txcontext "authhub/internal/platform/tx"
)

// PostgresStore persists the outbox in three tables: outbox_events,
// audit_trail and outbox_dead_letters. Append joins the caller's transaction
// when ctx carries one, so event rows commit atomically with the state
// mutation that produced them.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, event events.Event) error {
	exec := s.execer(ctx)
	if err := s.insertEvent(ctx, exec, aggregateType, aggregateID, event); err != nil {
		return err
	}

	// EVT-016 is itself the audit record; it gets neither a trail row nor a
	// second shadow.
	if event.EventType == events.TypeAuditRecord {
		return nil
	}

	auditQuery := `
		INSERT INTO audit_trail (tenant_id, event_id, event_type, aggregate_type, aggregate_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := exec.ExecContext(ctx, auditQuery,
		event.TenantID, event.EventID, event.EventType, aggregateType, aggregateID, event.OccurredAt); err != nil {
		return fmt.Errorf("insert audit trail row: %w", err)
	}

	shadow := events.New(events.TypeAuditRecord, event.TenantID, event.CorrelationID, map[string]any{
		"action":        event.EventType,
		"sourceEventId": event.EventID.String(),
		"aggregateType": aggregateType,
		"aggregateId":   aggregateID.String(),
	})
	// The shadow keeps the source aggregate's id so audit rows can be
	// grouped by the aggregate they describe.
	return s.insertEvent(ctx, exec, events.AggregateAudit, aggregateID, shadow)
}

func (s *PostgresStore) insertEvent(ctx context.Context, exec txcontext.Executor, aggregateType string, aggregateID uuid.UUID, event events.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query := `
		INSERT INTO outbox_events (
			event_id, tenant_id, aggregate_type, aggregate_id,
			event_type, event_version, correlation_id, payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := exec.ExecContext(ctx, query,
		event.EventID, event.TenantID, aggregateType, aggregateID,
		event.EventType, event.EventVersion, event.CorrelationID, payload, event.OccurredAt); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindTimeline(ctx context.Context, tenantID uuid.UUID, aggregateType string, aggregateID uuid.UUID) ([]TimelineEntry, error) {
	query := `
		SELECT event_type, occurred_at, payload
		FROM outbox_events
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		ORDER BY occurred_at ASC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, tenantID, aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("find timeline: %w", err)
	}
	defer rows.Close()

	var timeline []TimelineEntry
	for rows.Next() {
		var entry TimelineEntry
		if err := rows.Scan(&entry.EventType, &entry.OccurredAt, &entry.Payload); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		timeline = append(timeline, entry)
	}
	return timeline, rows.Err()
}

func (s *PostgresStore) FindPending(ctx context.Context, limit int, now time.Time) ([]Event, error) {
	query := `
		SELECT id, event_id, tenant_id, aggregate_type, aggregate_id,
		       event_type, event_version, correlation_id, payload, occurred_at,
		       publish_attempts, next_attempt_at, last_error
		FROM outbox_events
		WHERE published_at IS NULL
		  AND dead_letter_at IS NULL
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY id ASC
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find pending outbox events: %w", err)
	}
	defer rows.Close()

	var pending []Event
	for rows.Next() {
		var (
			ev            Event
			nextAttemptAt sql.NullTime
			lastError     sql.NullString
		)
		if err := rows.Scan(
			&ev.RowID, &ev.EventID, &ev.TenantID, &ev.AggregateType, &ev.AggregateID,
			&ev.EventType, &ev.EventVersion, &ev.CorrelationID, &ev.Payload, &ev.OccurredAt,
			&ev.PublishAttempts, &nextAttemptAt, &lastError,
		); err != nil {
			return nil, fmt.Errorf("scan pending outbox event: %w", err)
		}
		if nextAttemptAt.Valid {
			t := nextAttemptAt.Time
			ev.NextAttemptAt = &t
		}
		if lastError.Valid {
			v := lastError.String
			ev.LastError = &v
		}
		pending = append(pending, ev)
	}
	return pending, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, rowID int64, at time.Time) error {
	query := `
		UPDATE outbox_events
		SET published_at = $1, next_attempt_at = NULL
		WHERE id = $2
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, at, rowID); err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailure(ctx context.Context, event Event, reason string, maxAttempts int, nextAttemptAt time.Time) (bool, error) {
	exec := s.execer(ctx)
	attempts := event.PublishAttempts + 1

	if attempts >= maxAttempts {
		now := time.Now().UTC()
		deadLetterQuery := `
			UPDATE outbox_events
			SET publish_attempts = $1, last_error = $2, dead_letter_at = $3, next_attempt_at = NULL
			WHERE id = $4
		`
		if _, err := exec.ExecContext(ctx, deadLetterQuery, attempts, reason, now, event.RowID); err != nil {
			return false, fmt.Errorf("dead-letter outbox event: %w", err)
		}
		copyQuery := `
			INSERT INTO outbox_dead_letters (outbox_event_id, event_id, tenant_id, event_type, payload, failure_reason, failed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := exec.ExecContext(ctx, copyQuery,
			event.RowID, event.EventID, event.TenantID, event.EventType, event.Payload, reason, now); err != nil {
			return false, fmt.Errorf("insert dead-letter copy: %w", err)
		}
		return true, nil
	}

	retryQuery := `
		UPDATE outbox_events
		SET publish_attempts = $1, last_error = $2, next_attempt_at = $3
		WHERE id = $4
	`
	if _, err := exec.ExecContext(ctx, retryQuery, attempts, reason, nextAttemptAt, event.RowID); err != nil {
		return false, fmt.Errorf("schedule outbox retry: %w", err)
	}
	return false, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE published_at IS NULL AND dead_letter_at IS NULL) AS pending,
			COUNT(*) FILTER (WHERE published_at IS NOT NULL) AS published,
			COUNT(*) FILTER (WHERE dead_letter_at IS NOT NULL) AS dead_letter
		FROM outbox_events
	`
	var stats Stats
	if err := s.execer(ctx).QueryRowContext(ctx, query).
		Scan(&stats.Pending, &stats.Published, &stats.DeadLetter); err != nil {
		return Stats{}, fmt.Errorf("outbox stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) FindDeadLetters(ctx context.Context, tenantID uuid.UUID, limit int) ([]DeadLetterEntry, error) {
	query := `
		SELECT outbox_event_id, event_id, tenant_id, event_type, payload, failure_reason, failed_at
		FROM outbox_dead_letters
		WHERE tenant_id = $1
		ORDER BY failed_at ASC
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("find dead letters: %w", err)
	}
	defer rows.Close()

	var entries []DeadLetterEntry
	for rows.Next() {
		var entry DeadLetterEntry
		if err := rows.Scan(
			&entry.OutboxRowID, &entry.EventID, &entry.TenantID,
			&entry.EventType, &entry.Payload, &entry.FailureReason, &entry.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) RequeueDeadLetters(ctx context.Context, tenantID uuid.UUID, limit int) (int, error) {
	exec := s.execer(ctx)
	query := `
		WITH requeued AS (
			DELETE FROM outbox_dead_letters
			WHERE outbox_event_id IN (
				SELECT outbox_event_id FROM outbox_dead_letters
				WHERE tenant_id = $1
				ORDER BY failed_at ASC
				LIMIT $2
			)
			RETURNING outbox_event_id
		)
		UPDATE outbox_events o
		SET dead_letter_at = NULL, next_attempt_at = NULL, publish_attempts = 0, last_error = NULL
		FROM requeued r
		WHERE o.id = r.outbox_event_id
	`
	res, err := exec.ExecContext(ctx, query, tenantID, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue dead letters: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue dead letters: %w", err)
	}
	return int(affected), nil
}
