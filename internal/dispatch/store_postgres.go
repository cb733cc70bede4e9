package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	txcontext "authhub/internal/platform/tx"
)

// PostgresStore persists dispatch rows in operator_dispatches. It joins a
// context-carried transaction when present.
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

func (s *PostgresStore) Insert(ctx context.Context, d OperatorDispatch) error {
	query := `
		INSERT INTO operator_dispatches (
			id, tenant_id, authorization_id, operator_code, dispatch_type,
			technical_status, attempt_count, external_protocol,
			last_error_code, last_error_message, next_attempt_at,
			sent_at, ack_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		d.ID, d.TenantID, d.AuthorizationID, d.OperatorCode, string(d.Type),
		string(d.TechnicalStatus), d.AttemptCount, d.ExternalProtocol,
		d.LastErrorCode, d.LastErrorMessage, d.NextAttemptAt,
		d.SentAt, d.AckAt, d.CompletedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, d OperatorDispatch) error {
	query := `
		UPDATE operator_dispatches
		SET technical_status = $1, attempt_count = $2, external_protocol = $3,
		    last_error_code = $4, last_error_message = $5, next_attempt_at = $6,
		    sent_at = $7, ack_at = $8, completed_at = $9, updated_at = $10
		WHERE id = $11 AND tenant_id = $12
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(d.TechnicalStatus), d.AttemptCount, d.ExternalProtocol,
		d.LastErrorCode, d.LastErrorMessage, d.NextAttemptAt,
		d.SentAt, d.AckAt, d.CompletedAt, d.UpdatedAt,
		d.ID, d.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update dispatch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update dispatch: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindLatestByAuthorization(ctx context.Context, tenantID, authorizationID uuid.UUID) (*OperatorDispatch, error) {
	query := `
		SELECT id, tenant_id, authorization_id, operator_code, dispatch_type,
		       technical_status, attempt_count, external_protocol,
		       last_error_code, last_error_message, next_attempt_at,
		       sent_at, ack_at, completed_at, created_at, updated_at
		FROM operator_dispatches
		WHERE tenant_id = $1 AND authorization_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var (
		d                OperatorDispatch
		dispatchType     string
		technicalStatus  string
		externalProtocol sql.NullString
		lastErrorCode    sql.NullString
		lastErrorMessage sql.NullString
		nextAttemptAt    sql.NullTime
		sentAt           sql.NullTime
		ackAt            sql.NullTime
		completedAt      sql.NullTime
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, tenantID, authorizationID).Scan(
		&d.ID, &d.TenantID, &d.AuthorizationID, &d.OperatorCode, &dispatchType,
		&technicalStatus, &d.AttemptCount, &externalProtocol,
		&lastErrorCode, &lastErrorMessage, &nextAttemptAt,
		&sentAt, &ackAt, &completedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest dispatch: %w", err)
	}
	d.Type = Type(dispatchType)
	d.TechnicalStatus = TechnicalStatus(technicalStatus)
	d.ExternalProtocol = nullString(externalProtocol)
	d.LastErrorCode = nullString(lastErrorCode)
	d.LastErrorMessage = nullString(lastErrorMessage)
	d.NextAttemptAt = nullTime(nextAttemptAt)
	d.SentAt = nullTime(sentAt)
	d.AckAt = nullTime(ackAt)
	d.CompletedAt = nullTime(completedAt)
	return &d, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
