package authorization

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "authhub/internal/platform/tx"
)

// PostgresStore persists authorizations in the authorizations table. When the
// context carries a transaction (see platform/tx) all statements join it, so
// a command's row mutations and its outbox appends commit atomically.
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

func (s *PostgresStore) Insert(ctx context.Context, auth Authorization) error {
	query := `
		INSERT INTO authorizations (
			id, tenant_id, patient_id, operator_code, procedure_codes,
			clinical_justification, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		auth.ID,
		auth.TenantID,
		auth.PatientID,
		auth.OperatorCode,
		pq.Array(auth.ProcedureCodes),
		auth.ClinicalJustification,
		string(auth.Status),
		auth.CreatedAt,
		auth.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert authorization: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, auth Authorization) error {
	query := `
		UPDATE authorizations
		SET status = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(auth.Status), auth.UpdatedAt, auth.ID, auth.TenantID)
	if err != nil {
		return fmt.Errorf("update authorization status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update authorization status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Authorization, error) {
	query := `
		SELECT id, tenant_id, patient_id, operator_code, procedure_codes,
		       clinical_justification, status, created_at, updated_at
		FROM authorizations
		WHERE tenant_id = $1 AND id = $2
	`
	var (
		auth   Authorization
		status string
		codes  pq.StringArray
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, tenantID, id).Scan(
		&auth.ID,
		&auth.TenantID,
		&auth.PatientID,
		&auth.OperatorCode,
		&codes,
		&auth.ClinicalJustification,
		&status,
		&auth.CreatedAt,
		&auth.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find authorization: %w", err)
	}
	auth.ProcedureCodes = []string(codes)
	auth.Status = Status(status)
	return &auth, nil
}
