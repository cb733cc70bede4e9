package guide

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	txcontext "authhub/internal/platform/tx"
)

// PostgresStore persists guides in the tiss_guides table.
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

func (s *PostgresStore) Insert(ctx context.Context, g Guide) error {
	query := `
		INSERT INTO tiss_guides (
			id, tenant_id, authorization_id, tiss_version,
			xml_content, xml_hash, validation_status, validation_report, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var report sql.NullString
	if g.ValidationReport != nil {
		report = sql.NullString{String: *g.ValidationReport, Valid: true}
	}
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		g.ID, g.TenantID, g.AuthorizationID, g.TissVersion,
		g.XMLContent, g.XMLHash, string(g.ValidationStatus), report, g.CreatedAt); err != nil {
		return fmt.Errorf("insert tiss guide: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByAuthorization(ctx context.Context, tenantID, authorizationID uuid.UUID) (*Guide, error) {
	query := `
		SELECT id, tenant_id, authorization_id, tiss_version,
		       xml_content, xml_hash, validation_status, validation_report, created_at
		FROM tiss_guides
		WHERE tenant_id = $1 AND authorization_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var (
		g      Guide
		status string
		report sql.NullString
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, tenantID, authorizationID).Scan(
		&g.ID, &g.TenantID, &g.AuthorizationID, &g.TissVersion,
		&g.XMLContent, &g.XMLHash, &status, &report, &g.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find tiss guide: %w", err)
	}
	g.ValidationStatus = ValidationStatus(status)
	if report.Valid {
		v := report.String
		g.ValidationReport = &v
	}
	return &g, nil
}
