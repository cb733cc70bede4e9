package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS authorizations (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		patient_id TEXT NOT NULL,
		operator_code TEXT NOT NULL,
		procedure_codes TEXT[] NOT NULL,
		clinical_justification TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_authorizations_tenant ON authorizations (tenant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		tenant_id UUID NOT NULL,
		idempotency_key TEXT NOT NULL,
		request_hash TEXT NOT NULL,
		authorization_id UUID,
		response_snapshot JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS operator_dispatches (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		authorization_id UUID NOT NULL,
		operator_code TEXT NOT NULL,
		dispatch_type TEXT NOT NULL,
		technical_status TEXT NOT NULL,
		attempt_count INT NOT NULL DEFAULT 0,
		external_protocol TEXT,
		last_error_code TEXT,
		last_error_message TEXT,
		next_attempt_at TIMESTAMPTZ,
		sent_at TIMESTAMPTZ,
		ack_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatches_authorization ON operator_dispatches (tenant_id, authorization_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS tiss_guides (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		authorization_id UUID NOT NULL,
		tiss_version TEXT NOT NULL,
		xml_content TEXT NOT NULL,
		xml_hash TEXT NOT NULL,
		validation_status TEXT NOT NULL,
		validation_report TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tiss_guides_authorization ON tiss_guides (tenant_id, authorization_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id BIGSERIAL PRIMARY KEY,
		event_id UUID NOT NULL UNIQUE,
		tenant_id UUID NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		event_version INT NOT NULL,
		correlation_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ,
		publish_attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ,
		dead_letter_at TIMESTAMPTZ,
		last_error TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events (next_attempt_at, id) WHERE published_at IS NULL AND dead_letter_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_events (tenant_id, aggregate_type, aggregate_id)`,
	`CREATE TABLE IF NOT EXISTS audit_trail (
		id BIGSERIAL PRIMARY KEY,
		tenant_id UUID NOT NULL,
		event_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id UUID NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_dead_letters (
		outbox_event_id BIGINT PRIMARY KEY REFERENCES outbox_events (id),
		event_id UUID NOT NULL,
		tenant_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		failure_reason TEXT NOT NULL,
		failed_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables the stores depend on when they do not
// exist yet. Statements are idempotent so repeated startup is safe.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
