package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	txcontext "authhub/internal/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists ledger rows in idempotency_keys with a unique
// constraint on (tenant_id, idempotency_key).
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

func (s *PostgresStore) Find(ctx context.Context, tenantID uuid.UUID, key string) (*Record, error) {
	query := `
		SELECT request_hash, authorization_id, response_snapshot
		FROM idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
	`
	record := Record{TenantID: tenantID, Key: key}
	var (
		authorizationID sql.Null[uuid.UUID]
		snapshot        sql.NullString
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, tenantID, key).
		Scan(&record.RequestHash, &authorizationID, &snapshot)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	if authorizationID.Valid {
		id := authorizationID.V
		record.AuthorizationID = &id
	}
	if snapshot.Valid {
		v := snapshot.String
		record.ResponseSnapshot = &v
	}
	return &record, nil
}

func (s *PostgresStore) InsertPending(ctx context.Context, tenantID uuid.UUID, key, requestHash string) error {
	query := `
		INSERT INTO idempotency_keys (tenant_id, idempotency_key, request_hash)
		VALUES ($1, $2, $3)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, tenantID, key, requestHash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert pending idempotency record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Link(ctx context.Context, tenantID uuid.UUID, key string, authorizationID uuid.UUID, responseSnapshot string) error {
	query := `
		UPDATE idempotency_keys
		SET authorization_id = $1, response_snapshot = $2
		WHERE tenant_id = $3 AND idempotency_key = $4
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, authorizationID, responseSnapshot, tenantID, key)
	if err != nil {
		return fmt.Errorf("link idempotency record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("link idempotency record: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
