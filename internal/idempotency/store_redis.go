package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the ledger in Redis. SET NX on the (tenant, key) pair
// provides the unique-insert semantics the create protocol relies on, so no
// relational table is needed when running against the memory store bundle.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisRecord struct {
	RequestHash      string  `json:"request_hash"`
	AuthorizationID  *string `json:"authorization_id,omitempty"`
	ResponseSnapshot *string `json:"response_snapshot,omitempty"`
}

func redisKey(tenantID uuid.UUID, key string) string {
	return fmt.Sprintf("idem:%s:%s", tenantID, key)
}

// pendingTTL bounds how long an unresolved claim blocks retries. The Redis
// claim is taken outside the database transaction, so a crash between the
// claim and the commit would otherwise leave the key in-progress forever.
// Link replaces the entry without an expiry once the record is resolved.
const pendingTTL = 15 * time.Minute

func (s *RedisStore) Find(ctx context.Context, tenantID uuid.UUID, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKey(tenantID, key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	var stored redisRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	record := Record{TenantID: tenantID, Key: key, RequestHash: stored.RequestHash}
	if stored.AuthorizationID != nil {
		id, err := uuid.Parse(*stored.AuthorizationID)
		if err != nil {
			return nil, fmt.Errorf("decode idempotency record: %w", err)
		}
		record.AuthorizationID = &id
	}
	record.ResponseSnapshot = stored.ResponseSnapshot
	return &record, nil
}

func (s *RedisStore) InsertPending(ctx context.Context, tenantID uuid.UUID, key, requestHash string) error {
	raw, err := json.Marshal(redisRecord{RequestHash: requestHash})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	set, err := s.client.SetNX(ctx, redisKey(tenantID, key), raw, pendingTTL).Result()
	if err != nil {
		return fmt.Errorf("insert pending idempotency record: %w", err)
	}
	if !set {
		return ErrDuplicateKey
	}
	return nil
}

func (s *RedisStore) Link(ctx context.Context, tenantID uuid.UUID, key string, authorizationID uuid.UUID, responseSnapshot string) error {
	k := redisKey(tenantID, key)
	raw, err := s.client.Get(ctx, k).Result()
	if err == redis.Nil {
		return ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("link idempotency record: %w", err)
	}
	var stored redisRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return fmt.Errorf("decode idempotency record: %w", err)
	}
	id := authorizationID.String()
	stored.AuthorizationID = &id
	stored.ResponseSnapshot = &responseSnapshot
	updated, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, k, updated, 0).Err(); err != nil {
		return fmt.Errorf("link idempotency record: %w", err)
	}
	return nil
}
