//go:build integration

package idempotency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"authhub/internal/idempotency"
	"authhub/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *idempotency.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = idempotency.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	err := s.redis.FlushAll(context.Background())
	s.Require().NoError(err)
}

func (s *RedisStoreSuite) TestFindUnknownKeyReturnsNil() {
	record, err := s.store.Find(context.Background(), uuid.New(), "unknown-key")
	s.Require().NoError(err)
	s.Nil(record)
}

func (s *RedisStoreSuite) TestInsertPendingThenLink() {
	ctx := context.Background()
	tenantID := uuid.New()
	authorizationID := uuid.New()

	err := s.store.InsertPending(ctx, tenantID, "req-1", "hash-1")
	s.Require().NoError(err)

	record, err := s.store.Find(ctx, tenantID, "req-1")
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal("hash-1", record.RequestHash)
	s.False(record.Resolved())

	err = s.store.Link(ctx, tenantID, "req-1", authorizationID, `{"status":"DISPATCHED"}`)
	s.Require().NoError(err)

	record, err = s.store.Find(ctx, tenantID, "req-1")
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.True(record.Resolved())
	s.Equal(authorizationID, *record.AuthorizationID)
	s.Require().NotNil(record.ResponseSnapshot)
	s.JSONEq(`{"status":"DISPATCHED"}`, *record.ResponseSnapshot)
}

// TestPendingClaimExpires verifies an unresolved claim carries an expiry, so
// a process that dies between the claim and the database commit does not
// block the key forever. Linking replaces the entry with a persistent one.
func (s *RedisStoreSuite) TestPendingClaimExpires() {
	ctx := context.Background()
	tenantID := uuid.New()

	err := s.store.InsertPending(ctx, tenantID, "req-1", "hash-1")
	s.Require().NoError(err)

	keys, err := s.redis.Client.Keys(ctx, "idem:*").Result()
	s.Require().NoError(err)
	s.Require().Len(keys, 1)

	ttl, err := s.redis.Client.TTL(ctx, keys[0]).Result()
	s.Require().NoError(err)
	s.Positive(ttl)

	err = s.store.Link(ctx, tenantID, "req-1", uuid.New(), `{"status":"DISPATCHED"}`)
	s.Require().NoError(err)

	ttl, err = s.redis.Client.TTL(ctx, keys[0]).Result()
	s.Require().NoError(err)
	s.Equal(time.Duration(-1), ttl)
}

func (s *RedisStoreSuite) TestLinkUnknownKey() {
	err := s.store.Link(context.Background(), uuid.New(), "missing", uuid.New(), "{}")
	s.Require().ErrorIs(err, idempotency.ErrRecordNotFound)
}

// TestConcurrentInsertPending verifies SET NX admits exactly one writer for
// a contended key.
func (s *RedisStoreSuite) TestConcurrentInsertPending() {
	ctx := context.Background()
	tenantID := uuid.New()
	const goroutines = 20

	var wg sync.WaitGroup
	var wonCount atomic.Int32
	var duplicateCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.InsertPending(ctx, tenantID, "contended", "hash-1")
			switch err {
			case nil:
				wonCount.Add(1)
			case idempotency.ErrDuplicateKey:
				duplicateCount.Add(1)
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wonCount.Load())
	s.Equal(int32(goroutines-1), duplicateCount.Load())
}

func (s *RedisStoreSuite) TestSameKeyDifferentTenants() {
	ctx := context.Background()

	err := s.store.InsertPending(ctx, uuid.New(), "req-1", "hash-1")
	s.Require().NoError(err)
	err = s.store.InsertPending(ctx, uuid.New(), "req-1", "hash-1")
	s.Require().NoError(err)
}
