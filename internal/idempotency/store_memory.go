package idempotency

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryKey struct {
	tenantID uuid.UUID
	key      string
}

type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[memoryKey]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[memoryKey]Record)}
}

func (s *InMemoryStore) Find(_ context.Context, tenantID uuid.UUID, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[memoryKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	out := row
	return &out, nil
}

func (s *InMemoryStore) InsertPending(_ context.Context, tenantID uuid.UUID, key, requestHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{tenantID, key}
	if _, ok := s.rows[k]; ok {
		return ErrDuplicateKey
	}
	s.rows[k] = Record{TenantID: tenantID, Key: key, RequestHash: requestHash}
	return nil
}

func (s *InMemoryStore) Link(_ context.Context, tenantID uuid.UUID, key string, authorizationID uuid.UUID, responseSnapshot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{tenantID, key}
	row, ok := s.rows[k]
	if !ok {
		return ErrRecordNotFound
	}
	row.AuthorizationID = &authorizationID
	row.ResponseSnapshot = &responseSnapshot
	s.rows[k] = row
	return nil
}
