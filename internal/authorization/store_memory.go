package authorization

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryKey struct {
	tenantID uuid.UUID
	id       uuid.UUID
}

// InMemoryStore keeps authorization snapshots in a map. Suitable for tests
// and single-node development runs.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[memoryKey]Authorization
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[memoryKey]Authorization)}
}

func (s *InMemoryStore) Insert(_ context.Context, auth Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[memoryKey{auth.TenantID, auth.ID}] = clone(auth)
	return nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, auth Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey{auth.TenantID, auth.ID}
	if _, ok := s.rows[key]; !ok {
		return ErrNotFound
	}
	s.rows[key] = clone(auth)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tenantID, id uuid.UUID) (*Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[memoryKey{tenantID, id}]
	if !ok {
		return nil, nil
	}
	out := clone(row)
	return &out, nil
}

func clone(a Authorization) Authorization {
	a.ProcedureCodes = append([]string(nil), a.ProcedureCodes...)
	return a
}
