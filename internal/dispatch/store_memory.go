package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Update when the dispatch row does not exist.
var ErrNotFound = errors.New("dispatch not found")

type InMemoryStore struct {
	mu   sync.RWMutex
	rows []OperatorDispatch
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Insert(_ context.Context, d OperatorDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, d)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, d OperatorDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == d.ID && s.rows[i].TenantID == d.TenantID {
			s.rows[i] = d
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) FindLatestByAuthorization(_ context.Context, tenantID, authorizationID uuid.UUID) (*OperatorDispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *OperatorDispatch
	for i := range s.rows {
		row := s.rows[i]
		if row.TenantID != tenantID || row.AuthorizationID != authorizationID {
			continue
		}
		if latest == nil || !row.CreatedAt.Before(latest.CreatedAt) {
			copied := row
			latest = &copied
		}
	}
	return latest, nil
}
