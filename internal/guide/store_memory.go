package guide

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore keeps guides in process memory. Used by tests and the
// memory backend.
type InMemoryStore struct {
	mu     sync.RWMutex
	guides []Guide
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Insert(_ context.Context, g Guide) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guides = append(s.guides, g)
	return nil
}

// FindByAuthorization returns the most recent guide for the authorization,
// or nil when none exists.
func (s *InMemoryStore) FindByAuthorization(_ context.Context, tenantID, authorizationID uuid.UUID) (*Guide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Guide
	for i := range s.guides {
		g := s.guides[i]
		if g.TenantID != tenantID || g.AuthorizationID != authorizationID {
			continue
		}
		if latest == nil || g.CreatedAt.After(latest.CreatedAt) {
			copied := g
			latest = &copied
		}
	}
	return latest, nil
}
