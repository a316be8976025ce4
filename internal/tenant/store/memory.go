package store

import (
	"context"
	"strings"
	"sync"

	"carecore/internal/tenant/models"
	"carecore/pkg/domain"
	"carecore/pkg/platform/sentinel"
)

// InMemory is an organization store for tests and single-process
// deployments.
type InMemory struct {
	mu   sync.RWMutex
	orgs map[domain.OrgID]*models.Organization
}

func NewInMemory() *InMemory {
	return &InMemory{orgs: make(map[domain.OrgID]*models.Organization)}
}

// CreateIfNameAvailable inserts org unless another organization already uses
// the name, compared case-insensitively.
func (s *InMemory) CreateIfNameAvailable(_ context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orgs[org.ID]; exists {
		return sentinel.ErrConflict
	}
	for _, o := range s.orgs {
		if strings.EqualFold(o.Name, org.Name) {
			return sentinel.ErrConflict
		}
	}
	s.orgs[org.ID] = org.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, orgID domain.OrgID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return o.Clone(), nil
}

// Execute validates and mutates under the write lock.
func (s *InMemory) Execute(_ context.Context, orgID domain.OrgID, validate func(*models.Organization) error, mutate func(*models.Organization)) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(o); err != nil {
		return nil, err
	}
	mutate(o)
	return o.Clone(), nil
}
