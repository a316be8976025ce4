package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"carecore/internal/consent/models"
	"carecore/pkg/domain"
	"carecore/pkg/platform/sentinel"
)

// InMemory is a consent store for tests and single-process deployments.
// Records are cloned on the way in and out.
type InMemory struct {
	mu       sync.RWMutex
	consents map[domain.ConsentID]*models.Consent
}

func NewInMemory() *InMemory {
	return &InMemory{consents: make(map[domain.ConsentID]*models.Consent)}
}

func (s *InMemory) Create(_ context.Context, consent *models.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.consents[consent.ID]; exists {
		return sentinel.ErrConflict
	}
	if consent.RenewedFrom != nil {
		for _, c := range s.consents {
			if c.RenewedFrom != nil && *c.RenewedFrom == *consent.RenewedFrom {
				return sentinel.ErrConflict
			}
		}
	}
	s.consents[consent.ID] = consent.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.ConsentID) (*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemory) ListByRecipient(_ context.Context, orgID domain.OrgID, residentID domain.ResidentID, recipientDigest string) ([]*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Consent
	for _, c := range s.consents {
		if c.OrgID == orgID && c.ResidentID == residentID && c.RecipientDigest == recipientDigest {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) ListDue(_ context.Context, now time.Time) ([]*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Consent
	for _, c := range s.consents {
		if c.Status == models.StatusActive && c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})
	return out, nil
}

// Execute holds the write lock across validate and mutate, so concurrent
// transitions of one consent are serialized.
func (s *InMemory) Execute(_ context.Context, id domain.ConsentID, validate func(*models.Consent) error, mutate func(*models.Consent)) (*models.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.consents[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := stored.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.consents[id] = working
	return working.Clone(), nil
}
