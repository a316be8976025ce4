package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"carecore/internal/audit"
	"carecore/pkg/domain"
	"carecore/pkg/platform/sentinel"
)

// Store keeps each org's chain as a slice in append order.
type Store struct {
	mu     sync.RWMutex
	chains map[domain.OrgID][]audit.Entry
}

func New() *Store {
	return &Store{chains: make(map[domain.OrgID][]audit.Entry)}
}

func (s *Store) Tip(_ context.Context, orgID domain.OrgID) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[orgID]
	if len(chain) == 0 {
		return nil, nil
	}
	tip := chain[len(chain)-1]
	return &tip, nil
}

// AppendIfTip compares and appends under one lock.
func (s *Store) AppendIfTip(_ context.Context, entry audit.Entry, expectedTip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[entry.OrgID]
	current := ""
	if len(chain) > 0 {
		current = chain[len(chain)-1].CurrentHash
	}
	if current != expectedTip || entry.PreviousHash != expectedTip {
		return fmt.Errorf("chain tip moved: %w", sentinel.ErrConflict)
	}
	s.chains[entry.OrgID] = append(chain, entry)
	return nil
}

func (s *Store) Anchor(_ context.Context, orgID domain.OrgID, before time.Time) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[orgID]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].CreatedAt.Before(before) {
			e := chain[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Store) ListRange(_ context.Context, orgID domain.OrgID, from, to time.Time) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.chains[orgID] {
		if !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Entries returns a copy of the org's chain.
func (s *Store) Entries(orgID domain.OrgID) []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry(nil), s.chains[orgID]...)
}

// Tamper rewrites a stored entry in place without touching its hash. It
// exists for verification drills against an in-memory chain.
func (s *Store) Tamper(orgID domain.OrgID, id domain.AuditEntryID, mutate func(*audit.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[orgID]
	for i := range chain {
		if chain[i].ID == id {
			mutate(&chain[i])
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// Remove deletes a stored entry, leaving a gap in the chain.
func (s *Store) Remove(orgID domain.OrgID, id domain.AuditEntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[orgID]
	for i := range chain {
		if chain[i].ID == id {
			s.chains[orgID] = append(chain[:i:i], chain[i+1:]...)
			return nil
		}
	}
	return sentinel.ErrNotFound
}
