package subscription

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process UserStore for tests and single-node setups.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[uuid.UUID]*Account
	customers map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[uuid.UUID]*Account),
		customers: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next *Account) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[next.ID]
	switch {
	case !ok && expectedVersion != 0:
		return false, nil
	case ok && current.Version != expectedVersion:
		return false, nil
	}

	next.Version = expectedVersion + 1
	s.accounts[next.ID] = next.Clone()
	if next.CustomerRef != "" {
		s.customers[next.CustomerRef] = next.ID
	}
	return true, nil
}

func (s *MemoryStore) AccountByCustomerRef(ctx context.Context, customerRef string) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.customers[customerRef]
	if !ok {
		return uuid.Nil, ErrAccountNotFound
	}
	return id, nil
}
