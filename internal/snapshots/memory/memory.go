package memory

import (
	"context"
	"sync"

	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
)

// Store keeps snapshots in process memory. Snapshots are copied on the way
// in and out so callers never share state with the store.
type Store struct {
	mu    sync.Mutex
	items map[string]ledger.Snapshot
}

var _ snapshots.Repository = (*Store)(nil)

func New() *Store {
	return &Store{items: map[string]ledger.Snapshot{}}
}

// LoadSnapshot returns the owner's snapshot or an empty one.
func (s *Store) LoadSnapshot(_ context.Context, owner string) (ledger.Snapshot, error) {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return ledger.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.items[owner]
	if !ok {
		return ledger.EmptySnapshot(), nil
	}
	return snap.Clone(), nil
}

func (s *Store) SaveSnapshot(_ context.Context, owner string, snap ledger.Snapshot) error {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[owner] = snap.Normalized()
	return nil
}

func (s *Store) DeleteSnapshot(_ context.Context, owner string) error {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, owner)
	return nil
}

// Owners returns how many owners currently have a snapshot.
func (s *Store) Owners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
