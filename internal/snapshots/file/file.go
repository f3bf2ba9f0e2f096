// Package file persists one JSON snapshot per owner in a directory.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
)

type Store struct {
	dir string
	mu  sync.Mutex
}

var _ snapshots.Repository = (*Store)(nil)

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the file that holds owner's snapshot.
func (s *Store) Path(owner string) string {
	return filepath.Join(s.dir, owner+".json")
}

func (s *Store) LoadSnapshot(_ context.Context, owner string) (ledger.Snapshot, error) {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return ledger.Snapshot{}, err
	}
	data, err := os.ReadFile(s.Path(owner))
	if errors.Is(err, fs.ErrNotExist) {
		return ledger.EmptySnapshot(), nil
	}
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return snapshots.Unmarshal(data)
}

// SaveSnapshot replaces the owner's file atomically, so readers never see a
// partial snapshot.
func (s *Store) SaveSnapshot(_ context.Context, owner string, snap ledger.Snapshot) error {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	data, err := snapshots.Marshal(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomic.WriteFile(s.Path(owner), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *Store) DeleteSnapshot(_ context.Context, owner string) error {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path(owner)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
