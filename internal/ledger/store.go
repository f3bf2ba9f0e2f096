// Package ledger holds the per-owner value store and the pure aggregation
// functions computed over its snapshots.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"numtrack/internal/core"
)

// Store owns one owner's label -> entries mapping and the global threshold.
//
// Every mutation validates before touching state and either applies fully
// or not at all. After a successful mutation the whole snapshot is pushed to
// the Persister; a failed push is reported as *SyncError while the local
// change is kept.
type Store struct {
	mu        sync.Mutex
	entries   map[core.Label][]float64
	threshold float64
	persister Persister
}

// New creates an empty store backed by p. A nil persister disables syncing.
func New(p Persister) *Store {
	return &Store{
		entries:   map[core.Label][]float64{},
		persister: p,
	}
}

// Open creates a store hydrated from p.
//
// The returned store is never nil: when loading fails the store starts empty
// and the error (a *SyncError) is returned alongside it.
func Open(ctx context.Context, p Persister) (*Store, error) {
	s := New(p)
	if p == nil {
		return s, nil
	}
	snap, err := p.Load(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load ledger snapshot, starting empty", "error", err)
		return s, &SyncError{Op: "load", Err: err}
	}
	if err := snap.Validate(); err != nil {
		slog.WarnContext(ctx, "Persisted ledger snapshot is invalid, starting empty", "error", err)
		return s, &SyncError{Op: "load", Err: err}
	}
	snap = snap.Normalized()
	s.entries = snap.Entries
	s.threshold = snap.Threshold
	return s, nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Entries returns a copy of the entries recorded for label.
func (s *Store) Entries(label core.Label) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.entries[label]...)
}

// Threshold returns the current global threshold.
func (s *Store) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// Summary aggregates the current state.
func (s *Store) Summary() Summary {
	return Summarize(s.Snapshot())
}

// Append pushes value onto every label in labels. Duplicates produce
// independent appends.
func (s *Store) Append(ctx context.Context, labels []core.Label, value float64) error {
	if len(labels) == 0 {
		return ErrNoLabels
	}
	for _, l := range labels {
		if !l.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidLabel, string(l))
		}
	}
	if !core.IsFinite(value) {
		return core.ErrNotANumber
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range labels {
		s.entries[l] = append(s.entries[l], value)
	}
	return s.syncLocked(ctx, "append")
}

// UpdateAt replaces the entry at index for label.
func (s *Store) UpdateAt(ctx context.Context, label core.Label, index int, value float64) error {
	if !core.IsFinite(value) {
		return core.ErrNotANumber
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndexLocked(label, index); err != nil {
		return err
	}
	s.entries[label][index] = value
	return s.syncLocked(ctx, "update")
}

// RemoveAt deletes the entry at index for label. Removing the last entry
// removes the label from the mapping.
func (s *Store) RemoveAt(ctx context.Context, label core.Label, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndexLocked(label, index); err != nil {
		return err
	}
	vals := s.entries[label]
	rest := make([]float64, 0, len(vals)-1)
	rest = append(rest, vals[:index]...)
	rest = append(rest, vals[index+1:]...)
	if len(rest) == 0 {
		delete(s.entries, label)
	} else {
		s.entries[label] = rest
	}
	return s.syncLocked(ctx, "remove")
}

// Replace sets the entries of label directly. An empty list removes the label.
func (s *Store) Replace(ctx context.Context, label core.Label, values []float64) error {
	if !label.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, string(label))
	}
	for _, v := range values {
		if !core.IsFinite(v) {
			return core.ErrNotANumber
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(values) == 0 {
		delete(s.entries, label)
	} else {
		s.entries[label] = append([]float64(nil), values...)
	}
	return s.syncLocked(ctx, "replace")
}

// Restore replaces the whole state with snap in one step. Nothing changes
// when snap is invalid.
func (s *Store) Restore(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap = snap.Normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = snap.Entries
	s.threshold = snap.Threshold
	return s.syncLocked(ctx, "restore")
}

// RemoveLabel drops every entry recorded for label.
func (s *Store) RemoveLabel(ctx context.Context, label core.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[label]; !ok {
		return &IndexError{Label: label, Index: 0, Len: 0}
	}
	delete(s.entries, label)
	return s.syncLocked(ctx, "remove_label")
}

// SetThreshold changes the global threshold.
func (s *Store) SetThreshold(ctx context.Context, value float64) error {
	if !core.IsFinite(value) {
		return core.ErrNotANumber
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = value
	return s.syncLocked(ctx, "threshold")
}

// Reset clears every entry, sets the threshold back to 0 and deletes the
// persisted state.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[core.Label][]float64{}
	s.threshold = 0
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Delete(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to delete persisted ledger", "error", err)
		return &SyncError{Op: "reset", Err: err}
	}
	return nil
}

func (s *Store) checkIndexLocked(label core.Label, index int) error {
	n := len(s.entries[label])
	if index < 0 || index >= n {
		return &IndexError{Label: label, Index: index, Len: n}
	}
	return nil
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Entries: s.entries, Threshold: s.threshold}.Clone()
}

func (s *Store) syncLocked(ctx context.Context, op string) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, s.snapshotLocked()); err != nil {
		slog.ErrorContext(ctx, "Failed to sync ledger snapshot", "operation", op, "error", err)
		return &SyncError{Op: op, Err: err}
	}
	return nil
}
