package ledger

import (
	"context"
	"fmt"

	"numtrack/internal/core"
)

// Snapshot is the full persisted state: label -> entries plus the threshold.
// The JSON shape matches what the browser app kept in local storage.
type Snapshot struct {
	Entries   map[core.Label][]float64 `json:"numberValues"`
	Threshold float64                  `json:"globalThreshold"`
}

// Persister commits and retrieves snapshots for a single owner.
type Persister interface {
	// Load returns the last committed snapshot, or an empty one if none exists.
	Load(ctx context.Context) (Snapshot, error)
	// Save commits the whole snapshot.
	Save(ctx context.Context, snap Snapshot) error
	// Delete removes any persisted state.
	Delete(ctx context.Context) error
}

// EmptySnapshot returns a snapshot with no entries and threshold 0.
func EmptySnapshot() Snapshot {
	return Snapshot{Entries: map[core.Label][]float64{}}
}

// Clone returns a deep copy; the result never aliases s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Entries:   make(map[core.Label][]float64, len(s.Entries)),
		Threshold: s.Threshold,
	}
	for l, vals := range s.Entries {
		out.Entries[l] = append([]float64(nil), vals...)
	}
	return out
}

// Len returns the number of labels with at least one entry.
func (s Snapshot) Len() int {
	n := 0
	for _, vals := range s.Entries {
		if len(vals) > 0 {
			n++
		}
	}
	return n
}

// Validate checks a hydrated snapshot: labels must be in the label set and
// values and threshold finite.
func (s Snapshot) Validate() error {
	if !core.IsFinite(s.Threshold) {
		return fmt.Errorf("threshold: %w", core.ErrNotANumber)
	}
	for l, vals := range s.Entries {
		if !l.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidLabel, string(l))
		}
		for i, v := range vals {
			if !core.IsFinite(v) {
				return fmt.Errorf("label %s entry %d: %w", l, i, core.ErrNotANumber)
			}
		}
	}
	return nil
}

// Normalized returns a copy with empty entry lists removed, restoring the
// invariant that present labels always have entries.
func (s Snapshot) Normalized() Snapshot {
	out := s.Clone()
	for l, vals := range out.Entries {
		if len(vals) == 0 {
			delete(out.Entries, l)
		}
	}
	return out
}
