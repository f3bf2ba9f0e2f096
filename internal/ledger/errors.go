package ledger

import (
	"errors"
	"fmt"

	"numtrack/internal/core"
)

var (
	ErrIndexOutOfRange = errors.New("entry index out of range")
	ErrInvalidLabel    = errors.New("invalid label")
	ErrNoLabels        = errors.New("no labels given")
	ErrSyncFailed      = errors.New("persistence sync failed")
)

// IndexError reports an edit or delete against a stale or invalid position.
type IndexError struct {
	Label core.Label
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("label %s has %d entries, index %d is out of range", e.Label, e.Len, e.Index)
}

func (e *IndexError) Unwrap() error {
	return ErrIndexOutOfRange
}

// SyncError is returned when a mutation was applied locally but the
// persistence collaborator failed. Local state is not rolled back.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrSyncFailed, e.Err)
}

func (e *SyncError) Unwrap() []error {
	return []error{ErrSyncFailed, e.Err}
}

// IsSyncError reports whether err only signals a failed persistence sync,
// meaning the local mutation did succeed.
func IsSyncError(err error) bool {
	return errors.Is(err, ErrSyncFailed)
}
