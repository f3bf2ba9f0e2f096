// Package snapshots defines the owner-keyed persistence port for ledger
// snapshots and the JSON encoding shared by its adapters.
package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"numtrack/internal/ledger"
)

// Ports for outbound persistence adapters.
type (
	// Repository stores one snapshot per owner. Loading an owner that was
	// never saved returns an empty snapshot, not an error.
	Repository interface {
		LoadSnapshot(ctx context.Context, owner string) (ledger.Snapshot, error)
		SaveSnapshot(ctx context.Context, owner string, snap ledger.Snapshot) error
		DeleteSnapshot(ctx context.Context, owner string) error
	}

	// Pinger is implemented by repositories backed by a remote service.
	Pinger interface {
		Ping(ctx context.Context) error
	}

	// VersionReader is implemented by repositories that number every commit.
	VersionReader interface {
		SnapshotVersion(ctx context.Context, owner string) (int64, error)
	}
)

var ErrInvalidOwner = errors.New("invalid owner id")

var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidateOwner rejects owner ids that are unsafe as file names or keys.
func ValidateOwner(owner string) error {
	if !ownerPattern.MatchString(owner) || owner == "." || owner == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}
	return nil
}

// Marshal encodes a snapshot in the {"numberValues":..., "globalThreshold":...} shape.
func Marshal(snap ledger.Snapshot) ([]byte, error) {
	snap = snap.Normalized()
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a stored snapshot.
func Unmarshal(data []byte) (ledger.Snapshot, error) {
	snap := ledger.EmptySnapshot()
	if err := json.Unmarshal(data, &snap); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap.Normalized(), nil
}

// Bind adapts repo into the single-owner ledger.Persister a Store expects.
func Bind(repo Repository, owner string) ledger.Persister {
	return &boundPersister{repo: repo, owner: owner}
}

type boundPersister struct {
	repo  Repository
	owner string
}

func (b *boundPersister) Load(ctx context.Context) (ledger.Snapshot, error) {
	return b.repo.LoadSnapshot(ctx, b.owner)
}

func (b *boundPersister) Save(ctx context.Context, snap ledger.Snapshot) error {
	return b.repo.SaveSnapshot(ctx, b.owner, snap)
}

func (b *boundPersister) Delete(ctx context.Context) error {
	return b.repo.DeleteSnapshot(ctx, b.owner)
}
