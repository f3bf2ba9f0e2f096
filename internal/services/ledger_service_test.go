package services

import (
	"context"
	"errors"
	"testing"

	"numtrack/internal/amqp"
	"numtrack/internal/core"
	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
	"numtrack/internal/snapshots/memory"
)

type fakePublisher struct {
	msgs   []*amqp.LedgerSyncMessage
	err    error
	closed bool
}

func (f *fakePublisher) PublishLedgerSync(ctx context.Context, msg *amqp.LedgerSyncMessage) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

// versionedRepo adds a commit counter to the memory store.
type versionedRepo struct {
	*memory.Store
	versions map[string]int64
	saveErr  error
	closed   bool
}

func newVersionedRepo() *versionedRepo {
	return &versionedRepo{Store: memory.New(), versions: map[string]int64{}}
}

func (r *versionedRepo) SaveSnapshot(ctx context.Context, owner string, snap ledger.Snapshot) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.versions[owner]++
	return r.Store.SaveSnapshot(ctx, owner, snap)
}

func (r *versionedRepo) DeleteSnapshot(ctx context.Context, owner string) error {
	r.versions[owner]++
	return r.Store.DeleteSnapshot(ctx, owner)
}

func (r *versionedRepo) SnapshotVersion(_ context.Context, owner string) (int64, error) {
	return r.versions[owner], nil
}

func (r *versionedRepo) Close() error {
	r.closed = true
	return nil
}

func TestLedgerService_SavePublishesVersion(t *testing.T) {
	ctx := context.Background()
	repo := newVersionedRepo()
	pub := &fakePublisher{}
	svc := NewLedgerService(repo, pub)

	snap := ledger.Snapshot{Entries: map[core.Label][]float64{"05": {1}}, Threshold: 2}
	if err := svc.SaveSnapshot(ctx, "alice", snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := svc.SaveSnapshot(ctx, "alice", snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := svc.DeleteSnapshot(ctx, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(pub.msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(pub.msgs))
	}
	wantTypes := []amqp.EventType{amqp.EventLedgerSaved, amqp.EventLedgerSaved, amqp.EventLedgerDeleted}
	for i, msg := range pub.msgs {
		if msg.Owner != "alice" || msg.Type != wantTypes[i] || msg.Version != int64(i+1) {
			t.Fatalf("message %d = %+v", i, msg)
		}
	}
}

func TestLedgerService_PublishFailureDoesNotFailSave(t *testing.T) {
	ctx := context.Background()
	repo := newVersionedRepo()
	svc := NewLedgerService(repo, &fakePublisher{err: amqp.ErrCircuitOpen})

	snap := ledger.Snapshot{Entries: map[core.Label][]float64{"10": {3}}}
	if err := svc.SaveSnapshot(ctx, "bob", snap); err != nil {
		t.Fatalf("save must succeed when publish fails: %v", err)
	}
	got, err := svc.LoadSnapshot(ctx, "bob")
	if err != nil || ledger.Sum(got, "10") != 3 {
		t.Fatalf("snapshot not saved: %+v, %v", got, err)
	}
}

func TestLedgerService_SaveErrorSkipsPublish(t *testing.T) {
	repo := newVersionedRepo()
	repo.saveErr = errors.New("disk full")
	pub := &fakePublisher{}
	svc := NewLedgerService(repo, pub)

	err := svc.SaveSnapshot(context.Background(), "carol", ledger.EmptySnapshot())
	if !errors.Is(err, repo.saveErr) {
		t.Fatalf("expected wrapped save error, got %v", err)
	}
	if len(pub.msgs) != 0 {
		t.Fatal("failed save must not publish")
	}
}

func TestLedgerService_WithoutVersionsOrPublisher(t *testing.T) {
	ctx := context.Background()
	svc := NewLedgerService(memory.New(), nil)
	if err := svc.SaveSnapshot(ctx, "dave", ledger.EmptySnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := svc.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLedgerService_BacksALedgerStore(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	svc := NewLedgerService(newVersionedRepo(), pub)

	store := ledger.New(snapshots.Bind(svc, "erin"))
	if err := store.Append(ctx, []core.Label{"01", "02"}, 4); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(pub.msgs) != 2 || pub.msgs[1].Type != amqp.EventLedgerDeleted {
		t.Fatalf("unexpected messages: %+v", pub.msgs)
	}
}

func TestLedgerService_Close(t *testing.T) {
	repo := newVersionedRepo()
	pub := &fakePublisher{}
	if err := NewLedgerService(repo, pub).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !repo.closed || !pub.closed {
		t.Fatalf("close must reach repo (%v) and publisher (%v)", repo.closed, pub.closed)
	}
}
