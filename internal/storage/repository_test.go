package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "numtrack.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository_SaveLoad(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	empty, err := repo.LoadSnapshot(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if empty.Len() != 0 || empty.Threshold != 0 {
		t.Fatalf("unknown owner should load empty, got %+v", empty)
	}

	in := ledger.Snapshot{
		Entries:   map[core.Label][]float64{"05": {30, 80, 30}, "99": {-1.5}},
		Threshold: 50,
	}
	if err := repo.SaveSnapshot(ctx, "alice", in); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	out, err := repo.LoadSnapshot(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("loaded %+v, want %+v", out, in)
	}

	// A later save fully replaces the previous one.
	in2 := ledger.Snapshot{Entries: map[core.Label][]float64{"01": {1}}, Threshold: 0}
	if err := repo.SaveSnapshot(ctx, "alice", in2); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	out, _ = repo.LoadSnapshot(ctx, "alice")
	if !reflect.DeepEqual(out, in2) {
		t.Fatalf("loaded %+v, want %+v", out, in2)
	}

	other, _ := repo.LoadSnapshot(ctx, "bob")
	if other.Len() != 0 {
		t.Fatal("owners must be isolated")
	}
}

func TestSQLiteRepository_LoadSeesWholeSaves(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	versions := []ledger.Snapshot{
		{Entries: map[core.Label][]float64{"01": {1}}, Threshold: 1},
		{Entries: map[core.Label][]float64{"02": {2, 2}, "03": {2}}, Threshold: 2},
	}
	if err := repo.SaveSnapshot(ctx, "owner-1", versions[0]); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := repo.SaveSnapshot(ctx, "owner-1", versions[i%2]); err != nil {
				t.Errorf("SaveSnapshot: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			got, err := repo.LoadSnapshot(ctx, "owner-1")
			if err != nil {
				t.Errorf("LoadSnapshot: %v", err)
				return
			}
			if !reflect.DeepEqual(got, versions[0]) && !reflect.DeepEqual(got, versions[1]) {
				t.Errorf("load mixed two saves: %+v", got)
				return
			}
		}
	}()
	wg.Wait()
}

func TestSQLiteRepository_VersionsAndPendingSync(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	snap := ledger.Snapshot{Entries: map[core.Label][]float64{"10": {5}}}
	for i := 0; i < 3; i++ {
		if err := repo.SaveSnapshot(ctx, "alice", snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}
	if err := repo.SaveSnapshot(ctx, "bob", snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	v, err := repo.SnapshotVersion(ctx, "alice")
	if err != nil || v != 3 {
		t.Fatalf("SnapshotVersion = %d, %v; want 3", v, err)
	}
	if v, _ := repo.SnapshotVersion(ctx, "nobody"); v != 0 {
		t.Fatalf("unknown owner version = %d", v)
	}

	pending, err := repo.GetPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSync: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending ledgers, got %+v", pending)
	}

	if err := repo.MarkSynced(ctx, "alice", 3); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	// An older, late-arriving ack must not reopen the ledger.
	if err := repo.MarkSynced(ctx, "alice", 1); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	pending, _ = repo.GetPendingSync(ctx, 10)
	if len(pending) != 1 || pending[0].Owner != "bob" || pending[0].Version != 1 {
		t.Fatalf("expected only bob pending, got %+v", pending)
	}

	limited, _ := repo.GetPendingSync(ctx, 0)
	if len(limited) != 0 {
		t.Fatalf("limit 0 should return nothing, got %d", len(limited))
	}
}

func TestSQLiteRepository_DeleteBumpsVersion(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.SaveSnapshot(ctx, "alice", ledger.Snapshot{
		Entries:   map[core.Label][]float64{"05": {1, 2}},
		Threshold: 7,
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkSynced(ctx, "alice", 1); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteSnapshot(ctx, "alice"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}

	snap, _ := repo.LoadSnapshot(ctx, "alice")
	if snap.Len() != 0 || snap.Threshold != 0 {
		t.Fatalf("expected empty snapshot after delete, got %+v", snap)
	}
	pending, _ := repo.GetPendingSync(ctx, 10)
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Fatalf("delete should leave a pending export, got %+v", pending)
	}
}

func TestSQLiteRepository_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.SaveSnapshot(ctx, "a/b", ledger.EmptySnapshot()); err == nil {
		t.Error("expected invalid owner error")
	}
	bad := ledger.Snapshot{Entries: map[core.Label][]float64{"7": {1}}}
	if err := repo.SaveSnapshot(ctx, "alice", bad); err == nil {
		t.Error("expected invalid label error")
	}
}

func TestSQLiteRepository_BacksLedgerStore(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	st := ledger.New(snapshots.Bind(repo, "carol"))
	if err := st.Append(ctx, []core.Label{"05", "05"}, 10); err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveAt(ctx, "05", 0); err != nil {
		t.Fatal(err)
	}

	reopened, err := ledger.Open(ctx, snapshots.Bind(repo, "carol"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := reopened.Entries("05"); !reflect.DeepEqual(got, []float64{10}) {
		t.Fatalf("entries after reopen = %v", got)
	}
}
