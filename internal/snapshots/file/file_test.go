package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
)

func TestStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ledgers")
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	empty, err := s.LoadSnapshot(ctx, "alice")
	if err != nil || empty.Len() != 0 {
		t.Fatalf("missing file should load empty, got %+v, %v", empty, err)
	}

	in := ledger.Snapshot{Entries: map[core.Label][]float64{"05": {30, 80}, "17": {-2.5}}, Threshold: 50}
	if err := s.SaveSnapshot(ctx, "alice", in); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	raw, err := os.ReadFile(s.Path("alice"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	want := `{"numberValues":{"05":[30,80],"17":[-2.5]},"globalThreshold":50}`
	if string(raw) != want {
		t.Fatalf("file contents = %s, want %s", raw, want)
	}

	out, err := s.LoadSnapshot(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if ledger.Summarize(out).ConsolidatedExcess != "05(60)" || out.Threshold != 50 {
		t.Fatalf("unexpected snapshot after reload: %+v", out)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}

	if err := s.DeleteSnapshot(ctx, "alice"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if err := s.DeleteSnapshot(ctx, "alice"); err != nil {
		t.Fatalf("deleting twice should succeed: %v", err)
	}
}

func TestStore_SaveReplacesPreviousFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := ledger.Snapshot{Entries: map[core.Label][]float64{"01": {1, 2, 3, 4, 5}}, Threshold: 9}
	second := ledger.Snapshot{Entries: map[core.Label][]float64{"02": {7}}}
	for _, snap := range []ledger.Snapshot{first, second} {
		if err := s.SaveSnapshot(ctx, "bob", snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	raw, err := os.ReadFile(s.Path("bob"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if want := `{"numberValues":{"02":[7]},"globalThreshold":0}`; string(raw) != want {
		t.Fatalf("file contents = %s, want %s", raw, want)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, got %v", entries)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("bob"), []byte(`{"numberValues":{"abc":[1]}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadSnapshot(ctx, "bob"); err == nil {
		t.Fatal("expected error for invalid stored label")
	}
}

func TestStore_RejectsPathTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSnapshot(context.Background(), "../escape", ledger.EmptySnapshot()); err == nil {
		t.Fatal("expected invalid owner error")
	}
}
