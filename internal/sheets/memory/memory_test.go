package memory

import (
	"context"
	"testing"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
)

func TestStore_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	s := New()

	sum := ledger.Summarize(ledger.Snapshot{
		Entries:   map[core.Label][]float64{"05": {30, 80}},
		Threshold: 50,
	})
	ref, err := s.WriteLedger(ctx, "alice", sum)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if ref == "" {
		t.Fatal("expected a row reference")
	}

	rows, err := s.ReadLedger(ctx, "alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rows[1][0] != "05" || rows[1][4] != "60" {
		t.Fatalf("unexpected rows: %v", rows)
	}

	rows[1][0] = "xx"
	again, _ := s.ReadLedger(ctx, "alice")
	if again[1][0] != "05" {
		t.Fatal("ReadLedger must return a copy")
	}

	if rows, _ := s.ReadLedger(ctx, "bob"); rows != nil {
		t.Fatalf("unexpected rows for unknown owner: %v", rows)
	}
	if s.Writes() != 1 {
		t.Fatalf("writes = %d, want 1", s.Writes())
	}
}

func TestStore_RejectsEmptyOwner(t *testing.T) {
	if _, err := New().WriteLedger(context.Background(), "", ledger.Summary{}); err == nil {
		t.Fatal("expected error for empty owner")
	}
}
