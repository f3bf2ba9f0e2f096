package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
	sheetsmem "numtrack/internal/sheets/memory"
	"numtrack/internal/storage"
)

type fakeSource struct {
	snaps    map[string]ledger.Snapshot
	versions map[string]int64
	synced   map[string]int64
	loadErr  map[string]error
	pendErr  error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		snaps:    map[string]ledger.Snapshot{},
		versions: map[string]int64{},
		synced:   map[string]int64{},
		loadErr:  map[string]error{},
	}
}

func (f *fakeSource) put(owner string, snap ledger.Snapshot) {
	f.snaps[owner] = snap
	f.versions[owner]++
}

func (f *fakeSource) LoadSnapshot(_ context.Context, owner string) (ledger.Snapshot, error) {
	if err := f.loadErr[owner]; err != nil {
		return ledger.Snapshot{}, err
	}
	if s, ok := f.snaps[owner]; ok {
		return s, nil
	}
	return ledger.EmptySnapshot(), nil
}

func (f *fakeSource) SnapshotVersion(_ context.Context, owner string) (int64, error) {
	return f.versions[owner], nil
}

func (f *fakeSource) GetPendingSync(_ context.Context, limit int) ([]storage.PendingLedger, error) {
	if f.pendErr != nil {
		return nil, f.pendErr
	}
	var out []storage.PendingLedger
	for _, owner := range []string{"alice", "bob", "carol"} {
		if v, ok := f.versions[owner]; ok && v > f.synced[owner] && len(out) < limit {
			out = append(out, storage.PendingLedger{Owner: owner, Version: v})
		}
	}
	return out, nil
}

func (f *fakeSource) MarkSynced(_ context.Context, owner string, version int64) error {
	f.synced[owner] = max(f.synced[owner], version)
	return nil
}

func TestSyncProcessor_ExportOwner(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.put("alice", ledger.Snapshot{Entries: map[core.Label][]float64{"05": {30, 80}}, Threshold: 50})
	out := sheetsmem.New()
	p := NewSyncProcessor(src, out, DefaultSyncProcessorConfig())

	if err := p.ExportOwner(ctx, "alice"); err != nil {
		t.Fatalf("export: %v", err)
	}
	rows, _ := out.ReadLedger(ctx, "alice")
	if len(rows) < 2 || rows[1][0] != "05" || rows[1][4] != "60" {
		t.Fatalf("unexpected exported rows: %v", rows)
	}
	if src.synced["alice"] != 1 {
		t.Fatalf("synced version = %d, want 1", src.synced["alice"])
	}
}

func TestSyncProcessor_ProcessPending(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.put("alice", ledger.EmptySnapshot())
	src.put("bob", ledger.EmptySnapshot())
	src.put("carol", ledger.EmptySnapshot())
	src.loadErr["bob"] = errors.New("corrupt")
	out := sheetsmem.New()
	p := NewSyncProcessor(src, out, DefaultSyncProcessorConfig())

	res, err := p.ProcessPending(ctx, 10)
	if err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if res != (BatchResult{Total: 3, Exported: 2, Failed: 1}) {
		t.Fatalf("result = %+v", res)
	}

	// Only the failed ledger stays pending.
	res, _ = p.ProcessPending(ctx, 10)
	if res.Total != 1 || res.Failed != 1 {
		t.Fatalf("second scan = %+v", res)
	}

	src.pendErr = errors.New("db locked")
	if _, err := p.ProcessPending(ctx, 10); !errors.Is(err, src.pendErr) {
		t.Fatalf("expected wrapped pending error, got %v", err)
	}
}

func TestSyncProcessor_ProcessPendingRespectsLimit(t *testing.T) {
	src := newFakeSource()
	src.put("alice", ledger.EmptySnapshot())
	src.put("bob", ledger.EmptySnapshot())
	p := NewSyncProcessor(src, sheetsmem.New(), DefaultSyncProcessorConfig())

	res, err := p.ProcessPending(context.Background(), 1)
	if err != nil || res.Total != 1 {
		t.Fatalf("result = %+v, %v", res, err)
	}
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()
	if config.PollInterval != 30*time.Second {
		t.Errorf("expected PollInterval 30s, got %v", config.PollInterval)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}

	p := NewSyncProcessor(nil, nil, SyncProcessorConfig{})
	if p.config != config {
		t.Errorf("zero config should fall back to defaults, got %+v", p.config)
	}
}

func TestSyncProcessor_Lifecycle(t *testing.T) {
	src := newFakeSource()
	src.put("alice", ledger.EmptySnapshot())
	out := sheetsmem.New()
	p := NewSyncProcessor(src, out, SyncProcessorConfig{PollInterval: 10 * time.Millisecond, BatchSize: 5})

	if p.IsRunning() {
		t.Fatal("processor should not be running initially")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("expected error when starting an already running processor")
	}

	deadline := time.Now().Add(2 * time.Second)
	for out.Writes() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if out.Writes() == 0 {
		t.Fatal("pending ledger was never exported")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("processor should not be running after stop")
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	p := NewSyncProcessor(nil, nil, DefaultSyncProcessorConfig())
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}
