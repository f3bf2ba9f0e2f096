package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"numtrack/internal/ledger"
	"numtrack/internal/sheets"
	"numtrack/internal/storage"
)

// LedgerSource is the committed state the export reads from.
type LedgerSource interface {
	LoadSnapshot(ctx context.Context, owner string) (ledger.Snapshot, error)
	SnapshotVersion(ctx context.Context, owner string) (int64, error)
	GetPendingSync(ctx context.Context, limit int) ([]storage.PendingLedger, error)
	MarkSynced(ctx context.Context, owner string, version int64) error
}

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to check for pending ledgers (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of ledgers exported per poll cycle (default: 10)
	BatchSize int
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
	}
}

// BatchResult counts the outcome of one pending scan.
type BatchResult struct {
	Total    int
	Exported int
	Failed   int
}

// SyncProcessor exports committed ledgers to the spreadsheet and polls for
// ledgers whose latest version was never exported.
type SyncProcessor struct {
	source LedgerSource
	writer sheets.LedgerWriter
	config SyncProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(source LedgerSource, writer sheets.LedgerWriter, config SyncProcessorConfig) *SyncProcessor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSyncProcessorConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSyncProcessorConfig().BatchSize
	}
	return &SyncProcessor{
		source: source,
		writer: writer,
		config: config,
	}
}

// ExportOwner writes owner's current ledger to the spreadsheet and marks the
// exported version synced. The version is read before the snapshot so a
// concurrent save leaves the ledger pending instead of being skipped.
func (p *SyncProcessor) ExportOwner(ctx context.Context, owner string) error {
	version, err := p.source.SnapshotVersion(ctx, owner)
	if err != nil {
		return fmt.Errorf("get version for %s: %w", owner, err)
	}
	snap, err := p.source.LoadSnapshot(ctx, owner)
	if err != nil {
		return fmt.Errorf("load snapshot for %s: %w", owner, err)
	}

	ref, err := p.writer.WriteLedger(ctx, owner, ledger.Summarize(snap))
	if err != nil {
		return fmt.Errorf("write ledger for %s: %w", owner, err)
	}

	if version > 0 {
		if err := p.source.MarkSynced(ctx, owner, version); err != nil {
			// The export itself succeeded; the next scan repeats it.
			slog.WarnContext(ctx, "Failed to mark ledger as synced",
				"owner", owner, "version", version, "error", err)
		}
	}

	slog.InfoContext(ctx, "Exported ledger",
		"owner", owner,
		"version", version,
		"sheets_ref", ref)
	return nil
}

// ProcessPending exports up to limit pending ledgers, continuing past
// individual failures.
func (p *SyncProcessor) ProcessPending(ctx context.Context, limit int) (BatchResult, error) {
	pending, err := p.source.GetPendingSync(ctx, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("get pending ledgers: %w", err)
	}

	res := BatchResult{Total: len(pending)}
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := p.ExportOwner(ctx, item.Owner); err != nil {
			slog.ErrorContext(ctx, "Failed to export pending ledger",
				"owner", item.Owner, "version", item.Version, "error", err)
			res.Failed++
			continue
		}
		res.Exported++
	}
	return res, nil
}

// Start begins the polling loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := p.ProcessPending(ctx, p.config.BatchSize)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.ErrorContext(ctx, "Periodic sync failed", "error", err)
				}
				continue
			}
			if res.Total > 0 {
				slog.InfoContext(ctx, "Periodic sync completed",
					"total", res.Total, "exported", res.Exported, "failed", res.Failed)
			}
		}
	}
}
