package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"numtrack/internal/amqp"
	"numtrack/internal/services"
)

// Consumer delivers ledger sync messages until ctx is cancelled.
type Consumer interface {
	ConsumeLedgerSync(ctx context.Context, handler func(context.Context, *amqp.LedgerSyncMessage) error) error
}

// ExportWorker exports ledgers to Google Sheets as sync messages arrive and
// periodically re-exports ledgers whose messages were lost.
type ExportWorker struct {
	consumer  Consumer
	processor *services.SyncProcessor
	batchSize int
}

func NewExportWorker(consumer Consumer, processor *services.SyncProcessor, batchSize int) *ExportWorker {
	return &ExportWorker{
		consumer:  consumer,
		processor: processor,
		batchSize: batchSize,
	}
}

// HandleSyncMessage exports the owner named by msg. Saves and deletes are
// handled alike: the committed state is re-read, so a delete exports an
// empty ledger.
func (w *ExportWorker) HandleSyncMessage(ctx context.Context, msg *amqp.LedgerSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"message_id", msg.ID,
		"type", msg.Type,
		"owner", msg.Owner,
		"version", msg.Version)

	if err := w.processor.ExportOwner(ctx, msg.Owner); err != nil {
		return fmt.Errorf("export ledger: %w", err)
	}
	return nil
}

// StartupSyncCheck exports ledgers left pending while the worker was down.
func (w *ExportWorker) StartupSyncCheck(ctx context.Context) error {
	res, err := w.processor.ProcessPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	if res.Total == 0 {
		slog.InfoContext(ctx, "No pending ledgers found on startup")
		return nil
	}
	slog.InfoContext(ctx, "Startup sync completed",
		"total", res.Total,
		"synced", res.Exported,
		"errors", res.Failed)
	return nil
}

// Run consumes messages and polls for pending ledgers until ctx is
// cancelled or the consumer fails.
func (w *ExportWorker) Run(ctx context.Context) error {
	if err := w.StartupSyncCheck(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed startup sync check", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.consumer.ConsumeLedgerSync(gctx, w.HandleSyncMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consume sync messages: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := w.processor.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return w.processor.Stop(stopCtx)
	})

	return g.Wait()
}
