package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"numtrack/internal/amqp"
	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
)

// Publisher announces committed ledger changes to the export worker.
type Publisher interface {
	PublishLedgerSync(ctx context.Context, msg *amqp.LedgerSyncMessage) error
	Close() error
}

var _ snapshots.Repository = (*LedgerService)(nil)

// LedgerService persists snapshots through a repository and publishes a
// sync message after every committed write.
type LedgerService struct {
	repo      snapshots.Repository
	publisher Publisher
}

// NewLedgerService wraps repo. A nil publisher disables notifications.
func NewLedgerService(repo snapshots.Repository, publisher Publisher) *LedgerService {
	return &LedgerService{
		repo:      repo,
		publisher: publisher,
	}
}

func (s *LedgerService) LoadSnapshot(ctx context.Context, owner string) (ledger.Snapshot, error) {
	return s.repo.LoadSnapshot(ctx, owner)
}

// SaveSnapshot saves locally first, then publishes. A failed publish is
// logged; the periodic pending scan picks the change up later.
func (s *LedgerService) SaveSnapshot(ctx context.Context, owner string, snap ledger.Snapshot) error {
	if err := s.repo.SaveSnapshot(ctx, owner, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.publish(ctx, amqp.NewLedgerSavedMessage(owner, s.version(ctx, owner)))
	return nil
}

func (s *LedgerService) DeleteSnapshot(ctx context.Context, owner string) error {
	if err := s.repo.DeleteSnapshot(ctx, owner); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	s.publish(ctx, amqp.NewLedgerDeletedMessage(owner, s.version(ctx, owner)))
	return nil
}

// Ping checks the repository when it is backed by a remote service.
func (s *LedgerService) Ping(ctx context.Context) error {
	if p, ok := s.repo.(snapshots.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *LedgerService) version(ctx context.Context, owner string) int64 {
	vr, ok := s.repo.(snapshots.VersionReader)
	if !ok {
		return 0
	}
	v, err := vr.SnapshotVersion(ctx, owner)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read snapshot version", "owner", owner, "error", err)
		return 0
	}
	return v
}

func (s *LedgerService) publish(ctx context.Context, msg *amqp.LedgerSyncMessage) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "No publisher configured, skipping sync message", "owner", msg.Owner)
		return
	}
	if err := s.publisher.PublishLedgerSync(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"owner", msg.Owner,
			"type", msg.Type,
			"version", msg.Version,
			"error", err)
	}
}

// Close closes the publisher and, when it owns resources, the repository.
func (s *LedgerService) Close() error {
	var errs []error

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if c, ok := s.repo.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("repository: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %w", errors.Join(errs...))
	}
	return nil
}
