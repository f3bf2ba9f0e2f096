package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores ledgers in two tables: one row per owner with the
// threshold and version counters, and one row per entry keyed by position.
// Every save bumps version; the export worker syncs until synced_version
// catches up.
type SQLiteRepository struct {
	db *sql.DB
}

var (
	_ snapshots.Repository    = (*SQLiteRepository)(nil)
	_ snapshots.Pinger        = (*SQLiteRepository)(nil)
	_ snapshots.VersionReader = (*SQLiteRepository)(nil)
)

// PendingLedger is the minimal data the worker needs to queue an export.
type PendingLedger struct {
	Owner     string
	Version   int64
	UpdatedAt time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	schema, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if schema.Applied {
		slog.Info("Ledger schema migrated", "component", "storage", "version", schema.Version)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// LoadSnapshot implements snapshots.Repository. The threshold and the
// entries are read in one transaction so a concurrent save is never seen
// half applied.
func (r *SQLiteRepository) LoadSnapshot(ctx context.Context, owner string) (ledger.Snapshot, error) {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return ledger.Snapshot{}, err
	}

	snap := ledger.EmptySnapshot()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT threshold FROM ledgers WHERE owner = ?`, owner).Scan(&snap.Threshold)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get ledger: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT label, value FROM entries WHERE owner = ? ORDER BY label, position`, owner)
		if err != nil {
			return fmt.Errorf("get entries: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var label string
			var value float64
			if err := rows.Scan(&label, &value); err != nil {
				return fmt.Errorf("scan entry: %w", err)
			}
			l := core.Label(label)
			snap.Entries[l] = append(snap.Entries[l], value)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.Snapshot{}, err
	}

	if err := snap.Validate(); err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

// SaveSnapshot implements snapshots.Repository. The whole snapshot replaces
// the stored one in a single transaction.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, owner string, snap ledger.Snapshot) error {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	snap = snap.Normalized()

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertLedger(ctx, tx, owner, snap.Threshold); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE owner = ?`, owner); err != nil {
			return fmt.Errorf("clear entries: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO entries (owner, label, position, value) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for label, vals := range snap.Entries {
			for i, v := range vals {
				if _, err := stmt.ExecContext(ctx, owner, string(label), i, v); err != nil {
					return fmt.Errorf("insert entry %s[%d]: %w", label, i, err)
				}
			}
		}
		return nil
	})
}

// DeleteSnapshot implements snapshots.Repository. The ledger row stays with
// no entries and threshold 0 so the export worker still sees a new version
// and clears the exported sheet.
func (r *SQLiteRepository) DeleteSnapshot(ctx context.Context, owner string) error {
	if err := snapshots.ValidateOwner(owner); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE owner = ?`, owner); err != nil {
			return fmt.Errorf("clear entries: %w", err)
		}
		return upsertLedger(ctx, tx, owner, 0)
	})
}

// SnapshotVersion implements snapshots.VersionReader. Unknown owners are at version 0.
func (r *SQLiteRepository) SnapshotVersion(ctx context.Context, owner string) (int64, error) {
	var version int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM ledgers WHERE owner = ?`, owner).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get ledger version: %w", err)
	}
	return version, nil
}

// GetPendingSync returns ledgers whose latest version has not been exported,
// oldest change first.
func (r *SQLiteRepository) GetPendingSync(ctx context.Context, limit int) ([]PendingLedger, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT owner, version, updated_at FROM ledgers
		 WHERE version > synced_version
		 ORDER BY updated_at, owner
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync ledgers: %w", err)
	}
	defer rows.Close()

	var out []PendingLedger
	for rows.Next() {
		var p PendingLedger
		if err := rows.Scan(&p.Owner, &p.Version, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending ledger: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending ledgers: %w", err)
	}
	return out, nil
}

// MarkSynced records that version of owner's ledger has been exported. It
// never moves synced_version backwards.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, owner string, version int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ledgers SET synced_version = MAX(synced_version, ?) WHERE owner = ?`, version, owner)
	if err != nil {
		return fmt.Errorf("mark ledger synced: %w", err)
	}

	slog.InfoContext(ctx, "Ledger marked as synced", "owner", owner, "version", version)
	return nil
}

func upsertLedger(ctx context.Context, tx *sql.Tx, owner string, threshold float64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledgers (owner, threshold, version, updated_at)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(owner) DO UPDATE SET
			threshold = excluded.threshold,
			version = ledgers.version + 1,
			updated_at = CURRENT_TIMESTAMP`, owner, threshold)
	if err != nil {
		return fmt.Errorf("upsert ledger: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
