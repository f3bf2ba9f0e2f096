package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema means a previous migration stopped halfway. The ledger
// tables must be repaired by hand before the repository will open.
var ErrDirtySchema = errors.New("ledger schema is dirty")

// SchemaVersion is the migration state after RunMigrations.
type SchemaVersion struct {
	Version uint
	Applied bool // false when the schema was already current
}

// RunMigrations brings the ledger schema at dbPath up to date.
func RunMigrations(dbPath string) (SchemaVersion, error) {
	m, closeAll, err := newMigrator(dbPath)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer closeAll()

	if _, dirty, err := m.Version(); err == nil && dirty {
		return SchemaVersion{}, ErrDirtySchema
	}

	applied := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return SchemaVersion{}, fmt.Errorf("apply ledger migrations: %w", err)
		}
		applied = false
	}

	version, _, err := m.Version()
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("read schema version: %w", err)
	}
	return SchemaVersion{Version: version, Applied: applied}, nil
}

// newMigrator uses its own connection; closing the migrator closes it too.
func newMigrator(dbPath string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open migration database: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, func() {
		m.Close()
		db.Close()
	}, nil
}
