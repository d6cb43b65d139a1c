package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var MigrationFiles embed.FS

// migrator is the part of *migrate.Migrate that RunMigrations drives.
type migrator interface {
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Up() error
}

// RunMigrations brings the attribution schema in db up to the newest embedded version.
// With autoMigrate false the schema is left as is and only its version is logged.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	return apply(m, autoMigrate)
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func apply(m migrator, autoMigrate bool) error {
	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from, dirty = 0, false
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	// Every statement in the embedded files is guarded with IF [NOT] EXISTS.
	if dirty {
		slog.Warn("[Migrations] Schema version is dirty, forcing it clean", "version", from)
		if err := m.Force(int(from)); err != nil {
			return fmt.Errorf("force schema version %d: %w", from, err)
		}
	}

	if !autoMigrate {
		slog.Info("[Migrations] Auto-migrate off", "version", from)
		return nil
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("[Migrations] Schema current", "version", from)
			return nil
		}
		return fmt.Errorf("apply migrations from version %d: %w", from, err)
	}

	to, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version after migrating: %w", err)
	}
	slog.Info("[Migrations] Schema migrated", "from", from, "to", to)
	return nil
}
