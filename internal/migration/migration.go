package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

var errNoHandle = errors.New("migration_database_required")

func openSource() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, err
	}
	return iofs.New(sub, ".")
}

// Apply brings the billing schema on db up to the latest embedded version.
// A dirty schema is reported rather than forced.
func Apply(db *sql.DB, log *zap.Logger) error {
	if db == nil {
		return errNoHandle
	}
	src, err := openSource()
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "poolbilling_schema_migrations"})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	// m.Close would close db, which the rest of the app shares.

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return fmt.Errorf("schema version: %w", err)
	case dirty:
		return fmt.Errorf("schema version %d is dirty", from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up from %d: %w", from, err)
	}
	to, _, _ := m.Version()
	log.Info("schema migrated", zap.Uint("from", from), zap.Uint("to", to))
	return nil
}
