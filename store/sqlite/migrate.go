package sqlite

import (
	"errors"

	"github.com/MrEthical07/identityflow/store/sqlite/migrations"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

// ApplyMigrations brings the schema up to date from the embedded migration
// files. An up-to-date schema is not an error.
func (s *Store) ApplyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("dsn", s.dsn).Wrap(err)
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}

	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").With("dsn", s.dsn).Wrap(err)
	}
	return nil
}
