package runindex

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migrate_sqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	migrate_iofs "github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrateUp applies every pending migration against db. The Run Index only ever targets sqlite,
// so unlike a multi-dialect server store this skips per-driver templating entirely.
func migrateUp(db *sqlx.DB) error {
	sourceDriver, err := migrate_iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("error loading run index migrations: %w", err)
	}

	dbDriver, err := migrate_sqlite3.WithInstance(db.DB, &migrate_sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("error creating sqlite migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("error constructing migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("error running run index migrations: %w", err)
	}
	return nil
}
