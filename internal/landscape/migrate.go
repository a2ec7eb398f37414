package landscape

import (
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed schema/migrations
var migrationsFS embed.FS

// runMigrations applies every pending schema migration using a plain
// database/sql connection over the pgx stdlib driver. The recorder itself
// talks to Postgres through pgxpool; migrations need database/sql because
// golang-migrate's postgres driver expects one, matching the split tarsy's
// pkg/database/client.go draws between its migration path and its query
// path (there ent.Driver instead of pgxpool; here pgxpool directly).
func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("landscape: open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("landscape: create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "schema/migrations")
	if err != nil {
		return fmt.Errorf("landscape: create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "landscape", driver)
	if err != nil {
		return fmt.Errorf("landscape: create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("landscape: apply migrations: %w", err)
	}
	if err := sourceDriver.Close(); err != nil {
		return err
	}

	return checkSchema(db)
}
