package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrateWith opens a migrator for the source at path and applies step to it.
// migrate.ErrNoChange is not treated as a failure.
func migrateWith(path, dsn string, step func(*migrate.Migrate) error) (err error) {
	m, err := migrate.New(path, dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// RunMigrations applies every pending migration found at path, e.g. "file://migrations".
func RunMigrations(path, dsn string) error {
	const op = "postgres.RunMigrations"

	if err := migrateWith(path, dsn, (*migrate.Migrate).Up); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RollbackMigrations reverts every migration found at path.
func RollbackMigrations(path, dsn string) error {
	const op = "postgres.RollbackMigrations"

	if err := migrateWith(path, dsn, (*migrate.Migrate).Down); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
