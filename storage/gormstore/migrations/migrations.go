// Package migrations embeds the versioned SQL schema for the relational store and
// applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/*.sql mysql/*.sql sqlite3/*.sql
var files embed.FS

// Dialects with an embedded schema, keyed by the directory name.
var Dialects = []string{"postgres", "mysql", "sqlite3"}

// New returns a migrator for databaseURL using the schema of dialect. The URL scheme
// selects the database driver: pgx5://, mysql://, sqlite3://.
func New(dialect, databaseURL string) (*migrate.Migrate, error) {
	const op = "migrations.New"

	src, err := iofs.New(files, dialect)
	if err != nil {
		return nil, fmt.Errorf("%s: unknown dialect %q: %w", op, dialect, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// Up applies every pending migration. An already current schema is not an error.
func Up(dialect, databaseURL string) error {
	m, err := New(dialect, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations.Up: %w", err)
	}
	return nil
}

// Down rolls back every applied migration.
func Down(dialect, databaseURL string) error {
	m, err := New(dialect, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations.Down: %w", err)
	}
	return nil
}
