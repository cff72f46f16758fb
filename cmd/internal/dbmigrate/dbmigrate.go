// Package dbmigrate applies Vigil's embedded SQL migrations using golang-migrate.
package dbmigrate

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Direction selects which way Run migrates.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ErrNoDatabaseURL is returned when Run is called without a DSN.
var ErrNoDatabaseURL = errors.New("dbmigrate: database url is not set (VIGIL_DATABASE_URL)")

// Run applies migrations in the given direction. Being already at the target version is not an error.
func Run(dsn string, dir Direction) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ErrNoDatabaseURL
	}
	if dir != Up && dir != Down {
		return fmt.Errorf("dbmigrate: direction must be up or down, got %q", dir)
	}

	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("dbmigrate: %s: %w", dir, err)
	}
	return nil
}

// Version reports the current schema version and whether it is dirty.
func Version(dsn string) (uint, bool, error) {
	m, err := newMigrator(strings.TrimSpace(dsn))
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("dbmigrate: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, toMigrateDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("dbmigrate: %w", err)
	}
	return m, nil
}

// toMigrateDSN maps pgx-style URLs onto the scheme golang-migrate's postgres driver registers.
func toMigrateDSN(dsn string) string {
	for _, p := range []string{"pgx5://", "pgx://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, p); ok {
			return "postgres://" + rest
		}
	}
	return dsn
}
