package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // register postgres driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       // register file source driver
)

// SchemaVersion is the migration state of a database after a migrate call.
type SchemaVersion struct {
	Version uint
	Dirty   bool
	// Changed is false when there was nothing to apply.
	Changed bool
}

// MigrationSource turns a bare directory into a file:// source URL and
// leaves anything that already carries a scheme untouched.
func MigrationSource(dir string) string {
	if strings.Contains(dir, "://") {
		return dir
	}
	return "file://" + dir
}

// RunMigrations applies all pending up migrations from source.
func RunMigrations(dsn, source string) (SchemaVersion, error) {
	return migrateWith(dsn, source, "up", (*migrate.Migrate).Up)
}

// RunMigrationsDown rolls back every applied migration.
func RunMigrationsDown(dsn, source string) (SchemaVersion, error) {
	return migrateWith(dsn, source, "down", (*migrate.Migrate).Down)
}

func migrateWith(dsn, source, direction string, step func(*migrate.Migrate) error) (SchemaVersion, error) {
	m, err := migrate.New(MigrationSource(source), dsn)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("postgres: create migrator: %w", err)
	}
	defer m.Close()

	changed := true
	if err := step(m); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return SchemaVersion{}, fmt.Errorf("postgres: run migrations %s: %w", direction, err)
		}
		changed = false
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, fmt.Errorf("postgres: read schema version: %w", err)
	}
	return SchemaVersion{Version: version, Dirty: dirty, Changed: changed}, nil
}
