package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// accountIndexes are the compound unique indexes backing account uniqueness.
// They are created outside the migration history so every (re)connect can
// assert them, even against a database whose indexes were dropped by hand.
var accountIndexes = []struct {
	name    string
	columns string
}{
	{name: "idx_accounts_username_website", columns: "username, website"},
	{name: "idx_accounts_email_website", columns: "email, website"},
}

// RunMigrations applies all pending database migrations embedded in the binary.
// It is safe to call on every startup; already-applied migrations are skipped.
func RunMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// EnsureIndexes creates the account unique indexes. Indexes that already
// exist are left untouched.
func EnsureIndexes(ctx context.Context, db *sql.DB) error {
	for _, idx := range accountIndexes {
		query := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON accounts (%s)", idx.name, idx.columns)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Bootstrap prepares a freshly opened connection: schema migrations first,
// then the unique indexes.
func Bootstrap(ctx context.Context, db *DB) error {
	if err := RunMigrations(db.Writer); err != nil {
		return err
	}
	return EnsureIndexes(ctx, db.Writer)
}
