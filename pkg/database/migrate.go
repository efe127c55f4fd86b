package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationsTable records the applied schema version
const MigrationsTable = "schema_migrations"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate brings the schema up to the newest embedded migration. Each
// version is applied once and recorded in schema_migrations; concurrent
// starts serialise on the driver's advisory lock.
func (db *DB) Migrate(ctx context.Context) error {
	m, err := db.migrator(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	db.logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema migrated")
	return nil
}

// SchemaVersion reports the applied migration version. A database that was
// never migrated returns 0.
func (db *DB) SchemaVersion(ctx context.Context) (uint, bool, error) {
	var row struct {
		Version int64 `db:"version"`
		Dirty   bool  `db:"dirty"`
	}
	err := db.GetContext(ctx, &row, `SELECT version, dirty FROM `+MigrationsTable+` LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint(row.Version), row.Dirty, nil
}

// migrator runs on a dedicated connection so closing it leaves the pool open
func (db *DB) migrator(ctx context.Context) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to reserve migration connection: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		conn.Close()
		src.Close()
		return nil, fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		driver.Close()
		src.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = migrateLogger{log: db.logger}
	return m, nil
}

// migrateLogger adapts the service logger to migrate.Logger
type migrateLogger struct {
	log *logger.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debug().Str("component", "migrate").Msgf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}
