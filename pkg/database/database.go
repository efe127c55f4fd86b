package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/branchpos/branchpos-backend/pkg/config"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// connectTimeout bounds the first ping at startup
const connectTimeout = 10 * time.Second

// DB is the inventory store handle: an sqlx pool plus the service logger
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// New opens the pool and verifies the server is reachable
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.Nop()
	}

	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Int("max_open_conns", cfg.MaxOpenConns).
		Msg("database connected")

	return &DB{DB: db, logger: log}, nil
}

// Wrap adopts an existing sqlx handle. Used by tests backed by sqlmock or a container.
func Wrap(db *sqlx.DB, log *logger.Logger) *DB {
	if log == nil {
		log = logger.Nop()
	}
	return &DB{DB: db, logger: log}
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health reports reachability and pool usage
func (db *DB) Health(ctx context.Context) map[string]string {
	stats := db.Stats()
	status := map[string]string{
		"status":           "up",
		"open_connections": strconv.Itoa(stats.OpenConnections),
		"in_use":           strconv.Itoa(stats.InUse),
		"wait_count":       strconv.FormatInt(stats.WaitCount, 10),
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
		return status
	}

	if version, dirty, err := db.SchemaVersion(ctx); err == nil {
		status["schema_version"] = strconv.FormatUint(uint64(version), 10)
		if dirty {
			status["schema_dirty"] = "true"
		}
	}

	return status
}

// Transaction runs fn in a transaction. Row locks taken inside fn (such as
// SELECT ... FOR UPDATE on a product) are held until commit or rollback.
// A panic in fn rolls back and is re-raised.
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			db.rollback(tx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		db.rollback(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (db *DB) rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil {
		db.logger.Error().Err(err).Msg("failed to rollback transaction")
	}
}
