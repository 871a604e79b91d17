// Package postgres opens the shared PostgreSQL store. Use it when more
// than one process needs to read the same jobs and credentials.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flemzord/cadence/modules/store/sqlstore"

	_ "github.com/lib/pq" // PostgreSQL driver registration
)

// Open connects to PostgreSQL and migrates the schema. cfg must have had
// Defaults applied.
func Open(ctx context.Context, cfg Config) (*sqlstore.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	store, err := FromDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// FromDB migrates an already open connection and wraps it.
func FromDB(ctx context.Context, db *sql.DB) (*sqlstore.DB, error) {
	store := sqlstore.New(db, sqlstore.Postgres)
	if err := store.Migrate(ctx, schemaVersion, schemaStatements); err != nil {
		return nil, err
	}
	return store, nil
}
