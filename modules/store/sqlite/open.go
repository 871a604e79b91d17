// Package sqlite opens the default single-file store for states,
// credentials and scheduled jobs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flemzord/cadence/modules/store/sqlstore"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Open opens the SQLite database described by cfg and migrates its schema.
// cfg must have had Defaults applied. The caller closes the returned DB.
//
// The database uses a single connection (SQLite serialises writes), so
// conditional updates never race inside the process.
func Open(ctx context.Context, cfg Config) (*sqlstore.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	db.SetMaxOpenConns(1)

	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	store := sqlstore.New(db, sqlstore.SQLite)
	if err := store.Migrate(ctx, schemaVersion, schemaStatements); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
