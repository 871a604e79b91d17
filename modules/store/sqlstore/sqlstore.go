// Package sqlstore implements the state, credential and job stores on top of
// database/sql. The sqlite and postgres packages open a connection, apply
// their schema and hand it to New.
//
// Times are stored as unix milliseconds in integer columns so that both
// engines compare them the same way.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect selects placeholder syntax.
type Dialect int

// Supported dialects.
const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for postgres. Queries in this
// package never contain a literal question mark.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// DB is an open database with the cadence schema applied.
type DB struct {
	sql     *sql.DB
	dialect Dialect
}

// New wraps an open connection. The schema must already be migrated.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{sql: db, dialect: dialect}
}

// SQL returns the underlying connection pool.
func (db *DB) SQL() *sql.DB { return db.sql }

// Dialect returns the dialect the store was opened with.
func (db *DB) Dialect() Dialect { return db.dialect }

// States returns the oauth_states store.
func (db *DB) States() *StateStore { return &StateStore{db: db} }

// Credentials returns the credentials store.
func (db *DB) Credentials() *CredentialStore { return &CredentialStore{db: db} }

// Jobs returns the scheduled_jobs store.
func (db *DB) Jobs() *JobStore { return &JobStore{db: db} }

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// Stop closes the connection pool.
func (db *DB) Stop(_ context.Context) error {
	return db.sql.Close()
}

// Migrate applies stmts once per schema version. Every statement must be
// idempotent (IF NOT EXISTS) so a partially applied migration can rerun.
func (db *DB) Migrate(ctx context.Context, version int, stmts []string) error {
	if _, err := db.sql.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("%s: create schema_version: %w", db.dialect, err)
	}

	var current int
	if err := db.sql.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("%s: read schema version: %w", db.dialect, err)
	}
	if current >= version {
		return nil
	}

	for _, stmt := range stmts {
		if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate: %w\nstatement: %s", db.dialect, err, stmt)
		}
	}

	if _, err := db.exec(ctx, "INSERT INTO schema_version (version) VALUES (?) ON CONFLICT DO NOTHING", version); err != nil {
		return fmt.Errorf("%s: record schema version: %w", db.dialect, err)
	}
	return nil
}

func (db *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return db.sql.ExecContext(ctx, db.dialect.rebind(q), args...)
}

func (db *DB) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return db.sql.QueryContext(ctx, db.dialect.rebind(q), args...)
}

func (db *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return db.sql.QueryRowContext(ctx, db.dialect.rebind(q), args...)
}

type scanner interface {
	Scan(dest ...any) error
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
