// Package sqlite implements the repository interfaces on top of SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without CGo and
// tests can run against a real SQL engine in ":memory:" mode.
//
// SCHEMA:
// The schema lives in migrations/*.sql, embedded into the binary and applied
// by golang-migrate on startup. Each file pair (NNN_name.up.sql / .down.sql)
// is one version; golang-migrate records the applied version in its own
// schema_migrations table, so New is safe to call on an existing database.
//
// CONSTRAINTS DO THE ARBITRATION:
// users.email and users.github_id are UNIQUE. Two requests racing to create
// or link the same identity both pass their "does it exist?" check, but only
// one INSERT/UPDATE wins; the loser gets apperror.ErrConflict and the service
// layer retries its lookup.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/taskflow-api/internal/apperror"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB owns the connection pool. The per-table repositories (UserDB, TaskDB,
// TokenDB) share it and are handed out by Users(), Tasks() and Tokens().
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath, configures it and applies migrations.
//
// dbPath examples:
//   - "data/taskflow.db" → file-backed
//   - ":memory:"         → in-memory, used by tests
//
// ONE CONNECTION:
// PRAGMA foreign_keys is per connection, and every ":memory:" connection is a
// separate empty database. Capping the pool at one connection keeps both
// settings and data consistent; SQLite serializes writers anyway.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Off by default in SQLite. Needed for ON DELETE CASCADE.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// migrate applies every pending up-migration from the embedded FS.
//
// The *migrate.Migrate is deliberately not closed: its Close also closes the
// database driver, which would close our shared *sql.DB.
func (db *DB) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migrations source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

func (db *DB) Tasks() *TaskDB {
	return &TaskDB{conn: db.conn}
}

func (db *DB) Tokens() *TokenDB {
	return &TokenDB{conn: db.conn}
}

// isUniqueViolation reports whether err came from a UNIQUE (or primary key)
// constraint. The message check covers drivers that don't expose extended
// result codes.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// conflictColumn extracts "users.email" from
// "UNIQUE constraint failed: users.email". Falls back to "unique key".
func conflictColumn(err error) string {
	const marker = "UNIQUE constraint failed: "
	msg := err.Error()
	if i := strings.Index(msg, marker); i >= 0 {
		col := msg[i+len(marker):]
		if j := strings.IndexAny(col, " ,)"); j >= 0 {
			col = col[:j]
		}
		return col
	}
	return "unique key"
}

// now returns the current time truncated to microseconds in UTC. Keeping one
// precision means values round-trip through the DATETIME columns unchanged.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// nullString converts an optional value for a nullable TEXT column.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// notFound maps sql.ErrNoRows to the domain error; anything else is wrapped.
func notFound(err error, resource, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound(resource)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}
