// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure-Go translation of SQLite: no CGo, no C
// toolchain, cross-compiles everywhere Go does. The driver registers
// itself with database/sql under the name "sqlite" via the blank import.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "modernc.org/sqlite"

	"github.com/corely/auth/internal/repository"
)

// DB wraps a sql.DB connection pool and implements
// repository.UserRepository and repository.SocialAccountRepository.
type DB struct {
	conn *sql.DB
}

// New opens the SQLite database at dbPath and runs schema migrations.
// Use ":memory:" in tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Force an immediate connection so a bad path or permissions issue
	// surfaces here, not on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL allows concurrent reads while a write is in progress,
	// relevant for a web server whose requests hit the DB in parallel.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. We need them ON for the
	// social_accounts → users cascade delete.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps it
// idempotent across restarts.
func (db *DB) migrate() error {
	// email and username are each UNIQUE; they are the keys local
	// registration and cross-provider merging resolve on. password_hash
	// is nullable: NULL marks an OAuth-only account.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL UNIQUE,
			username       TEXT NOT NULL UNIQUE,
			password_hash  TEXT,
			avatar_url     TEXT,
			email_verified INTEGER NOT NULL DEFAULT 0,
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// One external identity links to at most one user: UNIQUE(provider,
	// provider_user_id). The cascade delete removes links when their
	// owning user is deleted.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS social_accounts (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			provider         TEXT NOT NULL,
			provider_user_id TEXT NOT NULL,
			provider_email   TEXT,
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (provider, provider_user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_social_accounts_user_id ON social_accounts(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating social_accounts table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness
// constraint failure (UNIQUE or PRIMARY KEY).
func isUniqueViolation(err error) bool {
	var se *sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	// 2067 = SQLITE_CONSTRAINT_UNIQUE, 1555 = SQLITE_CONSTRAINT_PRIMARYKEY
	return se.Code() == 2067 || se.Code() == 1555
}

// mapInsertErr translates a uniqueness failure into the shared
// repository.ErrDuplicate sentinel so callers can re-resolve races
// without knowing the driver.
func mapInsertErr(err error, what string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("sqlite: inserting %s: %w", what, repository.ErrDuplicate)
	}
	return fmt.Errorf("sqlite: inserting %s: %w", what, err)
}
