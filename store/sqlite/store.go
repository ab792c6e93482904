// Package sqlite implements identityflow.UserDirectory and
// identityflow.TokenStore on SQLite through the pure-Go modernc driver.
//
// Timestamps are stored as unix milliseconds. Tokens are keyed by
// (purpose, fingerprint); token values never reach the database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/samber/oops"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db  *sql.DB
	dsn string
}

// Open opens dsn and enables foreign keys. SQLite serializes writers, so
// the pool is capped at one connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("dsn", dsn).Wrap(err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("dsn", dsn).Wrap(err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("dsn", dsn).Wrap(err)
	}

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Users() *Users   { return &Users{db: s.db} }
func (s *Store) Tokens() *Tokens { return &Tokens{db: s.db} }

// withTx runs fn in a transaction, committing on success.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
