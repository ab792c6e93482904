// Package postgres implements identityflow.UserDirectory and
// identityflow.TokenStore on PostgreSQL through pgx.
//
// Token rotation takes a transaction-scoped advisory lock on (owner,
// purpose), so concurrent issuance for one owner serializes and at most one
// token per purpose stays active. Serialization failures and deadlocks are
// retried with bounded exponential backoff.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// poolIface is the subset of *pgxpool.Pool the repositories use.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	pool  poolIface
	close func()
}

// Connect opens a pgx pool for dsn and pings it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_PING_FAILED").Wrap(err)
	}
	return &Store{pool: pool, close: pool.Close}, nil
}

// New wraps an existing pool. The caller keeps ownership of it.
func New(pool poolIface) *Store {
	return &Store{pool: pool, close: func() {}}
}

func (s *Store) Close() {
	s.close()
}

func (s *Store) Users() *Users   { return &Users{pool: s.pool} }
func (s *Store) Tokens() *Tokens { return &Tokens{pool: s.pool, backoff: defaultBackoff} }

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(4, retry.NewExponential(10*time.Millisecond))
}

// withTx runs fn in a transaction, committing on success and rolling back
// on any error.
func withTx(ctx context.Context, pool poolIface, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == pgerrcode.UniqueViolation
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	default:
		return false
	}
}
