package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/identityflow"
	"github.com/MrEthical07/identityflow/internal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Tokens is the PostgreSQL identityflow.TokenStore.
type Tokens struct {
	pool    poolIface
	backoff func() retry.Backoff
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const tokenColumns = `id::text, purpose, owner_id, issued_at, expires_at, used, revoked`

func (r *Tokens) Insert(ctx context.Context, token identityflow.Token) error {
	return insertToken(ctx, r.pool, token)
}

func insertToken(ctx context.Context, db execer, token identityflow.Token) error {
	_, err := db.Exec(ctx, `
		INSERT INTO tokens (id, fingerprint, purpose, owner_id, issued_at, expires_at, used, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, token.ID, internal.FingerprintToken(token.Value), string(token.Purpose), token.OwnerID,
		token.IssuedAt, token.ExpiresAt, token.Used, token.Revoked)
	if isUniqueViolation(err) {
		return oops.Code("TOKEN_EXISTS").
			With("token_id", token.ID).
			Wrap(identityflow.ErrTokenExists)
	}
	if err != nil {
		return oops.Code("TOKEN_INSERT_FAILED").
			With("operation", "insert token").
			With("token_id", token.ID).
			Wrap(err)
	}
	return nil
}

// RevokeActiveAndInsert revokes the owner's active tokens of the same
// purpose and inserts token in one transaction.
func (r *Tokens) RevokeActiveAndInsert(ctx context.Context, token identityflow.Token, now time.Time) (int, error) {
	var revoked int64
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
				token.OwnerID+":"+string(token.Purpose)); err != nil {
				return oops.Code("TOKEN_LOCK_FAILED").With("owner_id", token.OwnerID).Wrap(err)
			}

			tag, err := tx.Exec(ctx, `
				UPDATE tokens SET revoked = TRUE
				WHERE owner_id = $1 AND purpose = $2 AND NOT used AND NOT revoked AND expires_at > $3
			`, token.OwnerID, string(token.Purpose), now)
			if err != nil {
				return oops.Code("TOKEN_REVOKE_FAILED").
					With("operation", "revoke active tokens").
					With("owner_id", token.OwnerID).
					Wrap(err)
			}
			revoked = tag.RowsAffected()
			return insertToken(ctx, tx, token)
		})
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(revoked), nil
}

func (r *Tokens) FindActive(ctx context.Context, ownerID string, purpose identityflow.Purpose, now time.Time) ([]identityflow.Token, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE owner_id = $1 AND purpose = $2 AND NOT used AND NOT revoked AND expires_at > $3
		ORDER BY issued_at
	`, ownerID, string(purpose), now)
	if err != nil {
		return nil, oops.Code("TOKEN_QUERY_FAILED").
			With("operation", "select active tokens").
			With("owner_id", ownerID).
			Wrap(err)
	}
	defer rows.Close()

	var out []identityflow.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("TOKEN_QUERY_FAILED").Wrap(err)
	}
	return out, nil
}

func (r *Tokens) FindByValueAndPurpose(ctx context.Context, value string, purpose identityflow.Purpose) (identityflow.Token, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE purpose = $1 AND fingerprint = $2
	`, string(purpose), internal.FingerprintToken(value))

	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return identityflow.Token{}, oops.Code("TOKEN_NOT_FOUND").
			With("purpose", string(purpose)).
			Wrap(identityflow.ErrTokenNotFound)
	}
	if err != nil {
		return identityflow.Token{}, err
	}
	t.Value = value
	return t, nil
}

// CompareAndMarkUsed is a single conditional UPDATE.
func (r *Tokens) CompareAndMarkUsed(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	if _, err := internal.ParseTokenID(tokenID); err != nil {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE tokens SET used = TRUE
		WHERE id = $1 AND NOT used AND NOT revoked AND expires_at > $2
	`, tokenID, now)
	if err != nil {
		return false, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "mark token used").
			With("token_id", tokenID).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Tokens) MarkRevoked(ctx context.Context, tokenID string) error {
	if _, err := internal.ParseTokenID(tokenID); err != nil {
		return oops.Code("TOKEN_NOT_FOUND").With("token_id", tokenID).Wrap(identityflow.ErrTokenNotFound)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE tokens SET revoked = TRUE WHERE id = $1`, tokenID)
	if err != nil {
		return oops.Code("TOKEN_REVOKE_FAILED").
			With("operation", "mark token revoked").
			With("token_id", tokenID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").
			With("token_id", tokenID).
			Wrap(identityflow.ErrTokenNotFound)
	}
	return nil
}

// DeleteExpired removes tokens that expired before cutoff and returns the count.
func (r *Tokens) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired tokens").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// scanToken propagates pgx.ErrNoRows unchanged for callers to handle.
func scanToken(row pgx.Row) (identityflow.Token, error) {
	var (
		t                   identityflow.Token
		purpose             string
		issuedAt, expiresAt time.Time
	)
	if err := row.Scan(&t.ID, &purpose, &t.OwnerID, &issuedAt, &expiresAt, &t.Used, &t.Revoked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identityflow.Token{}, err
		}
		return identityflow.Token{}, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan token").
			Wrap(err)
	}

	t.Purpose = identityflow.Purpose(purpose)
	t.IssuedAt = issuedAt.UTC()
	t.ExpiresAt = expiresAt.UTC()
	return t, nil
}

var (
	_ identityflow.TokenStore   = (*Tokens)(nil)
	_ identityflow.TokenRotator = (*Tokens)(nil)
)
