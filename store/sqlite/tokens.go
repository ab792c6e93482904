package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/identityflow"
	"github.com/MrEthical07/identityflow/internal"
	"github.com/samber/oops"
)

// Tokens is the SQLite identityflow.TokenStore.
type Tokens struct {
	db *sql.DB
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Tokens) Insert(ctx context.Context, token identityflow.Token) error {
	return insertToken(ctx, r.db, token)
}

func insertToken(ctx context.Context, db execer, token identityflow.Token) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tokens (id, fingerprint, purpose, owner_id, issued_at, expires_at, used, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, token.ID, internal.FingerprintToken(token.Value), string(token.Purpose), token.OwnerID,
		token.IssuedAt.UnixMilli(), token.ExpiresAt.UnixMilli(),
		boolInt(token.Used), boolInt(token.Revoked))
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
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE tokens SET revoked = 1
			WHERE owner_id = ? AND purpose = ? AND used = 0 AND revoked = 0 AND expires_at > ?
		`, token.OwnerID, string(token.Purpose), now.UnixMilli())
		if err != nil {
			return oops.Code("TOKEN_REVOKE_FAILED").
				With("operation", "revoke active tokens").
				With("owner_id", token.OwnerID).
				Wrap(err)
		}
		if revoked, err = result.RowsAffected(); err != nil {
			return oops.Code("TOKEN_REVOKE_FAILED").Wrap(err)
		}
		return insertToken(ctx, tx, token)
	})
	if err != nil {
		return 0, err
	}
	return int(revoked), nil
}

func (r *Tokens) FindActive(ctx context.Context, ownerID string, purpose identityflow.Purpose, now time.Time) ([]identityflow.Token, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, purpose, owner_id, issued_at, expires_at, used, revoked
		FROM tokens
		WHERE owner_id = ? AND purpose = ? AND used = 0 AND revoked = 0 AND expires_at > ?
		ORDER BY issued_at
	`, ownerID, string(purpose), now.UnixMilli())
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
	row := r.db.QueryRowContext(ctx, `
		SELECT id, purpose, owner_id, issued_at, expires_at, used, revoked
		FROM tokens
		WHERE purpose = ? AND fingerprint = ?
	`, string(purpose), internal.FingerprintToken(value))

	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	result, err := r.db.ExecContext(ctx, `
		UPDATE tokens SET used = 1
		WHERE id = ? AND used = 0 AND revoked = 0 AND expires_at > ?
	`, tokenID, now.UnixMilli())
	if err != nil {
		return false, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "mark token used").
			With("token_id", tokenID).
			Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, oops.Code("TOKEN_CONSUME_FAILED").With("token_id", tokenID).Wrap(err)
	}
	return n == 1, nil
}

func (r *Tokens) MarkRevoked(ctx context.Context, tokenID string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE id = ?`, tokenID)
	if err != nil {
		return oops.Code("TOKEN_REVOKE_FAILED").
			With("operation", "mark token revoked").
			With("token_id", tokenID).
			Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code("TOKEN_REVOKE_FAILED").With("token_id", tokenID).Wrap(err)
	}
	if n == 0 {
		return oops.Code("TOKEN_NOT_FOUND").
			With("token_id", tokenID).
			Wrap(identityflow.ErrTokenNotFound)
	}
	return nil
}

// DeleteExpired removes tokens that expired before cutoff and returns the count.
func (r *Tokens) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired tokens").
			Wrap(err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanToken propagates sql.ErrNoRows unchanged for callers to handle.
func scanToken(row scanner) (identityflow.Token, error) {
	var (
		t                   identityflow.Token
		purpose             string
		issuedAt, expiresAt int64
		used, revoked       int
	)
	if err := row.Scan(&t.ID, &purpose, &t.OwnerID, &issuedAt, &expiresAt, &used, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identityflow.Token{}, err
		}
		return identityflow.Token{}, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan token").
			Wrap(err)
	}

	t.Purpose = identityflow.Purpose(purpose)
	t.IssuedAt = time.UnixMilli(issuedAt).UTC()
	t.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	t.Used = used == 1
	t.Revoked = revoked == 1
	return t, nil
}

var (
	_ identityflow.TokenStore   = (*Tokens)(nil)
	_ identityflow.TokenRotator = (*Tokens)(nil)
)
