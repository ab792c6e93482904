package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/identityflow"
	"github.com/samber/oops"
)

// Users is the SQLite identityflow.UserDirectory. Identities compare
// case-sensitively.
type Users struct {
	db *sql.DB
}

func (r *Users) FindByIdentity(ctx context.Context, identity string) (identityflow.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, identity, credential_hash, identity_confirmed, created_at, updated_at
		FROM users
		WHERE identity = ?
	`, identity)

	var (
		u                    identityflow.User
		confirmed            int
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Identity, &u.CredentialHash, &confirmed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identityflow.User{}, oops.Code("USER_NOT_FOUND").
			With("identity", identity).
			Wrap(identityflow.ErrUserNotFound)
	}
	if err != nil {
		return identityflow.User{}, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "select user").
			Wrap(err)
	}

	u.IdentityConfirmed = confirmed == 1
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	u.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return u, nil
}

func (r *Users) Insert(ctx context.Context, user identityflow.User) (identityflow.User, error) {
	if err := user.Validate(); err != nil {
		return identityflow.User{}, err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, identity, credential_hash, identity_confirmed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, user.Identity, user.CredentialHash, boolInt(user.IdentityConfirmed),
		user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli())
	if isUniqueViolation(err) {
		return identityflow.User{}, oops.Code("USER_EXISTS").
			With("identity", user.Identity).
			Wrap(identityflow.ErrIdentityExists)
	}
	if err != nil {
		return identityflow.User{}, oops.Code("USER_INSERT_FAILED").
			With("operation", "insert user").
			With("user_id", user.ID).
			Wrap(err)
	}
	return user, nil
}

func (r *Users) Update(ctx context.Context, user identityflow.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET identity = ?, credential_hash = ?, identity_confirmed = ?, updated_at = ?
		WHERE id = ?
	`, user.Identity, user.CredentialHash, boolInt(user.IdentityConfirmed), user.UpdatedAt.UnixMilli(), user.ID)
	if isUniqueViolation(err) {
		return oops.Code("USER_EXISTS").
			With("identity", user.Identity).
			Wrap(identityflow.ErrIdentityExists)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("user_id", user.ID).
			Wrap(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	if n == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", user.ID).
			Wrap(identityflow.ErrUserNotFound)
	}
	return nil
}

var _ identityflow.UserDirectory = (*Users)(nil)
