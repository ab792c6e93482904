package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/identityflow"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// Users is the PostgreSQL identityflow.UserDirectory.
type Users struct {
	pool poolIface
}

func (r *Users) FindByIdentity(ctx context.Context, identity string) (identityflow.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, identity, credential_hash, identity_confirmed, created_at, updated_at
		FROM users
		WHERE identity = $1
	`, identity)

	var (
		u                    identityflow.User
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&u.ID, &u.Identity, &u.CredentialHash, &u.IdentityConfirmed, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return identityflow.User{}, oops.Code("USER_NOT_FOUND").
			With("identity", identity).
			Wrap(identityflow.ErrUserNotFound)
	}
	if err != nil {
		return identityflow.User{}, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "select user").
			Wrap(err)
	}

	u.CreatedAt = createdAt.UTC()
	u.UpdatedAt = updatedAt.UTC()
	return u, nil
}

func (r *Users) Insert(ctx context.Context, user identityflow.User) (identityflow.User, error) {
	if err := user.Validate(); err != nil {
		return identityflow.User{}, err
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, identity, credential_hash, identity_confirmed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Identity, user.CredentialHash, user.IdentityConfirmed, user.CreatedAt, user.UpdatedAt)
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

	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET identity = $2, credential_hash = $3, identity_confirmed = $4, updated_at = $5
		WHERE id = $1
	`, user.ID, user.Identity, user.CredentialHash, user.IdentityConfirmed, user.UpdatedAt)
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
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", user.ID).
			Wrap(identityflow.ErrUserNotFound)
	}
	return nil
}

var _ identityflow.UserDirectory = (*Users)(nil)
