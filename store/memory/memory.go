// Package memory implements identityflow.UserDirectory and
// identityflow.TokenStore over process-local maps.
package memory

import (
	"context"
	"sync"

	"github.com/MrEthical07/identityflow"
)

// Store owns one user directory and one token store.
type Store struct {
	users  *Users
	tokens *Tokens
}

func New() *Store {
	return &Store{
		users:  NewUsers(),
		tokens: NewTokens(),
	}
}

func (s *Store) Users() *Users   { return s.users }
func (s *Store) Tokens() *Tokens { return s.tokens }

// Users is an in-memory identityflow.UserDirectory. Identities compare
// case-sensitively.
type Users struct {
	mu         sync.RWMutex
	byIdentity map[string]identityflow.User
	identityOf map[string]string // user id -> identity
}

func NewUsers() *Users {
	return &Users{
		byIdentity: make(map[string]identityflow.User),
		identityOf: make(map[string]string),
	}
}

func (u *Users) FindByIdentity(ctx context.Context, identity string) (identityflow.User, error) {
	if err := ctx.Err(); err != nil {
		return identityflow.User{}, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()

	user, ok := u.byIdentity[identity]
	if !ok {
		return identityflow.User{}, identityflow.ErrUserNotFound
	}
	return user, nil
}

func (u *Users) Insert(ctx context.Context, user identityflow.User) (identityflow.User, error) {
	if err := ctx.Err(); err != nil {
		return identityflow.User{}, err
	}
	if err := user.Validate(); err != nil {
		return identityflow.User{}, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.byIdentity[user.Identity]; ok {
		return identityflow.User{}, identityflow.ErrIdentityExists
	}
	if _, ok := u.identityOf[user.ID]; ok {
		return identityflow.User{}, identityflow.ErrIdentityExists
	}
	u.byIdentity[user.Identity] = user
	u.identityOf[user.ID] = user.Identity
	return user, nil
}

// Update replaces the user with the same ID. Moving to an identity held by
// another user returns ErrIdentityExists.
func (u *Users) Update(ctx context.Context, user identityflow.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := user.Validate(); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	current, ok := u.identityOf[user.ID]
	if !ok {
		return identityflow.ErrUserNotFound
	}
	if current != user.Identity {
		if _, taken := u.byIdentity[user.Identity]; taken {
			return identityflow.ErrIdentityExists
		}
		delete(u.byIdentity, current)
	}
	u.byIdentity[user.Identity] = user
	u.identityOf[user.ID] = user.Identity
	return nil
}

var _ identityflow.UserDirectory = (*Users)(nil)
