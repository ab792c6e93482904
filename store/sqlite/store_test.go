package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrEthical07/identityflow"
	"github.com/MrEthical07/identityflow/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "identityflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestUsersContract(t *testing.T) {
	storetest.RunUserDirectory(t, func(t *testing.T) identityflow.UserDirectory {
		return openTestStore(t).Users()
	})
}

func TestTokensContract(t *testing.T) {
	storetest.RunTokenStore(t, func(t *testing.T) identityflow.TokenStore {
		return openTestStore(t).Tokens()
	})
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestTokensDeleteExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Tokens().Insert(ctx, identityflow.Token{
		ID: "expired", Value: "expired-value", Purpose: identityflow.PurposeConfirmation,
		OwnerID: "o", IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.Tokens().Insert(ctx, identityflow.Token{
		ID: "live", Value: "live-value", Purpose: identityflow.PurposeConfirmation,
		OwnerID: "o", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	n, err := s.Tokens().DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUserUpdateToTakenIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	users := s.Users()

	a, err := identityflow.NewUser(identityflow.UserInput{Identity: "a@x.com", CredentialHash: "h"})
	require.NoError(t, err)
	b, err := identityflow.NewUser(identityflow.UserInput{Identity: "b@x.com", CredentialHash: "h"})
	require.NoError(t, err)
	_, err = users.Insert(ctx, a)
	require.NoError(t, err)
	_, err = users.Insert(ctx, b)
	require.NoError(t, err)

	b.Identity = "a@x.com"
	require.ErrorIs(t, users.Update(ctx, b), identityflow.ErrIdentityExists)
}
