// Package storetest is the behavioural contract shared by every
// UserDirectory and TokenStore backend. Backends call RunUserDirectory and
// RunTokenStore from their own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/identityflow"
	"github.com/MrEthical07/identityflow/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backends may store timestamps at millisecond precision.
const timeTolerance = time.Millisecond

func newUser(t *testing.T, identity string) identityflow.User {
	t.Helper()
	u, err := identityflow.NewUser(identityflow.UserInput{
		Identity:       identity,
		CredentialHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	})
	require.NoError(t, err)
	return u
}

func newToken(t *testing.T, ownerID string, purpose identityflow.Purpose, now time.Time, ttl time.Duration) identityflow.Token {
	t.Helper()
	value, err := internal.NewTokenValue(internal.MinTokenBytes)
	require.NoError(t, err)
	return identityflow.Token{
		ID:        internal.NewTokenID(),
		Value:     value,
		Purpose:   purpose,
		OwnerID:   ownerID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// RunUserDirectory runs the directory contract against stores built by
// newDirectory. Each subtest gets a fresh, empty directory.
func RunUserDirectory(t *testing.T, newDirectory func(t *testing.T) identityflow.UserDirectory) {
	t.Run("find unknown identity", func(t *testing.T) {
		dir := newDirectory(t)
		_, err := dir.FindByIdentity(context.Background(), "nobody@x.com")
		require.ErrorIs(t, err, identityflow.ErrUserNotFound)
	})

	t.Run("insert then find", func(t *testing.T) {
		dir := newDirectory(t)
		ctx := context.Background()
		u := newUser(t, "u@x.com")

		stored, err := dir.Insert(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, u.ID, stored.ID)

		got, err := dir.FindByIdentity(ctx, "u@x.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, u.Identity, got.Identity)
		assert.Equal(t, u.CredentialHash, got.CredentialHash)
		assert.False(t, got.IdentityConfirmed)
		assert.WithinDuration(t, u.CreatedAt, got.CreatedAt, timeTolerance)
	})

	t.Run("insert duplicate identity", func(t *testing.T) {
		dir := newDirectory(t)
		ctx := context.Background()

		_, err := dir.Insert(ctx, newUser(t, "dup@x.com"))
		require.NoError(t, err)
		_, err = dir.Insert(ctx, newUser(t, "dup@x.com"))
		require.ErrorIs(t, err, identityflow.ErrIdentityExists)
	})

	t.Run("update confirmation and credential", func(t *testing.T) {
		dir := newDirectory(t)
		ctx := context.Background()
		u, err := dir.Insert(ctx, newUser(t, "u@x.com"))
		require.NoError(t, err)

		u.IdentityConfirmed = true
		u.CredentialHash = "$argon2id$v=19$m=8192,t=1,p=1$bmV3$bmV3aGFzaA"
		u.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, dir.Update(ctx, u))

		got, err := dir.FindByIdentity(ctx, "u@x.com")
		require.NoError(t, err)
		assert.True(t, got.IdentityConfirmed)
		assert.Equal(t, u.CredentialHash, got.CredentialHash)
		assert.WithinDuration(t, u.UpdatedAt, got.UpdatedAt, timeTolerance)
	})

	t.Run("update unknown user", func(t *testing.T) {
		dir := newDirectory(t)
		err := dir.Update(context.Background(), newUser(t, "ghost@x.com"))
		require.ErrorIs(t, err, identityflow.ErrUserNotFound)
	})
}

// RunTokenStore runs the token store contract against stores built by
// newStore. Each subtest gets a fresh, empty store.
func RunTokenStore(t *testing.T, newStore func(t *testing.T) identityflow.TokenStore) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("insert then find by value", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tok := newToken(t, "owner-1", identityflow.PurposeConfirmation, now, time.Hour)
		require.NoError(t, s.Insert(ctx, tok))

		got, err := s.FindByValueAndPurpose(ctx, tok.Value, identityflow.PurposeConfirmation)
		require.NoError(t, err)
		assert.Equal(t, tok.ID, got.ID)
		assert.Equal(t, tok.Value, got.Value)
		assert.Equal(t, tok.OwnerID, got.OwnerID)
		assert.Equal(t, tok.Purpose, got.Purpose)
		assert.WithinDuration(t, tok.ExpiresAt, got.ExpiresAt, timeTolerance)
		assert.False(t, got.Used)
		assert.False(t, got.Revoked)
	})

	t.Run("purpose isolation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tok := newToken(t, "owner-1", identityflow.PurposeConfirmation, now, time.Hour)
		require.NoError(t, s.Insert(ctx, tok))

		_, err := s.FindByValueAndPurpose(ctx, tok.Value, identityflow.PurposePasswordReset)
		require.ErrorIs(t, err, identityflow.ErrTokenNotFound)
		_, err = s.FindByValueAndPurpose(ctx, "unknown-value", identityflow.PurposeConfirmation)
		require.ErrorIs(t, err, identityflow.ErrTokenNotFound)
	})

	t.Run("duplicate value rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tok := newToken(t, "owner-1", identityflow.PurposeConfirmation, now, time.Hour)
		require.NoError(t, s.Insert(ctx, tok))

		dup := tok
		dup.ID = internal.NewTokenID()
		require.ErrorIs(t, s.Insert(ctx, dup), identityflow.ErrTokenExists)
	})

	t.Run("find active skips used revoked and expired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		active := newToken(t, "owner-1", identityflow.PurposePasswordReset, now, time.Hour)
		used := newToken(t, "owner-1", identityflow.PurposePasswordReset, now, time.Hour)
		revoked := newToken(t, "owner-1", identityflow.PurposePasswordReset, now, time.Hour)
		expired := newToken(t, "owner-1", identityflow.PurposePasswordReset, now.Add(-2*time.Hour), time.Hour)
		other := newToken(t, "owner-2", identityflow.PurposePasswordReset, now, time.Hour)
		for _, tok := range []identityflow.Token{active, used, revoked, expired, other} {
			require.NoError(t, s.Insert(ctx, tok))
		}

		ok, err := s.CompareAndMarkUsed(ctx, used.ID, now)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.MarkRevoked(ctx, revoked.ID))

		got, err := s.FindActive(ctx, "owner-1", identityflow.PurposePasswordReset, now)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, active.ID, got[0].ID)

		got, err = s.FindActive(ctx, "owner-1", identityflow.PurposeConfirmation, now)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("compare and mark used flips once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tok := newToken(t, "owner-1", identityflow.PurposeConfirmation, now, time.Hour)
		require.NoError(t, s.Insert(ctx, tok))

		ok, err := s.CompareAndMarkUsed(ctx, tok.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.CompareAndMarkUsed(ctx, tok.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.FindByValueAndPurpose(ctx, tok.Value, identityflow.PurposeConfirmation)
		require.NoError(t, err)
		assert.True(t, got.Used)

		ok, err = s.CompareAndMarkUsed(ctx, internal.NewTokenID(), now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired and revoked tokens are not consumable", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tok := newToken(t, "owner-1", identityflow.PurposeConfirmation, now, time.Minute)
		require.NoError(t, s.Insert(ctx, tok))

		ok, err := s.CompareAndMarkUsed(ctx, tok.ID, tok.ExpiresAt)
		require.NoError(t, err)
		assert.False(t, ok, "expiry is exclusive")

		revoked := newToken(t, "owner-1", identityflow.PurposeConfirmation, now, time.Hour)
		require.NoError(t, s.Insert(ctx, revoked))
		require.NoError(t, s.MarkRevoked(ctx, revoked.ID))
		ok, err = s.CompareAndMarkUsed(ctx, revoked.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("mark revoked unknown id", func(t *testing.T) {
		s := newStore(t)
		err := s.MarkRevoked(context.Background(), internal.NewTokenID())
		require.ErrorIs(t, err, identityflow.ErrTokenNotFound)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tok := newToken(t, "owner-1", identityflow.PurposePasswordReset, now, time.Hour)
		require.NoError(t, s.Insert(ctx, tok))

		const workers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				ok, err := s.CompareAndMarkUsed(ctx, tok.ID, now)
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("rotation revokes prior tokens", func(t *testing.T) {
		s := newStore(t)
		rotator, ok := s.(identityflow.TokenRotator)
		if !ok {
			t.Skip("store does not rotate atomically")
		}
		ctx := context.Background()

		first := newToken(t, "owner-1", identityflow.PurposePasswordReset, now, time.Hour)
		second := newToken(t, "owner-1", identityflow.PurposePasswordReset, now, time.Hour)
		foreign := newToken(t, "owner-1", identityflow.PurposeConfirmation, now, time.Hour)
		for _, tok := range []identityflow.Token{first, second, foreign} {
			require.NoError(t, s.Insert(ctx, tok))
		}

		next := newToken(t, "owner-1", identityflow.PurposePasswordReset, now, time.Hour)
		revoked, err := rotator.RevokeActiveAndInsert(ctx, next, now)
		require.NoError(t, err)
		assert.Equal(t, 2, revoked)

		got, err := s.FindActive(ctx, "owner-1", identityflow.PurposePasswordReset, now)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, next.ID, got[0].ID)

		got, err = s.FindActive(ctx, "owner-1", identityflow.PurposeConfirmation, now)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}
