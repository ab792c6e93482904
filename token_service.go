package identityflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/identityflow/internal"
)

// TokenService issues and checks purpose-bound single-use tokens on top of a
// [TokenStore]. It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	store TokenStore
	cfg   TokenConfig
	now   func() time.Time
}

// TokenServiceOption customizes a TokenService.
type TokenServiceOption func(*TokenService)

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService builds a TokenService. cfg supplies the per-purpose TTLs.
func NewTokenService(store TokenStore, cfg TokenConfig, opts ...TokenServiceOption) *TokenService {
	if cfg.EntropyBytes == 0 {
		cfg.EntropyBytes = DefaultConfig().Tokens.EntropyBytes
	}
	s := &TokenService{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate creates and persists a new token for (user, purpose).
//
// With revokePrior set, every active token of the same (user, purpose) is
// revoked before the new one becomes visible: atomically when the store
// implements [TokenRotator], otherwise revoke-then-insert in sequence.
func (s *TokenService) Generate(ctx context.Context, user User, purpose Purpose, revokePrior bool) (Token, error) {
	token, _, err := s.generate(ctx, user, purpose, revokePrior)
	return token, err
}

// generate is Generate plus the number of prior tokens it revoked.
func (s *TokenService) generate(ctx context.Context, user User, purpose Purpose, revokePrior bool) (Token, int, error) {
	if s == nil || s.store == nil {
		return Token{}, 0, ErrEngineNotReady
	}
	if user.ID == "" {
		return Token{}, 0, ErrInvalidUser
	}
	ttl := s.cfg.TTL(purpose)
	if ttl <= 0 {
		return Token{}, 0, ErrUnknownPurpose
	}

	value, err := internal.NewTokenValue(s.cfg.EntropyBytes)
	if err != nil {
		return Token{}, 0, err
	}

	now := s.now().UTC()
	token := Token{
		ID:        internal.NewTokenID(),
		Value:     value,
		Purpose:   purpose,
		OwnerID:   user.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	if !revokePrior {
		if err := s.store.Insert(ctx, token); err != nil {
			return Token{}, 0, wrapTokenStoreError(err)
		}
		return token, 0, nil
	}

	if rotator, ok := s.store.(TokenRotator); ok {
		revoked, err := rotator.RevokeActiveAndInsert(ctx, token, now)
		if err != nil {
			return Token{}, 0, wrapTokenStoreError(err)
		}
		return token, revoked, nil
	}

	revoked, err := s.RevokeActive(ctx, user, purpose)
	if err != nil {
		return Token{}, 0, err
	}
	if err := s.store.Insert(ctx, token); err != nil {
		return Token{}, revoked, wrapTokenStoreError(err)
	}
	return token, revoked, nil
}

// RevokeActive revokes every active token of (user, purpose) and returns how
// many were revoked.
func (s *TokenService) RevokeActive(ctx context.Context, user User, purpose Purpose) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrEngineNotReady
	}

	active, err := s.store.FindActive(ctx, user.ID, purpose, s.now().UTC())
	if err != nil {
		return 0, wrapTokenStoreError(err)
	}
	revoked := 0
	for _, t := range active {
		if err := s.store.MarkRevoked(ctx, t.ID); err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				continue
			}
			return revoked, wrapTokenStoreError(err)
		}
		revoked++
	}
	return revoked, nil
}

// CheckToken reports whether value is a valid token of purpose owned by user.
//
// Checks run in order and short-circuit: exists, purpose, owner, not revoked,
// not used, not expired. With consume set, a valid token is marked used by a
// single conditional update; of concurrent consumers exactly one gets true.
//
// Validity failures return (false, nil). Only storage faults return an error.
func (s *TokenService) CheckToken(ctx context.Context, user User, value string, purpose Purpose, consume bool) (bool, error) {
	v, err := s.check(ctx, user, value, purpose, consume)
	if err != nil {
		return false, err
	}
	return v == verdictValid, nil
}

// tokenVerdict names the first check a presented token failed. It never
// leaves the package: callers only see valid or invalid.
type tokenVerdict int

const (
	verdictValid tokenVerdict = iota
	verdictMalformed
	verdictNotFound
	verdictWrongPurpose
	verdictWrongOwner
	verdictRevoked
	verdictUsed
	verdictExpired
	// verdictRaceLost: the token passed every check but another consumer
	// flipped it first.
	verdictRaceLost
)

func (v tokenVerdict) replay() bool {
	return v == verdictUsed || v == verdictRaceLost
}

func (s *TokenService) check(ctx context.Context, user User, value string, purpose Purpose, consume bool) (tokenVerdict, error) {
	if s == nil || s.store == nil {
		return verdictMalformed, ErrEngineNotReady
	}
	if value == "" || user.ID == "" || !purpose.Valid() {
		return verdictMalformed, nil
	}

	token, err := s.store.FindByValueAndPurpose(ctx, value, purpose)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return verdictNotFound, nil
		}
		return verdictMalformed, wrapTokenStoreError(err)
	}

	now := s.now().UTC()
	switch {
	case token.Purpose != purpose:
		return verdictWrongPurpose, nil
	case token.OwnerID != user.ID:
		return verdictWrongOwner, nil
	case token.Revoked:
		return verdictRevoked, nil
	case token.Used:
		return verdictUsed, nil
	case !now.Before(token.ExpiresAt):
		return verdictExpired, nil
	}

	if !consume {
		return verdictValid, nil
	}

	ok, err := s.store.CompareAndMarkUsed(ctx, token.ID, now)
	if err != nil {
		return verdictMalformed, wrapTokenStoreError(err)
	}
	if !ok {
		return verdictRaceLost, nil
	}
	return verdictValid, nil
}

func wrapTokenStoreError(err error) error {
	if errors.Is(err, ErrTokenStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTokenStoreUnavailable, err)
}
