package identityflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/identityflow/internal"
	"github.com/MrEthical07/identityflow/internal/stores"
	"github.com/redis/go-redis/v9"
)

// RedisTokenStore is the Redis-backed [TokenStore]. Consumption and rotation
// run as Lua scripts, so each is a single atomic step on the server.
type RedisTokenStore struct {
	inner *stores.TokenStore
}

// NewRedisTokenStore builds a RedisTokenStore. An empty prefix selects "ift";
// retention <= 0 keeps records for seven days past expiry.
func NewRedisTokenStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisTokenStore {
	return &RedisTokenStore{inner: stores.NewTokenStore(client, prefix, retention)}
}

func (s *RedisTokenStore) Insert(ctx context.Context, token Token) error {
	return mapRedisTokenError(s.inner.Insert(ctx, toTokenRecord(token)))
}

func (s *RedisTokenStore) RevokeActiveAndInsert(ctx context.Context, token Token, now time.Time) (int, error) {
	n, err := s.inner.RevokeActiveAndInsert(ctx, toTokenRecord(token), now)
	return n, mapRedisTokenError(err)
}

func (s *RedisTokenStore) FindActive(ctx context.Context, ownerID string, purpose Purpose, now time.Time) ([]Token, error) {
	records, err := s.inner.FindActive(ctx, ownerID, string(purpose), now)
	if err != nil {
		return nil, mapRedisTokenError(err)
	}
	out := make([]Token, 0, len(records))
	for _, r := range records {
		out = append(out, fromTokenRecord(r, ""))
	}
	return out, nil
}

func (s *RedisTokenStore) FindByValueAndPurpose(ctx context.Context, value string, purpose Purpose) (Token, error) {
	record, err := s.inner.FindByFingerprint(ctx, string(purpose), internal.FingerprintToken(value))
	if err != nil {
		return Token{}, mapRedisTokenError(err)
	}
	return fromTokenRecord(record, value), nil
}

func (s *RedisTokenStore) CompareAndMarkUsed(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	ok, err := s.inner.CompareAndMarkUsed(ctx, tokenID, now)
	return ok, mapRedisTokenError(err)
}

func (s *RedisTokenStore) MarkRevoked(ctx context.Context, tokenID string) error {
	return mapRedisTokenError(s.inner.MarkRevoked(ctx, tokenID))
}

func toTokenRecord(t Token) stores.TokenRecord {
	return stores.TokenRecord{
		ID:          t.ID,
		Fingerprint: internal.FingerprintToken(t.Value),
		OwnerID:     t.OwnerID,
		Purpose:     string(t.Purpose),
		IssuedAt:    t.IssuedAt,
		ExpiresAt:   t.ExpiresAt,
		Used:        t.Used,
		Revoked:     t.Revoked,
	}
}

func fromTokenRecord(r stores.TokenRecord, value string) Token {
	return Token{
		ID:        r.ID,
		Value:     value,
		Purpose:   Purpose(r.Purpose),
		OwnerID:   r.OwnerID,
		IssuedAt:  r.IssuedAt,
		ExpiresAt: r.ExpiresAt,
		Used:      r.Used,
		Revoked:   r.Revoked,
	}
}

func mapRedisTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrTokenNotFound), errors.Is(err, redis.Nil):
		return ErrTokenNotFound
	case errors.Is(err, stores.ErrTokenExists):
		return ErrTokenExists
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrTokenStoreUnavailable, err)
	}
}
