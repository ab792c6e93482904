package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenRecordVersionV1 = "1"

	defaultTokenPrefix    = "ift"
	defaultTokenRetention = 7 * 24 * time.Hour
)

var (
	ErrTokenNotFound         = errors.New("token record not found")
	ErrTokenExists           = errors.New("token record already exists")
	ErrTokenRedisUnavailable = errors.New("token redis unavailable")
)

// Key layout:
//
//	<prefix>:v:<purpose>:<fingerprint>  HASH   token record
//	<prefix>:id:<tokenID>               STRING record key
//	<prefix>:a:<ownerID>:<purpose>      SET    token IDs not yet used or revoked
//
// The scripts below touch keys derived from stored values, so the store
// requires a non-cluster Redis deployment.

// insertTokenLua writes a new record, its id pointer and active-set entry.
// KEYS[1] = record key, KEYS[2] = id key, KEYS[3] = active set key
// ARGV    = id, owner, purpose, issued_ms, expires_ms, retention_ms
var insertTokenLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {err='token_exists'}
end
redis.call('HSET', KEYS[1],
  'v', '1', 'id', ARGV[1], 'owner', ARGV[2], 'purpose', ARGV[3],
  'issued', ARGV[4], 'expires', ARGV[5], 'used', '0', 'revoked', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[6])
redis.call('SET', KEYS[2], KEYS[1], 'PX', ARGV[6])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('PEXPIRE', KEYS[3], ARGV[6])
return 1
`)

// rotateTokenLua revokes every active token in the owner's active set, then
// performs the insert above, all within one script execution.
// KEYS as insertTokenLua; ARGV as insertTokenLua plus ARGV[7] = now_ms,
// ARGV[8] = key prefix.
var rotateTokenLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {err='token_exists'}
end
local now = tonumber(ARGV[7])
local revoked = 0
local ids = redis.call('SMEMBERS', KEYS[3])
for _, id in ipairs(ids) do
  local rk = redis.call('GET', ARGV[8] .. ':id:' .. id)
  if rk then
    local st = redis.call('HMGET', rk, 'used', 'revoked', 'expires')
    if st[1] == '0' and st[2] == '0' and tonumber(st[3]) > now then
      redis.call('HSET', rk, 'revoked', '1')
      revoked = revoked + 1
    end
  end
  redis.call('SREM', KEYS[3], id)
end
redis.call('HSET', KEYS[1],
  'v', '1', 'id', ARGV[1], 'owner', ARGV[2], 'purpose', ARGV[3],
  'issued', ARGV[4], 'expires', ARGV[5], 'used', '0', 'revoked', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[6])
redis.call('SET', KEYS[2], KEYS[1], 'PX', ARGV[6])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('PEXPIRE', KEYS[3], ARGV[6])
return revoked
`)

// consumeTokenLua flips used 0->1 iff the record is unused, unrevoked and
// unexpired. Returns 1 when this call performed the flip, 0 otherwise.
// KEYS[1] = id key
// ARGV[1] = now_ms, ARGV[2] = key prefix
var consumeTokenLua = redis.NewScript(`
local rk = redis.call('GET', KEYS[1])
if not rk then
  return 0
end
local st = redis.call('HMGET', rk, 'used', 'revoked', 'expires', 'owner', 'purpose', 'id')
if not st[1] then
  return 0
end
if st[1] ~= '0' or st[2] ~= '0' then
  return 0
end
if tonumber(ARGV[1]) >= tonumber(st[3]) then
  return 0
end
redis.call('HSET', rk, 'used', '1')
redis.call('SREM', ARGV[2] .. ':a:' .. st[4] .. ':' .. st[5], st[6])
return 1
`)

// revokeTokenLua marks a record revoked. Returns 0 when the id is unknown.
// KEYS[1] = id key
// ARGV[1] = key prefix
var revokeTokenLua = redis.NewScript(`
local rk = redis.call('GET', KEYS[1])
if not rk then
  return 0
end
local st = redis.call('HMGET', rk, 'owner', 'purpose', 'id')
if not st[1] then
  return 0
end
redis.call('HSET', rk, 'revoked', '1')
redis.call('SREM', ARGV[1] .. ':a:' .. st[1] .. ':' .. st[2], st[3])
return 1
`)

// TokenRecord is the Redis view of a token. Fingerprint replaces the value.
type TokenRecord struct {
	ID          string
	Fingerprint string
	OwnerID     string
	Purpose     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Used        bool
	Revoked     bool
}

type TokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewTokenStore builds a store. retention is how long records outlive their
// expiry before Redis drops them; zero selects seven days.
func NewTokenStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *TokenStore {
	if prefix == "" {
		prefix = defaultTokenPrefix
	}
	if retention <= 0 {
		retention = defaultTokenRetention
	}
	return &TokenStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *TokenStore) recordKey(purpose, fingerprint string) string {
	return s.prefix + ":v:" + purpose + ":" + fingerprint
}

func (s *TokenStore) idKey(tokenID string) string {
	return s.prefix + ":id:" + tokenID
}

func (s *TokenStore) activeKey(ownerID, purpose string) string {
	return s.prefix + ":a:" + ownerID + ":" + purpose
}

func (s *TokenStore) writeArgs(record TokenRecord) (keys []string, args []any) {
	// TTLs follow the record's own timestamps, not the wall clock.
	lifetime := record.ExpiresAt.Sub(record.IssuedAt)
	if record.IssuedAt.IsZero() || lifetime < 0 {
		lifetime = 0
	}
	keepFor := lifetime + s.retention
	keys = []string{
		s.recordKey(record.Purpose, record.Fingerprint),
		s.idKey(record.ID),
		s.activeKey(record.OwnerID, record.Purpose),
	}
	args = []any{
		record.ID,
		record.OwnerID,
		record.Purpose,
		record.IssuedAt.UnixMilli(),
		record.ExpiresAt.UnixMilli(),
		keepFor.Milliseconds(),
	}
	return keys, args
}

func (s *TokenStore) Insert(ctx context.Context, record TokenRecord) error {
	keys, args := s.writeArgs(record)
	if err := insertTokenLua.Run(ctx, s.redis, keys, args...).Err(); err != nil {
		return mapScriptError(err)
	}
	return nil
}

// RevokeActiveAndInsert revokes the owner's active records of the same
// purpose and inserts record in a single script execution.
func (s *TokenStore) RevokeActiveAndInsert(ctx context.Context, record TokenRecord, now time.Time) (int, error) {
	keys, args := s.writeArgs(record)
	args = append(args, now.UnixMilli(), s.prefix)

	revoked, err := rotateTokenLua.Run(ctx, s.redis, keys, args...).Int()
	if err != nil {
		return 0, mapScriptError(err)
	}
	return revoked, nil
}

func (s *TokenStore) FindByFingerprint(ctx context.Context, purpose, fingerprint string) (TokenRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(purpose, fingerprint)).Result()
	if err != nil {
		return TokenRecord{}, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return TokenRecord{}, ErrTokenNotFound
	}

	record, err := decodeTokenRecord(fields)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	record.Fingerprint = fingerprint
	return record, nil
}

// FindActive returns the owner's records of purpose that are unused,
// unrevoked and unexpired at now.
func (s *TokenStore) FindActive(ctx context.Context, ownerID, purpose string, now time.Time) ([]TokenRecord, error) {
	ids, err := s.redis.SMembers(ctx, s.activeKey(ownerID, purpose)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pointers := make([]*redis.StringCmd, len(ids))
	if _, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			pointers[i] = p.Get(ctx, s.idKey(id))
		}
		return nil
	}); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}

	out := make([]TokenRecord, 0, len(ids))
	for _, ptr := range pointers {
		recordKey, err := ptr.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
		}

		fields, err := s.redis.HGetAll(ctx, recordKey).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
		}
		if len(fields) == 0 {
			continue
		}
		record, err := decodeTokenRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
		}
		if record.Used || record.Revoked || !now.Before(record.ExpiresAt) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *TokenStore) CompareAndMarkUsed(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	n, err := consumeTokenLua.Run(ctx, s.redis, []string{s.idKey(tokenID)}, now.UnixMilli(), s.prefix).Int()
	if err != nil {
		return false, mapScriptError(err)
	}
	return n == 1, nil
}

func (s *TokenStore) MarkRevoked(ctx context.Context, tokenID string) error {
	n, err := revokeTokenLua.Run(ctx, s.redis, []string{s.idKey(tokenID)}, s.prefix).Int()
	if err != nil {
		return mapScriptError(err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func mapScriptError(err error) error {
	if err.Error() == "token_exists" {
		return ErrTokenExists
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
}

func decodeTokenRecord(fields map[string]string) (TokenRecord, error) {
	if fields["v"] != tokenRecordVersionV1 {
		return TokenRecord{}, errors.New("invalid token record version")
	}

	issued, err := strconv.ParseInt(fields["issued"], 10, 64)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("decode issued: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("decode expires: %w", err)
	}

	return TokenRecord{
		ID:        fields["id"],
		OwnerID:   fields["owner"],
		Purpose:   fields["purpose"],
		IssuedAt:  time.UnixMilli(issued).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
		Used:      fields["used"] == "1",
		Revoked:   fields["revoked"] == "1",
	}, nil
}
