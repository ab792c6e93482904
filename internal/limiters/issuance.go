package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrIssuanceRateLimited      = errors.New("issuance rate limited")
	ErrIssuanceRedisUnavailable = errors.New("issuance redis unavailable")
)

type Config struct {
	Prefix           string
	MaxPerWindow     int
	Window           time.Duration
	EnableIPThrottle bool
}

// IssuanceLimiter counts issuance requests in fixed windows: INCR, then
// EXPIRE on the first hit of a window.
type IssuanceLimiter struct {
	redis  redis.UniversalClient
	config Config
}

func NewIssuanceLimiter(redisClient redis.UniversalClient, cfg Config) *IssuanceLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ifi"
	}
	return &IssuanceLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *IssuanceLimiter) Check(ctx context.Context, purpose, identity, ip string) error {
	if l == nil {
		return nil
	}
	// A request rejected by the IP window is not charged to the identity.
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, ipKey(l.config.Prefix, purpose, ip)); err != nil {
			return err
		}
	}
	return l.enforceFixedWindow(ctx, identityKey(l.config.Prefix, purpose, identity))
}

func (l *IssuanceLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIssuanceRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrIssuanceRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxPerWindow) {
		return ErrIssuanceRateLimited
	}

	return nil
}

func identityKey(prefix, purpose, identity string) string {
	return prefix + ":id:" + purpose + ":" + identity
}

func ipKey(prefix, purpose, ip string) string {
	return prefix + ":ip:" + purpose + ":" + ip
}
