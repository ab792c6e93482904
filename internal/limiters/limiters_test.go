package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestIssuanceLimiterFixedWindow(t *testing.T) {
	mr, client := newRedis(t)
	l := NewIssuanceLimiter(client, Config{MaxPerWindow: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Check(ctx, "password_reset", "u@x.com", ""); err != nil {
			t.Fatalf("check #%d failed: %v", i, err)
		}
	}
	if err := l.Check(ctx, "password_reset", "u@x.com", ""); !errors.Is(err, ErrIssuanceRateLimited) {
		t.Fatalf("expected ErrIssuanceRateLimited, got %v", err)
	}
	if err := l.Check(ctx, "confirmation", "u@x.com", ""); err != nil {
		t.Fatalf("other purpose must not be limited: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Check(ctx, "password_reset", "u@x.com", ""); err != nil {
		t.Fatalf("expected a fresh window, got %v", err)
	}
}

func TestIssuanceLimiterIPThrottle(t *testing.T) {
	_, client := newRedis(t)
	l := NewIssuanceLimiter(client, Config{MaxPerWindow: 1, Window: time.Minute, EnableIPThrottle: true})
	ctx := context.Background()

	if err := l.Check(ctx, "confirmation", "a@x.com", "198.51.100.1"); err != nil {
		t.Fatalf("first check failed: %v", err)
	}
	if err := l.Check(ctx, "confirmation", "b@x.com", "198.51.100.1"); !errors.Is(err, ErrIssuanceRateLimited) {
		t.Fatalf("expected ip throttle, got %v", err)
	}
}

type issuanceChecker interface {
	Check(ctx context.Context, purpose, identity, ip string) error
}

// assertThrottledIPSparesIdentity exhausts one IP's window and checks that the
// rejected request did not count against the identity it named.
func assertThrottledIPSparesIdentity(t *testing.T, l issuanceChecker) {
	t.Helper()
	ctx := context.Background()
	const noisyIP = "203.0.113.9"

	if err := l.Check(ctx, "password_reset", "victim@x.com", noisyIP); err != nil {
		t.Fatalf("first check failed: %v", err)
	}
	if err := l.Check(ctx, "password_reset", "other@x.com", noisyIP); err != nil {
		t.Fatalf("second check failed: %v", err)
	}
	if err := l.Check(ctx, "password_reset", "victim@x.com", noisyIP); !errors.Is(err, ErrIssuanceRateLimited) {
		t.Fatalf("expected ip throttle, got %v", err)
	}
	if err := l.Check(ctx, "password_reset", "victim@x.com", "198.51.100.7"); err != nil {
		t.Fatalf("throttled ip consumed the identity quota: %v", err)
	}
}

func TestIssuanceLimiterThrottledIPSparesIdentity(t *testing.T) {
	_, client := newRedis(t)
	assertThrottledIPSparesIdentity(t, NewIssuanceLimiter(client, Config{MaxPerWindow: 2, Window: time.Minute, EnableIPThrottle: true}))
}

func TestLocalIssuanceLimiterThrottledIPSparesIdentity(t *testing.T) {
	l := NewLocalIssuanceLimiter(Config{MaxPerWindow: 2, Window: time.Minute, EnableIPThrottle: true})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	assertThrottledIPSparesIdentity(t, l)
}

func TestIssuanceLimiterRedisDown(t *testing.T) {
	mr, client := newRedis(t)
	l := NewIssuanceLimiter(client, Config{MaxPerWindow: 1, Window: time.Minute})
	mr.Close()

	if err := l.Check(context.Background(), "confirmation", "a@x.com", ""); !errors.Is(err, ErrIssuanceRedisUnavailable) {
		t.Fatalf("expected ErrIssuanceRedisUnavailable, got %v", err)
	}
}

func TestLocalIssuanceLimiter(t *testing.T) {
	l := NewLocalIssuanceLimiter(Config{MaxPerWindow: 2, Window: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Check(ctx, "password_reset", "u@x.com", ""); err != nil {
			t.Fatalf("check #%d failed: %v", i, err)
		}
	}
	if err := l.Check(ctx, "password_reset", "u@x.com", ""); !errors.Is(err, ErrIssuanceRateLimited) {
		t.Fatalf("expected ErrIssuanceRateLimited, got %v", err)
	}

	now = now.Add(31 * time.Second)
	if err := l.Check(ctx, "password_reset", "u@x.com", ""); err != nil {
		t.Fatalf("expected one token refilled, got %v", err)
	}
}

func TestNilLimitersAllow(t *testing.T) {
	var r *IssuanceLimiter
	var l *LocalIssuanceLimiter
	if r.Check(context.Background(), "p", "i", "") != nil || l.Check(context.Background(), "p", "i", "") != nil {
		t.Fatal("nil limiters must allow")
	}
}
