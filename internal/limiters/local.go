package limiters

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const localMaxKeys = 10000

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalIssuanceLimiter is the in-process counterpart of IssuanceLimiter. It
// allows MaxPerWindow issuances per key as a burst, refilled evenly over
// Window. State is per process.
type LocalIssuanceLimiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocalIssuanceLimiter(cfg Config) *LocalIssuanceLimiter {
	return &LocalIssuanceLimiter{
		config:  cfg,
		now:     time.Now,
		entries: make(map[string]*localEntry),
	}
}

func (l *LocalIssuanceLimiter) Check(_ context.Context, purpose, identity, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.EnableIPThrottle && ip != "" {
		if !l.allow(ipKey("local", purpose, ip)) {
			return ErrIssuanceRateLimited
		}
	}
	if !l.allow(identityKey("local", purpose, identity)) {
		return ErrIssuanceRateLimited
	}
	return nil
}

func (l *LocalIssuanceLimiter) allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= localMaxKeys {
			l.evictLocked(now)
		}
		every := l.config.Window / time.Duration(max(l.config.MaxPerWindow, 1))
		e = &localEntry{limiter: rate.NewLimiter(rate.Every(every), l.config.MaxPerWindow)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// evictLocked drops entries idle for longer than one window. Caller holds mu.
func (l *LocalIssuanceLimiter) evictLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.config.Window {
			delete(l.entries, k)
		}
	}
}
