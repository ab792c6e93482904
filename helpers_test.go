package identityflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/identityflow/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
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

func newTestHasher(t *testing.T) *password.Argon2 {
	t.Helper()

	h, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

type mockDirectory struct {
	mu    sync.Mutex
	users map[string]User

	findErr   error
	insertErr error
	updateErr error

	updateCalls int
}

func newMockDirectory(users ...User) *mockDirectory {
	d := &mockDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.Identity] = u
	}
	return d
}

func (d *mockDirectory) FindByIdentity(_ context.Context, identity string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.findErr != nil {
		return User{}, d.findErr
	}
	u, ok := d.users[identity]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (d *mockDirectory) Insert(_ context.Context, user User) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.insertErr != nil {
		return User{}, d.insertErr
	}
	if _, ok := d.users[user.Identity]; ok {
		return User{}, ErrIdentityExists
	}
	d.users[user.Identity] = user
	return user, nil
}

func (d *mockDirectory) Update(_ context.Context, user User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.updateCalls++
	if d.updateErr != nil {
		return d.updateErr
	}
	for identity, existing := range d.users {
		if existing.ID == user.ID {
			delete(d.users, identity)
			d.users[user.Identity] = user
			return nil
		}
	}
	return ErrUserNotFound
}

func (d *mockDirectory) get(identity string) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[identity]
}

type sentNotification struct {
	user        User
	templateKey string
	payload     map[string]string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (s *recordingSender) Send(_ context.Context, user User, templateKey string, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentNotification{user: user, templateKey: templateKey, payload: payload})
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSender) last(t *testing.T) sentNotification {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("expected a notification to have been sent")
	}
	return s.sent[len(s.sent)-1]
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustUser(t *testing.T, hasher CredentialHasher, identity, credential string, confirmed bool) User {
	t.Helper()

	hash, err := hasher.Hash(credential)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	u, err := NewUser(UserInput{
		Identity:          identity,
		CredentialHash:    hash,
		IdentityConfirmed: confirmed,
	})
	if err != nil {
		t.Fatalf("NewUser failed: %v", err)
	}
	return u
}

type testEngineOptions struct {
	config func(*Config)
	clock  *testClock
	sink   AuditSink
	logger *slog.Logger
}

// newTestEngine builds an Engine over miniredis through the public Builder.
func newTestEngine(t *testing.T, dir UserDirectory, sender NotificationSender, opts testEngineOptions) *Engine {
	t.Helper()

	_, rdb := newTestRedis(t)

	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Registration.SendConfirmation = true
	if opts.config != nil {
		opts.config(&cfg)
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(dir).
		WithCredentialHasher(newTestHasher(t)).
		WithNotificationSender(sender)
	if opts.clock != nil {
		b = b.WithClock(opts.clock.Now)
	}
	if opts.sink != nil {
		b = b.WithAuditSink(opts.sink)
	}
	if opts.logger != nil {
		b = b.WithLogger(opts.logger)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

var errBoom = errors.New("boom")

// failingTokenStore fails every call with err.
type failingTokenStore struct {
	err error
}

func (s failingTokenStore) Insert(context.Context, Token) error { return s.err }

func (s failingTokenStore) FindActive(context.Context, string, Purpose, time.Time) ([]Token, error) {
	return nil, s.err
}

func (s failingTokenStore) FindByValueAndPurpose(context.Context, string, Purpose) (Token, error) {
	return Token{}, s.err
}

func (s failingTokenStore) CompareAndMarkUsed(context.Context, string, time.Time) (bool, error) {
	return false, s.err
}

func (s failingTokenStore) MarkRevoked(context.Context, string) error { return s.err }

// sequentialStore hides the TokenRotator capability of the wrapped store.
type sequentialStore struct {
	TokenStore
}
