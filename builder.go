package identityflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/identityflow/internal/limiters"
	"github.com/MrEthical07/identityflow/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single-use: Build may succeed
// once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	tokenStore TokenStore
	directory  UserDirectory
	hasher     CredentialHasher
	notifier   NotificationSender
	auditSink  AuditSink
	logger     *slog.Logger
	clock      func() time.Time

	tokenRetention time.Duration

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs the token store and the issuance limiter with client,
// unless a token store is set explicitly with WithTokenStore.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTokenRetention sets how long Redis keeps token records past expiry.
func (b *Builder) WithTokenRetention(d time.Duration) *Builder {
	b.tokenRetention = d
	return b
}

func (b *Builder) WithTokenStore(store TokenStore) *Builder {
	b.tokenStore = store
	return b
}

func (b *Builder) WithUserDirectory(dir UserDirectory) *Builder {
	b.directory = dir
	return b
}

// WithCredentialHasher overrides the hasher selected by Config.Password.
func (b *Builder) WithCredentialHasher(h CredentialHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithNotificationSender(s NotificationSender) *Builder {
	b.notifier = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the engine time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
//
// A UserDirectory is required, and so is a token backend: WithTokenStore or
// WithRedis. Without Redis, issuance throttling runs in-process.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.directory == nil {
		return nil, fmt.Errorf("%w: user directory required", ErrInvalidConfig)
	}

	store := b.tokenStore
	if store == nil {
		if b.redis == nil {
			return nil, fmt.Errorf("%w: token store or redis client required", ErrInvalidConfig)
		}
		store = NewRedisTokenStore(b.redis, "", b.tokenRetention)
	}

	hasher := b.hasher
	if hasher == nil {
		h, err := newCredentialHasher(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		hasher = h
	}

	logger := b.logger
	if logger == nil {
		logger = discardLogger
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = undeliveredSender(logger)
	}

	var opts []TokenServiceOption
	if b.clock != nil {
		opts = append(opts, WithClock(b.clock))
	}

	engine := &Engine{
		config:    cloneConfig(cfg),
		tokens:    NewTokenService(store, cfg.Tokens, opts...),
		directory: b.directory,
		hasher:    hasher,
		notifier:  notifier,
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
	}

	if cfg.Issuance.Enabled {
		lcfg := limiters.Config{
			Prefix:           cfg.Issuance.RedisPrefix,
			MaxPerWindow:     cfg.Issuance.MaxPerWindow,
			Window:           cfg.Issuance.Window,
			EnableIPThrottle: cfg.Issuance.EnableIPThrottle,
		}
		if b.redis != nil {
			engine.limiter = limiters.NewIssuanceLimiter(b.redis, lcfg)
		} else {
			engine.limiter = limiters.NewLocalIssuanceLimiter(lcfg)
		}
	}

	b.built = true

	return engine, nil
}

// newCredentialHasher hashes with the configured algorithm and still
// verifies credentials stored under the other one.
func newCredentialHasher(cfg PasswordConfig) (CredentialHasher, error) {
	argon, argonErr := password.NewArgon2(password.Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	bcryptHasher, bcryptErr := password.NewBcrypt(cfg.BcryptCost)

	m := &password.Migrating{}
	if argonErr == nil {
		m.Argon2 = argon
	}
	if bcryptErr == nil {
		m.Bcrypt = bcryptHasher
	}

	switch cfg.Algorithm {
	case PasswordBcrypt:
		if bcryptErr != nil {
			return nil, bcryptErr
		}
		m.Primary = bcryptHasher
	case PasswordArgon2id, "":
		if argonErr != nil {
			return nil, argonErr
		}
		m.Primary = argon
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}
	return m, nil
}

// undeliveredSender stands in when no NotificationSender is configured. It
// records that a notification was produced without logging its payload.
func undeliveredSender(logger *slog.Logger) NotificationSender {
	return NotificationSenderFunc(func(ctx context.Context, user User, templateKey string, _ map[string]string) error {
		logger.WarnContext(ctx, "no notification sender configured",
			slog.String("user_id", user.ID),
			slog.String("template", templateKey),
		)
		return nil
	})
}
