package identityflow

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/identityflow/internal"
)

// Config is the full engine configuration. Build copies it, so changes made
// after Build have no effect on the Engine.
type Config struct {
	Tokens        TokenConfig        `koanf:"tokens"`
	Links         LinkConfig         `koanf:"links"`
	Notifications NotificationConfig `koanf:"notifications"`
	Registration  RegistrationConfig `koanf:"registration"`
	Password      PasswordConfig     `koanf:"password"`
	Issuance      IssuanceConfig     `koanf:"issuance"`
	Audit         AuditConfig        `koanf:"audit"`
	Metrics       MetricsConfig      `koanf:"metrics"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig carries the per-purpose lifetimes and the token entropy size.
type TokenConfig struct {
	ConfirmationTTL  time.Duration `koanf:"confirmation_ttl"`
	PasswordResetTTL time.Duration `koanf:"password_reset_ttl"`
	// EntropyBytes is the number of random bytes per token value (>= 16).
	EntropyBytes int `koanf:"entropy_bytes"`
}

// TTL returns the lifetime configured for p, or 0 when p has none.
func (c TokenConfig) TTL(p Purpose) time.Duration {
	switch p {
	case PurposeConfirmation:
		return c.ConfirmationTTL
	case PurposePasswordReset:
		return c.PasswordResetTTL
	default:
		return 0
	}
}

/*
====================================
LINK / NOTIFICATION CONFIG
====================================
*/

// LinkConfig controls the URLs embedded in notifications.
type LinkConfig struct {
	BaseURL          string `koanf:"base_url"`
	ConfirmationPath string `koanf:"confirmation_path"`
	RecoveryPath     string `koanf:"recovery_path"`
}

// NotificationConfig names the templates handed to the NotificationSender.
// TemplatePath and Locale are consumed by template-rendering senders.
type NotificationConfig struct {
	TemplatePath         string `koanf:"template_path"`
	Locale               string `koanf:"locale"`
	ConfirmationTemplate string `koanf:"confirmation_template"`
	RecoveryTemplate     string `koanf:"recovery_template"`
}

// RegistrationConfig controls what Register does after inserting a user.
type RegistrationConfig struct {
	SendConfirmation bool `koanf:"send_confirmation"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordAlgorithm selects the CredentialHasher built by Builder.
type PasswordAlgorithm string

const (
	PasswordArgon2id PasswordAlgorithm = "argon2id"
	PasswordBcrypt   PasswordAlgorithm = "bcrypt"
)

// PasswordConfig tunes the hasher built by Builder. The Argon2 fields apply
// to argon2id; BcryptCost applies to bcrypt.
type PasswordConfig struct {
	Algorithm   PasswordAlgorithm `koanf:"algorithm"`
	Memory      uint32            `koanf:"memory"` // in KB
	Time        uint32            `koanf:"time"`
	Parallelism uint8             `koanf:"parallelism"`
	SaltLength  uint32            `koanf:"salt_length"`
	KeyLength   uint32            `koanf:"key_length"`
	BcryptCost  int               `koanf:"bcrypt_cost"`
}

/*
====================================
ISSUANCE / AUDIT / METRICS CONFIG
====================================
*/

// IssuanceConfig throttles token issuance per (purpose, identity) and,
// optionally, per client IP.
type IssuanceConfig struct {
	Enabled          bool          `koanf:"enabled"`
	MaxPerWindow     int           `koanf:"max_per_window"`
	Window           time.Duration `koanf:"window"`
	EnableIPThrottle bool          `koanf:"enable_ip_throttle"`
	RedisPrefix      string        `koanf:"redis_prefix"`
}

type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	DropIfFull bool `koanf:"drop_if_full"`
}

// MetricsConfig enables the in-process counters read by the exporters.
type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"enable_latency_histograms"`
}

// DefaultConfig returns the baseline configuration used by [New].
func DefaultConfig() Config {
	return Config{
		Tokens: TokenConfig{
			ConfirmationTTL:  24 * time.Hour,
			PasswordResetTTL: time.Hour,
			EntropyBytes:     32,
		},
		Links: LinkConfig{
			BaseURL:          "http://localhost:8080/",
			ConfirmationPath: "user/confirmation/confirm",
			RecoveryPath:     "user/recover-password/change",
		},
		Notifications: NotificationConfig{
			TemplatePath:         "templates/",
			Locale:               "en",
			ConfirmationTemplate: TemplateIdentityConfirmation,
			RecoveryTemplate:     TemplateRecoverPassword,
		},
		Registration: RegistrationConfig{
			SendConfirmation: true,
		},
		Password: PasswordConfig{
			Algorithm:   PasswordArgon2id,
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			BcryptCost:  12,
		},
		Issuance: IssuanceConfig{
			Enabled:          false,
			MaxPerWindow:     5,
			Window:           15 * time.Minute,
			EnableIPThrottle: false,
			RedisPrefix:      "ifi",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

// Validate reports the first invalid field, wrapped in [ErrInvalidConfig].
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	// Tokens
	if c.Tokens.ConfirmationTTL <= 0 {
		return errors.New("Tokens ConfirmationTTL must be > 0")
	}
	if c.Tokens.PasswordResetTTL <= 0 {
		return errors.New("Tokens PasswordResetTTL must be > 0")
	}
	if c.Tokens.EntropyBytes < internal.MinTokenBytes {
		return fmt.Errorf("Tokens EntropyBytes must be >= %d", internal.MinTokenBytes)
	}

	// Links
	if strings.TrimSpace(c.Links.BaseURL) == "" {
		return errors.New("Links BaseURL must be set")
	}
	u, err := url.Parse(c.Links.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("Links BaseURL must be an absolute URL")
	}
	if c.Links.ConfirmationPath == "" || c.Links.RecoveryPath == "" {
		return errors.New("Links ConfirmationPath and RecoveryPath must be set")
	}

	// Notifications
	if c.Notifications.ConfirmationTemplate == "" || c.Notifications.RecoveryTemplate == "" {
		return errors.New("Notifications templates must be set")
	}

	// Password
	switch c.Password.Algorithm {
	case PasswordArgon2id:
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			return errors.New("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			return errors.New("Password Parallelism must be >= 1")
		}
		if c.Password.SaltLength < 16 {
			return errors.New("Password SaltLength must be >= 16")
		}
		if c.Password.KeyLength < 16 {
			return errors.New("Password KeyLength must be >= 16")
		}
	case PasswordBcrypt:
		if c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31 {
			return errors.New("Password BcryptCost must be in [10,31]")
		}
	default:
		return errors.New("unsupported Password Algorithm")
	}

	// Issuance
	if c.Issuance.Enabled {
		if c.Issuance.MaxPerWindow <= 0 {
			return errors.New("Issuance MaxPerWindow must be > 0")
		}
		if c.Issuance.Window <= 0 {
			return errors.New("Issuance Window must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
