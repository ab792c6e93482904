package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16

	argon2Prefix = "$argon2id$"
)

// Config holds the argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxBytes caps plaintext length; 0 selects DefaultMaxBytes.
	MaxBytes int
}

// Argon2 hashes with argon2id. It is safe for concurrent use.
type Argon2 struct {
	config Config
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Argon2{config: cfg}, nil
}

// Hash returns the PHC encoding of plaintext under a fresh random salt.
// Plaintext bytes are used as given, with no Unicode normalization.
func (a *Argon2) Hash(plaintext string) (string, error) {
	if err := checkPlaintext(plaintext, a.config.MaxBytes); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)
	return encodePHC(phc{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
		key:         key,
	}), nil
}

// Verify recomputes the key with the parameters stored in encoded and
// compares in constant time. A mismatch is (false, nil); an unparsable hash
// returns ErrMalformedHash or ErrUnsupportedAlgorithm.
func (a *Argon2) Verify(plaintext, encoded string) (bool, error) {
	if len(plaintext) > a.config.MaxBytes {
		return false, ErrCredentialTooLong
	}
	parsed, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))
	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was made with weaker cost parameters
// or a different key length than the hasher's current config.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	parsed, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case parsed.memory < a.config.Memory,
		parsed.time < a.config.Time,
		parsed.parallelism < a.config.Parallelism,
		uint32(len(parsed.key)) != a.config.KeyLength:
		return true, nil
	}
	return false, nil
}

func encodePHC(p phc) string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		p.memory,
		p.time,
		p.parallelism,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key),
	)
}

func decodePHC(encoded string) (phc, error) {
	if !strings.HasPrefix(encoded, argon2Prefix) {
		if strings.HasPrefix(encoded, "$") {
			return phc{}, ErrUnsupportedAlgorithm
		}
		return phc{}, ErrMalformedHash
	}

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return phc{}, ErrMalformedHash
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return phc{}, ErrMalformedHash
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return phc{}, fmt.Errorf("%w: argon2 version %q", ErrUnsupportedAlgorithm, version)
	}

	var p phc
	if err := parseParams(parts[3], &p); err != nil {
		return phc{}, err
	}

	salt, err := decodeB64(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return phc{}, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	key, err := decodeB64(parts[5])
	if err != nil || len(key) == 0 {
		return phc{}, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	p.salt = salt
	p.key = key
	return p, nil
}

// decodeB64 accepts both the unpadded PHC encoding and padded hashes written
// by older releases.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func parseParams(part string, p *phc) error {
	var seen int
	for _, pair := range strings.Split(part, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: parameter %q", ErrMalformedHash, pair)
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < minMemoryKB {
				return fmt.Errorf("%w: memory", ErrMalformedHash)
			}
			p.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < minTimeCost {
				return fmt.Errorf("%w: time", ErrMalformedHash)
			}
			p.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || uint8(n) < minParallelism {
				return fmt.Errorf("%w: parallelism", ErrMalformedHash)
			}
			p.parallelism = uint8(n)
		default:
			return fmt.Errorf("%w: parameter %q", ErrMalformedHash, k)
		}
		seen++
	}
	if seen != 3 {
		return fmt.Errorf("%w: parameters", ErrMalformedHash)
	}
	return nil
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return fmt.Errorf("%w: memory must be >= %d KiB", ErrInvalidConfig, minMemoryKB)
	case cfg.Time < minTimeCost:
		return fmt.Errorf("%w: time must be >= %d", ErrInvalidConfig, minTimeCost)
	case cfg.Parallelism < minParallelism:
		return fmt.Errorf("%w: parallelism must be >= %d", ErrInvalidConfig, minParallelism)
	case cfg.SaltLength < minSaltLength:
		return fmt.Errorf("%w: salt length must be >= %d", ErrInvalidConfig, minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return fmt.Errorf("%w: key length must be >= %d", ErrInvalidConfig, minKeyLength)
	}
	return nil
}
