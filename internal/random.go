package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MinTokenBytes is the smallest accepted token size (128 bits).
const MinTokenBytes = 16

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

func NewTokenValue(size int) (string, error) {
	if size < MinTokenBytes {
		return "", fmt.Errorf("token size must be >= %d bytes, got %d", MinTokenBytes, size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token value: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken returns the SHA-256 digest of value, base64url encoded.
// Stores key tokens by fingerprint so plaintext values never hit storage.
func FingerprintToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func NewTokenID() string {
	return uuid.NewString()
}

func ParseTokenID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", errors.New("invalid token id")
	}
	return parsed.String(), nil
}

// NewUserID returns a monotonic ULID so users sort by creation time.
func NewUserID(now time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(now), idEntropy).String()
}
