package password

import "errors"

var (
	// ErrEmptyCredential is returned when Hash is given an empty plaintext.
	ErrEmptyCredential = errors.New("password: empty credential")
	// ErrCredentialTooLong is returned when a plaintext exceeds the hasher's
	// byte limit.
	ErrCredentialTooLong = errors.New("password: credential too long")
	// ErrMalformedHash is returned when an encoded hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnsupportedAlgorithm is returned for hashes of an unknown scheme.
	ErrUnsupportedAlgorithm = errors.New("password: unsupported algorithm")
	// ErrInvalidConfig is returned by constructors for out-of-range parameters.
	ErrInvalidConfig = errors.New("password: invalid config")
)

// DefaultMaxBytes caps plaintext length for Argon2 when Config.MaxBytes is 0.
const DefaultMaxBytes = 1024

func checkPlaintext(plaintext string, maxBytes int) error {
	if plaintext == "" {
		return ErrEmptyCredential
	}
	if len(plaintext) > maxBytes {
		return ErrCredentialTooLong
	}
	return nil
}
