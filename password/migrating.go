package password

import "strings"

// Hasher is the method set shared by Argon2 and Bcrypt.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
}

// Migrating hashes with Primary and verifies hashes of either supported
// scheme, picking the verifier by hash prefix. Use it while moving stored
// credentials from one algorithm to the other.
type Migrating struct {
	Primary Hasher
	Argon2  *Argon2
	Bcrypt  *Bcrypt
}

func (m *Migrating) Hash(plaintext string) (string, error) {
	return m.Primary.Hash(plaintext)
}

func (m *Migrating) Verify(plaintext, encoded string) (bool, error) {
	h, err := m.pick(encoded)
	if err != nil {
		return false, err
	}
	return h.Verify(plaintext, encoded)
}

// NeedsUpgrade is true for any hash not produced by Primary's scheme, and
// otherwise defers to Primary.
func (m *Migrating) NeedsUpgrade(encoded string) (bool, error) {
	h, err := m.pick(encoded)
	if err != nil {
		return false, err
	}
	if h != m.Primary {
		return true, nil
	}
	return h.NeedsUpgrade(encoded)
}

func (m *Migrating) pick(encoded string) (Hasher, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix) && m.Argon2 != nil:
		return m.Argon2, nil
	case isBcrypt(encoded) && m.Bcrypt != nil:
		return m.Bcrypt, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
