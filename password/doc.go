// Package password implements credential hashing and verification.
//
// Two algorithms are provided: [Argon2] (argon2id, the default) and
// [Bcrypt]. Both satisfy identityflow.CredentialHasher structurally.
//
// # Output format
//
// Argon2 hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Bcrypt hashes use the standard modular crypt format ($2a$/$2b$).
//
// Both hashers report, through NeedsUpgrade, whether a stored hash was made
// with weaker parameters than the current ones, so callers can rehash after
// the next successful verify. [Migrating] verifies hashes of either format
// while hashing with one.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Credential policy such as
// minimum length or reuse history belongs to the caller.
//
// # What this package must NOT do
//
//   - Store or retrieve credentials.
//   - Import any other identityflow package.
//   - Log plaintext credentials.
package password
