// Package store groups the UserDirectory and TokenStore backends.
//
// Every backend in a subpackage persists token fingerprints, never token
// values, and implements identityflow.TokenRotator so issuance revokes prior
// tokens and inserts the new one as a single unit:
//
//   - memory: process-local maps, for tests and single-binary demos.
//   - sqlite: modernc.org/sqlite with embedded golang-migrate migrations.
//   - postgres: pgx pool with embedded goose migrations.
//
// The Redis token store lives in the root package (NewRedisTokenStore) and is
// selected by Builder.WithRedis. storetest holds the contract suite every
// backend runs.
package store
