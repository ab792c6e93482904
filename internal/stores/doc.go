// Package stores provides the Redis-backed token record store used by the
// root RedisTokenStore adapter.
//
// # Design
//
// Each token is a versioned HASH keyed by purpose and the SHA-256
// fingerprint of its value, plus an id pointer and a per-owner active set.
// Insert, rotation (revoke active + insert), consumption and revocation each
// run as one Lua script, so every state change is a single atomic step on
// the server. Times are stored as unix milliseconds.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for token records.
// It does NOT generate token values, validate ownership or purpose, or make
// workflow decisions. Those belong to the root TokenService.
//
// # What this package must NOT do
//
//   - Import identityflow or any sibling internal package.
//   - Persist plaintext token values.
//   - Require a Redis Cluster: scripts derive keys from stored values.
package stores
