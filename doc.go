// Package identityflow issues, validates and revokes single-use account tokens
// and runs the identity workflows gated by them: identity confirmation,
// password recovery and credential replacement.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build]. All shared mutable
// state lives behind the [TokenStore] and [UserDirectory] contracts.
//
// # Architecture boundaries
//
// identityflow is the public surface. It exposes [Engine], [Builder], [Config], [TokenService],
// [AuthenticationResult] and the storage/notification contracts. Redis encoding, issuance
// throttling, audit dispatch and the transition state machine live under internal/ and are
// never exported. Concrete SQL and in-memory backends live under store/ and depend on this
// package, never the other way around.
//
// # Outcomes versus errors
//
// Workflow methods return an [AuthenticationResult] for every expected outcome (unknown
// identity, unconfirmed identity, invalid token, failed mutation) and a non-nil error only
// for infrastructure faults. Token validity failures are never surfaced as errors and are
// never distinguished from each other in the result.
//
// # What this package must NOT do
//
//   - Persist or log plaintext token values or credentials.
//   - Read-then-write when consuming a token; consumption is a single conditional update.
//   - Hold a storage transaction open while hashing a credential.
//   - Import any sub-package that re-imports identityflow (no import cycles).
package identityflow
