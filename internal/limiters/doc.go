// Package limiters provides the token-issuance throttles used before a new
// confirmation or recovery token is generated.
//
// # Limiters
//
//   - [IssuanceLimiter]: Redis fixed window per (purpose, identity) and per IP.
//   - [LocalIssuanceLimiter]: in-process token bucket with the same keys, for
//     deployments without Redis.
//
// All limiters are nil-safe: calling Check on a nil receiver returns nil.
//
// # Architecture boundaries
//
// Each limiter owns its own key namespace and error types. Policy thresholds
// come from the Config supplied at construction time.
//
// # What this package must NOT do
//
//   - Import identityflow or any sibling internal package.
//   - Make policy decisions beyond counting. The engine decides consequences.
package limiters
