// Package internal contains helper utilities that are intentionally private to identityflow,
// including token value generation, fingerprinting and identifier minting.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: the shared lookup/guard/token-check/mutate transition state machine
//   - limiters: issuance throttles (Redis fixed window, in-process token bucket)
//   - stores: Redis token store with Lua-scripted atomic consume and rotation
//
// # What this package must NOT do
//
//   - Export types that appear in the public identityflow API.
//   - Be imported by any package outside the identityflow module.
package internal
