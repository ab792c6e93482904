// Package flows contains the pure-function state machine shared by every
// token-gated Engine transition.
//
// RunTransition walks lookup -> eligibility guard -> token check -> mutate and
// reports the terminal Outcome. The root engine maps outcomes to result codes
// and owns audit and metrics emission.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the user directory, token service and
// hasher through function fields. They do NOT own any of these resources,
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import identityflow (to avoid import cycles).
//   - Perform I/O directly. All I/O goes through the injected functions.
//   - Retry any step; each call is a single deterministic pass.
package flows
