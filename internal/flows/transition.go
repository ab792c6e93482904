package flows

import (
	"context"
	"errors"
)

// Outcome is the terminal state of a transition.
type Outcome int

const (
	// OutcomeApplied: token consumed and mutation persisted.
	OutcomeApplied Outcome = iota
	// OutcomeAlreadyApplied: idempotent short-circuit, no token checked.
	OutcomeAlreadyApplied
	// OutcomeUserNotFound: lookup matched nothing.
	OutcomeUserNotFound
	// OutcomeIneligible: the purpose guard rejected the user before any token check.
	OutcomeIneligible
	// OutcomeTokenInvalid: the token check failed.
	OutcomeTokenInvalid
	// OutcomeMutationFailed: token consumed but the mutation failed.
	OutcomeMutationFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	case OutcomeUserNotFound:
		return "user_not_found"
	case OutcomeIneligible:
		return "ineligible"
	case OutcomeTokenInvalid:
		return "token_invalid"
	case OutcomeMutationFailed:
		return "mutation_failed"
	default:
		return "unknown"
	}
}

// ErrNotFound is returned by Lookup when no user matches.
var ErrNotFound = errors.New("flows: user not found")

// TransitionDeps wires one transition. Lookup, CheckToken and Mutate are
// required; AlreadyApplied and Eligible are optional guards.
type TransitionDeps[U any] struct {
	// Lookup returns ErrNotFound (possibly wrapped) when no user matches.
	// Any other error aborts the transition as an infrastructure fault.
	Lookup func(context.Context) (U, error)
	// AlreadyApplied short-circuits to OutcomeAlreadyApplied.
	AlreadyApplied func(U) bool
	// Eligible rejects users the token cannot apply to. It runs before
	// the token check so an ineligible account never learns token validity.
	Eligible func(U) bool
	// CheckToken validates and consumes the presented token.
	CheckToken func(context.Context, U) (bool, error)
	// Mutate applies the transition. Its error is reported, not returned.
	Mutate func(context.Context, U) (U, error)
}

// TransitionResult carries the terminal outcome and the resolved user.
type TransitionResult[U any] struct {
	Outcome Outcome
	User    U
	Found   bool
	// MutationErr is set when Outcome is OutcomeMutationFailed.
	MutationErr error
}

var errIncompleteDeps = errors.New("flows: incomplete transition deps")

// RunTransition executes one pass of the transition state machine.
//
// The returned error is non-nil only for infrastructure faults in Lookup or
// CheckToken; every other terminal state is reported through the Outcome.
func RunTransition[U any](ctx context.Context, deps TransitionDeps[U]) (TransitionResult[U], error) {
	var res TransitionResult[U]
	if deps.Lookup == nil || deps.CheckToken == nil || deps.Mutate == nil {
		return res, errIncompleteDeps
	}

	user, err := deps.Lookup(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			res.Outcome = OutcomeUserNotFound
			return res, nil
		}
		return res, err
	}
	res.User = user
	res.Found = true

	if deps.AlreadyApplied != nil && deps.AlreadyApplied(user) {
		res.Outcome = OutcomeAlreadyApplied
		return res, nil
	}
	if deps.Eligible != nil && !deps.Eligible(user) {
		res.Outcome = OutcomeIneligible
		return res, nil
	}

	ok, err := deps.CheckToken(ctx, user)
	if err != nil {
		return res, err
	}
	if !ok {
		res.Outcome = OutcomeTokenInvalid
		return res, nil
	}

	updated, err := deps.Mutate(ctx, user)
	if err != nil {
		res.Outcome = OutcomeMutationFailed
		res.MutationErr = err
		return res, nil
	}

	res.User = updated
	res.Outcome = OutcomeApplied
	return res, nil
}
