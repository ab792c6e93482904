package identityflow

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/identityflow/internal/flows"
)

// ConfirmIdentity consumes a confirmation code and marks the identity
// confirmed.
//
// An already confirmed identity returns Success without checking code. When
// the directory update fails after the code was consumed the result is
// IdentityConfirmationFailed and the code stays consumed.
//
// The error is non-nil only for infrastructure faults.
func (e *Engine) ConfirmIdentity(ctx context.Context, identity, code string) (AuthenticationResult, error) {
	if err := e.ready(); err != nil {
		return AuthenticationResult{}, err
	}

	run, err := flows.RunTransition(ctx, flows.TransitionDeps[User]{
		Lookup:         e.lookup(identity),
		AlreadyApplied: func(u User) bool { return u.IdentityConfirmed },
		CheckToken: func(ctx context.Context, u User) (bool, error) {
			return e.consumeToken(ctx, u, code, PurposeConfirmation)
		},
		Mutate: func(ctx context.Context, u User) (User, error) {
			u.IdentityConfirmed = true
			u.UpdatedAt = e.now()
			if err := e.directory.Update(ctx, u); err != nil {
				return u, err
			}
			return u, nil
		},
	})
	if err != nil {
		e.metricInc(MetricConfirmationFailure)
		e.fault(ctx, "confirm_identity", PurposeConfirmation, run.User.ID, err)
		return AuthenticationResult{}, err
	}

	var res AuthenticationResult
	switch run.Outcome {
	case flows.OutcomeApplied:
		e.metricInc(MetricConfirmationSuccess)
		res = NewAuthenticationResult(Success, &run.User)
	case flows.OutcomeAlreadyApplied:
		e.metricInc(MetricConfirmationAlreadyConfirmed)
		res = NewAuthenticationResult(Success, &run.User)
	case flows.OutcomeUserNotFound:
		e.metricInc(MetricConfirmationFailure)
		res = NewAuthenticationResult(IdentityNotFound, nil)
	case flows.OutcomeTokenInvalid:
		e.metricInc(MetricConfirmationFailure)
		res = NewAuthenticationResult(TokenInvalid, &run.User)
	default:
		e.metricInc(MetricConfirmationFailure)
		e.log().WarnContext(ctx, "identity confirmation update failed",
			slog.String("op", "confirm_identity"),
			slog.String("user_id", run.User.ID),
			slog.Any("error", run.MutationErr),
		)
		res = NewAuthenticationResult(IdentityConfirmationFailed, &run.User)
	}

	e.emitResult(ctx, auditEventConfirmationConfirm, PurposeConfirmation, res, func() map[string]string {
		return map[string]string{"outcome": run.Outcome.String()}
	})
	return res, nil
}

// RequestConfirmation resends a confirmation code to identity.
//
// Unknown identities return IdentityNotFound. A confirmed identity returns
// Success and nothing is issued.
func (e *Engine) RequestConfirmation(ctx context.Context, identity string) (AuthenticationResult, error) {
	if err := e.ready(); err != nil {
		return AuthenticationResult{}, err
	}

	user, found, err := e.resolve(ctx, identity, "request_confirmation", PurposeConfirmation)
	if err != nil {
		return AuthenticationResult{}, err
	}
	if !found {
		return NewAuthenticationResult(IdentityNotFound, nil), nil
	}
	if user.IdentityConfirmed {
		return NewAuthenticationResult(Success, &user), nil
	}

	if _, err := e.IssueConfirmation(ctx, user); err != nil {
		return AuthenticationResult{}, err
	}
	return NewAuthenticationResult(Success, &user), nil
}
