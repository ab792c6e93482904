package identityflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/identityflow/internal/flows"
)

// ResetPassword consumes a recovery code and replaces the credential with
// the hash of newCredential.
//
// An unconfirmed identity returns IdentityNotConfirmed before the code is
// looked at, so such accounts never learn whether a code is valid. Hashing
// runs after the code is consumed; a hash or update failure returns
// RecoverPasswordFailed and the code stays consumed.
//
// An empty newCredential returns ErrInvalidUser without touching the code.
// Otherwise the error is non-nil only for infrastructure faults.
func (e *Engine) ResetPassword(ctx context.Context, identity, code, newCredential string) (AuthenticationResult, error) {
	if err := e.ready(); err != nil {
		return AuthenticationResult{}, err
	}
	if newCredential == "" {
		return AuthenticationResult{}, ErrInvalidUser
	}

	run, err := flows.RunTransition(ctx, flows.TransitionDeps[User]{
		Lookup:   e.lookup(identity),
		Eligible: func(u User) bool { return u.IdentityConfirmed },
		CheckToken: func(ctx context.Context, u User) (bool, error) {
			return e.consumeToken(ctx, u, code, PurposePasswordReset)
		},
		Mutate: func(ctx context.Context, u User) (User, error) {
			return e.replaceCredential(ctx, u, newCredential)
		},
	})
	if err != nil {
		e.metricInc(MetricRecoveryFailure)
		e.fault(ctx, "reset_password", PurposePasswordReset, run.User.ID, err)
		return AuthenticationResult{}, err
	}

	var res AuthenticationResult
	switch run.Outcome {
	case flows.OutcomeApplied:
		e.metricInc(MetricRecoverySuccess)
		res = NewAuthenticationResult(Success, &run.User)
	case flows.OutcomeUserNotFound:
		e.metricInc(MetricRecoveryFailure)
		res = NewAuthenticationResult(IdentityNotFound, nil)
	case flows.OutcomeIneligible:
		e.metricInc(MetricRecoveryNotConfirmed)
		res = NewAuthenticationResult(IdentityNotConfirmed, &run.User)
	case flows.OutcomeTokenInvalid:
		e.metricInc(MetricRecoveryFailure)
		res = NewAuthenticationResult(TokenInvalid, &run.User)
	default:
		e.metricInc(MetricRecoveryFailure)
		e.log().WarnContext(ctx, "password reset update failed",
			slog.String("op", "reset_password"),
			slog.String("user_id", run.User.ID),
			slog.Any("error", run.MutationErr),
		)
		res = NewAuthenticationResult(RecoverPasswordFailed, &run.User)
	}

	e.emitResult(ctx, auditEventRecoveryReset, PurposePasswordReset, res, func() map[string]string {
		return map[string]string{"outcome": run.Outcome.String()}
	})
	return res, nil
}

// RequestRecovery sends a recovery code to identity.
//
// Unknown identities return IdentityNotFound and unconfirmed ones
// IdentityNotConfirmed; neither issues a token.
func (e *Engine) RequestRecovery(ctx context.Context, identity string) (AuthenticationResult, error) {
	if err := e.ready(); err != nil {
		return AuthenticationResult{}, err
	}

	user, found, err := e.resolve(ctx, identity, "request_recovery", PurposePasswordReset)
	if err != nil {
		return AuthenticationResult{}, err
	}
	if !found {
		return NewAuthenticationResult(IdentityNotFound, nil), nil
	}
	if !user.IdentityConfirmed {
		return NewAuthenticationResult(IdentityNotConfirmed, &user), nil
	}

	if _, err := e.IssueRecovery(ctx, user); err != nil {
		return AuthenticationResult{}, err
	}
	return NewAuthenticationResult(Success, &user), nil
}

// replaceCredential hashes plaintext and persists it on u. No storage call
// is in flight while the hash runs.
func (e *Engine) replaceCredential(ctx context.Context, u User, plaintext string) (User, error) {
	if plaintext == "" {
		return u, ErrInvalidUser
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return u, fmt.Errorf("%w: %v", ErrCredentialHashFailed, err)
	}

	updated := u
	updated.CredentialHash = hash
	updated.UpdatedAt = e.now()
	if err := e.directory.Update(ctx, updated); err != nil {
		return u, wrapDirectoryError(err)
	}
	return updated, nil
}
