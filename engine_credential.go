package identityflow

import (
	"context"
	"log/slog"
)

// ChangeCredential replaces the credential of identity after verifying
// currentCredential.
//
// Outstanding password-reset tokens are revoked before the new hash is
// written, so a recovery link sent earlier cannot roll the change back.
// A verify mismatch returns CredentialInvalid; a hash or update failure
// returns CredentialChangeFailed. An empty newCredential returns
// ErrInvalidUser before any token is revoked.
func (e *Engine) ChangeCredential(ctx context.Context, identity, currentCredential, newCredential string) (AuthenticationResult, error) {
	if err := e.ready(); err != nil {
		return AuthenticationResult{}, err
	}
	if newCredential == "" {
		return AuthenticationResult{}, ErrInvalidUser
	}

	user, found, err := e.resolve(ctx, identity, "change_credential", PurposePasswordReset)
	if err != nil {
		return AuthenticationResult{}, err
	}
	if !found {
		return e.credentialResult(ctx, NewAuthenticationResult(IdentityNotFound, nil), MetricCredentialChangeInvalid), nil
	}

	ok, err := e.hasher.Verify(currentCredential, user.CredentialHash)
	if err != nil {
		e.log().WarnContext(ctx, "stored credential could not be verified",
			slog.String("op", "change_credential"),
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return e.credentialResult(ctx, NewAuthenticationResult(CredentialChangeFailed, &user), MetricCredentialChangeFailure), nil
	}
	if !ok {
		return e.credentialResult(ctx, NewAuthenticationResult(CredentialInvalid, &user), MetricCredentialChangeInvalid), nil
	}

	revoked, err := e.tokens.RevokeActive(ctx, user, PurposePasswordReset)
	e.metricAdd(MetricTokensRevoked, revoked)
	if err != nil {
		e.fault(ctx, "change_credential", PurposePasswordReset, user.ID, err)
		return AuthenticationResult{}, err
	}

	updated, err := e.replaceCredential(ctx, user, newCredential)
	if err != nil {
		e.log().WarnContext(ctx, "credential change update failed",
			slog.String("op", "change_credential"),
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return e.credentialResult(ctx, NewAuthenticationResult(CredentialChangeFailed, &user), MetricCredentialChangeFailure), nil
	}

	return e.credentialResult(ctx, NewAuthenticationResult(Success, &updated), MetricCredentialChangeSuccess), nil
}

func (e *Engine) credentialResult(ctx context.Context, res AuthenticationResult, metric MetricID) AuthenticationResult {
	e.metricInc(metric)
	e.emitResult(ctx, auditEventCredentialChange, "", res, nil)
	return res
}
