package identityflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Register creates an unconfirmed user with a hashed credential.
//
// A taken identity returns IdentityExists as a result, including when a
// concurrent registration wins the insert. With Registration.SendConfirmation
// set a confirmation code is issued; a failure there is logged and audited
// but the registration stands.
//
// Empty identity or credential returns ErrInvalidUser. Other errors are
// infrastructure faults.
func (e *Engine) Register(ctx context.Context, in RegistrationInput) (AuthenticationResult, error) {
	if err := e.ready(); err != nil {
		return AuthenticationResult{}, err
	}
	identity := strings.TrimSpace(in.Identity)
	if identity == "" || in.Credential == "" {
		return AuthenticationResult{}, ErrInvalidUser
	}

	_, found, err := e.resolve(ctx, identity, "register", "")
	if err != nil {
		return AuthenticationResult{}, err
	}
	if found {
		return e.registrationDuplicate(ctx, identity), nil
	}

	hash, err := e.hasher.Hash(in.Credential)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrCredentialHashFailed, err)
		e.fault(ctx, "register", "", "", err)
		return AuthenticationResult{}, err
	}

	user, err := NewUser(UserInput{
		Identity:       identity,
		CredentialHash: hash,
		CreatedAt:      e.now(),
	})
	if err != nil {
		return AuthenticationResult{}, err
	}

	stored, err := e.directory.Insert(ctx, user)
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			return e.registrationDuplicate(ctx, identity), nil
		}
		err = wrapDirectoryError(err)
		e.fault(ctx, "register", "", user.ID, err)
		return AuthenticationResult{}, err
	}

	e.metricInc(MetricRegistrationSuccess)
	res := NewAuthenticationResult(Success, &stored)
	e.emitResult(ctx, auditEventRegistration, "", res, nil)

	if e.config.Registration.SendConfirmation {
		if _, err := e.IssueConfirmation(ctx, stored); err != nil {
			e.log().WarnContext(ctx, "confirmation after registration failed",
				slog.String("op", "register"),
				slog.String("user_id", stored.ID),
				slog.Any("error", err),
			)
		}
	}
	return res, nil
}

func (e *Engine) registrationDuplicate(ctx context.Context, identity string) AuthenticationResult {
	e.metricInc(MetricRegistrationDuplicate)
	res := NewAuthenticationResult(IdentityExists, nil)
	e.emitAudit(ctx, auditEventRegistrationDup, false, "", "", res.Code.String(), ErrIdentityExists, func() map[string]string {
		return map[string]string{"identity": identity}
	})
	return res
}
