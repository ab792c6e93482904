package identityflow

import (
	"context"
	"fmt"
	"log/slog"
)

// Payload keys handed to [NotificationSender.Send].
const (
	PayloadConfirmationURL    = "confirmation_url"
	PayloadRecoverPasswordURL = "recover_password_url"
	PayloadCode               = "code"
	PayloadIdentity           = "identity"
)

type issuePlan struct {
	purpose     Purpose
	templateKey string
	urlKey      string
	link        func(identity, code string) string
	issued      MetricID
	event       string
}

func (e *Engine) planFor(purpose Purpose) (issuePlan, error) {
	switch purpose {
	case PurposeConfirmation:
		return issuePlan{
			purpose:     purpose,
			templateKey: e.config.Notifications.ConfirmationTemplate,
			urlKey:      PayloadConfirmationURL,
			link:        e.ConfirmationURL,
			issued:      MetricConfirmationIssued,
			event:       auditEventConfirmationIssued,
		}, nil
	case PurposePasswordReset:
		return issuePlan{
			purpose:     purpose,
			templateKey: e.config.Notifications.RecoveryTemplate,
			urlKey:      PayloadRecoverPasswordURL,
			link:        e.RecoveryURL,
			issued:      MetricRecoveryIssued,
			event:       auditEventRecoveryIssued,
		}, nil
	default:
		return issuePlan{}, ErrUnknownPurpose
	}
}

// IssueConfirmation revokes the user's outstanding confirmation tokens, issues
// a new one and hands its link to the NotificationSender.
//
// The token is returned even when delivery fails; it stays active, and the
// error wraps ErrNotificationFailed.
func (e *Engine) IssueConfirmation(ctx context.Context, user User) (Token, error) {
	return e.issue(ctx, user, PurposeConfirmation)
}

// IssueRecovery is IssueConfirmation for password recovery.
func (e *Engine) IssueRecovery(ctx context.Context, user User) (Token, error) {
	return e.issue(ctx, user, PurposePasswordReset)
}

func (e *Engine) issue(ctx context.Context, user User, purpose Purpose) (Token, error) {
	if err := e.ready(); err != nil {
		return Token{}, err
	}
	if e.notifier == nil {
		return Token{}, ErrEngineNotReady
	}
	plan, err := e.planFor(purpose)
	if err != nil {
		return Token{}, err
	}
	if err := e.checkIssuance(ctx, purpose, user.Identity); err != nil {
		return Token{}, err
	}

	token, revoked, err := e.tokens.generate(ctx, user, purpose, true)
	if err != nil {
		e.fault(ctx, "issue", purpose, user.ID, err)
		return Token{}, err
	}
	e.metricAdd(MetricTokensRevoked, revoked)

	payload := map[string]string{
		plan.urlKey:     plan.link(user.Identity, token.Value),
		PayloadCode:     token.Value,
		PayloadIdentity: user.Identity,
	}

	if err := e.notifier.Send(ctx, user, plan.templateKey, payload); err != nil {
		e.metricInc(MetricNotificationFailure)
		e.log().WarnContext(ctx, "notification delivery failed",
			slog.String("op", "issue"),
			slog.String("purpose", string(purpose)),
			slog.String("user_id", user.ID),
			slog.String("template", plan.templateKey),
			slog.Any("error", err),
		)
		e.emitAudit(ctx, auditEventNotificationFailure, false, user.ID, purpose, "", ErrNotificationFailed, func() map[string]string {
			return map[string]string{"template": plan.templateKey}
		})
		return token, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	e.metricInc(plan.issued)
	e.emitAudit(ctx, plan.event, true, user.ID, purpose, "", nil, func() map[string]string {
		return map[string]string{
			"token_id": token.ID,
			"revoked":  fmt.Sprint(revoked),
		}
	})
	return token, nil
}
