package identityflow

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventConfirmationIssued   = "confirmation_issued"
	auditEventConfirmationConfirm  = "confirmation_confirm"
	auditEventRecoveryIssued       = "recovery_issued"
	auditEventRecoveryReset        = "recovery_reset"
	auditEventRegistration         = "registration"
	auditEventRegistrationDup      = "registration_duplicate"
	auditEventCredentialChange     = "credential_change"
	auditEventTokenReplay          = "token_replay"
	auditEventNotificationFailure  = "notification_failure"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventInfrastructureFailed = "infrastructure_failure"
)

// AuditErrorCode classifies the error attached to an audit event.
type AuditErrorCode string

const (
	auditErrUserNotFound    AuditErrorCode = "user_not_found"
	auditErrDuplicate       AuditErrorCode = "duplicate"
	auditErrInvalidUser     AuditErrorCode = "invalid_user"
	auditErrUnknownPurpose  AuditErrorCode = "unknown_purpose"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrNotification    AuditErrorCode = "notification_failed"
	auditErrHashFailed      AuditErrorCode = "hash_failed"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrCanceled        AuditErrorCode = "canceled"
	auditErrInternal        AuditErrorCode = "internal_error"
	auditErrEngineNotReady  AuditErrorCode = "engine_not_ready"
	auditErrTokenNotFound   AuditErrorCode = "token_not_found"
	auditErrInvalidConfig   AuditErrorCode = "invalid_config"
	auditErrIssuanceBackend AuditErrorCode = "issuance_backend_unavailable"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	purpose Purpose,
	result string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Purpose:   string(purpose),
		Result:    result,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// emitResult records the outcome of a workflow call.
func (e *Engine) emitResult(ctx context.Context, eventType string, purpose Purpose, res AuthenticationResult, metadataBuilder func() map[string]string) {
	userID := ""
	if res.User != nil {
		userID = res.User.ID
	}
	e.emitAudit(ctx, eventType, res.Valid(), userID, purpose, res.Code.String(), nil, metadataBuilder)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	purpose Purpose,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricIssuanceRateLimited)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", purpose, "", ErrIssuanceRateLimited, metadataBuilder)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrIdentityExists):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidUser):
		return auditErrInvalidUser
	case errors.Is(err, ErrUnknownPurpose):
		return auditErrUnknownPurpose
	case errors.Is(err, ErrTokenNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrIssuanceRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrIssuanceUnavailable):
		return auditErrIssuanceBackend
	case errors.Is(err, ErrNotificationFailed):
		return auditErrNotification
	case errors.Is(err, ErrCredentialHashFailed):
		return auditErrHashFailed
	case errors.Is(err, ErrTokenStoreUnavailable),
		errors.Is(err, ErrUserDirectoryUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrEngineNotReady):
		return auditErrEngineNotReady
	case errors.Is(err, ErrInvalidConfig):
		return auditErrInvalidConfig
	default:
		return auditErrInternal
	}
}
