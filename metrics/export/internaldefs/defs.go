package internaldefs

import (
	"github.com/MrEthical07/identityflow"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   identityflow.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   identityflow.MetricID
	Name string
	Help string
}

const AuditDroppedName = "identityflow_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped for dispatcher backpressure."

var CounterDefs = []CounterDef{
	{ID: identityflow.MetricConfirmationIssued, Name: "identityflow_confirmation_issued_total", Help: "Confirmation tokens handed to the notification sender."},
	{ID: identityflow.MetricConfirmationSuccess, Name: "identityflow_confirmation_success_total", Help: "Identities confirmed by token."},
	{ID: identityflow.MetricConfirmationAlreadyConfirmed, Name: "identityflow_confirmation_already_confirmed_total", Help: "Confirmations for identities that were already confirmed."},
	{ID: identityflow.MetricConfirmationFailure, Name: "identityflow_confirmation_failure_total", Help: "Confirmations that did not succeed."},
	{ID: identityflow.MetricRecoveryIssued, Name: "identityflow_recovery_issued_total", Help: "Password reset tokens handed to the notification sender."},
	{ID: identityflow.MetricRecoverySuccess, Name: "identityflow_recovery_success_total", Help: "Completed password resets."},
	{ID: identityflow.MetricRecoveryFailure, Name: "identityflow_recovery_failure_total", Help: "Password resets that did not succeed."},
	{ID: identityflow.MetricRecoveryNotConfirmed, Name: "identityflow_recovery_not_confirmed_total", Help: "Password resets rejected for an unconfirmed identity."},
	{ID: identityflow.MetricTokenInvalid, Name: "identityflow_token_invalid_total", Help: "Token checks that failed validation."},
	{ID: identityflow.MetricTokenReplayDetected, Name: "identityflow_token_replay_detected_total", Help: "Tokens rejected because they were already consumed."},
	{ID: identityflow.MetricTokensRevoked, Name: "identityflow_tokens_revoked_total", Help: "Tokens revoked by rotation or credential change."},
	{ID: identityflow.MetricRegistrationSuccess, Name: "identityflow_registration_success_total", Help: "Accounts registered."},
	{ID: identityflow.MetricRegistrationDuplicate, Name: "identityflow_registration_duplicate_total", Help: "Registrations rejected for a taken identity."},
	{ID: identityflow.MetricCredentialChangeSuccess, Name: "identityflow_credential_change_success_total", Help: "Credentials changed."},
	{ID: identityflow.MetricCredentialChangeInvalid, Name: "identityflow_credential_change_invalid_total", Help: "Credential changes rejected for a wrong current credential."},
	{ID: identityflow.MetricCredentialChangeFailure, Name: "identityflow_credential_change_failure_total", Help: "Credential changes that failed for other reasons."},
	{ID: identityflow.MetricNotificationFailure, Name: "identityflow_notification_failure_total", Help: "Notification sender errors."},
	{ID: identityflow.MetricIssuanceRateLimited, Name: "identityflow_issuance_rate_limited_total", Help: "Issuance requests denied by the limiter."},
}

var HistogramDefs = []HistogramDef{
	{ID: identityflow.MetricCheckTokenLatency, Name: "identityflow_check_token_latency_seconds", Help: "Token check and consume latency."},
}

// HistogramBounds are the upper bounds in seconds of every bucket but the
// last, which is unbounded.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into gauges.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling any
// missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
