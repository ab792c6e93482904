package identityflow

import (
	"github.com/MrEthical07/identityflow/internal/security"
)

// SecurityReport summarizes the security-relevant settings of a Config and
// lists the ones that weaken the workflows.
type SecurityReport = security.Report

// PasswordConfigReport is the hasher section of a [SecurityReport].
type PasswordConfigReport = security.PasswordReport

// SecurityReport reports on c without building an Engine.
func (c Config) SecurityReport() SecurityReport {
	return security.BuildReport(security.ReportInput{
		Password: security.PasswordReport{
			Algorithm:   string(c.Password.Algorithm),
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
			BcryptCost:  c.Password.BcryptCost,
		},
		ConfirmationTTL:   c.Tokens.ConfirmationTTL,
		PasswordResetTTL:  c.Tokens.PasswordResetTTL,
		EntropyBytes:      c.Tokens.EntropyBytes,
		BaseURL:           c.Links.BaseURL,
		IssuanceEnabled:   c.Issuance.Enabled,
		IPThrottleEnabled: c.Issuance.EnableIPThrottle,
		AuditEnabled:      c.Audit.Enabled,
		AuditDropIfFull:   c.Audit.DropIfFull,
	})
}

// SecurityReport reports on the configuration the engine was built with.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return e.config.SecurityReport()
}
