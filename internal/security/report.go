package security

import (
	"net/url"
	"time"
)

// Thresholds above which a setting is reported as a warning.
const (
	MaxConfirmationTTL  = 7 * 24 * time.Hour
	MaxPasswordResetTTL = 24 * time.Hour
	MinEntropyBits      = 128
	MinArgon2MemoryKB   = 19 * 1024
	MinBcryptCost       = 12
)

type PasswordReport struct {
	Algorithm   string
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	BcryptCost  int
}

type Report struct {
	Password          PasswordReport
	ConfirmationTTL   time.Duration
	PasswordResetTTL  time.Duration
	TokenEntropyBits  int
	SecureLinks       bool
	IssuanceThrottled bool
	IPThrottled       bool
	AuditActive       bool
	AuditMayDrop      bool
	Warnings          []string
}

type ReportInput struct {
	Password          PasswordReport
	ConfirmationTTL   time.Duration
	PasswordResetTTL  time.Duration
	EntropyBytes      int
	BaseURL           string
	IssuanceEnabled   bool
	IPThrottleEnabled bool
	AuditEnabled      bool
	AuditDropIfFull   bool
}

// BuildReport summarizes input and lists the settings that weaken the
// workflows. Warnings are ordered and stable for a given input.
func BuildReport(input ReportInput) Report {
	r := Report{
		Password:          input.Password,
		ConfirmationTTL:   input.ConfirmationTTL,
		PasswordResetTTL:  input.PasswordResetTTL,
		TokenEntropyBits:  input.EntropyBytes * 8,
		SecureLinks:       httpsURL(input.BaseURL),
		IssuanceThrottled: input.IssuanceEnabled,
		IPThrottled:       input.IssuanceEnabled && input.IPThrottleEnabled,
		AuditActive:       input.AuditEnabled,
		AuditMayDrop:      input.AuditEnabled && input.AuditDropIfFull,
	}

	if !r.SecureLinks {
		r.Warnings = append(r.Warnings, "links base URL is not https; tokens travel in cleartext")
	}
	if r.TokenEntropyBits < MinEntropyBits {
		r.Warnings = append(r.Warnings, "token entropy below 128 bits")
	}
	if r.ConfirmationTTL > MaxConfirmationTTL {
		r.Warnings = append(r.Warnings, "confirmation tokens live longer than 7 days")
	}
	if r.PasswordResetTTL > MaxPasswordResetTTL {
		r.Warnings = append(r.Warnings, "password reset tokens live longer than 24 hours")
	}
	if !r.IssuanceThrottled {
		r.Warnings = append(r.Warnings, "token issuance is not throttled")
	}
	switch input.Password.Algorithm {
	case "bcrypt":
		if input.Password.BcryptCost < MinBcryptCost {
			r.Warnings = append(r.Warnings, "bcrypt cost below 12")
		}
	default:
		if input.Password.Memory < MinArgon2MemoryKB {
			r.Warnings = append(r.Warnings, "argon2id memory below 19 MiB")
		}
	}
	if r.AuditMayDrop {
		r.Warnings = append(r.Warnings, "audit events are dropped when the buffer is full")
	}

	return r
}

func httpsURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https" && u.Host != ""
}
