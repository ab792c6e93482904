package security

import (
	"slices"
	"testing"
	"time"
)

func hardenedInput() ReportInput {
	return ReportInput{
		Password: PasswordReport{
			Algorithm:   "argon2id",
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		ConfirmationTTL:   24 * time.Hour,
		PasswordResetTTL:  time.Hour,
		EntropyBytes:      32,
		BaseURL:           "https://id.example.com/",
		IssuanceEnabled:   true,
		IPThrottleEnabled: true,
		AuditEnabled:      true,
	}
}

func TestBuildReportHardened(t *testing.T) {
	r := BuildReport(hardenedInput())
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if !r.SecureLinks || !r.IssuanceThrottled || !r.IPThrottled || !r.AuditActive {
		t.Fatalf("unexpected report %+v", r)
	}
	if r.TokenEntropyBits != 256 {
		t.Fatalf("expected 256 entropy bits, got %d", r.TokenEntropyBits)
	}
}

func TestBuildReportWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ReportInput)
		want   string
	}{
		{"plain http", func(in *ReportInput) { in.BaseURL = "http://id.example.com/" }, "links base URL is not https; tokens travel in cleartext"},
		{"relative url", func(in *ReportInput) { in.BaseURL = "/confirm" }, "links base URL is not https; tokens travel in cleartext"},
		{"low entropy", func(in *ReportInput) { in.EntropyBytes = 8 }, "token entropy below 128 bits"},
		{"long confirmation", func(in *ReportInput) { in.ConfirmationTTL = 30 * 24 * time.Hour }, "confirmation tokens live longer than 7 days"},
		{"long reset", func(in *ReportInput) { in.PasswordResetTTL = 48 * time.Hour }, "password reset tokens live longer than 24 hours"},
		{"no throttle", func(in *ReportInput) { in.IssuanceEnabled = false }, "token issuance is not throttled"},
		{"weak argon2", func(in *ReportInput) { in.Password.Memory = 8192 }, "argon2id memory below 19 MiB"},
		{"weak bcrypt", func(in *ReportInput) {
			in.Password.Algorithm = "bcrypt"
			in.Password.BcryptCost = 10
		}, "bcrypt cost below 12"},
		{"lossy audit", func(in *ReportInput) { in.AuditDropIfFull = true }, "audit events are dropped when the buffer is full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := hardenedInput()
			tt.mutate(&in)
			r := BuildReport(in)
			if !slices.Contains(r.Warnings, tt.want) {
				t.Fatalf("expected warning %q, got %v", tt.want, r.Warnings)
			}
		})
	}
}

func TestBuildReportIPThrottleNeedsIssuance(t *testing.T) {
	in := hardenedInput()
	in.IssuanceEnabled = false
	if BuildReport(in).IPThrottled {
		t.Fatal("IP throttle reported without issuance throttling")
	}
}
