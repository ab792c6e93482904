package main

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

const fastPasswordConfig = `
identityflow:
  password:
    algorithm: argon2id
    memory: 8192
    time: 1
    parallelism: 1
`

var codePattern = regexp.MustCompile(`code: <code>([A-Za-z0-9_-]+)</code>`)

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("IDENTITYFLOW_BACKEND", backendSQLite)
	t.Setenv("IDENTITYFLOW_DATABASE_URL", filepath.Join(t.TempDir(), "identityflow.db"))
	t.Setenv("IDENTITYFLOW_REDIS_ADDR", "")
	return &cli{t: t, config: writeConfig(t, fastPasswordConfig)}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", c.config, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func extractCode(t *testing.T, out string) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no code in output:\n%s", out)
	}
	return m[1]
}

func TestCLIConfirmationAndRecovery(t *testing.T) {
	c := newCLI(t)

	if out := c.mustRun("migrate"); !strings.Contains(out, "migrations applied (sqlite)") {
		t.Fatalf("unexpected migrate output %q", out)
	}

	out := c.mustRun("register", "cli@example.test", "first-password")
	if !strings.Contains(out, "result: success") || !strings.Contains(out, "Subject: Confirm your account") {
		t.Fatalf("unexpected register output:\n%s", out)
	}
	code := extractCode(t, out)

	out = c.mustRun("recover", "cli@example.test")
	if !strings.Contains(out, "result: identity_not_confirmed") {
		t.Fatalf("recovery before confirmation should fail:\n%s", out)
	}

	out = c.mustRun("confirm", "cli@example.test", code)
	if !strings.Contains(out, "result: success") {
		t.Fatalf("confirm failed:\n%s", out)
	}

	out = c.mustRun("recover", "cli@example.test")
	if !strings.Contains(out, "Subject: Reset your password") {
		t.Fatalf("no recovery notification:\n%s", out)
	}
	resetCode := extractCode(t, out)

	out = c.mustRun("reset", "cli@example.test", resetCode, "second-password")
	if !strings.Contains(out, "result: success") {
		t.Fatalf("reset failed:\n%s", out)
	}

	out = c.mustRun("reset", "cli@example.test", resetCode, "third-password")
	if !strings.Contains(out, "result: token_invalid") {
		t.Fatalf("reset code must be single use:\n%s", out)
	}

	out = c.mustRun("change-credential", "cli@example.test", "first-password", "x")
	if !strings.Contains(out, "result: credential_invalid") {
		t.Fatalf("old password must be rejected:\n%s", out)
	}
	out = c.mustRun("change-credential", "cli@example.test", "second-password", "fourth-password")
	if !strings.Contains(out, "result: success") {
		t.Fatalf("change credential failed:\n%s", out)
	}
}

func TestCLIResendConfirmationRevokesPrevious(t *testing.T) {
	c := newCLI(t)
	c.mustRun("migrate")

	first := extractCode(t, c.mustRun("register", "resend@example.test", "pw-123456"))
	second := extractCode(t, c.mustRun("resend-confirmation", "resend@example.test"))
	if first == second {
		t.Fatalf("resend must issue a new code")
	}

	if out := c.mustRun("confirm", "resend@example.test", first); !strings.Contains(out, "result: token_invalid") {
		t.Fatalf("revoked code accepted:\n%s", out)
	}
	if out := c.mustRun("confirm", "resend@example.test", second); !strings.Contains(out, "result: success") {
		t.Fatalf("current code rejected:\n%s", out)
	}
}

func TestCLIArgsAndBackendErrors(t *testing.T) {
	c := newCLI(t)

	if _, err := c.run("confirm", "only-identity"); err == nil {
		t.Fatalf("expected argument count error")
	}

	t.Setenv("IDENTITYFLOW_BACKEND", "mongo")
	if _, err := c.run("register", "a@example.test", "pw"); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestCLIMemoryMigrateIsNoop(t *testing.T) {
	c := newCLI(t)
	t.Setenv("IDENTITYFLOW_BACKEND", backendMemory)

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", c.config, "migrate"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out.String(), "backend memory has no migrations") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestCLIReport(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("report", "--base-url", "https://id.example.com/")
	if !strings.Contains(out, "token entropy: 256 bits") {
		t.Fatalf("missing entropy line:\n%s", out)
	}
	if strings.Contains(out, "not https") {
		t.Fatalf("https base URL reported as insecure:\n%s", out)
	}
	if !strings.Contains(out, "warning: argon2id memory below 19 MiB") {
		t.Fatalf("missing argon2 warning:\n%s", out)
	}
}
