package identityflow

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestResetPasswordHappyPath(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "oldpw", true)
	dir := newMockDirectory(u)
	sender := &recordingSender{}
	engine := newTestEngine(t, dir, sender, testEngineOptions{})
	ctx := context.Background()

	tok, err := engine.IssueRecovery(ctx, u)
	if err != nil {
		t.Fatalf("IssueRecovery failed: %v", err)
	}
	if tok.Purpose != PurposePasswordReset {
		t.Fatalf("expected password_reset token, got %s", tok.Purpose)
	}

	res, err := engine.ResetPassword(ctx, "u@x.com", tok.Value, "newpw123")
	if err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if res.Code != Success || !res.Valid() {
		t.Fatalf("expected Success, got %s", res.Code)
	}

	stored := dir.get("u@x.com")
	ok, err := hasher.Verify("newpw123", stored.CredentialHash)
	if err != nil || !ok {
		t.Fatalf("expected new credential to verify, ok=%v err=%v", ok, err)
	}
	if res.User == nil || res.User.CredentialHash != stored.CredentialHash {
		t.Fatal("expected result to carry the updated user")
	}

	res, err = engine.ResetPassword(ctx, "u@x.com", tok.Value, "another-pw")
	if err != nil {
		t.Fatalf("ResetPassword replay failed: %v", err)
	}
	if res.Code != TokenInvalid {
		t.Fatalf("expected TokenInvalid on replay, got %s", res.Code)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRecoverySuccess] != 1 || snap.Counters[MetricTokenReplayDetected] != 1 {
		t.Fatalf("unexpected counters: success=%d replay=%d",
			snap.Counters[MetricRecoverySuccess], snap.Counters[MetricTokenReplayDetected])
	}
}

func TestResetPasswordUnconfirmedIdentityBlocked(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "oldpw", false)
	dir := newMockDirectory(u)
	engine := newTestEngine(t, dir, &recordingSender{}, testEngineOptions{})
	ctx := context.Background()

	tok, err := engine.TokenService().Generate(ctx, u, PurposePasswordReset, true)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for _, code := range []string{tok.Value, "anything"} {
		res, err := engine.ResetPassword(ctx, "u@x.com", code, "newpw123")
		if err != nil {
			t.Fatalf("ResetPassword failed: %v", err)
		}
		if res.Code != IdentityNotConfirmed {
			t.Fatalf("expected IdentityNotConfirmed, got %s", res.Code)
		}
	}

	// The real token was never looked at, so it is still unconsumed.
	ok, err := engine.TokenService().CheckToken(ctx, u, tok.Value, PurposePasswordReset, false)
	if err != nil || !ok {
		t.Fatalf("expected token to remain valid, ok=%v err=%v", ok, err)
	}
	if dir.updateCalls != 0 {
		t.Fatalf("expected no directory updates, got %d", dir.updateCalls)
	}
}

func TestConfirmIdentityUnknownIdentity(t *testing.T) {
	engine := newTestEngine(t, newMockDirectory(), &recordingSender{}, testEngineOptions{})

	res, err := engine.ConfirmIdentity(context.Background(), "ghost@x.com", "anycode")
	if err != nil {
		t.Fatalf("ConfirmIdentity failed: %v", err)
	}
	if res.Code != IdentityNotFound {
		t.Fatalf("expected IdentityNotFound, got %s", res.Code)
	}
	if res.User != nil {
		t.Fatal("expected no user on IdentityNotFound")
	}
	if len(res.Messages) == 0 {
		t.Fatal("expected a message")
	}
}

func TestConfirmIdentityIsIdempotent(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "pw", false)
	dir := newMockDirectory(u)
	engine := newTestEngine(t, dir, &recordingSender{}, testEngineOptions{})
	ctx := context.Background()

	tok, err := engine.IssueConfirmation(ctx, u)
	if err != nil {
		t.Fatalf("IssueConfirmation failed: %v", err)
	}

	res, err := engine.ConfirmIdentity(ctx, "u@x.com", tok.Value)
	if err != nil || res.Code != Success {
		t.Fatalf("expected Success, got %v (err=%v)", res.Code, err)
	}
	if !dir.get("u@x.com").IdentityConfirmed {
		t.Fatal("expected identity to be confirmed")
	}

	res, err = engine.ConfirmIdentity(ctx, "u@x.com", "stale-or-foreign-code")
	if err != nil || res.Code != Success {
		t.Fatalf("expected idempotent Success, got %v (err=%v)", res.Code, err)
	}
	if dir.updateCalls != 1 {
		t.Fatalf("expected a single update, got %d", dir.updateCalls)
	}
	if got := engine.MetricsSnapshot().Counters[MetricConfirmationAlreadyConfirmed]; got != 1 {
		t.Fatalf("expected 1 already-confirmed, got %d", got)
	}
}

func TestConfirmIdentityInvalidToken(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "pw", false)
	dir := newMockDirectory(u)
	engine := newTestEngine(t, dir, &recordingSender{}, testEngineOptions{})
	ctx := context.Background()

	recovery, err := engine.TokenService().Generate(ctx, u, PurposePasswordReset, true)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for _, code := range []string{"", "bogus", recovery.Value} {
		res, err := engine.ConfirmIdentity(ctx, "u@x.com", code)
		if err != nil {
			t.Fatalf("ConfirmIdentity failed: %v", err)
		}
		if res.Code != TokenInvalid {
			t.Fatalf("code %q: expected TokenInvalid, got %s", code, res.Code)
		}
		if res.User == nil || res.User.ID != u.ID {
			t.Fatal("expected resolved user on TokenInvalid")
		}
	}
}

func TestConfirmIdentityUpdateFailureKeepsTokenConsumed(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "pw", false)
	dir := newMockDirectory(u)
	var logs bytes.Buffer
	engine := newTestEngine(t, dir, &recordingSender{}, testEngineOptions{
		logger: slog.New(slog.NewJSONHandler(&logs, nil)),
	})
	ctx := context.Background()

	tok, err := engine.IssueConfirmation(ctx, u)
	if err != nil {
		t.Fatalf("IssueConfirmation failed: %v", err)
	}

	dir.updateErr = errBoom
	res, err := engine.ConfirmIdentity(ctx, "u@x.com", tok.Value)
	if err != nil {
		t.Fatalf("mutation failures must be reported as results, got %v", err)
	}
	if res.Code != IdentityConfirmationFailed {
		t.Fatalf("expected IdentityConfirmationFailed, got %s", res.Code)
	}
	for _, want := range []string{`"op":"confirm_identity"`, `"user_id":"` + u.ID + `"`, `"error":`} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("expected %s in log output:\n%s", want, logs.String())
		}
	}

	dir.updateErr = nil
	res, err = engine.ConfirmIdentity(ctx, "u@x.com", tok.Value)
	if err != nil || res.Code != TokenInvalid {
		t.Fatalf("expected consumed token to be invalid, got %v (err=%v)", res.Code, err)
	}
}

func TestResetPasswordUpdateFailure(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "pw", true)
	dir := newMockDirectory(u)
	engine := newTestEngine(t, dir, &recordingSender{}, testEngineOptions{})
	ctx := context.Background()

	tok, err := engine.IssueRecovery(ctx, u)
	if err != nil {
		t.Fatalf("IssueRecovery failed: %v", err)
	}

	dir.updateErr = errBoom
	res, err := engine.ResetPassword(ctx, "u@x.com", tok.Value, "newpw123")
	if err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if res.Code != RecoverPasswordFailed {
		t.Fatalf("expected RecoverPasswordFailed, got %s", res.Code)
	}
	if dir.get("u@x.com").CredentialHash != u.CredentialHash {
		t.Fatal("credential must be unchanged")
	}
}

func TestEmptyCredentialKeepsRecoveryToken(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "oldpw", true)
	dir := newMockDirectory(u)
	engine := newTestEngine(t, dir, &recordingSender{}, testEngineOptions{})
	ctx := context.Background()

	tok, err := engine.IssueRecovery(ctx, u)
	if err != nil {
		t.Fatalf("IssueRecovery failed: %v", err)
	}

	if _, err := engine.ResetPassword(ctx, "u@x.com", tok.Value, ""); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser for empty reset credential, got %v", err)
	}
	if _, err := engine.ChangeCredential(ctx, "u@x.com", "oldpw", ""); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser for empty new credential, got %v", err)
	}

	res, err := engine.ResetPassword(ctx, "u@x.com", tok.Value, "newpw123")
	if err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if res.Code != Success {
		t.Fatalf("expected the recovery token to survive rejected input, got %s", res.Code)
	}
}

func TestDirectoryFaultIsInfrastructureError(t *testing.T) {
	dir := newMockDirectory()
	dir.findErr = errBoom
	engine := newTestEngine(t, dir, &recordingSender{}, testEngineOptions{})
	ctx := context.Background()

	if _, err := engine.ConfirmIdentity(ctx, "u@x.com", "code"); !errors.Is(err, ErrUserDirectoryUnavailable) {
		t.Fatalf("expected ErrUserDirectoryUnavailable, got %v", err)
	}
	if _, err := engine.ResetPassword(ctx, "u@x.com", "code", "pw"); !errors.Is(err, ErrUserDirectoryUnavailable) {
		t.Fatalf("expected ErrUserDirectoryUnavailable, got %v", err)
	}
	if _, err := engine.RequestRecovery(ctx, "u@x.com"); !errors.Is(err, ErrUserDirectoryUnavailable) {
		t.Fatalf("expected ErrUserDirectoryUnavailable, got %v", err)
	}
}

func TestIssueConfirmationNotificationPayload(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u+tag@x.com", "pw", false)
	sender := &recordingSender{}
	engine := newTestEngine(t, newMockDirectory(u), sender, testEngineOptions{
		config: func(c *Config) { c.Links.BaseURL = "https://example.test/app" },
	})

	tok, err := engine.IssueConfirmation(context.Background(), u)
	if err != nil {
		t.Fatalf("IssueConfirmation failed: %v", err)
	}

	n := sender.last(t)
	if n.templateKey != TemplateIdentityConfirmation {
		t.Fatalf("expected template %q, got %q", TemplateIdentityConfirmation, n.templateKey)
	}
	if n.payload[PayloadCode] != tok.Value || n.payload[PayloadIdentity] != u.Identity {
		t.Fatalf("unexpected payload: %+v", n.payload)
	}

	link, err := url.Parse(n.payload[PayloadConfirmationURL])
	if err != nil {
		t.Fatalf("invalid link: %v", err)
	}
	if link.Path != "/app/user/confirmation/confirm" {
		t.Fatalf("unexpected link path %q", link.Path)
	}
	if link.Query().Get("identity") != u.Identity || link.Query().Get("code") != tok.Value {
		t.Fatalf("unexpected link query %q", link.RawQuery)
	}
}

func TestIssueRecoveryNotificationFailure(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "pw", true)
	sender := &recordingSender{err: errBoom}
	engine := newTestEngine(t, newMockDirectory(u), sender, testEngineOptions{})
	ctx := context.Background()

	tok, err := engine.IssueRecovery(ctx, u)
	if !errors.Is(err, ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}
	if tok.Value == "" {
		t.Fatal("expected the issued token to be returned")
	}
	if got := engine.MetricsSnapshot().Counters[MetricNotificationFailure]; got != 1 {
		t.Fatalf("expected 1 notification failure, got %d", got)
	}
}

func TestRegister(t *testing.T) {
	dir := newMockDirectory()
	sender := &recordingSender{}
	engine := newTestEngine(t, dir, sender, testEngineOptions{})
	ctx := context.Background()

	res, err := engine.Register(ctx, RegistrationInput{Identity: "new@x.com", Credential: "secret-pw"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.Code != Success || res.User == nil {
		t.Fatalf("expected Success with user, got %s", res.Code)
	}

	stored := dir.get("new@x.com")
	if stored.IdentityConfirmed {
		t.Fatal("new users start unconfirmed")
	}
	if stored.CredentialHash == "secret-pw" || !strings.HasPrefix(stored.CredentialHash, "$argon2id$") {
		t.Fatalf("expected hashed credential, got %q", stored.CredentialHash)
	}
	if n := sender.last(t); n.templateKey != TemplateIdentityConfirmation || n.user.ID != stored.ID {
		t.Fatalf("expected confirmation notification for the new user, got %+v", n)
	}

	res, err = engine.Register(ctx, RegistrationInput{Identity: "new@x.com", Credential: "other"})
	if err != nil {
		t.Fatalf("Register duplicate failed: %v", err)
	}
	if res.Code != IdentityExists {
		t.Fatalf("expected IdentityExists, got %s", res.Code)
	}

	if _, err := engine.Register(ctx, RegistrationInput{Identity: " ", Credential: "x"}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestRegisterInsertRaceMapsToIdentityExists(t *testing.T) {
	dir := newMockDirectory()
	dir.insertErr = ErrIdentityExists
	engine := newTestEngine(t, dir, &recordingSender{}, testEngineOptions{})

	res, err := engine.Register(context.Background(), RegistrationInput{Identity: "race@x.com", Credential: "pw"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.Code != IdentityExists {
		t.Fatalf("expected IdentityExists, got %s", res.Code)
	}
}

func TestRegisterSurvivesNotificationFailure(t *testing.T) {
	dir := newMockDirectory()
	engine := newTestEngine(t, dir, &recordingSender{err: errBoom}, testEngineOptions{})

	res, err := engine.Register(context.Background(), RegistrationInput{Identity: "a@x.com", Credential: "pw"})
	if err != nil || res.Code != Success {
		t.Fatalf("expected Success despite notification failure, got %v (err=%v)", res.Code, err)
	}
	if dir.get("a@x.com").ID == "" {
		t.Fatal("expected the user to be stored")
	}
}

func TestRequestConfirmationAndRecovery(t *testing.T) {
	hasher := newTestHasher(t)
	confirmed := mustUser(t, hasher, "c@x.com", "pw", true)
	pending := mustUser(t, hasher, "p@x.com", "pw", false)
	sender := &recordingSender{}
	engine := newTestEngine(t, newMockDirectory(confirmed, pending), sender, testEngineOptions{})
	ctx := context.Background()

	cases := []struct {
		name     string
		call     func() (AuthenticationResult, error)
		want     ResultCode
		wantSent int
	}{
		{"confirm unknown", func() (AuthenticationResult, error) { return engine.RequestConfirmation(ctx, "ghost@x.com") }, IdentityNotFound, 0},
		{"confirm already confirmed", func() (AuthenticationResult, error) { return engine.RequestConfirmation(ctx, "c@x.com") }, Success, 0},
		{"confirm pending", func() (AuthenticationResult, error) { return engine.RequestConfirmation(ctx, "p@x.com") }, Success, 1},
		{"recover unknown", func() (AuthenticationResult, error) { return engine.RequestRecovery(ctx, "ghost@x.com") }, IdentityNotFound, 1},
		{"recover unconfirmed", func() (AuthenticationResult, error) { return engine.RequestRecovery(ctx, "p@x.com") }, IdentityNotConfirmed, 1},
		{"recover confirmed", func() (AuthenticationResult, error) { return engine.RequestRecovery(ctx, "c@x.com") }, Success, 2},
	}
	for _, tc := range cases {
		res, err := tc.call()
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if res.Code != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, res.Code)
		}
		if got := sender.count(); got != tc.wantSent {
			t.Fatalf("%s: expected %d notifications, got %d", tc.name, tc.wantSent, got)
		}
	}

	if n := sender.last(t); n.templateKey != TemplateRecoverPassword || n.payload[PayloadRecoverPasswordURL] == "" {
		t.Fatalf("unexpected recovery notification %+v", n)
	}
}

func TestChangeCredential(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "oldpw", true)
	dir := newMockDirectory(u)
	engine := newTestEngine(t, dir, &recordingSender{}, testEngineOptions{})
	ctx := context.Background()

	recovery, err := engine.IssueRecovery(ctx, u)
	if err != nil {
		t.Fatalf("IssueRecovery failed: %v", err)
	}

	res, err := engine.ChangeCredential(ctx, "u@x.com", "wrong", "newpw123")
	if err != nil || res.Code != CredentialInvalid {
		t.Fatalf("expected CredentialInvalid, got %v (err=%v)", res.Code, err)
	}

	res, err = engine.ChangeCredential(ctx, "u@x.com", "oldpw", "newpw123")
	if err != nil || res.Code != Success {
		t.Fatalf("expected Success, got %v (err=%v)", res.Code, err)
	}
	if ok, _ := hasher.Verify("newpw123", dir.get("u@x.com").CredentialHash); !ok {
		t.Fatal("expected new credential to verify")
	}

	// The outstanding recovery link must not roll the change back.
	res, err = engine.ResetPassword(ctx, "u@x.com", recovery.Value, "oldpw")
	if err != nil || res.Code != TokenInvalid {
		t.Fatalf("expected TokenInvalid for revoked recovery token, got %v (err=%v)", res.Code, err)
	}

	res, err = engine.ChangeCredential(ctx, "ghost@x.com", "a", "b")
	if err != nil || res.Code != IdentityNotFound {
		t.Fatalf("expected IdentityNotFound, got %v (err=%v)", res.Code, err)
	}

	dir.updateErr = errBoom
	res, err = engine.ChangeCredential(ctx, "u@x.com", "newpw123", "third-pw")
	if err != nil || res.Code != CredentialChangeFailed {
		t.Fatalf("expected CredentialChangeFailed, got %v (err=%v)", res.Code, err)
	}
}

func TestIssuanceRateLimit(t *testing.T) {
	hasher := newTestHasher(t)
	u := mustUser(t, hasher, "u@x.com", "pw", true)
	engine := newTestEngine(t, newMockDirectory(u), &recordingSender{}, testEngineOptions{
		config: func(c *Config) {
			c.Issuance.Enabled = true
			c.Issuance.MaxPerWindow = 2
			c.Issuance.Window = time.Minute
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := engine.RequestRecovery(ctx, "u@x.com"); err != nil {
			t.Fatalf("request #%d failed: %v", i, err)
		}
	}
	if _, err := engine.RequestRecovery(ctx, "u@x.com"); !errors.Is(err, ErrIssuanceRateLimited) {
		t.Fatalf("expected ErrIssuanceRateLimited, got %v", err)
	}

	// Confirmation issuance is counted separately.
	if _, err := engine.IssueConfirmation(ctx, u); err != nil {
		t.Fatalf("IssueConfirmation failed: %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricIssuanceRateLimited]; got != 1 {
		t.Fatalf("expected 1 rate-limited issuance, got %d", got)
	}
}

func TestEngineNotReady(t *testing.T) {
	var engine *Engine
	if _, err := engine.ConfirmIdentity(context.Background(), "a", "b"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := (&Engine{}).IssueRecovery(context.Background(), User{ID: "x"}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
