package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MrEthical07/identityflow"
	"github.com/MrEthical07/identityflow/notify"
	"github.com/MrEthical07/identityflow/store/memory"
)

func fastConfig() identityflow.Config {
	cfg := identityflow.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestServer(t *testing.T) (*httptest.Server, *notify.ChannelSender) {
	t.Helper()
	store := memory.New()
	sender := notify.NewChannelSender(16)

	engine, err := identityflow.New().
		WithConfig(fastConfig()).
		WithUserDirectory(store.Users()).
		WithTokenStore(store.Tokens()).
		WithNotificationSender(sender).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	h, err := newHandler(engine, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, sender
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func postForm(t *testing.T, srv *httptest.Server, path string, form url.Values) *http.Response {
	t.Helper()
	client := &http.Client{CheckRedirect: noRedirect}
	resp, err := client.PostForm(srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	client := &http.Client{CheckRedirect: noRedirect}
	resp, err := client.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) resultBody {
	t.Helper()
	var body resultBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestServeRegisterAndConfirm(t *testing.T) {
	srv, sender := newTestServer(t)

	resp := postForm(t, srv, "/register", url.Values{"identity": {"a@example.test"}, "password": {"correct horse"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: expected 200, got %d", resp.StatusCode)
	}
	if body := decodeResult(t, resp); body.Code != "success" || body.Identity != "a@example.test" {
		t.Fatalf("unexpected register body %+v", body)
	}

	msg := <-sender.C()
	link := msg.Payload[identityflow.PayloadConfirmationURL]
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link %q: %v", link, err)
	}

	resp = get(t, srv, u.Path+"?"+u.RawQuery)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d", resp.StatusCode)
	}

	resp = postForm(t, srv, "/register", url.Values{"identity": {"a@example.test"}, "password": {"other"}})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.StatusCode)
	}
}

func TestServeRecoverRedirectsToSent(t *testing.T) {
	srv, sender := newTestServer(t)

	postForm(t, srv, "/register", url.Values{"identity": {"b@example.test"}, "password": {"pw-one"}})
	confirmation := <-sender.C()
	get(t, srv, "/user/confirmation/confirm?"+url.Values{
		"identity": {"b@example.test"},
		"code":     {confirmation.Payload[identityflow.PayloadCode]},
	}.Encode())

	resp := postForm(t, srv, "/recover", url.Values{"identity": {"b@example.test"}})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/recover/sent?identity=b%40example.test" {
		t.Fatalf("unexpected redirect %q", loc)
	}

	recovery := <-sender.C()
	resp = postForm(t, srv, "/user/recover-password/change", url.Values{
		"identity": {"b@example.test"},
		"code":     {recovery.Payload[identityflow.PayloadCode]},
		"password": {"pw-two"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", resp.StatusCode)
	}

	resp = postForm(t, srv, "/recover", url.Values{"identity": {"nobody@example.test"}})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown identity: expected 404, got %d", resp.StatusCode)
	}
}

func TestServeResetUnconfirmedRedirectsToConfirmation(t *testing.T) {
	srv, sender := newTestServer(t)

	postForm(t, srv, "/register", url.Values{"identity": {"c@example.test"}, "password": {"pw"}})
	<-sender.C()

	resp := postForm(t, srv, "/user/recover-password/change", url.Values{
		"identity": {"c@example.test"},
		"code":     {"whatever"},
		"password": {"new-pw"},
	})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if loc != "/confirmation?identity=c%40example.test" {
		t.Fatalf("unexpected redirect %q", loc)
	}

	resp = get(t, srv, loc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirmation page: expected 200, got %d", resp.StatusCode)
	}
	var page map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page["identity"] != "c@example.test" || page["status"] != "identity_not_confirmed" {
		t.Fatalf("unexpected confirmation page %v", page)
	}

	resp = postForm(t, srv, page["resend"], url.Values{"identity": {page["identity"]}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resend: expected 200, got %d", resp.StatusCode)
	}
	if msg := <-sender.C(); msg.TemplateKey != identityflow.TemplateIdentityConfirmation {
		t.Fatalf("expected a confirmation notification, got %q", msg.TemplateKey)
	}
}

func TestServeConfirmationPageRequiresIdentity(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := get(t, srv, "/confirmation")
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected redirect for missing identity, got %d", resp.StatusCode)
	}
}

func TestServeRejectsEmptyRegistration(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postForm(t, srv, "/register", url.Values{"identity": {""}, "password": {"pw"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServeResetFormRequiresParams(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := get(t, srv, "/user/recover-password/change?identity=x")
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected redirect for missing code, got %d", resp.StatusCode)
	}
	resp = get(t, srv, "/recover/sent")
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected redirect for missing identity, got %d", resp.StatusCode)
	}
}

func TestServeMetrics(t *testing.T) {
	srv, sender := newTestServer(t)

	postForm(t, srv, "/register", url.Values{"identity": {"d@example.test"}, "password": {"pw"}})
	<-sender.C()

	resp := get(t, srv, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(out), "identityflow_registration_success_total 1") {
		t.Fatalf("registration counter missing:\n%s", out)
	}
}

func TestTrimSlash(t *testing.T) {
	for in, want := range map[string]string{
		"user/confirm":  "user/confirm",
		"/user/confirm": "user/confirm",
		"///user/":      "user/",
		"":              "",
	} {
		if got := trimSlash(in); got != want {
			t.Fatalf("trimSlash(%q) = %q, want %q", in, got, want)
		}
	}
}
