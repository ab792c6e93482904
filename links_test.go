package identityflow

import "testing"

func TestBuildURL(t *testing.T) {
	params := linkParams("u@x.com", "abc_-123")

	tests := []struct {
		name  string
		base  string
		route string
		want  string
	}{
		{
			name:  "base with slash",
			base:  "https://example.test/",
			route: "user/confirmation/confirm",
			want:  "https://example.test/user/confirmation/confirm?code=abc_-123&identity=u%40x.com",
		},
		{
			name:  "base without slash",
			base:  "https://example.test",
			route: "user/confirmation/confirm",
			want:  "https://example.test/user/confirmation/confirm?code=abc_-123&identity=u%40x.com",
		},
		{
			name:  "route with leading slash",
			base:  "https://example.test/app/",
			route: "/reset",
			want:  "https://example.test/app/reset?code=abc_-123&identity=u%40x.com",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildURL(tc.base, tc.route, params); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestEngineLinks(t *testing.T) {
	engine := &Engine{config: DefaultConfig()}

	got := engine.ConfirmationURL("a+b@x.com", "tok")
	want := "http://localhost:8080/user/confirmation/confirm?code=tok&identity=a%2Bb%40x.com"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	got = engine.RecoveryURL("a@x.com", "tok")
	want = "http://localhost:8080/user/recover-password/change?code=tok&identity=a%40x.com"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
