package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identityflow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Serve.Addr != ":8080" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Engine.Validate(); err != nil {
		t.Fatalf("default engine config invalid: %v", err)
	}
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
identityflow:
  tokens:
    confirmation_ttl: 2h
  links:
    base_url: https://file.example/
  notifications:
    locale: de
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("base-url", "", "")
	flags.String("locale", "", "")
	flags.Bool("metrics", false, "")
	if err := flags.Parse([]string{"--base-url=https://flag.example/", "--metrics"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := loadConfig(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Engine.Links.BaseURL != "https://flag.example/" {
		t.Fatalf("flag should override file, got %q", cfg.Engine.Links.BaseURL)
	}
	if cfg.Engine.Notifications.Locale != "de" {
		t.Fatalf("unset flag must not override file, got %q", cfg.Engine.Notifications.Locale)
	}
	if !cfg.Engine.Metrics.Enabled {
		t.Fatalf("metrics flag not applied")
	}
	if cfg.Engine.Tokens.ConfirmationTTL != 2*time.Hour {
		t.Fatalf("expected 2h confirmation ttl, got %s", cfg.Engine.Tokens.ConfirmationTTL)
	}
	if cfg.Engine.Tokens.PasswordResetTTL != time.Hour {
		t.Fatalf("default reset ttl lost, got %s", cfg.Engine.Tokens.PasswordResetTTL)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("IDENTITYFLOW_BACKEND", "")
	t.Setenv("IDENTITYFLOW_DATABASE_URL", "")
	os.Unsetenv("IDENTITYFLOW_BACKEND")
	os.Unsetenv("IDENTITYFLOW_DATABASE_URL")

	cfg, err := loadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if cfg.Backend != backendSQLite || cfg.DatabaseURL != "identityflow.db" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	t.Setenv("IDENTITYFLOW_BACKEND", backendPostgres)
	t.Setenv("IDENTITYFLOW_DATABASE_URL", "postgres://localhost/identityflow")
	t.Setenv("IDENTITYFLOW_REDIS_ADDR", "localhost:6379")
	cfg, err = loadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if cfg.Backend != backendPostgres || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected env config %+v", cfg)
	}

	t.Setenv("IDENTITYFLOW_BACKEND", "mongo")
	if _, err := loadEnv(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
