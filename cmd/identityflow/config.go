package main

import (
	"fmt"

	"github.com/MrEthical07/identityflow"
	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// fileConfig is the YAML layout. Engine settings live under "identityflow".
type fileConfig struct {
	Log    logConfig           `koanf:"log"`
	Serve  serveConfig         `koanf:"serve"`
	Engine identityflow.Config `koanf:"identityflow"`
}

type logConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type serveConfig struct {
	Addr string `koanf:"addr"`
}

// envConfig holds connection settings, which only come from the environment.
type envConfig struct {
	Backend     string `env:"IDENTITYFLOW_BACKEND"      envDefault:"sqlite"`
	DatabaseURL string `env:"IDENTITYFLOW_DATABASE_URL" envDefault:"identityflow.db"`
	RedisAddr   string `env:"IDENTITYFLOW_REDIS_ADDR"`
	Env         string `env:"IDENTITYFLOW_ENV"          envDefault:"development"`
}

const (
	backendMemory   = "memory"
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
)

func defaultFileConfig() fileConfig {
	return fileConfig{
		Log:    logConfig{Level: "info", Format: "text"},
		Serve:  serveConfig{Addr: ":8080"},
		Engine: identityflow.DefaultConfig(),
	}
}

// flagKeys maps persistent flags onto config keys. Only flags set on the
// command line override the file.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"addr":          "serve.addr",
	"base-url":      "identityflow.links.base_url",
	"locale":        "identityflow.notifications.locale",
	"template-path": "identityflow.notifications.template_path",
	"metrics":       "identityflow.metrics.enabled",
}

func loadConfig(path string, flags *pflag.FlagSet) (fileConfig, error) {
	cfg := defaultFileConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return cfg, fmt.Errorf("load flags: %w", err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func loadEnv() (envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Backend {
	case backendMemory, backendSQLite, backendPostgres:
	default:
		return cfg, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return cfg, nil
}
