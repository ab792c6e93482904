package main

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/MrEthical07/identityflow"
	"github.com/MrEthical07/identityflow/errutil"
	"github.com/MrEthical07/identityflow/logging"
	"github.com/MrEthical07/identityflow/notify"
	"github.com/MrEthical07/identityflow/store/memory"
	"github.com/MrEthical07/identityflow/store/postgres"
	"github.com/MrEthical07/identityflow/store/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// version is set with -ldflags at release time.
var version = "dev"

//go:embed templates
var embeddedTemplates embed.FS

// runtime is everything a subcommand needs, opened from config and env.
type runtime struct {
	cfg     fileConfig
	env     envConfig
	logger  *slog.Logger
	engine  *identityflow.Engine
	out     io.Writer
	closers []func()
}

func (r *runtime) Close() {
	if r.engine != nil {
		r.engine.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// fail logs err with its store context and returns it for cobra to report.
func (r *runtime) fail(msg string, err error) error {
	errutil.LogError(r.logger, msg, err)
	return fmt.Errorf("%s: %w", msg, err)
}

func openRuntime(cmd *cobra.Command, opts *rootOptions) (*runtime, error) {
	cfg, err := loadConfig(opts.configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	envCfg, err := loadEnv()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Service: "identityflow",
		Version: version,
		Env:     envCfg.Env,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	r := &runtime{cfg: cfg, env: envCfg, logger: logger, out: cmd.OutOrStdout()}

	users, tokens, err := r.openStores(cmd.Context())
	if err != nil {
		r.Close()
		return nil, err
	}

	sender := notify.NewTemplateSender(templateFS(cfg.Engine.Notifications.TemplatePath),
		cfg.Engine.Notifications.Locale, printMailer{w: r.out})

	builder := identityflow.New().
		WithConfig(cfg.Engine).
		WithUserDirectory(users).
		WithNotificationSender(sender).
		WithAuditSink(identityflow.NewSlogSink(logger, slog.LevelInfo)).
		WithLogger(logger)

	if envCfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: envCfg.RedisAddr})
		r.closers = append(r.closers, func() { _ = client.Close() })
		builder = builder.WithRedis(client)
	} else {
		builder = builder.WithTokenStore(tokens)
	}

	engine, err := builder.Build()
	if err != nil {
		r.Close()
		return nil, err
	}
	r.engine = engine
	return r, nil
}

func (r *runtime) openStores(ctx context.Context) (identityflow.UserDirectory, identityflow.TokenStore, error) {
	switch r.env.Backend {
	case backendMemory:
		s := memory.New()
		return s.Users(), s.Tokens(), nil
	case backendSQLite:
		s, err := sqlite.Open(ctx, r.env.DatabaseURL)
		if err != nil {
			return nil, nil, r.fail("open sqlite", err)
		}
		r.closers = append(r.closers, func() { _ = s.Close() })
		return s.Users(), s.Tokens(), nil
	case backendPostgres:
		s, err := postgres.Connect(ctx, r.env.DatabaseURL)
		if err != nil {
			return nil, nil, r.fail("connect postgres", err)
		}
		r.closers = append(r.closers, s.Close)
		return s.Users(), s.Tokens(), nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", r.env.Backend)
	}
}

// templateFS serves templates from path when it exists, otherwise from the
// templates built into the binary.
func templateFS(path string) fs.FS {
	if path != "" {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return os.DirFS(path)
		}
	}
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// printMailer writes rendered notifications to w instead of sending mail.
type printMailer struct {
	w io.Writer
}

func (m printMailer) Deliver(_ context.Context, msg notify.Message) error {
	_, err := fmt.Fprintf(m.w, "To: %s\nSubject: %s\n\n%s\n", msg.To, msg.Subject, msg.Body)
	return err
}

func printResult(w io.Writer, res identityflow.AuthenticationResult) {
	fmt.Fprintf(w, "result: %s\n", res.Code)
	for _, msg := range res.Messages {
		fmt.Fprintf(w, "  %s\n", msg)
	}
}
