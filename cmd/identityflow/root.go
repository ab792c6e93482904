package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

// NewRootCmd creates the root command for the identityflow CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "identityflow",
		Short: "Identity confirmation and password recovery workflows",
		Long: `identityflow registers accounts, confirms identities and recovers
passwords with single-use, purpose-bound tokens.

Connection settings come from IDENTITYFLOW_BACKEND (memory, sqlite or
postgres), IDENTITYFLOW_DATABASE_URL and IDENTITYFLOW_REDIS_ADDR.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file path")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (json or text)")
	pf.String("base-url", "", "base URL for confirmation and recovery links")
	pf.String("locale", "", "notification template locale")
	pf.String("template-path", "", "directory holding <locale>/<template>.html")
	pf.Bool("metrics", false, "enable engine metrics")

	cmd.AddCommand(
		newMigrateCmd(),
		newRegisterCmd(opts),
		newConfirmCmd(opts),
		newResendConfirmationCmd(opts),
		newRecoverCmd(opts),
		newResetCmd(opts),
		newChangeCredentialCmd(opts),
		newServeCmd(opts),
		newReportCmd(opts),
		newLoadtestCmd(),
	)

	return cmd
}
