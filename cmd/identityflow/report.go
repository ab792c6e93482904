package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the security posture of the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Engine.Validate(); err != nil {
				return err
			}

			r := cfg.Engine.SecurityReport()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "password: %s\n", r.Password.Algorithm)
			fmt.Fprintf(out, "token entropy: %d bits\n", r.TokenEntropyBits)
			fmt.Fprintf(out, "confirmation ttl: %s\n", r.ConfirmationTTL)
			fmt.Fprintf(out, "password reset ttl: %s\n", r.PasswordResetTTL)
			fmt.Fprintf(out, "issuance throttled: %t (ip: %t)\n", r.IssuanceThrottled, r.IPThrottled)
			fmt.Fprintf(out, "audit: %t\n", r.AuditActive)
			for _, w := range r.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			return nil
		},
	}
}
