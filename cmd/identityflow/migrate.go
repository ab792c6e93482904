package main

import (
	"fmt"

	"github.com/MrEthical07/identityflow/store/postgres"
	"github.com/MrEthical07/identityflow/store/sqlite"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			envCfg, err := loadEnv()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			switch envCfg.Backend {
			case backendSQLite:
				s, err := sqlite.Open(ctx, envCfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer s.Close()
				if err := s.ApplyMigrations(); err != nil {
					return err
				}
			case backendPostgres:
				if err := postgres.Migrate(ctx, envCfg.DatabaseURL); err != nil {
					return err
				}
			default:
				cmd.Printf("backend %s has no migrations\n", envCfg.Backend)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", envCfg.Backend)
			return nil
		},
	}
}
