package main

import (
	"github.com/spf13/cobra"

	"github.com/karpay/payments/internal/postgres"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pool, err := postgres.Connect(ctx, opts.cfg.DB.DSN())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}

			opts.logger.Info().Msg("schema up to date")

			return nil
		},
	}
}
