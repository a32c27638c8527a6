package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/karpay/payments/internal/config"
)

type rootOptions struct {
	Debug   bool
	EnvFile string

	cfg    config.Config
	logger zerolog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "payd",
		Short:         "Karpay payments service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.EnvFile != "" {
				if err := godotenv.Load(opts.EnvFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			} else {
				// A missing default .env is fine.
				_ = godotenv.Load()
			}

			opts.cfg = config.Load()

			level := zerolog.InfoLevel
			if opts.Debug {
				level = zerolog.DebugLevel
			}
			opts.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).
				With().
				Timestamp().
				Logger()

			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "path to a .env file (default ./.env if present)")

	cmd.AddCommand(newAPICommand(opts))
	cmd.AddCommand(newRelayCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}
