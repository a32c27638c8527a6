package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/karpay/payments/internal/outbox"
	outboxpg "github.com/karpay/payments/internal/outbox/postgres"
	"github.com/karpay/payments/internal/postgres"
	"github.com/karpay/payments/internal/webhook"
)

const defaultSenderTimeout = 10 * time.Second

func newRelayCommand(opts *rootOptions) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the outbox relay delivering webhook events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := opts.cfg.ApplyRelayFile(configFile); err != nil {
					return err
				}
			}

			return runRelay(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML relay tuning file")

	return cmd
}

func runRelay(ctx context.Context, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := opts.logger.With().Str("component", "relay").Logger()

	pool, err := postgres.Connect(ctx, opts.cfg.DB.DSN())
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := outboxpg.NewStore(pool, clockwork.NewRealClock())
	if err != nil {
		return err
	}

	senderTimeout := opts.cfg.Relay.DeliveryTimeout
	if senderTimeout <= 0 {
		senderTimeout = defaultSenderTimeout
	}

	relayOpts := append(opts.cfg.Relay.Options(), outbox.WithLogger(logger))
	relay, err := outbox.NewRelay(
		store,
		webhook.NewStore(pool),
		webhook.NewSender(senderTimeout),
		relayOpts...,
	)
	if err != nil {
		return err
	}

	logger.Info().Msg("relay started")

	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info().Msg("relay stopped")

	return nil
}
