package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/karpay/payments/internal/httpapi"
	"github.com/karpay/payments/internal/idempotency"
	outboxpg "github.com/karpay/payments/internal/outbox/postgres"
	"github.com/karpay/payments/internal/payment"
	"github.com/karpay/payments/internal/postgres"
	"github.com/karpay/payments/internal/webhook"
)

func newAPICommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the payments HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAPI(cmd.Context(), opts)
		},
	}
}

func runAPI(ctx context.Context, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := opts.logger.With().Str("component", "api").Logger()

	pool, err := postgres.Connect(ctx, opts.cfg.DB.DSN())
	if err != nil {
		return err
	}
	defer pool.Close()

	events, err := outboxpg.NewStore(pool, clockwork.NewRealClock())
	if err != nil {
		return err
	}

	guard := idempotency.NewGuard(pool, idempotency.NewStore(), logger)
	payments := payment.NewService(
		pool,
		payment.NewStore(pool),
		events,
		guard,
		clockwork.NewRealClock(),
		logger,
	)

	server := httpapi.NewServer(payments, webhook.NewStore(pool), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(opts.cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")

		return server.Shutdown()
	}
}
