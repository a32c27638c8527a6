package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/karpay/payments/internal/webhook"
)

// Relay polls the store for undelivered events and fans each one out to
// every enabled webhook endpoint.
//
// An event is marked delivered only when every endpoint enabled at the time
// of the attempt accepted it. Retries redeliver the same event id, so
// endpoint receivers must deduplicate on it; endpoints enabled after a full
// delivery do not receive historical events.
type Relay struct {
	store     Store
	endpoints EndpointSource
	sender    Sender
	cfg       RelayConfig

	pendingMu sync.Mutex
	pendingAt time.Time
}

type cycleOutcome struct {
	delivered int
	retried   int
	dead      int
}

// NewRelay constructs a Relay with defaults and optional settings.
func NewRelay(store Store, endpoints EndpointSource, sender Sender, opts ...RelayOption) (*Relay, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if endpoints == nil {
		return nil, ErrEndpointSourceRequired
	}
	if sender == nil {
		return nil, ErrSenderRequired
	}

	cfg := RelayConfig{Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Relay{
		store:     store,
		endpoints: endpoints,
		sender:    sender,
		cfg:       cfg,
	}, nil
}

// Run starts the polling loop with the configured number of workers and
// blocks until ctx is cancelled or a worker fails.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, r.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					r.cfg.Logger.Error().Int("worker", workerID).Interface("panic", rec).Msg("outbox worker panic")
					errCh <- err
					cancel()
				}
			}()

			if err := r.runWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.cfg.Logger.Error().Int("worker", workerID).Err(err).Msg("outbox worker error")
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// ProcessOnce claims and processes a single batch. It reports whether any
// events were claimed.
func (r *Relay) ProcessOnce(ctx context.Context) (bool, error) {
	events, err := r.store.Claim(ctx, r.cfg.BatchSize, r.cfg.LeaseDuration)
	if err != nil {
		return false, fmt.Errorf("outbox claim failed: %w", err)
	}
	if len(events) == 0 {
		return false, nil
	}

	if err := r.processClaimed(ctx, events); err != nil {
		return true, err
	}

	return true, nil
}

func (r *Relay) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		busy, err := r.ProcessOnce(ctx)
		if err != nil {
			return err
		}

		if !busy {
			r.maybeRecordPending(ctx)
			if sleepErr := r.sleep(ctx, r.cfg.PollInterval); sleepErr != nil {
				return sleepErr
			}
		}
	}
}

func (r *Relay) processClaimed(ctx context.Context, events []Event) error {
	start := r.cfg.Clock.Now()
	defer func() {
		r.cfg.Metrics.ObserveCycleDuration(r.cfg.Clock.Since(start))
	}()

	// One snapshot per cycle keeps the fan-out decision deterministic even
	// while endpoints are being enabled or disabled concurrently.
	endpoints, err := r.endpoints.ListEnabled(ctx)
	if err != nil {
		r.releaseClaims(ctx, events)

		return fmt.Errorf("outbox endpoint snapshot failed: %w", err)
	}

	var outcome cycleOutcome
	for i, event := range events {
		if ctx.Err() != nil {
			r.releaseClaims(ctx, events[i:])
			r.recordOutcome(outcome)

			return ctx.Err()
		}

		r.processEvent(ctx, event, endpoints, &outcome)
	}

	r.recordOutcome(outcome)

	return nil
}

func (r *Relay) processEvent(ctx context.Context, event Event, endpoints []webhook.Endpoint, outcome *cycleOutcome) {
	err := r.fanOut(ctx, event, endpoints)
	now := r.cfg.Clock.Now()

	if err == nil {
		if markErr := r.store.MarkDelivered(ctx, event.ID, now); markErr != nil {
			r.cfg.Logger.Error().
				Stringer("event_id", event.ID).
				Err(markErr).
				Msg("event delivered but marking failed; it will be redelivered")

			return
		}

		outcome.delivered++

		return
	}

	attempts := event.AttemptCount + 1
	if attempts >= r.cfg.MaxAttempts {
		if markErr := r.store.MarkPermanentlyFailed(ctx, event.ID, err.Error(), now); markErr != nil {
			r.cfg.Logger.Error().Stringer("event_id", event.ID).Err(markErr).Msg("failed to mark event as permanent failure")

			return
		}

		r.cfg.Logger.Error().
			Stringer("event_id", event.ID).
			Str("event_type", event.EventType).
			Int("attempts", attempts).
			Err(err).
			Msg("event exceeded attempt ceiling; giving up, manual intervention required")

		outcome.dead++

		return
	}

	nextAttempt := now.Add(RetryDelay(r.cfg.RetryBackoff, attempts, r.cfg.MaxRetryDelay))
	if markErr := r.store.MarkFailed(ctx, event.ID, err.Error(), nextAttempt); markErr != nil {
		r.cfg.Logger.Error().Stringer("event_id", event.ID).Err(markErr).Msg("failed to record delivery failure")

		return
	}

	r.cfg.Logger.Warn().
		Stringer("event_id", event.ID).
		Str("event_type", event.EventType).
		Int("attempts", attempts).
		Time("next_attempt_at", nextAttempt).
		Err(err).
		Msg("event delivery failed; will retry")

	outcome.retried++
}

// fanOut delivers the event to each endpoint concurrently so a slow endpoint
// never stalls the others. It returns nil only when every endpoint in the
// snapshot accepted the delivery.
func (r *Relay) fanOut(ctx context.Context, event Event, endpoints []webhook.Endpoint) error {
	if len(endpoints) == 0 {
		return nil
	}

	delivery := webhook.Delivery{
		EventID:   event.ID,
		EventType: event.EventType,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	}

	errs := make([]error, len(endpoints))
	var wg sync.WaitGroup

	for i := range endpoints {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			sendCtx := ctx
			cancel := func() {}
			if r.cfg.DeliveryTimeout > 0 {
				sendCtx, cancel = context.WithTimeout(ctx, r.cfg.DeliveryTimeout)
			}
			defer cancel()

			if err := r.sender.Send(sendCtx, endpoints[i], delivery); err != nil {
				errs[i] = fmt.Errorf("endpoint %s: %w", endpoints[i].ID, err)
			}
		}(i)
	}

	wg.Wait()

	return errors.Join(errs...)
}

// releaseClaims returns leases on interrupted events so the next cycle or
// another worker can pick them up immediately. It must work even when ctx is
// already cancelled.
func (r *Relay) releaseClaims(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}

	ids := make([]uuid.UUID, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.DeliveryTimeout)
	defer cancel()

	if err := r.store.ReleaseClaims(releaseCtx, ids); err != nil {
		r.cfg.Logger.Warn().Err(err).Int("count", len(ids)).Msg("failed to release claims; leases will expire on their own")
	}
}

func (r *Relay) recordOutcome(outcome cycleOutcome) {
	r.cfg.Metrics.AddDelivered(outcome.delivered)
	r.cfg.Metrics.AddRetried(outcome.retried)
	r.cfg.Metrics.AddPermanentFailures(outcome.dead)
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := r.cfg.Clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func (r *Relay) maybeRecordPending(ctx context.Context) {
	counter, ok := r.store.(PendingCounter)
	if !ok {
		return
	}
	if r.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := r.cfg.Clock.Now()
	r.pendingMu.Lock()
	nextAllowed := r.pendingAt.Add(r.cfg.PendingInterval)
	if !r.pendingAt.IsZero() && now.Before(nextAllowed) {
		r.pendingMu.Unlock()

		return
	}
	r.pendingAt = now
	r.pendingMu.Unlock()

	count, err := counter.PendingCount(ctx)
	if err != nil {
		r.cfg.Logger.Warn().Err(err).Msg("outbox pending count failed")

		return
	}

	r.cfg.Metrics.SetPending(count)
}
