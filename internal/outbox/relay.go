package outbox

import (
	"context"
	"time"

	"github.com/kelpejol/reel/internal/events"
	"github.com/kelpejol/reel/internal/metrics"
	"github.com/rs/zerolog"
)

// Relay polls Store for claimable events and dispatches them into an
// events.Registry, implementing spec.md §4.4's at-least-once delivery loop.
type Relay struct {
	store        Store
	registry     *events.Registry
	log          zerolog.Logger
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	backoff      time.Duration
	claimTimeout time.Duration
	reapInterval time.Duration

	stopCh chan struct{}
}

func NewRelay(store Store, registry *events.Registry, logger zerolog.Logger, pollInterval time.Duration, batchSize, maxAttempts int, backoff, claimTimeout, reapInterval time.Duration) *Relay {
	return &Relay{
		store:        store,
		registry:     registry,
		log:          logger.With().Str("component", "outbox_relay").Logger(),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxAttempts:  maxAttempts,
		backoff:      backoff,
		claimTimeout: claimTimeout,
		reapInterval: reapInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the poll and reap loops until ctx is canceled or Stop is called.
func (r *Relay) Start(ctx context.Context) {
	pollTicker := time.NewTicker(r.pollInterval)
	reapTicker := time.NewTicker(r.reapInterval)
	defer pollTicker.Stop()
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-pollTicker.C:
			r.pollOnce(ctx)
		case <-reapTicker.C:
			if n, err := r.store.ReapStuckClaims(ctx, r.claimTimeout); err != nil {
				r.log.Error().Err(err).Msg("reap stuck claims failed")
			} else if n > 0 {
				r.log.Warn().Int("count", n).Msg("reaped stuck outbox claims")
			}
		}
	}
}

func (r *Relay) Stop() { close(r.stopCh) }

func (r *Relay) pollOnce(ctx context.Context) {
	claimed, err := r.store.ClaimBatch(ctx, r.batchSize, r.claimTimeout)
	if err != nil {
		r.log.Error().Err(err).Msg("claim batch failed")
		return
	}

	oldestPending := time.Time{}
	for _, e := range claimed {
		if oldestPending.IsZero() || e.CreatedAt.Before(oldestPending) {
			oldestPending = e.CreatedAt
		}

		ev := events.Event{OperationID: e.OperationID, Type: e.EventType, Payload: e.Payload}
		if err := r.registry.Dispatch(ctx, ev); err != nil {
			r.log.Warn().Err(err).Str("event_id", e.ID).Str("event_type", string(e.EventType)).Msg("event dispatch failed")
			if ferr := r.store.MarkFailed(ctx, e.ID, r.maxAttempts, r.backoff); ferr != nil {
				r.log.Error().Err(ferr).Str("event_id", e.ID).Msg("failed to mark event failed")
			}
			continue
		}

		if err := r.store.MarkPublished(ctx, e.ID); err != nil {
			r.log.Error().Err(err).Str("event_id", e.ID).Msg("failed to mark event published")
			continue
		}
		metrics.OutboxDelivered.WithLabelValues("published").Inc()
	}

	if !oldestPending.IsZero() {
		metrics.OutboxLagSeconds.Set(time.Since(oldestPending).Seconds())
	} else {
		metrics.OutboxLagSeconds.Set(0)
	}
}
