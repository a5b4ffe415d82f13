// Package janitor implements the Reservation Janitor (spec.md §4.5): a
// periodic sweep that reconciles ledger reservations against the Operation
// they belong to, releasing or capturing whatever the worker pool's normal
// settlement path failed to resolve (crashed worker, lost outbox event,
// operation stuck past its TTL).
package janitor

import (
	"context"
	"time"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/ledger"
	"github.com/kelpejol/reel/internal/metrics"
	"github.com/kelpejol/reel/internal/operation"
	"github.com/rs/zerolog"
)

// OnSuspicious governs what the janitor does with a reservation whose
// Operation is Completed but has no matching capture entry — a state that
// should be impossible given the worker pool's transactional settlement,
// but isn't ruled out by crash timing around a partial deploy or a bug.
// spec.md §9 resolves this as a configurable policy, default "release".
type OnSuspicious string

const (
	OnSuspiciousRelease OnSuspicious = "release"
	OnSuspiciousCapture OnSuspicious = "capture"
)

// Janitor periodically resolves orphaned reservations.
type Janitor struct {
	ledger      *ledger.Ledger
	operations  operation.Store
	log         zerolog.Logger
	ttl         time.Duration
	graceFactor float64
	onSuspicious OnSuspicious

	resync func(ctx context.Context, userID string) // best-effort cache resync after a settle, wired to internal/sync.Syncer.SyncUser

	stopCh chan struct{}
}

func New(
	led *ledger.Ledger,
	operations operation.Store,
	logger zerolog.Logger,
	ttl time.Duration,
	graceFactor float64,
	onSuspicious OnSuspicious,
	resync func(ctx context.Context, userID string),
) *Janitor {
	if graceFactor <= 0 {
		graceFactor = 2
	}
	if onSuspicious == "" {
		onSuspicious = OnSuspiciousRelease
	}
	return &Janitor{
		ledger:       led,
		operations:   operations,
		log:          logger.With().Str("component", "janitor").Logger(),
		ttl:          ttl,
		graceFactor:  graceFactor,
		onSuspicious: onSuspicious,
		resync:       resync,
		stopCh:       make(chan struct{}),
	}
}

// Start runs RunOnce on interval until ctx is canceled or Stop is called.
func (j *Janitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.Error().Err(err).Msg("janitor sweep failed")
			}
		}
	}
}

func (j *Janitor) Stop() { close(j.stopCh) }

// Outcome tallies what one sweep did, returned for the admin CLI's
// "janitor run-once" command.
type Outcome struct {
	Checked    int
	Released   int
	Captured   int
	Suspicious int
	StillLive  int
}

// RunOnce sweeps every reservation older than the janitor's TTL with no
// matching capture/refund entry, and resolves each per spec.md §4.5's
// decision table:
//
//   - operation failed                      -> release (refund)
//   - operation completed, no capture row    -> onSuspicious policy
//   - operation has no matching row at all   -> release (orphaned reservation)
//   - operation still pending/processing:
//       - within ttl*graceFactor             -> leave alone, still live
//       - past ttl*graceFactor               -> release as stuck
func (j *Janitor) RunOnce(ctx context.Context) (Outcome, error) {
	var out Outcome
	cutoff := time.Now().Add(-j.ttl)
	grace := time.Now().Add(-time.Duration(float64(j.ttl) * j.graceFactor))

	orphans, err := j.ledger.OrphanReservations(ctx, cutoff)
	if err != nil {
		return out, err
	}

	for _, entry := range orphans {
		out.Checked++
		metrics.JanitorReservationsChecked.Inc()

		op, err := j.operations.Get(ctx, entry.OperationID)
		if err != nil && !apperr.Is(err, apperr.NotFound) {
			j.log.Error().Err(err).Str("operation_id", entry.OperationID).Msg("failed to look up operation for reservation")
			continue
		}

		switch {
		case op == nil:
			j.release(ctx, entry.OperationID, entry.UserID, "no matching operation")
			out.Released++

		case op.Status == operation.StatusFailed:
			j.release(ctx, entry.OperationID, entry.UserID, "operation failed")
			out.Released++

		case op.Status == operation.StatusCompleted:
			out.Suspicious++
			metrics.JanitorSuspicious.Inc()
			if j.onSuspicious == OnSuspiciousCapture {
				j.capture(ctx, entry.OperationID, entry.UserID)
				out.Captured++
			} else {
				j.release(ctx, entry.OperationID, entry.UserID, "completed with no capture row")
				out.Released++
			}

		default: // pending or processing
			if entry.CreatedAt.Before(grace) {
				j.release(ctx, entry.OperationID, entry.UserID, "stuck past ttl grace period")
				out.Released++
				_ = j.operations.UpdateStatus(ctx, entry.OperationID, operation.StatusFailed, "", "reservation janitor: stuck past ttl grace period")
			} else {
				out.StillLive++
			}
		}
	}

	j.log.Info().
		Int("checked", out.Checked).
		Int("released", out.Released).
		Int("captured", out.Captured).
		Int("suspicious", out.Suspicious).
		Int("still_live", out.StillLive).
		Msg("janitor sweep complete")

	return out, nil
}

func (j *Janitor) release(ctx context.Context, operationID, userID, reason string) {
	if _, err := j.ledger.Refund(ctx, operationID, "janitor: "+reason); err != nil && !apperr.Is(err, apperr.Conflict) {
		j.log.Error().Err(err).Str("operation_id", operationID).Msg("failed to release reservation")
		return
	}
	metrics.JanitorReleased.Inc()
	if j.resync != nil {
		j.resync(ctx, userID)
	}
}

func (j *Janitor) capture(ctx context.Context, operationID, userID string) {
	if _, err := j.ledger.Capture(ctx, operationID); err != nil && !apperr.Is(err, apperr.Conflict) {
		j.log.Error().Err(err).Str("operation_id", operationID).Msg("failed to capture suspicious reservation")
		return
	}
	if j.resync != nil {
		j.resync(ctx, userID)
	}
}
