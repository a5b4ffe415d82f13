// Package pipeline implements the Operation Pipeline (spec.md §4.2): the
// orchestrator tying together the Media Store, Credit Ledger, Operation
// Store, Outbox, and Job Queue behind one Submit call. It lives in its own
// package (rather than internal/operation) because the Worker Pool
// (internal/queue) needs internal/operation's types but must not import
// this orchestrator, which itself needs internal/queue to enqueue jobs.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/events"
	"github.com/kelpejol/reel/internal/ledger"
	"github.com/kelpejol/reel/internal/media"
	"github.com/kelpejol/reel/internal/metrics"
	"github.com/kelpejol/reel/internal/operation"
	"github.com/kelpejol/reel/internal/outbox"
	"github.com/kelpejol/reel/internal/queue"
	"github.com/kelpejol/reel/internal/txn"
	"github.com/rs/zerolog"
)

// Tier is the requesting user's account tier, which determines the queue
// priority their operations enqueue at (spec.md §9's tier-derived priority
// resolution).
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

func (t Tier) priority() queue.Priority {
	if t == TierPro || t == TierEnterprise {
		return queue.PriorityHigh
	}
	return queue.PriorityNormal
}

// ParseTier maps a caller-supplied tier string to a Tier, defaulting to
// TierFree for an empty or unrecognized value.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// Pipeline implements spec.md §4.2's five-step submission flow: authorize,
// validate, idempotency-check, reserve+insert-operation+insert-outbox-event
// in one transaction, then enqueue a job.
type Pipeline struct {
	assets      media.Store
	operations  operation.Store
	ledger      *ledger.Ledger
	outboxes    outbox.Store
	jobs        queue.Store
	costs       operation.CostTable
	db          *sql.DB
	log         zerolog.Logger
	maxAttempts int
	canceller   queue.Canceller
}

// SetCanceller wires the Worker Pool's cooperative-abort hook in after
// construction, since the Pool itself is built from this Pipeline's stores
// and can't exist yet when New runs. A nil canceller (e.g. in tests) makes
// Cancel a refund-and-mark-failed with no in-flight abort signal.
func (p *Pipeline) SetCanceller(c queue.Canceller) {
	p.canceller = c
}

func New(
	assets media.Store,
	operations operation.Store,
	led *ledger.Ledger,
	outboxes outbox.Store,
	jobs queue.Store,
	costs operation.CostTable,
	db *sql.DB,
	logger zerolog.Logger,
	maxAttempts int,
) *Pipeline {
	return &Pipeline{
		assets:      assets,
		operations:  operations,
		ledger:      led,
		outboxes:    outboxes,
		jobs:        jobs,
		costs:       costs,
		db:          db,
		log:         logger.With().Str("component", "operation_pipeline").Logger(),
		maxAttempts: maxAttempts,
	}
}

// Submit runs the full pipeline for one requested operation, returning the
// created (or reused, if idempotent) Operation.
func (p *Pipeline) Submit(ctx context.Context, userID string, tier Tier, assetID string, params operation.Params) (*operation.Operation, error) {
	// Step 1: authorize — the asset must exist and be owned by the caller.
	asset, err := p.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.OwnerID != userID {
		metrics.OperationsRejected.WithLabelValues("unauthorized").Inc()
		return nil, apperr.New(apperr.Authorization, "asset not owned by requesting user")
	}

	// Step 2: validate — per-kind parameter rules against the asset.
	if err := params.Validate(asset); err != nil {
		metrics.OperationsRejected.WithLabelValues("validation").Inc()
		return nil, err
	}
	if params.Kind() == operation.KindExtractAudio {
		exists, err := p.operations.ExistsCompletedKind(ctx, assetID, operation.KindExtractAudio)
		if err != nil {
			return nil, err
		}
		if exists {
			metrics.OperationsRejected.WithLabelValues("already_extracted").Inc()
			return nil, apperr.New(apperr.Conflict, "audio already extracted for this asset")
		}
	}

	cost, err := p.costs.Cost(params.Kind())
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "cost lookup", err)
	}

	// Step 3: idempotency check — a prior request with the same asset,
	// kind, and parameters reuses the existing operation instead of
	// double-charging (spec.md §4.2 step 3).
	fingerprint := operation.Fingerprint(assetID, params)
	if existing, err := p.operations.FindByFingerprint(ctx, fingerprint); err != nil {
		return nil, err
	} else if existing != nil {
		p.log.Info().Str("operation_id", existing.ID).Msg("idempotent resubmission, reusing existing operation")
		return existing, nil
	}

	op := &operation.Operation{
		ID:          uuid.New().String(),
		AssetID:     assetID,
		UserID:      userID,
		Kind:        params.Kind(),
		Status:      operation.StatusPending,
		Parameters:  params.ToMap(),
		Fingerprint: fingerprint,
		Cost:        cost,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	// Step 4: reserve credits, insert the Operation row, and insert the
	// queued outbox event in one transaction.
	err = txn.Run(ctx, p.db, func(ctx context.Context) error {
		if _, err := p.ledger.Reserve(ctx, userID, op.ID, cost, fmt.Sprintf("reserve for %s", op.Kind)); err != nil {
			return err
		}
		if err := p.operations.Create(ctx, op); err != nil {
			return err
		}
		return p.outboxes.Insert(ctx, &outbox.Event{
			OperationID:    op.ID,
			IdempotencyKey: fmt.Sprintf("%s:%s", op.ID, events.JobQueued),
			EventType:      events.JobQueued,
			Payload:        map[string]interface{}{"operation_id": op.ID, "kind": string(op.Kind)},
		})
	})
	if err != nil {
		if apperr.Is(err, apperr.InsufficientFunds) {
			metrics.OperationsRejected.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}

	// Step 5: enqueue the job outside the settlement transaction — the
	// worker pool tolerates a job row that doesn't exist yet (it simply
	// won't be claimable), but it must never see a job for an operation
	// that failed to commit.
	if err := p.jobs.Enqueue(ctx, &queue.Job{
		OperationID: op.ID,
		Priority:    tier.priority(),
		MaxAttempts: p.maxAttempts,
	}); err != nil {
		p.log.Error().Err(err).Str("operation_id", op.ID).Msg("failed to enqueue job after committing operation")
		return nil, err
	}

	metrics.OperationsStarted.WithLabelValues(string(op.Kind)).Inc()
	p.log.Info().Str("operation_id", op.ID).Str("user_id", userID).Str("kind", string(op.Kind)).Msg("operation submitted")
	return op, nil
}

// Get returns an operation by ID, enforcing that callerID owns it.
func (p *Pipeline) Get(ctx context.Context, callerID, operationID string) (*operation.Operation, error) {
	op, err := p.operations.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.UserID != callerID {
		return nil, apperr.New(apperr.Authorization, "operation not owned by requesting user")
	}
	return op, nil
}

// Cancel implements administrative cancellation (spec.md §5): marks the
// operation failed, refunds its reservation, and signals the worker pool to
// abort the subprocess at its next cooperative check. It is not scoped to
// an owning user — callers are expected to be trusted operator surfaces
// (admin CLI/API), not the end-user request path.
func (p *Pipeline) Cancel(ctx context.Context, operationID string) error {
	if err := p.operations.Cancel(ctx, operationID, "cancelled by administrator"); err != nil {
		return err
	}
	if _, err := p.ledger.Refund(ctx, operationID, "administrative cancellation"); err != nil && !apperr.Is(err, apperr.NotFound) && !apperr.Is(err, apperr.Conflict) {
		p.log.Error().Err(err).Str("operation_id", operationID).Msg("failed to refund reservation on cancel")
	}
	if err := p.outboxes.Insert(ctx, &outbox.Event{
		OperationID:    operationID,
		IdempotencyKey: fmt.Sprintf("%s:%s", operationID, events.JobFailed),
		EventType:      events.JobFailed,
		Payload:        map[string]interface{}{"operation_id": operationID, "error": "cancelled by administrator"},
	}); err != nil {
		p.log.Error().Err(err).Str("operation_id", operationID).Msg("failed to record job.failed event on cancel")
	}
	if p.canceller != nil && p.canceller.Cancel(operationID) {
		p.log.Info().Str("operation_id", operationID).Msg("signaled worker to abort in-flight job")
	}
	p.log.Info().Str("operation_id", operationID).Msg("operation cancelled by administrator")
	return nil
}
