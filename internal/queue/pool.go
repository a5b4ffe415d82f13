package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/events"
	"github.com/kelpejol/reel/internal/ledger"
	"github.com/kelpejol/reel/internal/media"
	"github.com/kelpejol/reel/internal/mediatool"
	"github.com/kelpejol/reel/internal/metrics"
	"github.com/kelpejol/reel/internal/operation"
	"github.com/kelpejol/reel/internal/outbox"
	"github.com/kelpejol/reel/internal/txn"
	"github.com/rs/zerolog"
)

// Canceller lets a caller outside the Worker Pool (the Operation Pipeline's
// administrative cancel path, spec.md §5) request cooperative abort of an
// in-flight job by operation ID.
type Canceller interface {
	Cancel(operationID string) bool
}

// Pool is the bounded worker pool that claims and executes jobs (spec.md
// §4.3). Settlement — capturing or refunding the Ledger reservation,
// closing out the Operation row, and recording the terminal outbox event —
// always happens in one transaction (internal/txn), the same pattern the
// Operation Pipeline uses to open its own.
type Pool struct {
	store       Store
	operations  operation.Store
	assets      media.Store
	ledger      *ledger.Ledger
	outboxStore outbox.Store
	runner      *mediatool.Runner
	progress    *ProgressPublisher
	db          *sql.DB
	log         zerolog.Logger

	concurrency  int
	pollInterval time.Duration
	backoff      time.Duration

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

func NewPool(
	store Store,
	operations operation.Store,
	assets media.Store,
	led *ledger.Ledger,
	outboxStore outbox.Store,
	runner *mediatool.Runner,
	progress *ProgressPublisher,
	db *sql.DB,
	logger zerolog.Logger,
	concurrency int,
	pollInterval, backoff time.Duration,
) *Pool {
	return &Pool{
		store:        store,
		operations:   operations,
		assets:       assets,
		ledger:       led,
		outboxStore:  outboxStore,
		runner:       runner,
		progress:     progress,
		db:           db,
		log:          logger.With().Str("component", "worker_pool").Logger(),
		concurrency:  concurrency,
		pollInterval: pollInterval,
		backoff:      backoff,
		cancels:      map[string]context.CancelFunc{},
	}
}

// Cancel aborts the in-flight subprocess for operationID, if one is running,
// by canceling its context — honored by mediatool.Runner.Run's
// exec.CommandContext at its next cooperative check. Reports whether a
// running job was found.
func (p *Pool) Cancel(operationID string) bool {
	p.cancelMu.Lock()
	cancel, ok := p.cancels[operationID]
	p.cancelMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (p *Pool) registerCancel(operationID string, cancel context.CancelFunc) {
	p.cancelMu.Lock()
	p.cancels[operationID] = cancel
	p.cancelMu.Unlock()
}

func (p *Pool) unregisterCancel(operationID string) {
	p.cancelMu.Lock()
	delete(p.cancels, operationID)
	p.cancelMu.Unlock()
}

// Start restores any jobs orphaned by a prior crash (restore_on_start) and
// launches concurrency worker goroutines, returning once all have exited
// (on ctx cancellation).
func (p *Pool) Start(ctx context.Context) error {
	recovered, err := p.store.RestoreOnStart(ctx)
	if err != nil {
		return fmt.Errorf("restore_on_start: %w", err)
	}
	if len(recovered) > 0 {
		p.log.Warn().Int("count", len(recovered)).Msg("restored jobs orphaned by a prior crash")
	}

	done := make(chan struct{}, p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.New().String()[:8])
		go func(id string) {
			defer func() { done <- struct{}{} }()
			p.runWorker(ctx, id)
		}(workerID)
	}
	for i := 0; i < p.concurrency; i++ {
		<-done
	}
	return nil
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := p.store.Claim(ctx, workerID)
			if err != nil {
				p.log.Error().Err(err).Str("worker_id", workerID).Msg("claim failed")
				continue
			}
			if job == nil {
				continue
			}
			p.process(ctx, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, job *Job) {
	start := time.Now()
	log := p.log.With().Str("job_id", job.ID).Str("operation_id", job.OperationID).Logger()

	op, err := p.operations.Get(ctx, job.OperationID)
	if err != nil {
		log.Error().Err(err).Msg("operation not found for job; dropping")
		_, _ = p.store.Fail(ctx, job.ID, false, p.backoff)
		return
	}

	p.emitStarted(ctx, op)

	asset, err := p.assets.Get(ctx, op.AssetID)
	if err != nil {
		p.terminalFailure(ctx, job, op, err)
		return
	}
	params, err := operation.FromMap(op.Kind, op.Parameters)
	if err != nil {
		p.terminalFailure(ctx, job, op, err)
		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	p.registerCancel(op.ID, cancelRun)
	result, runErr := p.runner.Run(runCtx, asset, op.Kind, params, func(pct int) {
		p.progress.Publish(ctx, op.ID, pct)
	})
	p.unregisterCancel(op.ID)
	cancelRun()

	if runErr != nil {
		retryable := apperrRetryable(runErr)
		terminal, ferr := p.store.Fail(ctx, job.ID, retryable, p.backoff)
		if ferr != nil {
			log.Error().Err(ferr).Msg("failed to record job failure")
			return
		}
		if !terminal {
			metrics.WorkerJobDuration.WithLabelValues(string(op.Kind), "retry").Observe(time.Since(start).Seconds())
			metrics.WorkerRetries.WithLabelValues(string(op.Kind)).Inc()
			log.Warn().Err(runErr).Int("attempts", job.Attempts+1).Msg("job failed, will retry")
			return
		}
		metrics.WorkerJobDuration.WithLabelValues(string(op.Kind), "failed").Observe(time.Since(start).Seconds())
		metrics.OperationsSettled.WithLabelValues("failed").Inc()
		p.settleFailure(ctx, op, runErr)
		return
	}

	metrics.WorkerJobDuration.WithLabelValues(string(op.Kind), "completed").Observe(time.Since(start).Seconds())
	metrics.OperationsSettled.WithLabelValues("completed").Inc()
	p.settleSuccess(ctx, job, op, result)
}

func (p *Pool) terminalFailure(ctx context.Context, job *Job, op *operation.Operation, err error) {
	_, _ = p.store.Fail(ctx, job.ID, false, p.backoff)
	p.settleFailure(ctx, op, err)
}

// settleSuccess captures the ledger reservation, completes the operation
// and job rows, and records the job.completed event in one transaction —
// spec.md §4.3 step 3's atomic terminal settlement.
func (p *Pool) settleSuccess(ctx context.Context, job *Job, op *operation.Operation, result *mediatool.Result) {
	err := txn.Run(ctx, p.db, func(ctx context.Context) error {
		if _, err := p.ledger.Capture(ctx, op.ID); err != nil {
			return err
		}
		if err := p.operations.UpdateStatus(ctx, op.ID, operation.StatusCompleted, result.OutputPath, ""); err != nil {
			return err
		}
		if err := p.store.Complete(ctx, job.ID); err != nil {
			return err
		}
		return p.outboxStore.Insert(ctx, &outbox.Event{
			OperationID:    op.ID,
			IdempotencyKey: fmt.Sprintf("%s:%s", op.ID, events.JobCompleted),
			EventType:      events.JobCompleted,
			Payload:        map[string]interface{}{"operation_id": op.ID, "result_path": result.OutputPath},
		})
	})
	if err != nil {
		p.log.Error().Err(err).Str("operation_id", op.ID).Msg("settlement transaction failed after successful run")
	}
}

// settleFailure refunds the ledger reservation, marks the operation failed,
// and records the job.failed event atomically — the same settlement shape
// as settleSuccess, but refunding instead of capturing. The job row itself
// is marked failed by Store.Fail before this runs, outside the transaction.
func (p *Pool) settleFailure(ctx context.Context, op *operation.Operation, cause error) {
	errMsg := cause.Error()
	err := txn.Run(ctx, p.db, func(ctx context.Context) error {
		if _, err := p.ledger.Refund(ctx, op.ID, "operation failed"); err != nil && !apperr.Is(err, apperr.NotFound) && !apperr.Is(err, apperr.Conflict) {
			return err
		}
		if err := p.operations.UpdateStatus(ctx, op.ID, operation.StatusFailed, "", errMsg); err != nil {
			return err
		}
		return p.outboxStore.Insert(ctx, &outbox.Event{
			OperationID:    op.ID,
			IdempotencyKey: fmt.Sprintf("%s:%s", op.ID, events.JobFailed),
			EventType:      events.JobFailed,
			Payload:        map[string]interface{}{"operation_id": op.ID, "error": errMsg},
		})
	})
	if err != nil {
		p.log.Error().Err(err).Str("operation_id", op.ID).Msg("settlement transaction failed after job failure")
	}
}

func (p *Pool) emitStarted(ctx context.Context, op *operation.Operation) {
	err := txn.Run(ctx, p.db, func(ctx context.Context) error {
		if err := p.operations.UpdateStatus(ctx, op.ID, operation.StatusProcessing, "", ""); err != nil {
			return err
		}
		return p.outboxStore.Insert(ctx, &outbox.Event{
			OperationID:    op.ID,
			IdempotencyKey: fmt.Sprintf("%s:%s", op.ID, events.JobStarted),
			EventType:      events.JobStarted,
			Payload:        map[string]interface{}{"operation_id": op.ID},
		})
	})
	if err != nil {
		p.log.Warn().Err(err).Str("operation_id", op.ID).Msg("failed to record job started")
	}
}

func apperrRetryable(err error) bool {
	if ae, ok := err.(*apperr.Error); ok {
		return ae.Retryable()
	}
	return false
}
