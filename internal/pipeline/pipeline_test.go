package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/events"
	"github.com/kelpejol/reel/internal/ledger"
	"github.com/kelpejol/reel/internal/media"
	"github.com/kelpejol/reel/internal/operation"
	"github.com/kelpejol/reel/internal/outbox"
	"github.com/kelpejol/reel/internal/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPipeline wires Pipeline against in-memory stores, the same
// resolution the teacher's own balance_service_test.go wished for ("hard
// dependency on concrete Ledger struct makes unit testing hard"). The
// transaction boundary (internal/txn) still needs a real *sql.DB to call
// BeginTx/Commit on, so it gets a sqlmock connection that never sees a real
// query — every store call underneath is a MemoryStore.
func newTestPipeline(t *testing.T, costs operation.CostTable) (*Pipeline, media.Store, operation.Store, *ledger.Ledger, outbox.Store, queue.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	assets := media.NewMemoryStore()
	ops := operation.NewMemoryStore()
	led := ledger.New(ledger.NewMemoryStore(), nil, zerolog.Nop())
	outboxes := outbox.NewMemoryStore()
	jobs := queue.NewMemoryStore()

	if costs == nil {
		costs = operation.DefaultCostTable()
	}
	pl := New(assets, ops, led, outboxes, jobs, costs, db, zerolog.Nop(), 3)
	return pl, assets, ops, led, outboxes, jobs, mock
}

func TestSubmit_HappyPath(t *testing.T) {
	pl, assets, ops, led, outboxes, jobs, mock := newTestPipeline(t, nil)
	ctx := context.Background()

	require.NoError(t, assets.Create(ctx, &media.Asset{AssetID: "a1", OwnerID: "u1", Kind: media.KindImage, Extension: "png"}))
	_, err := led.Credit(ctx, "u1", 100, "grant")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()

	op, err := pl.Submit(ctx, "u1", TierFree, "a1", operation.ResizeParams{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, operation.StatusPending, op.Status)
	assert.Equal(t, int64(1), op.Cost)

	balance, err := led.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), balance)

	stored, err := ops.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, stored.ID)

	depth, err := jobs.DepthByPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth[queue.PriorityNormal], "a free-tier submission enqueues at normal priority")

	claimed, err := outboxes.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "the queued-job outbox event must be inserted in the same transaction")
	assert.Equal(t, events.JobQueued, claimed[0].EventType)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_ProTierEnqueuesHighPriority(t *testing.T) {
	pl, assets, _, led, _, jobs, mock := newTestPipeline(t, nil)
	ctx := context.Background()
	require.NoError(t, assets.Create(ctx, &media.Asset{AssetID: "a1", OwnerID: "u1", Kind: media.KindImage, Extension: "png"}))
	_, err := led.Credit(ctx, "u1", 100, "grant")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err = pl.Submit(ctx, "u1", TierPro, "a1", operation.ResizeParams{Width: 100, Height: 100})
	require.NoError(t, err)

	depth, err := jobs.DepthByPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth[queue.PriorityHigh])
}

func TestSubmit_EnterpriseTierEnqueuesHighPriority(t *testing.T) {
	pl, assets, _, led, _, jobs, mock := newTestPipeline(t, nil)
	ctx := context.Background()
	require.NoError(t, assets.Create(ctx, &media.Asset{AssetID: "a1", OwnerID: "u1", Kind: media.KindImage, Extension: "png"}))
	_, err := led.Credit(ctx, "u1", 100, "grant")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err = pl.Submit(ctx, "u1", TierEnterprise, "a1", operation.ResizeParams{Width: 100, Height: 100})
	require.NoError(t, err)

	depth, err := jobs.DepthByPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth[queue.PriorityHigh], "enterprise tier enqueues at the same priority as pro")
}

func TestParseTier_UnrecognizedDefaultsToFree(t *testing.T) {
	assert.Equal(t, TierFree, ParseTier(""))
	assert.Equal(t, TierFree, ParseTier("nonsense"))
	assert.Equal(t, TierPro, ParseTier("pro"))
	assert.Equal(t, TierEnterprise, ParseTier("enterprise"))
}

func TestSubmit_RejectsUnownedAsset(t *testing.T) {
	pl, assets, _, _, _, _, _ := newTestPipeline(t, nil)
	ctx := context.Background()
	require.NoError(t, assets.Create(ctx, &media.Asset{AssetID: "a1", OwnerID: "owner", Kind: media.KindImage, Extension: "png"}))

	_, err := pl.Submit(ctx, "not-the-owner", TierFree, "a1", operation.ResizeParams{Width: 10, Height: 10})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Authorization))
}

func TestSubmit_RejectsInvalidParameters(t *testing.T) {
	pl, assets, _, led, _, _, _ := newTestPipeline(t, nil)
	ctx := context.Background()
	require.NoError(t, assets.Create(ctx, &media.Asset{AssetID: "a1", OwnerID: "u1", Kind: media.KindImage, Extension: "png"}))
	_, err := led.Credit(ctx, "u1", 100, "grant")
	require.NoError(t, err)

	_, err = pl.Submit(ctx, "u1", TierFree, "a1", operation.ResizeParams{Width: 0, Height: 0})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestSubmit_RejectsInsufficientFunds(t *testing.T) {
	pl, assets, _, led, _, _, mock := newTestPipeline(t, nil)
	ctx := context.Background()
	require.NoError(t, assets.Create(ctx, &media.Asset{AssetID: "a1", OwnerID: "u1", Kind: media.KindImage, Extension: "png"}))
	_, err := led.Credit(ctx, "u1", 0, "no grant")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = pl.Submit(ctx, "u1", TierFree, "a1", operation.ResizeParams{Width: 10, Height: 10})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InsufficientFunds))
}

func TestSubmit_RejectsRepeatAudioExtraction(t *testing.T) {
	pl, assets, ops, led, _, _, _ := newTestPipeline(t, nil)
	ctx := context.Background()
	require.NoError(t, assets.Create(ctx, &media.Asset{AssetID: "a1", OwnerID: "u1", Kind: media.KindVideo, Extension: "mp4"}))
	_, err := led.Credit(ctx, "u1", 100, "grant")
	require.NoError(t, err)
	require.NoError(t, ops.Create(ctx, &operation.Operation{
		ID: "prior-op", AssetID: "a1", Kind: operation.KindExtractAudio, Status: operation.StatusCompleted,
	}))

	_, err = pl.Submit(ctx, "u1", TierFree, "a1", operation.ExtractAudioParams{Format: "aac"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestSubmit_IdempotentResubmissionReusesOperation(t *testing.T) {
	pl, assets, _, led, _, jobs, mock := newTestPipeline(t, nil)
	ctx := context.Background()
	require.NoError(t, assets.Create(ctx, &media.Asset{AssetID: "a1", OwnerID: "u1", Kind: media.KindImage, Extension: "png"}))
	_, err := led.Credit(ctx, "u1", 100, "grant")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()

	first, err := pl.Submit(ctx, "u1", TierFree, "a1", operation.ResizeParams{Width: 100, Height: 100})
	require.NoError(t, err)

	second, err := pl.Submit(ctx, "u1", TierFree, "a1", operation.ResizeParams{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "an identical resubmission must reuse the existing operation, not double-charge")

	balance, err := led.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), balance, "only the first submission's reservation should have deducted from the balance")

	depth, err := jobs.DepthByPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth[queue.PriorityNormal], "the idempotent resubmission must not enqueue a second job")
}

func TestGet_EnforcesOwnership(t *testing.T) {
	pl, assets, _, led, _, _, mock := newTestPipeline(t, nil)
	ctx := context.Background()
	require.NoError(t, assets.Create(ctx, &media.Asset{AssetID: "a1", OwnerID: "u1", Kind: media.KindImage, Extension: "png"}))
	_, err := led.Credit(ctx, "u1", 100, "grant")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()
	op, err := pl.Submit(ctx, "u1", TierFree, "a1", operation.ResizeParams{Width: 100, Height: 100})
	require.NoError(t, err)

	_, err = pl.Get(ctx, "someone-else", op.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Authorization))

	got, err := pl.Get(ctx, "u1", op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
}
