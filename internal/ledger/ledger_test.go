package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLedger builds a Ledger over MemoryStore with the Redis cache
// disabled, resolving the "hard dependency on concrete Ledger struct"
// problem the teacher's own balance_service_test.go flagged as untestable.
func newTestLedger() *Ledger {
	return New(NewMemoryStore(), nil, zerolog.Nop())
}

func TestReserve_DeductsBalance(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.Credit(ctx, "user-1", 100, "initial grant")
	require.NoError(t, err)

	res, err := led.Reserve(ctx, "user-1", "op-1", 30, "reserve for resize")
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.Balance)

	balance, err := led.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
}

func TestReserve_InsufficientFunds(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.Credit(ctx, "user-1", 10, "initial grant")
	require.NoError(t, err)

	_, err = led.Reserve(ctx, "user-1", "op-1", 50, "too much")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InsufficientFunds))

	balance, err := led.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance, "a rejected reservation must not touch the balance")
}

func TestReserve_DuplicateOperationIDConflicts(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.Credit(ctx, "user-1", 100, "initial grant")
	require.NoError(t, err)

	_, err = led.Reserve(ctx, "user-1", "op-1", 10, "first")
	require.NoError(t, err)

	_, err = led.Reserve(ctx, "user-1", "op-1", 10, "second")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestCapture_SettlesReservationWithoutChangingBalance(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.Credit(ctx, "user-1", 100, "initial grant")
	require.NoError(t, err)
	_, err = led.Reserve(ctx, "user-1", "op-1", 40, "reserve")
	require.NoError(t, err)

	_, err = led.Capture(ctx, "op-1")
	require.NoError(t, err)

	balance, err := led.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance, "capture confirms the reservation's debit, it doesn't debit again")

	settled, err := led.IsSettled(ctx, "op-1")
	require.NoError(t, err)
	assert.True(t, settled)
}

func TestRefund_RestoresReservedAmount(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.Credit(ctx, "user-1", 100, "initial grant")
	require.NoError(t, err)
	_, err = led.Reserve(ctx, "user-1", "op-1", 40, "reserve")
	require.NoError(t, err)

	_, err = led.Refund(ctx, "op-1", "operation failed")
	require.NoError(t, err)

	balance, err := led.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestCapture_WithoutReservationNotFound(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.Capture(ctx, "no-such-op")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestCapture_AlreadySettledConflicts(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.Credit(ctx, "user-1", 100, "initial grant")
	require.NoError(t, err)
	_, err = led.Reserve(ctx, "user-1", "op-1", 40, "reserve")
	require.NoError(t, err)
	_, err = led.Capture(ctx, "op-1")
	require.NoError(t, err)

	_, err = led.Refund(ctx, "op-1", "too late")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestOrphanReservations_ExcludesSettled(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.Credit(ctx, "user-1", 300, "initial grant")
	require.NoError(t, err)

	_, err = led.Reserve(ctx, "user-1", "op-old", 10, "unsettled")
	require.NoError(t, err)
	_, err = led.Reserve(ctx, "user-1", "op-settled", 10, "settled")
	require.NoError(t, err)
	_, err = led.Capture(ctx, "op-settled")
	require.NoError(t, err)
	_, err = led.Reserve(ctx, "user-1", "op-recent", 10, "unsettled, created last")
	require.NoError(t, err)

	future := time.Now().Add(time.Hour) // cutoff in the future catches everything not yet settled
	orphans, err := led.OrphanReservations(ctx, future)
	require.NoError(t, err)

	ids := make([]string, 0, len(orphans))
	for _, e := range orphans {
		ids = append(ids, e.OperationID)
	}
	assert.ElementsMatch(t, []string{"op-old", "op-recent"}, ids)
}
