package ledger_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/ledger"
	"medeasy/ledger/internal/metrics"
	"medeasy/ledger/internal/store"
	"medeasy/ledger/internal/store/storetest"
)

func setupLedger(t *testing.T, quantity int64) (*ledger.Ledger, *store.Store, *domain.InventoryLot, *metrics.Metrics) {
	t.Helper()
	s, _ := storetest.Open(t)
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")
	lot := storetest.Lot(t, s, p.ID, m.ID, quantity, "3.50")
	mx := metrics.New(nil)
	return ledger.New(s, mx, zap.NewNop()), s, lot, mx
}

func TestApplyDelta_AppliesAndReturnsSnapshot(t *testing.T) {
	l, s, lot, mx := setupLedger(t, 10)
	ctx := context.Background()

	snap, err := l.Apply(ctx, s, ledger.DefaultMaxRetries, lot.ID, -4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.QuantityOnHand)
	assert.Equal(t, lot.Version+1, snap.Version)

	got, err := s.GetLot(ctx, s.DB(), lot.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.QuantityOnHand)
	assert.Equal(t, 1.0, testutil.ToFloat64(mx.LedgerDeltas.WithLabelValues(metrics.OutcomeApplied)))
}

func TestApplyDelta_InsufficientStockLeavesLotUntouched(t *testing.T) {
	l, s, lot, mx := setupLedger(t, 3)
	ctx := context.Background()

	_, err := l.Apply(ctx, s, ledger.DefaultMaxRetries, lot.ID, -4)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	got, err := s.GetLot(ctx, s.DB(), lot.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.QuantityOnHand)
	assert.Equal(t, lot.Version, got.Version)
	assert.Equal(t, 1.0, testutil.ToFloat64(mx.LedgerDeltas.WithLabelValues(metrics.OutcomeInsufficient)))
}

func TestApplyDelta_DrainToZeroAllowed(t *testing.T) {
	l, s, lot, _ := setupLedger(t, 3)

	snap, err := l.Apply(context.Background(), s, ledger.DefaultMaxRetries, lot.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.QuantityOnHand)
}

func TestApplyDelta_MinResultFloor(t *testing.T) {
	l, s, lot, _ := setupLedger(t, 10)

	_, err := l.Apply(context.Background(), s, ledger.DefaultMaxRetries, lot.ID, -6, ledger.WithMinResult(5))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	snap, err := l.Apply(context.Background(), s, ledger.DefaultMaxRetries, lot.ID, -5, ledger.WithMinResult(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.QuantityOnHand)
}

func TestApplyDelta_LotNotFound(t *testing.T) {
	l, s, _, _ := setupLedger(t, 1)

	_, err := l.Apply(context.Background(), s, ledger.DefaultMaxRetries, 404, 1)
	assert.ErrorIs(t, err, domain.ErrLotNotFound)
}

func TestApplyDelta_RejectsQuantityOverflow(t *testing.T) {
	l, s, lot, mx := setupLedger(t, 10)
	ctx := context.Background()

	_, err := l.Apply(ctx, s, ledger.DefaultMaxRetries, lot.ID, math.MaxInt64)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NotErrorIs(t, err, domain.ErrInsufficientStock)

	got, err := s.GetLot(ctx, s.DB(), lot.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.QuantityOnHand)
	assert.Equal(t, lot.Version, got.Version)
	assert.Equal(t, 1.0, testutil.ToFloat64(mx.LedgerDeltas.WithLabelValues(metrics.OutcomeError)))

	snap, err := l.Apply(ctx, s, ledger.DefaultMaxRetries, lot.ID, math.MaxInt64-10)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), snap.QuantityOnHand)
}

func TestApplyDelta_ConcurrentWritersNeverGoNegative(t *testing.T) {
	l, s, lot, _ := setupLedger(t, 10)
	ctx := context.Background()

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		applied      int
		insufficient int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Apply(ctx, s, ledger.DefaultMaxRetries, lot.ID, -8)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, insufficient)
	got, err := s.GetLot(ctx, s.DB(), lot.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.QuantityOnHand)
}

// racingLots simulates another writer bumping the version between read and
// write for the first n swaps.
type racingLots struct {
	lot    domain.InventoryLot
	steals int
	swaps  int
}

func (r *racingLots) GetLot(ctx context.Context, q store.Querier, id int64, forUpdate bool) (*domain.InventoryLot, error) {
	lot := r.lot
	return &lot, nil
}

func (r *racingLots) SwapLotQuantity(ctx context.Context, q store.Querier, id, expectedVersion, quantity int64, at time.Time) (bool, error) {
	r.swaps++
	if r.steals > 0 {
		r.steals--
		r.lot.Version++
		r.lot.QuantityOnHand--
		return false, nil
	}
	if expectedVersion != r.lot.Version {
		return false, nil
	}
	r.lot.QuantityOnHand = quantity
	r.lot.Version++
	return true, nil
}

type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn func(q store.Querier) error) error { return fn(nil) }

func TestApply_RetriesConflictsWithFreshRead(t *testing.T) {
	lots := &racingLots{lot: domain.InventoryLot{ID: 1, QuantityOnHand: 10}, steals: 2}
	mx := metrics.New(nil)
	l := ledger.New(lots, mx, zap.NewNop())

	snap, err := l.Apply(context.Background(), inlineTx{}, ledger.DefaultMaxRetries, 1, -3)
	require.NoError(t, err)
	// Two concurrent units each took one unit of stock before ours landed.
	assert.Equal(t, int64(5), snap.QuantityOnHand)
	assert.Equal(t, 3, lots.swaps)
	assert.Equal(t, 2.0, testutil.ToFloat64(mx.LedgerDeltas.WithLabelValues(metrics.OutcomeConflict)))
}

func TestApply_GivesUpAfterBoundedRetries(t *testing.T) {
	lots := &racingLots{lot: domain.InventoryLot{ID: 1, QuantityOnHand: 100}, steals: 10}
	l := ledger.New(lots, nil, nil)

	_, err := l.Apply(context.Background(), inlineTx{}, ledger.DefaultMaxRetries, 1, -1)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, ledger.DefaultMaxRetries+1, lots.swaps)

	lots.swaps = 0
	_, err = l.Apply(context.Background(), inlineTx{}, 0, 1, -1)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 1, lots.swaps)
}

func TestRetry_DoesNotRetryBusinessErrors(t *testing.T) {
	calls := 0
	err := ledger.Retry(context.Background(), 3, nil, func() error {
		calls++
		return domain.ErrInsufficientStock
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := ledger.Retry(ctx, 3, nil, func() error {
		calls++
		cancel()
		return domain.ErrConflict
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
