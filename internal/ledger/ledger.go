// Package ledger is the only writer of inventory lot quantities.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/metrics"
	"medeasy/ledger/internal/store"
)

// LotStore is the part of the entity store the ledger needs.
type LotStore interface {
	GetLot(ctx context.Context, q store.Querier, id int64, forUpdate bool) (*domain.InventoryLot, error)
	SwapLotQuantity(ctx context.Context, q store.Querier, id, expectedVersion, quantity int64, at time.Time) (bool, error)
}

type Ledger struct {
	lots    LotStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(lots LotStore, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{lots: lots, metrics: m, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Option adjusts a single ApplyDelta call.
type Option func(*applyOptions)

type applyOptions struct {
	minResult int64
}

// WithMinResult raises the floor the resulting quantity must reach. The
// default floor is zero.
func WithMinResult(min int64) Option {
	return func(o *applyOptions) { o.minResult = min }
}

// ApplyDelta adds delta to the lot's quantity inside the caller's transaction q
// and returns the committed-to-be snapshot.
//
// The lot is read for update and written with a version compare-and-set, so
// the quantity the delta is applied to is never stale. If the result would be
// below the floor, ApplyDelta returns domain.ErrInsufficientStock and writes
// nothing. If a concurrent writer changed the lot between read and write it
// returns domain.ErrConflict; the caller must re-run its whole unit, which
// re-reads the lot.
func (l *Ledger) ApplyDelta(ctx context.Context, q store.Querier, lotID, delta int64, opts ...Option) (*domain.LotSnapshot, error) {
	o := applyOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	lot, err := l.lots.GetLot(ctx, q, lotID, true)
	if err != nil {
		if errors.Is(err, domain.ErrLotNotFound) {
			l.metrics.Delta(metrics.OutcomeNotFound)
		} else {
			l.metrics.Delta(outcomeOf(err))
		}
		return nil, err
	}

	if delta > 0 && lot.QuantityOnHand > math.MaxInt64-delta {
		l.metrics.Delta(metrics.OutcomeError)
		return nil, fmt.Errorf("%w: lot %d cannot hold %d more units", domain.ErrValidation, lotID, delta)
	}
	next := lot.QuantityOnHand + delta
	if next < o.minResult {
		l.metrics.Delta(metrics.OutcomeInsufficient)
		return nil, fmt.Errorf("lot %d has %d on hand, delta %d: %w", lotID, lot.QuantityOnHand, delta, domain.ErrInsufficientStock)
	}

	at := l.now()
	ok, err := l.lots.SwapLotQuantity(ctx, q, lotID, lot.Version, next, at)
	if err != nil {
		l.metrics.Delta(outcomeOf(err))
		return nil, err
	}
	if !ok {
		l.metrics.Delta(metrics.OutcomeConflict)
		l.logger.Debug("lot version moved during delta",
			zap.Int64("lot_id", lotID),
			zap.Int64("expected_version", lot.Version))
		return nil, fmt.Errorf("lot %d: %w", lotID, domain.ErrConflict)
	}

	l.metrics.Delta(metrics.OutcomeApplied)
	lot.QuantityOnHand = next
	lot.Version++
	lot.UpdatedAt = at
	return lot, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.OutcomeInsufficient
	case errors.Is(err, domain.ErrConflict):
		return metrics.OutcomeConflict
	}
	return metrics.OutcomeError
}
