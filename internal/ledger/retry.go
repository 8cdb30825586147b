package ledger

import (
	"context"
	"errors"
	"fmt"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/store"
)

// DefaultMaxRetries bounds how often an atomic unit is re-run after a
// conflict.
const DefaultMaxRetries = 3

// TxRunner runs a function inside one transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(q store.Querier) error) error
}

// Retry runs fn and re-runs it while it fails with domain.ErrConflict, at most
// maxRetries extra times. onRetry, if set, is called before each re-run.
// Exhaustion yields domain.ErrTransient wrapping the last conflict. Any other
// error, including context cancellation, is returned immediately.
func Retry(ctx context.Context, maxRetries int, onRetry func(attempt int, err error), fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if onRetry != nil {
				onRetry(attempt, err)
			}
		}
		err = fn()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %w", domain.ErrTransient, maxRetries+1, err)
}

// Apply runs ApplyDelta as its own atomic unit for callers that have no
// enclosing unit of work, re-running it at most maxRetries times on conflict.
// Callers that record a sale, return or movement alongside the delta use
// ApplyDelta inside their own transaction instead.
func (l *Ledger) Apply(ctx context.Context, tx TxRunner, maxRetries int, lotID, delta int64, opts ...Option) (*domain.LotSnapshot, error) {
	var snapshot *domain.LotSnapshot
	err := Retry(ctx, maxRetries, nil, func() error {
		return tx.WithTx(ctx, func(q store.Querier) error {
			var err error
			snapshot, err = l.ApplyDelta(ctx, q, lotID, delta, opts...)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}
