// Package service composes ledger writes with their business records into
// atomic units and serves pharmacy-scoped reads. Every entry point authorizes
// the caller through the access package before touching data.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/ledger"
	"medeasy/ledger/internal/metrics"
	"medeasy/ledger/internal/store"
)

// Options tunes the orchestrator.
type Options struct {
	// MaxRetries bounds re-runs of an atomic unit after a write conflict.
	MaxRetries int
	// OperationTimeout caps each operation when the caller set no earlier
	// deadline. Zero disables it.
	OperationTimeout time.Duration
}

type Service struct {
	store   *store.Store
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
}

func New(st *store.Store, l *ledger.Ledger, m *metrics.Metrics, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Service{
		store:   st,
		ledger:  l,
		metrics: m,
		logger:  logger,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// atomic runs fn as one transaction and re-runs it from scratch on write
// conflicts. fn must not keep results of a failed attempt.
func (s *Service) atomic(ctx context.Context, op string, fn func(q store.Querier) error) error {
	started := time.Now()
	if s.opts.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.OperationTimeout)
		defer cancel()
	}
	onRetry := func(attempt int, err error) {
		s.metrics.Retry(op)
		s.logger.Warn("retrying after write conflict",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	err := ledger.Retry(ctx, s.opts.MaxRetries, onRetry, func() error {
		return s.store.WithTx(ctx, fn)
	})
	s.metrics.Observe(op, started, err)
	if errors.Is(err, domain.ErrTransient) {
		s.logger.Error("operation abandoned after repeated conflicts", zap.String("operation", op), zap.Error(err))
	}
	return err
}

// read runs fn against the non-transactional handle under the operation
// timeout.
func (s *Service) read(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) error {
	if s.opts.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.OperationTimeout)
		defer cancel()
	}
	return fn(ctx, s.store.DB())
}

// lockLot loads a lot for update and authorizes the caller on its pharmacy.
func (s *Service) lockLot(ctx context.Context, q store.Querier, p *access.Principal, lotID int64) (*domain.InventoryLot, error) {
	if lotID <= 0 {
		return nil, fmt.Errorf("%w: lot id is required", domain.ErrValidation)
	}
	lot, err := s.store.GetLot(ctx, q, lotID, true)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(p, lot.PharmacyID); err != nil {
		return nil, err
	}
	return lot, nil
}

// lotTarget identifies a lot either directly or by medication at a pharmacy.
type lotTarget struct {
	LotID        int64
	MedicationID int64
	PharmacyID   *int64
}

func (s *Service) lockTarget(ctx context.Context, q store.Querier, p *access.Principal, t lotTarget) (*domain.InventoryLot, error) {
	if t.LotID > 0 || t.MedicationID <= 0 {
		return s.lockLot(ctx, q, p, t.LotID)
	}
	pharmacyID, err := access.ResolveWritePharmacy(p, t.PharmacyID)
	if err != nil {
		return nil, err
	}
	return s.store.GetLotByPharmacyMedication(ctx, q, pharmacyID, t.MedicationID, true)
}

// sameTarget reports whether t addresses the lot a recorded request was
// written against.
func (s *Service) sameTarget(ctx context.Context, q store.Querier, p *access.Principal, t lotTarget, lotID int64) (bool, error) {
	if t.LotID > 0 {
		return t.LotID == lotID, nil
	}
	if t.MedicationID <= 0 {
		return false, fmt.Errorf("%w: lot id or medication id is required", domain.ErrValidation)
	}
	lot, err := s.store.GetLot(ctx, q, lotID, false)
	if err != nil {
		return false, err
	}
	if lot.MedicationID != t.MedicationID {
		return false, nil
	}
	pharmacyID, err := access.ResolveWritePharmacy(p, t.PharmacyID)
	if err != nil {
		return false, err
	}
	return pharmacyID == lot.PharmacyID, nil
}

func requirePositive(quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be greater than zero", domain.ErrValidation)
	}
	return nil
}

const maxRequestKeyLen = 128

func requestKey(raw string) (*string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return nil, nil
	}
	if len(key) > maxRequestKeyLen {
		return nil, fmt.Errorf("%w: request key longer than %d characters", domain.ErrValidation, maxRequestKeyLen)
	}
	return &key, nil
}

// duplicateKey turns a request-key collision into a conflict so that the
// retry finds the record the other writer committed.
func duplicateKey(key *string, err error) error {
	if key != nil && errors.Is(err, domain.ErrDuplicate) {
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}

func toFilter(scope access.Scope) store.PharmacyFilter {
	if scope.All {
		return store.AllPharmacies()
	}
	return store.OnlyPharmacies(scope.PharmacyIDs...)
}
