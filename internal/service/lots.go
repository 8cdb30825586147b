package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/store"
)

// LotRequest creates a lot for a medication at a pharmacy. InitialQuantity, if
// any, is booked as an INBOUND movement so that stock only ever enters through
// the ledger.
type LotRequest struct {
	PharmacyID       *int64
	MedicationID     int64
	ReorderThreshold int64
	UnitPrice        decimal.Decimal
	ExpiresAt        *time.Time
	InitialQuantity  int64
}

func (s *Service) CreateLot(ctx context.Context, p *access.Principal, req LotRequest) (*domain.InventoryLot, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	pharmacyID, err := access.ResolveWritePharmacy(p, req.PharmacyID)
	if err != nil {
		return nil, err
	}
	switch {
	case req.MedicationID <= 0:
		return nil, fmt.Errorf("%w: medication id is required", domain.ErrValidation)
	case req.ReorderThreshold < 0:
		return nil, fmt.Errorf("%w: reorder threshold must not be negative", domain.ErrValidation)
	case req.UnitPrice.IsNegative():
		return nil, fmt.Errorf("%w: unit price must not be negative", domain.ErrValidation)
	case req.InitialQuantity < 0:
		return nil, fmt.Errorf("%w: initial quantity must not be negative", domain.ErrValidation)
	}

	var lot *domain.InventoryLot
	err = s.atomic(ctx, "create_lot", func(q store.Querier) error {
		lot = &domain.InventoryLot{
			PharmacyID:       pharmacyID,
			MedicationID:     req.MedicationID,
			ReorderThreshold: req.ReorderThreshold,
			UnitPrice:        req.UnitPrice,
			ExpiresAt:        utcPtr(req.ExpiresAt),
		}
		if err := s.store.CreateLot(ctx, q, lot); err != nil {
			return err
		}
		if req.InitialQuantity == 0 {
			return nil
		}
		if _, err := s.move(ctx, q, lot, domain.MovementInbound, req.InitialQuantity, nil); err != nil {
			return err
		}
		stocked, err := s.store.GetLot(ctx, q, lot.ID, false)
		if err != nil {
			return err
		}
		lot = stocked
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("lot created",
		zap.Int64("lot_id", lot.ID),
		zap.Int64("pharmacy_id", lot.PharmacyID),
		zap.Int64("medication_id", lot.MedicationID),
		zap.Int64("quantity_on_hand", lot.QuantityOnHand))
	return lot, nil
}

// LotUpdate changes lot attributes. Nil fields are left as they are. Stock is
// changed only through sales, returns and movements.
type LotUpdate struct {
	ReorderThreshold *int64
	UnitPrice        *decimal.Decimal
	ExpiresAt        *time.Time
	ClearExpiry      bool
}

func (s *Service) UpdateLot(ctx context.Context, p *access.Principal, lotID int64, upd LotUpdate) (*domain.InventoryLot, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	var lot *domain.InventoryLot
	err := s.atomic(ctx, "update_lot", func(q store.Querier) error {
		var err error
		lot, err = s.lockLot(ctx, q, p, lotID)
		if err != nil {
			return err
		}
		if upd.ReorderThreshold != nil {
			lot.ReorderThreshold = *upd.ReorderThreshold
		}
		if upd.UnitPrice != nil {
			lot.UnitPrice = *upd.UnitPrice
		}
		if upd.ExpiresAt != nil {
			lot.ExpiresAt = utcPtr(upd.ExpiresAt)
		}
		if upd.ClearExpiry {
			lot.ExpiresAt = nil
		}
		if lot.ReorderThreshold < 0 || lot.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: reorder threshold and unit price must not be negative", domain.ErrValidation)
		}
		return s.store.UpdateLotAttributes(ctx, q, lot)
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// DeleteLot removes a lot nothing refers to yet.
func (s *Service) DeleteLot(ctx context.Context, p *access.Principal, lotID int64) error {
	if p == nil {
		return domain.ErrUnauthorized
	}
	err := s.atomic(ctx, "delete_lot", func(q store.Querier) error {
		if _, err := s.lockLot(ctx, q, p, lotID); err != nil {
			return err
		}
		return s.store.DeleteLot(ctx, q, lotID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("lot deleted", zap.Int64("lot_id", lotID))
	return nil
}

func (s *Service) GetLot(ctx context.Context, p *access.Principal, lotID int64) (*domain.InventoryLot, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	var lot *domain.InventoryLot
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		lot, err = s.store.GetLot(ctx, q, lotID, false)
		if err != nil {
			return err
		}
		return access.Authorize(p, lot.PharmacyID)
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// LotQuery narrows ListLots and LotLevels to the caller's read scope.
type LotQuery struct {
	PharmacyID     *int64
	MedicationID   int64
	BelowThreshold bool
	InStockOnly    bool
}

func (lq LotQuery) filter(p *access.Principal) (store.LotFilter, error) {
	scope, err := access.Narrow(p, lq.PharmacyID)
	if err != nil {
		return store.LotFilter{}, err
	}
	return store.LotFilter{
		Pharmacies:     toFilter(scope),
		MedicationID:   lq.MedicationID,
		BelowThreshold: lq.BelowThreshold,
		InStockOnly:    lq.InStockOnly,
	}, nil
}

func (s *Service) ListLots(ctx context.Context, p *access.Principal, query LotQuery) ([]domain.InventoryLot, error) {
	filter, err := query.filter(p)
	if err != nil {
		return nil, err
	}
	var lots []domain.InventoryLot
	err = s.read(ctx, func(ctx context.Context, q store.Querier) error {
		lots, err = s.store.ListLots(ctx, q, filter)
		return err
	})
	return lots, err
}

// DefaultExpiryWindow is how far ahead ExpiringLots looks when no window is
// given.
const DefaultExpiryWindow = 30 * 24 * time.Hour

// ExpiringLots lists in-stock lots that expire within window, soonest first.
func (s *Service) ExpiringLots(ctx context.Context, p *access.Principal, pharmacyID *int64, window time.Duration) ([]domain.InventoryLot, error) {
	if window <= 0 {
		window = DefaultExpiryWindow
	}
	filter, err := LotQuery{PharmacyID: pharmacyID, InStockOnly: true}.filter(p)
	if err != nil {
		return nil, err
	}
	before := s.now().Add(window)
	filter.ExpiringBefore = &before
	var lots []domain.InventoryLot
	err = s.read(ctx, func(ctx context.Context, q store.Querier) error {
		lots, err = s.store.ListLots(ctx, q, filter)
		return err
	})
	return lots, err
}

// LotLevels is the read-only stock feed for replenishment. It reflects the
// latest committed quantities within the caller's scope.
func (s *Service) LotLevels(ctx context.Context, p *access.Principal, query LotQuery) ([]domain.LotLevel, error) {
	filter, err := query.filter(p)
	if err != nil {
		return nil, err
	}
	var levels []domain.LotLevel
	err = s.read(ctx, func(ctx context.Context, q store.Querier) error {
		levels, err = s.store.LotLevels(ctx, q, filter)
		return err
	})
	return levels, err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
