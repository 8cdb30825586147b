package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/store"
)

// SaleRequest sells Quantity units from a lot. The lot is named by LotID, or by
// MedicationID at PharmacyID; without PharmacyID the caller's active pharmacy
// is used.
type SaleRequest struct {
	LotID        int64
	MedicationID int64
	PharmacyID   *int64
	Quantity     int64
	RequestKey   string
}

// RecordSale takes stock out of the lot and records the sale as one unit. The
// price is the lot's unit price at the time of the sale. Selling more than is
// on hand fails with domain.ErrInsufficientStock and records nothing.
func (s *Service) RecordSale(ctx context.Context, p *access.Principal, req SaleRequest) (*domain.SaleRecord, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	if err := requirePositive(req.Quantity); err != nil {
		return nil, err
	}
	key, err := requestKey(req.RequestKey)
	if err != nil {
		return nil, err
	}

	var sale *domain.SaleRecord
	target := lotTarget{LotID: req.LotID, MedicationID: req.MedicationID, PharmacyID: req.PharmacyID}
	err = s.atomic(ctx, "record_sale", func(q store.Querier) error {
		sale = nil
		if key != nil {
			existing, err := s.store.GetSaleByRequestKey(ctx, q, *key)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := access.Authorize(p, existing.PharmacyID); err != nil {
					return err
				}
				same, err := s.sameTarget(ctx, q, p, target, existing.InventoryLotID)
				if err != nil {
					return err
				}
				if !same || existing.Quantity != req.Quantity {
					return fmt.Errorf("sale %d: %w", existing.ID, domain.ErrIdempotencyMismatch)
				}
				sale = existing
				return nil
			}
		}

		lot, err := s.lockTarget(ctx, q, p, target)
		if err != nil {
			return err
		}
		snap, err := s.ledger.ApplyDelta(ctx, q, lot.ID, -req.Quantity)
		if errors.Is(err, domain.ErrInsufficientStock) {
			return fmt.Errorf("cannot sell more than on-hand stock (%d available): %w", lot.QuantityOnHand, err)
		}
		if err != nil {
			return err
		}

		record := &domain.SaleRecord{
			InventoryLotID:  snap.ID,
			PharmacyID:      snap.PharmacyID,
			Quantity:        req.Quantity,
			UnitPriceAtSale: snap.UnitPrice,
			UserID:          p.UserID,
			RequestKey:      key,
			OccurredAt:      s.now(),
		}
		if err := s.store.InsertSale(ctx, q, record); err != nil {
			return duplicateKey(key, err)
		}
		sale = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("sale recorded",
		zap.Int64("sale_id", sale.ID),
		zap.Int64("lot_id", sale.InventoryLotID),
		zap.Int64("pharmacy_id", sale.PharmacyID),
		zap.Int64("quantity", sale.Quantity))
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, p *access.Principal, id int64) (*domain.SaleRecord, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	var sale *domain.SaleRecord
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		sale, err = s.store.GetSale(ctx, q, id)
		if err != nil {
			return err
		}
		return access.Authorize(p, sale.PharmacyID)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context, p *access.Principal, query RecordQuery) ([]domain.SaleRecord, error) {
	filter, err := query.filter(p)
	if err != nil {
		return nil, err
	}
	var sales []domain.SaleRecord
	err = s.read(ctx, func(ctx context.Context, q store.Querier) error {
		sales, err = s.store.ListSales(ctx, q, filter)
		return err
	})
	return sales, err
}
