package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/store"
)

// MovementRequest books a receipt (INBOUND) or a removal (OUTBOUND) against a
// lot.
type MovementRequest struct {
	LotID        int64
	MedicationID int64
	PharmacyID   *int64
	Kind         domain.MovementKind
	Quantity     int64
	RequestKey   string
}

// RecordMovement applies the signed quantity through the ledger and records the
// movement in the same unit. An OUTBOUND movement larger than the stock on
// hand fails with domain.ErrInsufficientStock.
func (s *Service) RecordMovement(ctx context.Context, p *access.Principal, req MovementRequest) (*domain.StockMovement, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	if req.Kind.Sign() == 0 {
		return nil, fmt.Errorf("%w: unknown movement kind %q", domain.ErrValidation, req.Kind)
	}
	if err := requirePositive(req.Quantity); err != nil {
		return nil, err
	}
	key, err := requestKey(req.RequestKey)
	if err != nil {
		return nil, err
	}

	var mv *domain.StockMovement
	target := lotTarget{LotID: req.LotID, MedicationID: req.MedicationID, PharmacyID: req.PharmacyID}
	err = s.atomic(ctx, "record_movement", func(q store.Querier) error {
		mv = nil
		if key != nil {
			existing, err := s.store.GetMovementByRequestKey(ctx, q, *key)
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
				if !same || existing.Kind != req.Kind || existing.Quantity != req.Quantity {
					return fmt.Errorf("movement %d: %w", existing.ID, domain.ErrIdempotencyMismatch)
				}
				mv = existing
				return nil
			}
		}

		lot, err := s.lockTarget(ctx, q, p, target)
		if err != nil {
			return err
		}
		record, err := s.move(ctx, q, lot, req.Kind, req.Quantity, key)
		if err != nil {
			return err
		}
		mv = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock movement recorded",
		zap.Int64("movement_id", mv.ID),
		zap.Int64("lot_id", mv.InventoryLotID),
		zap.String("kind", string(mv.Kind)),
		zap.Int64("quantity", mv.Quantity))
	return mv, nil
}

// move applies and records one movement inside an open unit.
func (s *Service) move(ctx context.Context, q store.Querier, lot *domain.InventoryLot, kind domain.MovementKind, quantity int64, key *string) (*domain.StockMovement, error) {
	snap, err := s.ledger.ApplyDelta(ctx, q, lot.ID, kind.Sign()*quantity)
	if errors.Is(err, domain.ErrInsufficientStock) {
		return nil, fmt.Errorf("cannot remove more than on-hand stock (%d available): %w", lot.QuantityOnHand, err)
	}
	if err != nil {
		return nil, err
	}
	record := &domain.StockMovement{
		InventoryLotID: snap.ID,
		PharmacyID:     snap.PharmacyID,
		Kind:           kind,
		Quantity:       quantity,
		RequestKey:     key,
		OccurredAt:     s.now(),
	}
	if err := s.store.InsertMovement(ctx, q, record); err != nil {
		return nil, duplicateKey(key, err)
	}
	return record, nil
}

func (s *Service) GetMovement(ctx context.Context, p *access.Principal, id int64) (*domain.StockMovement, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	var mv *domain.StockMovement
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		mv, err = s.store.GetMovement(ctx, q, id)
		if err != nil {
			return err
		}
		return access.Authorize(p, mv.PharmacyID)
	})
	if err != nil {
		return nil, err
	}
	return mv, nil
}

func (s *Service) ListMovements(ctx context.Context, p *access.Principal, query RecordQuery) ([]domain.StockMovement, error) {
	filter, err := query.filter(p)
	if err != nil {
		return nil, err
	}
	var movements []domain.StockMovement
	err = s.read(ctx, func(ctx context.Context, q store.Querier) error {
		movements, err = s.store.ListMovements(ctx, q, filter)
		return err
	})
	return movements, err
}

// RecordQuery narrows the record lists. Results never leave the caller's read
// scope; PharmacyID outside it is forbidden.
type RecordQuery struct {
	PharmacyID *int64
	LotID      int64
	Since      *time.Time
	Until      *time.Time
	Status     domain.ReturnStatus
	Limit      int
}

const maxListLimit = 500

func (rq RecordQuery) filter(p *access.Principal) (store.RecordFilter, error) {
	scope, err := access.Narrow(p, rq.PharmacyID)
	if err != nil {
		return store.RecordFilter{}, err
	}
	limit := rq.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return store.RecordFilter{
		Pharmacies: toFilter(scope),
		LotID:      rq.LotID,
		Since:      rq.Since,
		Until:      rq.Until,
		Status:     rq.Status,
		Limit:      limit,
	}, nil
}
