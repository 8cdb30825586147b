package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/store"
)

// ReturnRequest books goods coming back into a lot.
type ReturnRequest struct {
	LotID    int64
	Quantity int64
	Reason   domain.ReturnReason
	// AutoApprove approves the return in the same unit, putting the stock
	// back immediately. By default a return waits in PENDING for a decision.
	AutoApprove bool
	RequestKey  string
}

// RecordReturn creates a return record. A PENDING return has no stock effect
// until ApproveReturn.
func (s *Service) RecordReturn(ctx context.Context, p *access.Principal, req ReturnRequest) (*domain.ReturnRecord, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	if err := requirePositive(req.Quantity); err != nil {
		return nil, err
	}
	if !req.Reason.Valid() {
		return nil, fmt.Errorf("%w: unknown return reason %q", domain.ErrValidation, req.Reason)
	}
	key, err := requestKey(req.RequestKey)
	if err != nil {
		return nil, err
	}

	var ret *domain.ReturnRecord
	err = s.atomic(ctx, "record_return", func(q store.Querier) error {
		ret = nil
		if key != nil {
			existing, err := s.store.GetReturnByRequestKey(ctx, q, *key)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := access.Authorize(p, existing.PharmacyID); err != nil {
					return err
				}
				if existing.InventoryLotID != req.LotID || existing.Quantity != req.Quantity || existing.Reason != req.Reason ||
					existing.AutoApproved() != req.AutoApprove {
					return fmt.Errorf("return %d: %w", existing.ID, domain.ErrIdempotencyMismatch)
				}
				ret = existing
				return nil
			}
		}

		lot, err := s.lockLot(ctx, q, p, req.LotID)
		if err != nil {
			return err
		}
		now := s.now()
		record := &domain.ReturnRecord{
			InventoryLotID: lot.ID,
			PharmacyID:     lot.PharmacyID,
			Quantity:       req.Quantity,
			Reason:         req.Reason,
			Status:         domain.ReturnPending,
			RequestKey:     key,
			OccurredAt:     now,
		}
		if req.AutoApprove {
			if _, err := s.ledger.ApplyDelta(ctx, q, lot.ID, req.Quantity); err != nil {
				return err
			}
			record.Status = domain.ReturnApproved
			record.DecidedAt = &now
		}
		if err := s.store.InsertReturn(ctx, q, record); err != nil {
			return duplicateKey(key, err)
		}
		ret = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("return recorded",
		zap.Int64("return_id", ret.ID),
		zap.Int64("lot_id", ret.InventoryLotID),
		zap.String("status", string(ret.Status)))
	return ret, nil
}

// ApproveReturn moves a PENDING return to APPROVED and puts its quantity back
// into the lot in the same unit.
func (s *Service) ApproveReturn(ctx context.Context, p *access.Principal, returnID int64) (*domain.ReturnRecord, error) {
	return s.decideReturn(ctx, p, returnID, domain.ReturnApproved)
}

// RejectReturn moves a PENDING return to REJECTED. Stock is not touched.
func (s *Service) RejectReturn(ctx context.Context, p *access.Principal, returnID int64) (*domain.ReturnRecord, error) {
	return s.decideReturn(ctx, p, returnID, domain.ReturnRejected)
}

func (s *Service) decideReturn(ctx context.Context, p *access.Principal, returnID int64, to domain.ReturnStatus) (*domain.ReturnRecord, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	op := "reject_return"
	if to == domain.ReturnApproved {
		op = "approve_return"
	}

	var ret *domain.ReturnRecord
	err := s.atomic(ctx, op, func(q store.Querier) error {
		ret = nil
		current, err := s.store.GetReturn(ctx, q, returnID, true)
		if err != nil {
			return err
		}
		if err := access.Authorize(p, current.PharmacyID); err != nil {
			return err
		}
		if !domain.CanTransition(current.Status, to) {
			return fmt.Errorf("return %d is %s, cannot become %s: %w", returnID, current.Status, to, domain.ErrInvalidStateTransition)
		}
		now := s.now()
		ok, err := s.store.TransitionReturn(ctx, q, returnID, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("return %d was decided concurrently: %w", returnID, domain.ErrInvalidStateTransition)
		}
		if to == domain.ReturnApproved {
			if _, err := s.ledger.ApplyDelta(ctx, q, current.InventoryLotID, current.Quantity); err != nil {
				return err
			}
		}
		current.Status = to
		current.DecidedAt = &now
		ret = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("return decided",
		zap.Int64("return_id", ret.ID),
		zap.String("status", string(ret.Status)))
	return ret, nil
}

func (s *Service) GetReturn(ctx context.Context, p *access.Principal, id int64) (*domain.ReturnRecord, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	var ret *domain.ReturnRecord
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		ret, err = s.store.GetReturn(ctx, q, id, false)
		if err != nil {
			return err
		}
		return access.Authorize(p, ret.PharmacyID)
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) ListReturns(ctx context.Context, p *access.Principal, query RecordQuery) ([]domain.ReturnRecord, error) {
	filter, err := query.filter(p)
	if err != nil {
		return nil, err
	}
	var returns []domain.ReturnRecord
	err = s.read(ctx, func(ctx context.Context, q store.Querier) error {
		returns, err = s.store.ListReturns(ctx, q, filter)
		return err
	})
	return returns, err
}
