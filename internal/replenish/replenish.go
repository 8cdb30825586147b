// Package replenish recommends order quantities from committed stock levels.
// It only reads; nothing here writes inventory.
package replenish

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/service"
)

// Policy picks the stock level a lot should be brought back to.
type Policy interface {
	Target(level domain.LotLevel) int64
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(level domain.LotLevel) int64

func (f PolicyFunc) Target(level domain.LotLevel) int64 { return f(level) }

// FixedTarget refills every lot to n units.
func FixedTarget(n int64) Policy {
	return PolicyFunc(func(domain.LotLevel) int64 { return n })
}

// ThresholdMultiple refills every lot to k times its reorder threshold.
func ThresholdMultiple(k int64) Policy {
	return PolicyFunc(func(level domain.LotLevel) int64 { return k * level.ReorderThreshold })
}

// Recommendation is the advice for a single lot.
type Recommendation struct {
	LotID               int64 `json:"lot_id"`
	MedicationID        int64 `json:"medication_id"`
	PharmacyID          int64 `json:"pharmacy_id"`
	QuantityOnHand      int64 `json:"quantity_on_hand"`
	ReorderThreshold    int64 `json:"reorder_threshold"`
	TargetLevel         int64 `json:"target_level"`
	RecommendedOrderQty int64 `json:"recommended_order_qty"`
	BelowThreshold      bool  `json:"below_threshold"`
}

// Recommend computes max(0, target - on hand) for every level. Lots at or
// below their reorder threshold are flagged.
func Recommend(levels []domain.LotLevel, policy Policy) []Recommendation {
	out := make([]Recommendation, 0, len(levels))
	for _, level := range levels {
		target := policy.Target(level)
		out = append(out, Recommendation{
			LotID:               level.LotID,
			MedicationID:        level.MedicationID,
			PharmacyID:          level.PharmacyID,
			QuantityOnHand:      level.QuantityOnHand,
			ReorderThreshold:    level.ReorderThreshold,
			TargetLevel:         target,
			RecommendedOrderQty: max(0, target-level.QuantityOnHand),
			BelowThreshold:      level.QuantityOnHand <= level.ReorderThreshold,
		})
	}
	return out
}

// LevelSource is the read-only stock feed the advisor consumes.
type LevelSource interface {
	LotLevels(ctx context.Context, p *access.Principal, query service.LotQuery) ([]domain.LotLevel, error)
}

type Advisor struct {
	levels LevelSource
	policy Policy
	logger *zap.Logger
}

func NewAdvisor(levels LevelSource, policy Policy, logger *zap.Logger) *Advisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advisor{levels: levels, policy: policy, logger: logger}
}

// Advise returns recommendations for the lots the caller can see. With
// belowOnly set, only flagged lots are returned.
func (a *Advisor) Advise(ctx context.Context, p *access.Principal, pharmacyID *int64, belowOnly bool) ([]Recommendation, error) {
	levels, err := a.levels.LotLevels(ctx, p, service.LotQuery{PharmacyID: pharmacyID, BelowThreshold: belowOnly})
	if err != nil {
		return nil, fmt.Errorf("load stock levels: %w", err)
	}
	recs := Recommend(levels, a.policy)
	a.logger.Debug("replenishment advice computed", zap.Int("lots", len(levels)))
	return recs, nil
}
