package domain

import "time"

type ReturnReason string

const (
	ReasonDamaged         ReturnReason = "DAMAGED"
	ReasonNearExpiry      ReturnReason = "NEAR_EXPIRY"
	ReasonOrderError      ReturnReason = "ORDER_ERROR"
	ReasonOverstock       ReturnReason = "OVERSTOCK"
	ReasonUnrequested     ReturnReason = "UNREQUESTED"
	ReasonSubstitution    ReturnReason = "SUBSTITUTION"
	ReasonPackagingDamage ReturnReason = "PACKAGING_DAMAGE"
)

var returnReasons = map[ReturnReason]struct{}{
	ReasonDamaged:         {},
	ReasonNearExpiry:      {},
	ReasonOrderError:      {},
	ReasonOverstock:       {},
	ReasonUnrequested:     {},
	ReasonSubstitution:    {},
	ReasonPackagingDamage: {},
}

// Valid reports whether r is one of the accepted return reasons.
func (r ReturnReason) Valid() bool {
	_, ok := returnReasons[r]
	return ok
}

type ReturnStatus string

const (
	ReturnPending  ReturnStatus = "PENDING"
	ReturnApproved ReturnStatus = "APPROVED"
	ReturnRejected ReturnStatus = "REJECTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s ReturnStatus) Terminal() bool {
	return s == ReturnApproved || s == ReturnRejected
}

// CanTransition reports whether the return state machine allows from -> to.
// PENDING moves to APPROVED or REJECTED; both are terminal.
func CanTransition(from, to ReturnStatus) bool {
	return from == ReturnPending && to.Terminal()
}

type ReturnRecord struct {
	ID             int64        `db:"id" json:"id"`
	InventoryLotID int64        `db:"inventory_lot_id" json:"inventory_lot_id"`
	PharmacyID     int64        `db:"pharmacy_id" json:"pharmacy_id"`
	Quantity       int64        `db:"quantity" json:"quantity"`
	Reason         ReturnReason `db:"reason" json:"reason"`
	Status         ReturnStatus `db:"status" json:"status"`
	RequestKey     *string      `db:"request_key" json:"request_key,omitempty"`
	OccurredAt     time.Time    `db:"occurred_at" json:"occurred_at"`
	DecidedAt      *time.Time   `db:"decided_at" json:"decided_at,omitempty"`
}

// AutoApproved reports whether the return was approved when it was recorded.
func (r ReturnRecord) AutoApproved() bool {
	return r.Status == ReturnApproved && r.DecidedAt != nil && r.DecidedAt.Equal(r.OccurredAt)
}
