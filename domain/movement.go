package domain

import "time"

type MovementKind string

const (
	MovementInbound  MovementKind = "INBOUND"
	MovementOutbound MovementKind = "OUTBOUND"
)

// Sign returns the direction a movement of this kind applies to stock.
func (k MovementKind) Sign() int64 {
	switch k {
	case MovementInbound:
		return 1
	case MovementOutbound:
		return -1
	}
	return 0
}

type StockMovement struct {
	ID             int64        `db:"id" json:"id"`
	InventoryLotID int64        `db:"inventory_lot_id" json:"inventory_lot_id"`
	PharmacyID     int64        `db:"pharmacy_id" json:"pharmacy_id"`
	Kind           MovementKind `db:"kind" json:"kind"`
	Quantity       int64        `db:"quantity" json:"quantity"`
	RequestKey     *string      `db:"request_key" json:"request_key,omitempty"`
	OccurredAt     time.Time    `db:"occurred_at" json:"occurred_at"`
}
