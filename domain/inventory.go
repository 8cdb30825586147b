package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryLot is the single stock record for one medication at one pharmacy.
// QuantityOnHand is written only by the ledger; Version changes with every write.
type InventoryLot struct {
	ID               int64           `db:"id" json:"id"`
	PharmacyID       int64           `db:"pharmacy_id" json:"pharmacy_id"`
	MedicationID     int64           `db:"medication_id" json:"medication_id"`
	QuantityOnHand   int64           `db:"quantity_on_hand" json:"quantity_on_hand"`
	ReorderThreshold int64           `db:"reorder_threshold" json:"reorder_threshold"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	ExpiresAt        *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	Version          int64           `db:"version" json:"version"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// LotSnapshot is the state of a lot as committed by a ledger write.
type LotSnapshot = InventoryLot

// LotLevel is the read-only stock figure exposed to replenishment consumers.
type LotLevel struct {
	LotID            int64 `db:"id" json:"lot_id"`
	MedicationID     int64 `db:"medication_id" json:"medication_id"`
	PharmacyID       int64 `db:"pharmacy_id" json:"pharmacy_id"`
	QuantityOnHand   int64 `db:"quantity_on_hand" json:"quantity_on_hand"`
	ReorderThreshold int64 `db:"reorder_threshold" json:"reorder_threshold"`
}
