package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleRecord is immutable once committed. Corrections go through returns or
// stock movements.
type SaleRecord struct {
	ID              int64           `db:"id" json:"id"`
	InventoryLotID  int64           `db:"inventory_lot_id" json:"inventory_lot_id"`
	PharmacyID      int64           `db:"pharmacy_id" json:"pharmacy_id"`
	Quantity        int64           `db:"quantity" json:"quantity"`
	UnitPriceAtSale decimal.Decimal `db:"unit_price_at_sale" json:"unit_price_at_sale"`
	UserID          int64           `db:"user_id" json:"user_id"`
	RequestKey      *string         `db:"request_key" json:"request_key,omitempty"`
	OccurredAt      time.Time       `db:"occurred_at" json:"occurred_at"`
}

// Total is the amount charged for the sale.
func (s SaleRecord) Total() decimal.Decimal {
	return s.UnitPriceAtSale.Mul(decimal.NewFromInt(s.Quantity))
}
