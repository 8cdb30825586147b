package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"medeasy/ledger/domain"
)

const lotColumns = `id, pharmacy_id, medication_id, quantity_on_hand, reorder_threshold, unit_price, expires_at, version, created_at, updated_at`

// CreateLot inserts a lot with zero stock. Stock is only ever added through the
// ledger. A second lot for the same pharmacy and medication fails with
// domain.ErrDuplicateLot.
func (s *Store) CreateLot(ctx context.Context, q Querier, lot *domain.InventoryLot) error {
	now := time.Now().UTC()
	id, err := insertReturningID(ctx, q,
		`INSERT INTO inventory_lots (pharmacy_id, medication_id, quantity_on_hand, reorder_threshold, unit_price, expires_at, version, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?, ?, 0, ?, ?)`,
		lot.PharmacyID, lot.MedicationID, lot.ReorderThreshold, lot.UnitPrice, lot.ExpiresAt, now, now)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("pharmacy %d medication %d: %w", lot.PharmacyID, lot.MedicationID, domain.ErrDuplicateLot)
	case isForeignKeyViolation(err):
		return fmt.Errorf("pharmacy %d or medication %d: %w", lot.PharmacyID, lot.MedicationID, domain.ErrNotFound)
	case isCheckViolation(err):
		return fmt.Errorf("%w: reorder threshold and unit price must not be negative", domain.ErrValidation)
	case err != nil:
		return fmt.Errorf("insert lot: %w", translate(err))
	}
	lot.ID = id
	lot.QuantityOnHand = 0
	lot.Version = 0
	lot.CreatedAt = now
	lot.UpdatedAt = now
	return nil
}

// GetLot loads a lot. With forUpdate the row is locked for the remainder of the
// transaction on engines that support row locks.
func (s *Store) GetLot(ctx context.Context, q Querier, id int64, forUpdate bool) (*domain.InventoryLot, error) {
	var lot domain.InventoryLot
	err := get(ctx, q, &lot, `SELECT `+lotColumns+` FROM inventory_lots WHERE id = ?`+lockClause(q, forUpdate), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lot %d: %w", id, domain.ErrLotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get lot: %w", translate(err))
	}
	return &lot, nil
}

// GetLotByPharmacyMedication fetches the unique lot of a medication at a
// pharmacy, optionally for update.
func (s *Store) GetLotByPharmacyMedication(ctx context.Context, q Querier, pharmacyID, medicationID int64, forUpdate bool) (*domain.InventoryLot, error) {
	var lot domain.InventoryLot
	err := get(ctx, q, &lot,
		`SELECT `+lotColumns+` FROM inventory_lots WHERE pharmacy_id = ? AND medication_id = ?`+lockClause(q, forUpdate),
		pharmacyID, medicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pharmacy %d medication %d: %w", pharmacyID, medicationID, domain.ErrLotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get lot: %w", translate(err))
	}
	return &lot, nil
}

// LotFilter narrows ListLots.
type LotFilter struct {
	Pharmacies     PharmacyFilter
	MedicationID   int64
	BelowThreshold bool
	ExpiringBefore *time.Time
	InStockOnly    bool
}

func (f LotFilter) clauses() ([]string, []any, bool) {
	clauses, args, ok := f.Pharmacies.where("pharmacy_id", nil, nil)
	if !ok {
		return nil, nil, false
	}
	if f.MedicationID > 0 {
		clauses = append(clauses, "medication_id = ?")
		args = append(args, f.MedicationID)
	}
	if f.BelowThreshold {
		clauses = append(clauses, "quantity_on_hand <= reorder_threshold")
	}
	if f.ExpiringBefore != nil {
		clauses = append(clauses, "expires_at IS NOT NULL AND expires_at <= ?")
		args = append(args, *f.ExpiringBefore)
	}
	if f.InStockOnly {
		clauses = append(clauses, "quantity_on_hand > 0")
	}
	return clauses, args, true
}

func (s *Store) ListLots(ctx context.Context, q Querier, filter LotFilter) ([]domain.InventoryLot, error) {
	lots := []domain.InventoryLot{}
	clauses, args, ok := filter.clauses()
	if !ok {
		return lots, nil
	}
	query := `SELECT ` + lotColumns + ` FROM inventory_lots`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if filter.ExpiringBefore != nil {
		query += " ORDER BY expires_at, id"
	} else {
		query += " ORDER BY pharmacy_id, medication_id"
	}
	if err := selectAll(ctx, q, &lots, query, args...); err != nil {
		return nil, fmt.Errorf("list lots: %w", translate(err))
	}
	return lots, nil
}

// LotLevels returns the stock figures of the matching lots as currently
// committed.
func (s *Store) LotLevels(ctx context.Context, q Querier, filter LotFilter) ([]domain.LotLevel, error) {
	levels := []domain.LotLevel{}
	clauses, args, ok := filter.clauses()
	if !ok {
		return levels, nil
	}
	query := `SELECT id, medication_id, pharmacy_id, quantity_on_hand, reorder_threshold FROM inventory_lots`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY pharmacy_id, medication_id"
	if err := selectAll(ctx, q, &levels, query, args...); err != nil {
		return nil, fmt.Errorf("list lot levels: %w", translate(err))
	}
	return levels, nil
}

// UpdateLotAttributes changes the reorder threshold, unit price and expiry of a
// lot. It never touches quantity_on_hand.
func (s *Store) UpdateLotAttributes(ctx context.Context, q Querier, lot *domain.InventoryLot) error {
	now := time.Now().UTC()
	res, err := exec(ctx, q,
		`UPDATE inventory_lots SET reorder_threshold = ?, unit_price = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
		lot.ReorderThreshold, lot.UnitPrice, lot.ExpiresAt, now, lot.ID)
	if isCheckViolation(err) {
		return fmt.Errorf("%w: reorder threshold and unit price must not be negative", domain.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("update lot: %w", translate(err))
	}
	if err := requireRow(res, fmt.Errorf("lot %d: %w", lot.ID, domain.ErrLotNotFound)); err != nil {
		return err
	}
	lot.UpdatedAt = now
	return nil
}

// DeleteLot removes a lot that no record references. Referenced lots stay,
// even when exhausted.
func (s *Store) DeleteLot(ctx context.Context, q Querier, id int64) error {
	res, err := exec(ctx, q, `DELETE FROM inventory_lots WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("lot %d: %w", id, domain.ErrInUse)
	}
	if err != nil {
		return fmt.Errorf("delete lot: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("lot %d: %w", id, domain.ErrLotNotFound))
}

// SwapLotQuantity writes quantity_on_hand if the lot is still at
// expectedVersion and bumps the version. It reports false when another writer
// got there first. Only the ledger calls this.
func (s *Store) SwapLotQuantity(ctx context.Context, q Querier, id, expectedVersion, quantity int64, at time.Time) (bool, error) {
	res, err := exec(ctx, q,
		`UPDATE inventory_lots SET quantity_on_hand = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		quantity, at, id, expectedVersion)
	if isCheckViolation(err) {
		return false, fmt.Errorf("lot %d: %w", id, domain.ErrInsufficientStock)
	}
	if err != nil {
		return false, fmt.Errorf("swap lot quantity: %w", translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
