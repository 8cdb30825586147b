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

const (
	saleColumns     = `id, inventory_lot_id, pharmacy_id, quantity, unit_price_at_sale, user_id, request_key, occurred_at`
	returnColumns   = `id, inventory_lot_id, pharmacy_id, quantity, reason, status, request_key, occurred_at, decided_at`
	movementColumns = `id, inventory_lot_id, pharmacy_id, kind, quantity, request_key, occurred_at`
)

// RecordFilter narrows the record list queries.
type RecordFilter struct {
	Pharmacies PharmacyFilter
	LotID      int64
	Since      *time.Time
	Until      *time.Time
	Status     domain.ReturnStatus
	Limit      int
}

func (f RecordFilter) build(base string) (string, []any, bool) {
	clauses, args, ok := f.Pharmacies.where("pharmacy_id", nil, nil)
	if !ok {
		return "", nil, false
	}
	if f.LotID > 0 {
		clauses = append(clauses, "inventory_lot_id = ?")
		args = append(args, f.LotID)
	}
	if f.Since != nil {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.Until != nil {
		clauses = append(clauses, "occurred_at < ?")
		args = append(args, f.Until.UTC())
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	query := base
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return query, args, true
}

// recordInsertErr maps insert failures shared by all record tables.
func recordInsertErr(kind string, err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%s request key: %w", kind, domain.ErrDuplicate)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%s lot: %w", kind, domain.ErrLotNotFound)
	case isCheckViolation(err):
		return fmt.Errorf("%w: invalid %s", domain.ErrValidation, kind)
	}
	return fmt.Errorf("insert %s: %w", kind, translate(err))
}

// Sales

func (s *Store) InsertSale(ctx context.Context, q Querier, sale *domain.SaleRecord) error {
	id, err := insertReturningID(ctx, q,
		`INSERT INTO sale_records (inventory_lot_id, pharmacy_id, quantity, unit_price_at_sale, user_id, request_key, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sale.InventoryLotID, sale.PharmacyID, sale.Quantity, sale.UnitPriceAtSale, sale.UserID, sale.RequestKey, sale.OccurredAt)
	if err != nil {
		return recordInsertErr("sale", err)
	}
	sale.ID = id
	return nil
}

func (s *Store) GetSale(ctx context.Context, q Querier, id int64) (*domain.SaleRecord, error) {
	var sale domain.SaleRecord
	if err := getRecord(ctx, q, &sale, `SELECT `+saleColumns+` FROM sale_records WHERE id = ?`, id, "sale"); err != nil {
		return nil, err
	}
	return &sale, nil
}

// GetSaleByRequestKey returns the sale committed under key, or nil if none.
func (s *Store) GetSaleByRequestKey(ctx context.Context, q Querier, key string) (*domain.SaleRecord, error) {
	var sale domain.SaleRecord
	found, err := getByKey(ctx, q, &sale, `SELECT `+saleColumns+` FROM sale_records WHERE request_key = ?`, key)
	if !found {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, q Querier, filter RecordFilter) ([]domain.SaleRecord, error) {
	sales := []domain.SaleRecord{}
	filter.Status = ""
	query, args, ok := filter.build(`SELECT ` + saleColumns + ` FROM sale_records`)
	if !ok {
		return sales, nil
	}
	if err := selectAll(ctx, q, &sales, query, args...); err != nil {
		return nil, fmt.Errorf("list sales: %w", translate(err))
	}
	return sales, nil
}

// Returns

func (s *Store) InsertReturn(ctx context.Context, q Querier, ret *domain.ReturnRecord) error {
	id, err := insertReturningID(ctx, q,
		`INSERT INTO return_records (inventory_lot_id, pharmacy_id, quantity, reason, status, request_key, occurred_at, decided_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ret.InventoryLotID, ret.PharmacyID, ret.Quantity, ret.Reason, ret.Status, ret.RequestKey, ret.OccurredAt, ret.DecidedAt)
	if err != nil {
		return recordInsertErr("return", err)
	}
	ret.ID = id
	return nil
}

func (s *Store) GetReturn(ctx context.Context, q Querier, id int64, forUpdate bool) (*domain.ReturnRecord, error) {
	var ret domain.ReturnRecord
	if err := getRecord(ctx, q, &ret, `SELECT `+returnColumns+` FROM return_records WHERE id = ?`+lockClause(q, forUpdate), id, "return"); err != nil {
		return nil, err
	}
	return &ret, nil
}

// GetReturnByRequestKey returns the return committed under key, or nil if none.
func (s *Store) GetReturnByRequestKey(ctx context.Context, q Querier, key string) (*domain.ReturnRecord, error) {
	var ret domain.ReturnRecord
	found, err := getByKey(ctx, q, &ret, `SELECT `+returnColumns+` FROM return_records WHERE request_key = ?`, key)
	if !found {
		return nil, err
	}
	return &ret, nil
}

// TransitionReturn moves a PENDING return to status. It reports false, without
// error, when the return is no longer PENDING.
func (s *Store) TransitionReturn(ctx context.Context, q Querier, id int64, status domain.ReturnStatus, at time.Time) (bool, error) {
	if !domain.CanTransition(domain.ReturnPending, status) {
		return false, fmt.Errorf("return %d to %s: %w", id, status, domain.ErrInvalidStateTransition)
	}
	res, err := exec(ctx, q,
		`UPDATE return_records SET status = ?, decided_at = ? WHERE id = ? AND status = ?`,
		status, at, id, domain.ReturnPending)
	if err != nil {
		return false, fmt.Errorf("transition return: %w", translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ListReturns(ctx context.Context, q Querier, filter RecordFilter) ([]domain.ReturnRecord, error) {
	returns := []domain.ReturnRecord{}
	query, args, ok := filter.build(`SELECT ` + returnColumns + ` FROM return_records`)
	if !ok {
		return returns, nil
	}
	if err := selectAll(ctx, q, &returns, query, args...); err != nil {
		return nil, fmt.Errorf("list returns: %w", translate(err))
	}
	return returns, nil
}

// Movements

func (s *Store) InsertMovement(ctx context.Context, q Querier, mv *domain.StockMovement) error {
	id, err := insertReturningID(ctx, q,
		`INSERT INTO stock_movements (inventory_lot_id, pharmacy_id, kind, quantity, request_key, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		mv.InventoryLotID, mv.PharmacyID, mv.Kind, mv.Quantity, mv.RequestKey, mv.OccurredAt)
	if err != nil {
		return recordInsertErr("movement", err)
	}
	mv.ID = id
	return nil
}

func (s *Store) GetMovement(ctx context.Context, q Querier, id int64) (*domain.StockMovement, error) {
	var mv domain.StockMovement
	if err := getRecord(ctx, q, &mv, `SELECT `+movementColumns+` FROM stock_movements WHERE id = ?`, id, "movement"); err != nil {
		return nil, err
	}
	return &mv, nil
}

// GetMovementByRequestKey returns the movement committed under key, or nil if
// none.
func (s *Store) GetMovementByRequestKey(ctx context.Context, q Querier, key string) (*domain.StockMovement, error) {
	var mv domain.StockMovement
	found, err := getByKey(ctx, q, &mv, `SELECT `+movementColumns+` FROM stock_movements WHERE request_key = ?`, key)
	if !found {
		return nil, err
	}
	return &mv, nil
}

func (s *Store) ListMovements(ctx context.Context, q Querier, filter RecordFilter) ([]domain.StockMovement, error) {
	movements := []domain.StockMovement{}
	filter.Status = ""
	query, args, ok := filter.build(`SELECT ` + movementColumns + ` FROM stock_movements`)
	if !ok {
		return movements, nil
	}
	if err := selectAll(ctx, q, &movements, query, args...); err != nil {
		return nil, fmt.Errorf("list movements: %w", translate(err))
	}
	return movements, nil
}

func getRecord(ctx context.Context, q Querier, dest any, query string, id int64, kind string) error {
	err := get(ctx, q, dest, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", kind, translate(err))
	}
	return nil
}

func getByKey(ctx context.Context, q Querier, dest any, query, key string) (bool, error) {
	err := get(ctx, q, dest, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup request key: %w", translate(err))
	}
	return true, nil
}
