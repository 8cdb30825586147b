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

const pharmacyColumns = `id, name, address, latitude, longitude, created_at`

func (s *Store) CreatePharmacy(ctx context.Context, q Querier, p *domain.Pharmacy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	id, err := insertReturningID(ctx, q,
		`INSERT INTO pharmacies (name, address, latitude, longitude, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.Address, p.Latitude, p.Longitude, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pharmacy: %w", translate(err))
	}
	p.ID = id
	return nil
}

func (s *Store) GetPharmacy(ctx context.Context, q Querier, id int64) (*domain.Pharmacy, error) {
	var p domain.Pharmacy
	err := get(ctx, q, &p, `SELECT `+pharmacyColumns+` FROM pharmacies WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pharmacy %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pharmacy: %w", translate(err))
	}
	return &p, nil
}

func (s *Store) ListPharmacies(ctx context.Context, q Querier, filter PharmacyFilter) ([]domain.Pharmacy, error) {
	pharmacies := []domain.Pharmacy{}
	clauses, args, ok := filter.where("id", nil, nil)
	if !ok {
		return pharmacies, nil
	}
	query := `SELECT ` + pharmacyColumns + ` FROM pharmacies`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY name, id"
	if err := selectAll(ctx, q, &pharmacies, query, args...); err != nil {
		return nil, fmt.Errorf("list pharmacies: %w", translate(err))
	}
	return pharmacies, nil
}

func (s *Store) UpdatePharmacy(ctx context.Context, q Querier, p *domain.Pharmacy) error {
	res, err := exec(ctx, q, `UPDATE pharmacies SET name = ?, address = ?, latitude = ?, longitude = ? WHERE id = ?`,
		p.Name, p.Address, p.Latitude, p.Longitude, p.ID)
	if err != nil {
		return fmt.Errorf("update pharmacy: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("pharmacy %d: %w", p.ID, domain.ErrNotFound))
}

// DeletePharmacy removes a pharmacy that owns no lots or records.
func (s *Store) DeletePharmacy(ctx context.Context, q Querier, id int64) error {
	res, err := exec(ctx, q, `DELETE FROM pharmacies WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("pharmacy %d: %w", id, domain.ErrInUse)
	}
	if err != nil {
		return fmt.Errorf("delete pharmacy: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("pharmacy %d: %w", id, domain.ErrNotFound))
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
