package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medeasy/ledger/domain"
)

const medicationColumns = `id, code, name, category, requires_prescription`

func (s *Store) CreateMedication(ctx context.Context, q Querier, m *domain.Medication) error {
	id, err := insertReturningID(ctx, q,
		`INSERT INTO medications (code, name, category, requires_prescription) VALUES (?, ?, ?, ?)`,
		m.Code, m.Name, m.Category, m.RequiresPrescription)
	if isUniqueViolation(err) {
		return fmt.Errorf("medication code %q: %w", m.Code, domain.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert medication: %w", translate(err))
	}
	m.ID = id
	return nil
}

func (s *Store) GetMedication(ctx context.Context, q Querier, id int64) (*domain.Medication, error) {
	return s.getMedication(ctx, q, `id = ?`, id)
}

func (s *Store) GetMedicationByCode(ctx context.Context, q Querier, code string) (*domain.Medication, error) {
	return s.getMedication(ctx, q, `code = ?`, code)
}

func (s *Store) getMedication(ctx context.Context, q Querier, where string, arg any) (*domain.Medication, error) {
	var m domain.Medication
	err := get(ctx, q, &m, `SELECT `+medicationColumns+` FROM medications WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("medication %v: %w", arg, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", translate(err))
	}
	return &m, nil
}

// ListMedications searches the catalog by name or code. An empty query lists
// the first limit entries by name.
func (s *Store) ListMedications(ctx context.Context, q Querier, query string, limit int) ([]domain.Medication, error) {
	if limit <= 0 {
		limit = 25
	}
	var args []any
	sqlQuery := `SELECT ` + medicationColumns + ` FROM medications`
	if query = strings.TrimSpace(query); query != "" {
		like := "%" + strings.ToLower(query) + "%"
		sqlQuery += ` WHERE LOWER(name) LIKE ? OR LOWER(code) LIKE ? OR LOWER(category) LIKE ?`
		args = append(args, like, like, like)
	}
	sqlQuery += ` ORDER BY name LIMIT ?`
	args = append(args, limit)

	medications := []domain.Medication{}
	if err := selectAll(ctx, q, &medications, sqlQuery, args...); err != nil {
		return nil, fmt.Errorf("list medications: %w", translate(err))
	}
	return medications, nil
}

func (s *Store) UpdateMedication(ctx context.Context, q Querier, m *domain.Medication) error {
	res, err := exec(ctx, q, `UPDATE medications SET code = ?, name = ?, category = ?, requires_prescription = ? WHERE id = ?`,
		m.Code, m.Name, m.Category, m.RequiresPrescription, m.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("medication code %q: %w", m.Code, domain.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("update medication: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("medication %d: %w", m.ID, domain.ErrNotFound))
}

// DeleteMedication removes a catalog entry no pharmacy stocks.
func (s *Store) DeleteMedication(ctx context.Context, q Querier, id int64) error {
	res, err := exec(ctx, q, `DELETE FROM medications WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("medication %d: %w", id, domain.ErrInUse)
	}
	if err != nil {
		return fmt.Errorf("delete medication: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("medication %d: %w", id, domain.ErrNotFound))
}
