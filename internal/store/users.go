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

const userColumns = `id, name, email, password_hash, role, active_pharmacy_id, created_at`

// CreateUser stores a user and its pharmacy assignments. Emails are stored
// lower-cased and must be unique.
func (s *Store) CreateUser(ctx context.Context, q Querier, u *domain.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	id, err := insertReturningID(ctx, q,
		`INSERT INTO users (name, email, password_hash, role, active_pharmacy_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.PasswordHash, u.Role, u.ActivePharmacyID, u.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("email %q: %w", u.Email, domain.ErrDuplicate)
	case isForeignKeyViolation(err):
		return fmt.Errorf("active pharmacy: %w", domain.ErrNotFound)
	case isCheckViolation(err):
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, u.Role)
	case err != nil:
		return fmt.Errorf("insert user: %w", translate(err))
	}
	u.ID = id
	for _, pharmacyID := range u.AssignedPharmacies {
		if err := s.AssignPharmacy(ctx, q, id, pharmacyID); err != nil {
			return err
		}
	}
	return nil
}

// GetUser loads a user together with its assigned pharmacies.
func (s *Store) GetUser(ctx context.Context, q Querier, id int64) (*domain.User, error) {
	return s.getUser(ctx, q, `id = ?`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, q Querier, email string) (*domain.User, error) {
	return s.getUser(ctx, q, `email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) getUser(ctx context.Context, q Querier, where string, arg any) (*domain.User, error) {
	var u domain.User
	err := get(ctx, q, &u, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %v: %w", arg, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", translate(err))
	}
	assigned, err := s.AssignedPharmacies(ctx, q, u.ID)
	if err != nil {
		return nil, err
	}
	u.AssignedPharmacies = assigned
	return &u, nil
}

type assignment struct {
	UserID     int64 `db:"user_id"`
	PharmacyID int64 `db:"pharmacy_id"`
}

// ListUsers lists users together with their assigned pharmacies.
func (s *Store) ListUsers(ctx context.Context, q Querier) ([]domain.User, error) {
	users := []domain.User{}
	if err := selectAll(ctx, q, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list users: %w", translate(err))
	}
	var rows []assignment
	if err := selectAll(ctx, q, &rows, `SELECT user_id, pharmacy_id FROM user_pharmacies ORDER BY user_id, pharmacy_id`); err != nil {
		return nil, fmt.Errorf("list assignments: %w", translate(err))
	}
	byUser := make(map[int64][]int64, len(users))
	for _, r := range rows {
		byUser[r.UserID] = append(byUser[r.UserID], r.PharmacyID)
	}
	for i := range users {
		users[i].AssignedPharmacies = byUser[users[i].ID]
		if users[i].AssignedPharmacies == nil {
			users[i].AssignedPharmacies = []int64{}
		}
	}
	return users, nil
}

// SetActivePharmacy selects the pharmacy unscoped writes default to. A nil
// pharmacyID clears the selection.
func (s *Store) SetActivePharmacy(ctx context.Context, q Querier, userID int64, pharmacyID *int64) error {
	res, err := exec(ctx, q, `UPDATE users SET active_pharmacy_id = ? WHERE id = ?`, pharmacyID, userID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("pharmacy: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("set active pharmacy: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound))
}

// AssignPharmacy adds pharmacyID to the user's scope. Assigning twice is a
// no-op.
func (s *Store) AssignPharmacy(ctx context.Context, q Querier, userID, pharmacyID int64) error {
	_, err := exec(ctx, q,
		`INSERT INTO user_pharmacies (user_id, pharmacy_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		userID, pharmacyID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("user %d or pharmacy %d: %w", userID, pharmacyID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("assign pharmacy: %w", translate(err))
	}
	return nil
}

// UnassignPharmacy removes pharmacyID from the user's scope and clears it as
// the active pharmacy if selected.
func (s *Store) UnassignPharmacy(ctx context.Context, q Querier, userID, pharmacyID int64) error {
	if _, err := exec(ctx, q, `DELETE FROM user_pharmacies WHERE user_id = ? AND pharmacy_id = ?`, userID, pharmacyID); err != nil {
		return fmt.Errorf("unassign pharmacy: %w", translate(err))
	}
	if _, err := exec(ctx, q, `UPDATE users SET active_pharmacy_id = NULL WHERE id = ? AND active_pharmacy_id = ?`, userID, pharmacyID); err != nil {
		return fmt.Errorf("clear active pharmacy: %w", translate(err))
	}
	return nil
}

func (s *Store) AssignedPharmacies(ctx context.Context, q Querier, userID int64) ([]int64, error) {
	ids := []int64{}
	if err := selectAll(ctx, q, &ids, `SELECT pharmacy_id FROM user_pharmacies WHERE user_id = ? ORDER BY pharmacy_id`, userID); err != nil {
		return nil, fmt.Errorf("list assigned pharmacies: %w", translate(err))
	}
	return ids, nil
}

func (s *Store) DeleteUser(ctx context.Context, q Querier, id int64) error {
	res, err := exec(ctx, q, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", translate(err))
	}
	return requireRow(res, fmt.Errorf("user %d: %w", id, domain.ErrNotFound))
}
