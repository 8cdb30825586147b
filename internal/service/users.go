package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/store"
)

// UserRequest creates a user. Credentials are handled by the auth
// collaborator; PasswordHash is stored as given.
type UserRequest struct {
	Name               string
	Email              string
	PasswordHash       string
	Role               domain.Role
	AssignedPharmacies []int64
	ActivePharmacyID   *int64
}

func (s *Service) CreateUser(ctx context.Context, p *access.Principal, req UserRequest) (*domain.User, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	u := &domain.User{
		Name:               strings.TrimSpace(req.Name),
		Email:              req.Email,
		PasswordHash:       req.PasswordHash,
		Role:               req.Role,
		AssignedPharmacies: slices.Clone(req.AssignedPharmacies),
		ActivePharmacyID:   req.ActivePharmacyID,
	}
	switch {
	case u.Name == "" || strings.TrimSpace(u.Email) == "":
		return nil, fmt.Errorf("%w: name and email are required", domain.ErrValidation)
	case !u.Role.Valid():
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, u.Role)
	}
	// An operator's active pharmacy is always one of its assignments.
	if u.ActivePharmacyID != nil && u.Role == domain.RolePharmacyOperator && !slices.Contains(u.AssignedPharmacies, *u.ActivePharmacyID) {
		u.AssignedPharmacies = append(u.AssignedPharmacies, *u.ActivePharmacyID)
	}

	err := s.atomic(ctx, "create_user", func(q store.Querier) error {
		u.ID = 0
		return s.store.CreateUser(ctx, q, u)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user created", zap.Int64("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

// GetUser is available to admins and to the user themself.
func (s *Service) GetUser(ctx context.Context, p *access.Principal, userID int64) (*domain.User, error) {
	if err := selfOrAdmin(p, userID); err != nil {
		return nil, err
	}
	var u *domain.User
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		u, err = s.store.GetUser(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, p *access.Principal) ([]domain.User, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	var users []domain.User
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		users, err = s.store.ListUsers(ctx, q)
		return err
	})
	return users, err
}

func (s *Service) DeleteUser(ctx context.Context, p *access.Principal, userID int64) error {
	if err := access.RequireAdmin(p); err != nil {
		return err
	}
	return s.atomic(ctx, "delete_user", func(q store.Querier) error {
		return s.store.DeleteUser(ctx, q, userID)
	})
}

func (s *Service) AssignPharmacy(ctx context.Context, p *access.Principal, userID, pharmacyID int64) error {
	if err := access.RequireAdmin(p); err != nil {
		return err
	}
	err := s.atomic(ctx, "assign_pharmacy", func(q store.Querier) error {
		return s.store.AssignPharmacy(ctx, q, userID, pharmacyID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("pharmacy assigned", zap.Int64("user_id", userID), zap.Int64("pharmacy_id", pharmacyID))
	return nil
}

// UnassignPharmacy removes a pharmacy from the user's scope. If it was the
// active pharmacy, the user is left without one.
func (s *Service) UnassignPharmacy(ctx context.Context, p *access.Principal, userID, pharmacyID int64) error {
	if err := access.RequireAdmin(p); err != nil {
		return err
	}
	err := s.atomic(ctx, "unassign_pharmacy", func(q store.Querier) error {
		return s.store.UnassignPharmacy(ctx, q, userID, pharmacyID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("pharmacy unassigned", zap.Int64("user_id", userID), zap.Int64("pharmacy_id", pharmacyID))
	return nil
}

// SetActivePharmacy selects the pharmacy unscoped writes of userID default to.
// Operators can only select one of their assigned pharmacies. A nil
// pharmacyID clears the selection.
func (s *Service) SetActivePharmacy(ctx context.Context, p *access.Principal, userID int64, pharmacyID *int64) (*domain.User, error) {
	if err := selfOrAdmin(p, userID); err != nil {
		return nil, err
	}
	var u *domain.User
	err := s.atomic(ctx, "set_active_pharmacy", func(q store.Querier) error {
		target, err := s.store.GetUser(ctx, q, userID)
		if err != nil {
			return err
		}
		if pharmacyID != nil && target.Role == domain.RolePharmacyOperator && !slices.Contains(target.AssignedPharmacies, *pharmacyID) {
			return fmt.Errorf("pharmacy %d is not assigned to user %d: %w", *pharmacyID, userID, domain.ErrForbidden)
		}
		if err := s.store.SetActivePharmacy(ctx, q, userID, pharmacyID); err != nil {
			return err
		}
		target.ActivePharmacyID = pharmacyID
		u = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// PrincipalFor loads the principal of a user the auth collaborator has
// already authenticated.
func (s *Service) PrincipalFor(ctx context.Context, userID int64) (*access.Principal, error) {
	var u *domain.User
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		u, err = s.store.GetUser(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return access.FromUser(u), nil
}

func selfOrAdmin(p *access.Principal, userID int64) error {
	if err := access.RequireAuthenticated(p); err != nil {
		return err
	}
	if p.IsAdmin() || p.UserID == userID {
		return nil
	}
	return fmt.Errorf("user %d: %w", userID, domain.ErrForbidden)
}

// EnsureAdmin creates an admin with the given email unless a user with that
// email already exists. It runs without a principal and is meant for startup.
func (s *Service) EnsureAdmin(ctx context.Context, email string) (*domain.User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, false, fmt.Errorf("%w: admin email is required", domain.ErrValidation)
	}
	var (
		u       *domain.User
		created bool
	)
	err := s.atomic(ctx, "ensure_admin", func(q store.Querier) error {
		existing, err := s.store.GetUserByEmail(ctx, q, email)
		if err == nil {
			u, created = existing, false
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		admin := &domain.User{Name: "Administrator", Email: email, Role: domain.RoleAdmin}
		if err := s.store.CreateUser(ctx, q, admin); err != nil {
			return err
		}
		u, created = admin, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("bootstrap admin created", zap.Int64("user_id", u.ID), zap.String("email", u.Email))
	}
	return u, created, nil
}
