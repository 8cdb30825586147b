package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/store"
)

// Pharmacies

func (s *Service) CreatePharmacy(ctx context.Context, p *access.Principal, ph domain.Pharmacy) (*domain.Pharmacy, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	if err := validatePharmacy(&ph); err != nil {
		return nil, err
	}
	err := s.atomic(ctx, "create_pharmacy", func(q store.Querier) error {
		ph.ID = 0
		return s.store.CreatePharmacy(ctx, q, &ph)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("pharmacy created", zap.Int64("pharmacy_id", ph.ID), zap.String("name", ph.Name))
	return &ph, nil
}

// UpdatePharmacy is open to admins and to operators scoped to the pharmacy.
func (s *Service) UpdatePharmacy(ctx context.Context, p *access.Principal, ph domain.Pharmacy) (*domain.Pharmacy, error) {
	if err := access.Authorize(p, ph.ID); err != nil {
		return nil, err
	}
	if err := validatePharmacy(&ph); err != nil {
		return nil, err
	}
	var updated *domain.Pharmacy
	err := s.atomic(ctx, "update_pharmacy", func(q store.Querier) error {
		if err := s.store.UpdatePharmacy(ctx, q, &ph); err != nil {
			return err
		}
		var err error
		updated, err = s.store.GetPharmacy(ctx, q, ph.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) DeletePharmacy(ctx context.Context, p *access.Principal, id int64) error {
	if err := access.RequireAdmin(p); err != nil {
		return err
	}
	return s.atomic(ctx, "delete_pharmacy", func(q store.Querier) error {
		return s.store.DeletePharmacy(ctx, q, id)
	})
}

func (s *Service) GetPharmacy(ctx context.Context, p *access.Principal, id int64) (*domain.Pharmacy, error) {
	if err := access.Authorize(p, id); err != nil {
		return nil, err
	}
	var ph *domain.Pharmacy
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		ph, err = s.store.GetPharmacy(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ph, nil
}

// ListPharmacies lists the pharmacies the caller can see.
func (s *Service) ListPharmacies(ctx context.Context, p *access.Principal) ([]domain.Pharmacy, error) {
	scope, err := access.ReadScope(p)
	if err != nil {
		return nil, err
	}
	var pharmacies []domain.Pharmacy
	err = s.read(ctx, func(ctx context.Context, q store.Querier) error {
		pharmacies, err = s.store.ListPharmacies(ctx, q, toFilter(scope))
		return err
	})
	return pharmacies, err
}

func validatePharmacy(ph *domain.Pharmacy) error {
	ph.Name = strings.TrimSpace(ph.Name)
	if ph.Name == "" {
		return fmt.Errorf("%w: pharmacy name is required", domain.ErrValidation)
	}
	if (ph.Latitude == nil) != (ph.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude go together", domain.ErrValidation)
	}
	if ph.Latitude != nil && (*ph.Latitude < -90 || *ph.Latitude > 90 || *ph.Longitude < -180 || *ph.Longitude > 180) {
		return fmt.Errorf("%w: coordinates out of range", domain.ErrValidation)
	}
	return nil
}

// Medications

// CreateMedication adds a catalog entry. The catalog is shared by all
// pharmacies, so only admins may change it.
func (s *Service) CreateMedication(ctx context.Context, p *access.Principal, m domain.Medication) (*domain.Medication, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	if err := validateMedication(&m); err != nil {
		return nil, err
	}
	err := s.atomic(ctx, "create_medication", func(q store.Querier) error {
		m.ID = 0
		return s.store.CreateMedication(ctx, q, &m)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("medication created", zap.Int64("medication_id", m.ID), zap.String("code", m.Code))
	return &m, nil
}

func (s *Service) UpdateMedication(ctx context.Context, p *access.Principal, m domain.Medication) (*domain.Medication, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	if err := validateMedication(&m); err != nil {
		return nil, err
	}
	err := s.atomic(ctx, "update_medication", func(q store.Querier) error {
		return s.store.UpdateMedication(ctx, q, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) DeleteMedication(ctx context.Context, p *access.Principal, id int64) error {
	if err := access.RequireAdmin(p); err != nil {
		return err
	}
	return s.atomic(ctx, "delete_medication", func(q store.Querier) error {
		return s.store.DeleteMedication(ctx, q, id)
	})
}

func (s *Service) GetMedication(ctx context.Context, p *access.Principal, id int64) (*domain.Medication, error) {
	if err := access.RequireAuthenticated(p); err != nil {
		return nil, err
	}
	var m *domain.Medication
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		m, err = s.store.GetMedication(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMedications searches the shared catalog by name, code or category.
func (s *Service) ListMedications(ctx context.Context, p *access.Principal, query string, limit int) ([]domain.Medication, error) {
	if err := access.RequireAuthenticated(p); err != nil {
		return nil, err
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var medications []domain.Medication
	err := s.read(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		medications, err = s.store.ListMedications(ctx, q, query, limit)
		return err
	})
	return medications, err
}

func validateMedication(m *domain.Medication) error {
	m.Code = strings.ToUpper(strings.TrimSpace(m.Code))
	m.Name = strings.TrimSpace(m.Name)
	if m.Code == "" || m.Name == "" {
		return fmt.Errorf("%w: medication code and name are required", domain.ErrValidation)
	}
	return nil
}
