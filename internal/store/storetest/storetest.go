// Package storetest opens migrated in-memory stores for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/database"
	"medeasy/ledger/internal/migrations"
	"medeasy/ledger/internal/store"
)

// Open returns a store over a fresh in-memory SQLite database that is closed
// when the test ends.
func Open(t testing.TB) (*store.Store, *sqlx.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := database.Connect(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Run(ctx, db))
	return store.New(db, zap.NewNop()), db
}

// Pharmacy creates a pharmacy named name.
func Pharmacy(t testing.TB, s *store.Store, name string) *domain.Pharmacy {
	t.Helper()
	p := &domain.Pharmacy{Name: name, Address: name + " street"}
	require.NoError(t, s.CreatePharmacy(context.Background(), s.DB(), p))
	return p
}

// Medication creates a catalog entry with the given code.
func Medication(t testing.TB, s *store.Store, code string) *domain.Medication {
	t.Helper()
	m := &domain.Medication{Code: code, Name: "Medication " + code, Category: "analgesic"}
	require.NoError(t, s.CreateMedication(context.Background(), s.DB(), m))
	return m
}

// Lot creates a lot and sets its quantity directly, bypassing the ledger. Only
// fixtures may do this.
func Lot(t testing.TB, s *store.Store, pharmacyID, medicationID, quantity int64, price string) *domain.InventoryLot {
	t.Helper()
	ctx := context.Background()
	lot := &domain.InventoryLot{
		PharmacyID:       pharmacyID,
		MedicationID:     medicationID,
		ReorderThreshold: 5,
		UnitPrice:        decimal.RequireFromString(price),
	}
	require.NoError(t, s.CreateLot(ctx, s.DB(), lot))
	if quantity > 0 {
		ok, err := s.SwapLotQuantity(ctx, s.DB(), lot.ID, lot.Version, quantity, lot.UpdatedAt)
		require.NoError(t, err)
		require.True(t, ok)
	}
	got, err := s.GetLot(ctx, s.DB(), lot.ID, false)
	require.NoError(t, err)
	return got
}
