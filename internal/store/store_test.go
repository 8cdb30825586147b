package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/store"
	"medeasy/ledger/internal/store/storetest"
)

func TestCreateLot_DuplicatePairRejected(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")

	first := &domain.InventoryLot{PharmacyID: p.ID, MedicationID: m.ID, UnitPrice: decimal.NewFromInt(3)}
	require.NoError(t, s.CreateLot(ctx, s.DB(), first))
	assert.Equal(t, int64(0), first.QuantityOnHand)

	second := &domain.InventoryLot{PharmacyID: p.ID, MedicationID: m.ID, UnitPrice: decimal.NewFromInt(4)}
	err := s.CreateLot(ctx, s.DB(), second)
	assert.ErrorIs(t, err, domain.ErrDuplicateLot)

	lots, err := s.ListLots(ctx, s.DB(), store.LotFilter{Pharmacies: store.AllPharmacies()})
	require.NoError(t, err)
	assert.Len(t, lots, 1)
}

func TestCreateLot_UnknownPharmacy(t *testing.T) {
	s, _ := storetest.Open(t)
	m := storetest.Medication(t, s, "M1")

	err := s.CreateLot(context.Background(), s.DB(), &domain.InventoryLot{PharmacyID: 42, MedicationID: m.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateLot_NegativeThreshold(t *testing.T) {
	s, _ := storetest.Open(t)
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")

	err := s.CreateLot(context.Background(), s.DB(), &domain.InventoryLot{PharmacyID: p.ID, MedicationID: m.ID, ReorderThreshold: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetLot_NotFound(t *testing.T) {
	s, _ := storetest.Open(t)

	_, err := s.GetLot(context.Background(), s.DB(), 99, false)
	assert.ErrorIs(t, err, domain.ErrLotNotFound)

	_, err = s.GetLotByPharmacyMedication(context.Background(), s.DB(), 1, 1, true)
	assert.ErrorIs(t, err, domain.ErrLotNotFound)
}

func TestGetLot_RoundTripsAttributes(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")
	expires := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)

	lot := &domain.InventoryLot{
		PharmacyID:       p.ID,
		MedicationID:     m.ID,
		ReorderThreshold: 12,
		UnitPrice:        decimal.RequireFromString("4.75"),
		ExpiresAt:        &expires,
	}
	require.NoError(t, s.CreateLot(ctx, s.DB(), lot))

	got, err := s.GetLotByPharmacyMedication(ctx, s.DB(), p.ID, m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, lot.ID, got.ID)
	assert.Equal(t, int64(12), got.ReorderThreshold)
	assert.True(t, decimal.RequireFromString("4.75").Equal(got.UnitPrice))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))
}

func TestSwapLotQuantity_VersionGuard(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")
	lot := storetest.Lot(t, s, p.ID, m.ID, 10, "2.00")
	now := time.Now().UTC()

	ok, err := s.SwapLotQuantity(ctx, s.DB(), lot.ID, lot.Version, 7, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale version loses.
	ok, err = s.SwapLotQuantity(ctx, s.DB(), lot.ID, lot.Version, 1, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetLot(ctx, s.DB(), lot.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.QuantityOnHand)
	assert.Equal(t, lot.Version+1, got.Version)
}

func TestSwapLotQuantity_StorageRejectsNegative(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")
	lot := storetest.Lot(t, s, p.ID, m.ID, 3, "2.00")

	_, err := s.SwapLotQuantity(ctx, s.DB(), lot.ID, lot.Version, -1, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	got, err := s.GetLot(ctx, s.DB(), lot.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.QuantityOnHand)
}

func TestDeleteLot_ReferencedLotKept(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")
	lot := storetest.Lot(t, s, p.ID, m.ID, 3, "2.00")

	require.NoError(t, s.InsertMovement(ctx, s.DB(), &domain.StockMovement{
		InventoryLotID: lot.ID, PharmacyID: p.ID, Kind: domain.MovementInbound, Quantity: 3, OccurredAt: time.Now().UTC(),
	}))

	err := s.DeleteLot(ctx, s.DB(), lot.ID)
	assert.ErrorIs(t, err, domain.ErrInUse)

	unused := storetest.Lot(t, s, p.ID, storetest.Medication(t, s, "M2").ID, 0, "1.00")
	require.NoError(t, s.DeleteLot(ctx, s.DB(), unused.ID))
	assert.ErrorIs(t, s.DeleteLot(ctx, s.DB(), unused.ID), domain.ErrLotNotFound)
}

func TestListLots_Filters(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p1 := storetest.Pharmacy(t, s, "P1")
	p2 := storetest.Pharmacy(t, s, "P2")
	m1 := storetest.Medication(t, s, "M1")
	m2 := storetest.Medication(t, s, "M2")
	storetest.Lot(t, s, p1.ID, m1.ID, 20, "1.00")
	storetest.Lot(t, s, p1.ID, m2.ID, 2, "1.00")
	storetest.Lot(t, s, p2.ID, m1.ID, 0, "1.00")

	lots, err := s.ListLots(ctx, s.DB(), store.LotFilter{Pharmacies: store.OnlyPharmacies(p1.ID)})
	require.NoError(t, err)
	assert.Len(t, lots, 2)

	lots, err = s.ListLots(ctx, s.DB(), store.LotFilter{Pharmacies: store.AllPharmacies(), BelowThreshold: true})
	require.NoError(t, err)
	assert.Len(t, lots, 2)

	lots, err = s.ListLots(ctx, s.DB(), store.LotFilter{Pharmacies: store.AllPharmacies(), InStockOnly: true, MedicationID: m1.ID})
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, p1.ID, lots[0].PharmacyID)

	lots, err = s.ListLots(ctx, s.DB(), store.LotFilter{Pharmacies: store.OnlyPharmacies()})
	require.NoError(t, err)
	assert.Empty(t, lots)

	levels, err := s.LotLevels(ctx, s.DB(), store.LotFilter{Pharmacies: store.OnlyPharmacies(p2.ID)})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, domain.LotLevel{LotID: levels[0].LotID, MedicationID: m1.ID, PharmacyID: p2.ID, QuantityOnHand: 0, ReorderThreshold: 5}, levels[0])
}

func TestReturns_TransitionOnlyFromPending(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")
	lot := storetest.Lot(t, s, p.ID, m.ID, 3, "2.00")

	ret := &domain.ReturnRecord{
		InventoryLotID: lot.ID, PharmacyID: p.ID, Quantity: 2,
		Reason: domain.ReasonDamaged, Status: domain.ReturnPending, OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertReturn(ctx, s.DB(), ret))

	ok, err := s.TransitionReturn(ctx, s.DB(), ret.ID, domain.ReturnRejected, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionReturn(ctx, s.DB(), ret.ID, domain.ReturnApproved, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.TransitionReturn(ctx, s.DB(), ret.ID, domain.ReturnPending, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	got, err := s.GetReturn(ctx, s.DB(), ret.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnRejected, got.Status)
	assert.NotNil(t, got.DecidedAt)
}

func TestRecords_RequestKeyUnique(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")
	lot := storetest.Lot(t, s, p.ID, m.ID, 3, "2.00")
	key := "0b8e2b0e-6a51-4f36-9a4c-0c1f3f0f9a11"

	sale := &domain.SaleRecord{
		InventoryLotID: lot.ID, PharmacyID: p.ID, Quantity: 1, UnitPriceAtSale: lot.UnitPrice,
		UserID: 7, RequestKey: &key, OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertSale(ctx, s.DB(), sale))

	dup := *sale
	err := s.InsertSale(ctx, s.DB(), &dup)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	found, err := s.GetSaleByRequestKey(ctx, s.DB(), key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sale.ID, found.ID)

	missing, err := s.GetSaleByRequestKey(ctx, s.DB(), "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecords_RejectNonPositiveQuantity(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p := storetest.Pharmacy(t, s, "P1")
	m := storetest.Medication(t, s, "M1")
	lot := storetest.Lot(t, s, p.ID, m.ID, 3, "2.00")

	err := s.InsertMovement(ctx, s.DB(), &domain.StockMovement{
		InventoryLotID: lot.ID, PharmacyID: p.ID, Kind: domain.MovementOutbound, Quantity: 0, OccurredAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListSales_ScopedAndOrdered(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	p1 := storetest.Pharmacy(t, s, "P1")
	p2 := storetest.Pharmacy(t, s, "P2")
	m := storetest.Medication(t, s, "M1")
	lot1 := storetest.Lot(t, s, p1.ID, m.ID, 10, "2.00")
	lot2 := storetest.Lot(t, s, p2.ID, m.ID, 10, "2.00")
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	for i, lot := range []*domain.InventoryLot{lot1, lot1, lot2} {
		require.NoError(t, s.InsertSale(ctx, s.DB(), &domain.SaleRecord{
			InventoryLotID: lot.ID, PharmacyID: lot.PharmacyID, Quantity: int64(i + 1),
			UnitPriceAtSale: lot.UnitPrice, UserID: 1, OccurredAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	sales, err := s.ListSales(ctx, s.DB(), store.RecordFilter{Pharmacies: store.OnlyPharmacies(p1.ID)})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, int64(2), sales[0].Quantity)

	since := base.Add(90 * time.Minute)
	sales, err = s.ListSales(ctx, s.DB(), store.RecordFilter{Pharmacies: store.AllPharmacies(), Since: &since})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, p2.ID, sales[0].PharmacyID)
}

func TestUsers_AssignmentsAndActivePharmacy(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	a := storetest.Pharmacy(t, s, "A")
	b := storetest.Pharmacy(t, s, "B")

	u := &domain.User{
		Name: "Rina", Email: " Rina@Example.com ", Role: domain.RolePharmacyOperator,
		ActivePharmacyID: &a.ID, AssignedPharmacies: []int64{a.ID, b.ID},
	}
	require.NoError(t, s.CreateUser(ctx, s.DB(), u))
	assert.Equal(t, "rina@example.com", u.Email)

	dup := &domain.User{Name: "Other", Email: "rina@example.com", Role: domain.RoleAdmin}
	assert.ErrorIs(t, s.CreateUser(ctx, s.DB(), dup), domain.ErrDuplicate)

	got, err := s.GetUserByEmail(ctx, s.DB(), "RINA@example.com")
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, got.AssignedPharmacies)
	require.NotNil(t, got.ActivePharmacyID)
	assert.Equal(t, a.ID, *got.ActivePharmacyID)

	require.NoError(t, s.AssignPharmacy(ctx, s.DB(), u.ID, b.ID))
	require.NoError(t, s.UnassignPharmacy(ctx, s.DB(), u.ID, a.ID))

	got, err = s.GetUser(ctx, s.DB(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, got.AssignedPharmacies)
	assert.Nil(t, got.ActivePharmacyID)

	admin := &domain.User{Name: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin}
	require.NoError(t, s.CreateUser(ctx, s.DB(), admin))
	users, err := s.ListUsers(ctx, s.DB())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, []int64{b.ID}, users[0].AssignedPharmacies)
	assert.NotNil(t, users[1].AssignedPharmacies)
	assert.Empty(t, users[1].AssignedPharmacies)

	bad := &domain.User{Name: "X", Email: "x@example.com", Role: domain.Role("ROOT")}
	assert.ErrorIs(t, s.CreateUser(ctx, s.DB(), bad), domain.ErrValidation)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(q store.Querier) error {
		if err := s.CreatePharmacy(ctx, q, &domain.Pharmacy{Name: "Ghost"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	pharmacies, err := s.ListPharmacies(ctx, s.DB(), store.AllPharmacies())
	require.NoError(t, err)
	assert.Empty(t, pharmacies)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(q store.Querier) error {
		return s.CreatePharmacy(ctx, q, &domain.Pharmacy{Name: "Kept"})
	})
	require.NoError(t, err)

	pharmacies, err := s.ListPharmacies(ctx, s.DB(), store.AllPharmacies())
	require.NoError(t, err)
	require.Len(t, pharmacies, 1)
	assert.Equal(t, "Kept", pharmacies[0].Name)
}

func TestWithTx_CanceledContext(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WithTx(ctx, func(q store.Querier) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMedications_SearchAndDelete(t *testing.T) {
	s, _ := storetest.Open(t)
	ctx := context.Background()
	napa := &domain.Medication{Code: "NAPA-500", Name: "Napa 500", Category: "analgesic"}
	seclo := &domain.Medication{Code: "SECLO-20", Name: "Seclo 20", Category: "antacid", RequiresPrescription: true}
	require.NoError(t, s.CreateMedication(ctx, s.DB(), napa))
	require.NoError(t, s.CreateMedication(ctx, s.DB(), seclo))
	assert.ErrorIs(t, s.CreateMedication(ctx, s.DB(), &domain.Medication{Code: "NAPA-500", Name: "dup"}), domain.ErrDuplicate)

	found, err := s.ListMedications(ctx, s.DB(), "seclo", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].RequiresPrescription)

	byCode, err := s.GetMedicationByCode(ctx, s.DB(), "NAPA-500")
	require.NoError(t, err)
	assert.Equal(t, napa.ID, byCode.ID)

	p := storetest.Pharmacy(t, s, "P1")
	storetest.Lot(t, s, p.ID, napa.ID, 0, "1.00")
	assert.ErrorIs(t, s.DeleteMedication(ctx, s.DB(), napa.ID), domain.ErrInUse)
	require.NoError(t, s.DeleteMedication(ctx, s.DB(), seclo.ID))
	_, err = s.GetMedication(ctx, s.DB(), seclo.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
