package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medeasy/ledger/domain"
)

func ptr(v int64) *int64 { return &v }

const (
	pharmacyA int64 = 1
	pharmacyB int64 = 2
	pharmacyC int64 = 3
)

func operator() *Principal {
	return &Principal{
		UserID:             10,
		Role:               domain.RolePharmacyOperator,
		ActivePharmacyID:   ptr(pharmacyA),
		AssignedPharmacies: []int64{pharmacyA, pharmacyB},
	}
}

func admin() *Principal {
	return &Principal{UserID: 1, Role: domain.RoleAdmin}
}

func TestDecide_Rules(t *testing.T) {
	cases := []struct {
		name      string
		principal *Principal
		target    int64
		allowed   bool
		reason    error
	}{
		{"no principal", nil, pharmacyA, false, domain.ErrUnauthorized},
		{"admin anywhere", admin(), pharmacyC, true, nil},
		{"operator active pharmacy", operator(), pharmacyA, true, nil},
		{"operator assigned pharmacy", operator(), pharmacyB, true, nil},
		{"operator foreign pharmacy", operator(), pharmacyC, false, domain.ErrForbidden},
		{"operator active but unassigned", &Principal{Role: domain.RolePharmacyOperator, ActivePharmacyID: ptr(pharmacyC)}, pharmacyC, true, nil},
		{"unknown role", &Principal{Role: "GUEST", AssignedPharmacies: []int64{pharmacyA}}, pharmacyA, false, domain.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.principal, tc.target)
			assert.Equal(t, tc.allowed, d.Allowed)
			if tc.reason == nil {
				assert.NoError(t, d.Reason)
			} else {
				assert.ErrorIs(t, d.Reason, tc.reason)
			}
			assert.Equal(t, d.Reason, Authorize(tc.principal, tc.target))
		})
	}
}

func TestResolveWritePharmacy(t *testing.T) {
	_, err := ResolveWritePharmacy(nil, nil)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = ResolveWritePharmacy(admin(), nil)
	assert.ErrorIs(t, err, domain.ErrPharmacyRequired)

	id, err := ResolveWritePharmacy(admin(), ptr(pharmacyC))
	require.NoError(t, err)
	assert.Equal(t, pharmacyC, id)

	id, err = ResolveWritePharmacy(operator(), nil)
	require.NoError(t, err)
	assert.Equal(t, pharmacyA, id)

	id, err = ResolveWritePharmacy(operator(), ptr(pharmacyB))
	require.NoError(t, err)
	assert.Equal(t, pharmacyB, id)

	_, err = ResolveWritePharmacy(operator(), ptr(pharmacyC))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	noActive := &Principal{Role: domain.RolePharmacyOperator, AssignedPharmacies: []int64{pharmacyB}}
	_, err = ResolveWritePharmacy(noActive, nil)
	assert.ErrorIs(t, err, domain.ErrNoActivePharmacy)
}

func TestReadScope(t *testing.T) {
	scope, err := ReadScope(admin())
	require.NoError(t, err)
	assert.True(t, scope.All)
	assert.True(t, scope.Includes(pharmacyC))

	op := operator()
	op.ActivePharmacyID = ptr(pharmacyC)
	scope, err = ReadScope(op)
	require.NoError(t, err)
	assert.False(t, scope.All)
	assert.Equal(t, []int64{pharmacyA, pharmacyB, pharmacyC}, scope.PharmacyIDs)

	scope, err = ReadScope(&Principal{Role: domain.RolePharmacyOperator})
	require.NoError(t, err)
	assert.Empty(t, scope.PharmacyIDs)
	assert.False(t, scope.Includes(pharmacyA))

	_, err = ReadScope(nil)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestNarrow(t *testing.T) {
	scope, err := Narrow(operator(), ptr(pharmacyB))
	require.NoError(t, err)
	assert.Equal(t, []int64{pharmacyB}, scope.PharmacyIDs)

	_, err = Narrow(operator(), ptr(pharmacyC))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	scope, err = Narrow(operator(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{pharmacyA, pharmacyB}, scope.PharmacyIDs)
}

func TestRequireAdmin(t *testing.T) {
	assert.NoError(t, RequireAdmin(admin()))
	assert.ErrorIs(t, RequireAdmin(operator()), domain.ErrForbidden)
	assert.ErrorIs(t, RequireAdmin(nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, RequireAuthenticated(nil), domain.ErrUnauthorized)
	assert.NoError(t, RequireAuthenticated(operator()))
}

func TestFromUser_CopiesScope(t *testing.T) {
	u := &domain.User{ID: 5, Role: domain.RolePharmacyOperator, ActivePharmacyID: ptr(pharmacyA), AssignedPharmacies: []int64{pharmacyA}}
	p := FromUser(u)
	u.AssignedPharmacies[0] = pharmacyC
	*u.ActivePharmacyID = pharmacyC

	assert.Equal(t, []int64{pharmacyA}, p.AssignedPharmacies)
	assert.Equal(t, pharmacyA, *p.ActivePharmacyID)
	assert.Nil(t, FromUser(nil))
}
