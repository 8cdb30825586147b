package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/api"
	"medeasy/ledger/internal/ledger"
	"medeasy/ledger/internal/metrics"
	"medeasy/ledger/internal/replenish"
	"medeasy/ledger/internal/service"
	"medeasy/ledger/internal/store/storetest"
)

const secret = "test-secret"

type apiFixture struct {
	server   *httptest.Server
	handler  *api.Handler
	admin    string
	operator string
	lotA     *domain.InventoryLot
	lotC     *domain.InventoryLot
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	st, _ := storetest.Open(t)
	reg := prometheus.NewRegistry()
	mx := metrics.New(reg)
	svc := service.New(st, ledger.New(st, mx, zap.NewNop()), mx, zap.NewNop(), service.Options{MaxRetries: 3})
	h := api.New(svc, replenish.NewAdvisor(svc, replenish.ThresholdMultiple(4), zap.NewNop()), secret, reg, zap.NewNop())

	a := storetest.Pharmacy(t, st, "Alpha")
	c := storetest.Pharmacy(t, st, "Gamma")
	med := storetest.Medication(t, st, "AMOX500")
	f := &apiFixture{
		handler: h,
		lotA:    storetest.Lot(t, st, a.ID, med.ID, 10, "4.00"),
		lotC:    storetest.Lot(t, st, c.ID, med.ID, 10, "4.00"),
	}

	ctx := context.Background()
	admin := &domain.User{Name: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin}
	require.NoError(t, st.CreateUser(ctx, st.DB(), admin))
	operator := &domain.User{Name: "Op", Email: "op@example.com", Role: domain.RolePharmacyOperator, ActivePharmacyID: &a.ID, AssignedPharmacies: []int64{a.ID}}
	require.NoError(t, st.CreateUser(ctx, st.DB(), operator))

	var err error
	f.admin, err = h.GenerateToken(admin.ID, time.Hour)
	require.NoError(t, err)
	f.operator, err = h.GenerateToken(operator.ID, time.Hour)
	require.NoError(t, err)

	f.server = httptest.NewServer(h.Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	f := setupAPI(t)
	status, _ := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuth_RejectsMissingAndForeignTokens(t *testing.T) {
	f := setupAPI(t)

	status, _ := f.do(t, http.MethodGet, "/lots", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(time.Hour).Unix()})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	status, _ = f.do(t, http.MethodGet, "/lots", signed, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	ghost, err := f.handler.GenerateToken(9999, time.Hour)
	require.NoError(t, err)
	status, _ = f.do(t, http.MethodGet, "/lots", ghost, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	expired, err := f.handler.GenerateToken(1, -time.Minute)
	require.NoError(t, err)
	status, _ = f.do(t, http.MethodGet, "/lots", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSales_StatusMapping(t *testing.T) {
	f := setupAPI(t)

	status, body := f.do(t, http.MethodPost, "/sales", f.operator, map[string]any{"lot_id": f.lotA.ID, "quantity": 3})
	require.Equal(t, http.StatusCreated, status, string(body))
	var created struct {
		Sale  domain.SaleRecord `json:"sale"`
		Total string            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, int64(3), created.Sale.Quantity)
	assert.Equal(t, "12", created.Total)

	status, _ = f.do(t, http.MethodPost, "/sales", f.operator, map[string]any{"lot_id": f.lotC.ID, "quantity": 1})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = f.do(t, http.MethodPost, "/sales", f.operator, map[string]any{"lot_id": f.lotA.ID, "quantity": 50})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, string(body), "cannot sell more than on-hand stock")

	status, _ = f.do(t, http.MethodPost, "/sales", f.operator, map[string]any{"lot_id": f.lotA.ID, "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/sales", f.operator, map[string]any{"lot_id": 9999, "quantity": 1})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/sales", f.admin, map[string]any{"medication_id": f.lotA.MedicationID, "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSales_IdempotencyKey(t *testing.T) {
	f := setupAPI(t)
	sale := map[string]any{"lot_id": f.lotA.ID, "quantity": 2}

	status, _ := f.do(t, http.MethodPost, "/sales", f.operator, sale, "Idempotency-Key", "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, status)

	key := "3b241101-e2bb-4255-8caf-4136c566a962"
	status, first := f.do(t, http.MethodPost, "/sales", f.operator, sale, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, status)
	status, second := f.do(t, http.MethodPost, "/sales", f.operator, sale, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, saleID(t, first), saleID(t, second))

	status, _ = f.do(t, http.MethodPost, "/sales", f.operator, map[string]any{"lot_id": f.lotA.ID, "quantity": 5}, "Idempotency-Key", key)
	assert.Equal(t, http.StatusConflict, status)

	status, body := f.do(t, http.MethodGet, fmt.Sprintf("/lots/%d", f.lotA.ID), f.operator, nil)
	require.Equal(t, http.StatusOK, status)
	var lot domain.InventoryLot
	require.NoError(t, json.Unmarshal(body, &lot))
	assert.Equal(t, int64(8), lot.QuantityOnHand)
}

func saleID(t *testing.T, body []byte) int64 {
	t.Helper()
	var created struct {
		Sale domain.SaleRecord `json:"sale"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotZero(t, created.Sale.ID)
	return created.Sale.ID
}

func TestReturns_ApproveOnce(t *testing.T) {
	f := setupAPI(t)

	status, body := f.do(t, http.MethodPost, "/returns", f.operator, map[string]any{"lot_id": f.lotA.ID, "quantity": 2, "reason": "DAMAGED"})
	require.Equal(t, http.StatusCreated, status, string(body))
	var ret domain.ReturnRecord
	require.NoError(t, json.Unmarshal(body, &ret))
	assert.Equal(t, domain.ReturnPending, ret.Status)

	path := fmt.Sprintf("/returns/%d/approve", ret.ID)
	status, _ = f.do(t, http.MethodPost, path, f.operator, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, path, f.operator, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, body = f.do(t, http.MethodGet, "/returns?status=approved", f.operator, nil)
	require.Equal(t, http.StatusOK, status)
	var returns []domain.ReturnRecord
	require.NoError(t, json.Unmarshal(body, &returns))
	assert.Len(t, returns, 1)
}

func TestLots_ScopedListing(t *testing.T) {
	f := setupAPI(t)

	status, body := f.do(t, http.MethodGet, "/lots", f.operator, nil)
	require.Equal(t, http.StatusOK, status)
	var lots []domain.InventoryLot
	require.NoError(t, json.Unmarshal(body, &lots))
	require.Len(t, lots, 1)
	assert.Equal(t, f.lotA.ID, lots[0].ID)

	status, body = f.do(t, http.MethodGet, "/lots", f.admin, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &lots))
	assert.Len(t, lots, 2)

	status, _ = f.do(t, http.MethodGet, fmt.Sprintf("/lots?pharmacy_id=%d", f.lotC.PharmacyID), f.operator, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = f.do(t, http.MethodGet, "/reports/replenishment", f.operator, nil)
	require.Equal(t, http.StatusOK, status)
	var recs []replenish.Recommendation
	require.NoError(t, json.Unmarshal(body, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, int64(10), recs[0].RecommendedOrderQty)
}

func TestCatalog_AdminOnly(t *testing.T) {
	f := setupAPI(t)
	med := map[string]any{"code": "PARA500", "name": "Paracetamol 500"}

	status, _ := f.do(t, http.MethodPost, "/medications", f.operator, med)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = f.do(t, http.MethodPost, "/medications", f.admin, med)
	assert.Equal(t, http.StatusCreated, status)
	status, _ = f.do(t, http.MethodPost, "/medications", f.admin, med)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, "/medications", f.admin, map[string]any{"code": "X", "unknown": true})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupAPI(t)
	status, _ := f.do(t, http.MethodPost, "/sales", f.operator, map[string]any{"lot_id": f.lotA.ID, "quantity": 1})
	require.Equal(t, http.StatusCreated, status)

	status, body := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(string(body), `medeasy_ledger_deltas_total{outcome="applied"} 1`), string(body))
}
