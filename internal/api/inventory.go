package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/service"
)

// Lot handlers

type lotRequest struct {
	PharmacyID       *int64          `json:"pharmacy_id,omitempty"`
	MedicationID     int64           `json:"medication_id"`
	ReorderThreshold int64           `json:"reorder_threshold"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	InitialQuantity  int64           `json:"initial_quantity"`
}

func (h *Handler) createLot(w http.ResponseWriter, r *http.Request) {
	var req lotRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lot, err := h.svc.CreateLot(r.Context(), principalFrom(r), service.LotRequest(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, lot)
}

type lotUpdateRequest struct {
	ReorderThreshold *int64           `json:"reorder_threshold,omitempty"`
	UnitPrice        *decimal.Decimal `json:"unit_price,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	ClearExpiry      bool             `json:"clear_expiry,omitempty"`
}

func (h *Handler) updateLot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req lotUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lot, err := h.svc.UpdateLot(r.Context(), principalFrom(r), id, service.LotUpdate(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lot)
}

func (h *Handler) deleteLot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.DeleteLot(r.Context(), principalFrom(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getLot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lot, err := h.svc.GetLot(r.Context(), principalFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lot)
}

func lotQuery(r *http.Request) (service.LotQuery, error) {
	var q service.LotQuery
	pharmacyID, err := queryID(r, "pharmacy_id")
	if err != nil {
		return q, err
	}
	medicationID, err := queryID(r, "medication_id")
	if err != nil {
		return q, err
	}
	q.PharmacyID = pharmacyID
	if medicationID != nil {
		q.MedicationID = *medicationID
	}
	q.BelowThreshold = queryBool(r, "below_threshold")
	q.InStockOnly = queryBool(r, "in_stock")
	return q, nil
}

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	q, err := lotQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lots, err := h.svc.ListLots(r.Context(), principalFrom(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lots)
}

func (h *Handler) lotLevels(w http.ResponseWriter, r *http.Request) {
	q, err := lotQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	levels, err := h.svc.LotLevels(r.Context(), principalFrom(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, levels)
}

func (h *Handler) expiringLots(w http.ResponseWriter, r *http.Request) {
	pharmacyID, err := queryID(r, "pharmacy_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := queryInt(r, "days")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lots, err := h.svc.ExpiringLots(r.Context(), principalFrom(r), pharmacyID, time.Duration(days)*24*time.Hour)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lots)
}

// Sale handlers

type saleRequest struct {
	LotID        int64  `json:"lot_id,omitempty"`
	MedicationID int64  `json:"medication_id,omitempty"`
	PharmacyID   *int64 `json:"pharmacy_id,omitempty"`
	Quantity     int64  `json:"quantity"`
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req saleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sale, err := h.svc.RecordSale(r.Context(), principalFrom(r), service.SaleRequest{
		LotID:        req.LotID,
		MedicationID: req.MedicationID,
		PharmacyID:   req.PharmacyID,
		Quantity:     req.Quantity,
		RequestKey:   key,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"sale":  sale,
		"total": sale.Total(),
	})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sale, err := h.svc.GetSale(r.Context(), principalFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	q, err := recordQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sales, err := h.svc.ListSales(r.Context(), principalFrom(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sales)
}

// Return handlers

type returnRequest struct {
	LotID       int64               `json:"lot_id"`
	Quantity    int64               `json:"quantity"`
	Reason      domain.ReturnReason `json:"reason"`
	AutoApprove bool                `json:"auto_approve,omitempty"`
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ret, err := h.svc.RecordReturn(r.Context(), principalFrom(r), service.ReturnRequest{
		LotID:       req.LotID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		AutoApprove: req.AutoApprove,
		RequestKey:  key,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ret)
}

func (h *Handler) approveReturn(w http.ResponseWriter, r *http.Request) {
	h.decideReturn(w, r, h.svc.ApproveReturn)
}

func (h *Handler) rejectReturn(w http.ResponseWriter, r *http.Request) {
	h.decideReturn(w, r, h.svc.RejectReturn)
}

func (h *Handler) decideReturn(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, p *access.Principal, id int64) (*domain.ReturnRecord, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ret, err := decide(r.Context(), principalFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ret)
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ret, err := h.svc.GetReturn(r.Context(), principalFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ret)
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	q, err := recordQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	returns, err := h.svc.ListReturns(r.Context(), principalFrom(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, returns)
}

// Movement handlers

type movementRequest struct {
	LotID        int64               `json:"lot_id,omitempty"`
	MedicationID int64               `json:"medication_id,omitempty"`
	PharmacyID   *int64              `json:"pharmacy_id,omitempty"`
	Kind         domain.MovementKind `json:"kind"`
	Quantity     int64               `json:"quantity"`
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req movementRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	mv, err := h.svc.RecordMovement(r.Context(), principalFrom(r), service.MovementRequest{
		LotID:        req.LotID,
		MedicationID: req.MedicationID,
		PharmacyID:   req.PharmacyID,
		Kind:         req.Kind,
		Quantity:     req.Quantity,
		RequestKey:   key,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, mv)
}

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	mv, err := h.svc.GetMovement(r.Context(), principalFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, mv)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q, err := recordQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movements, err := h.svc.ListMovements(r.Context(), principalFrom(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, movements)
}

// Reports

func (h *Handler) dailySales(w http.ResponseWriter, r *http.Request) {
	h.salesSummary(w, r, h.svc.DailySales)
}

func (h *Handler) monthlySales(w http.ResponseWriter, r *http.Request) {
	h.salesSummary(w, r, h.svc.MonthlySales)
}

func (h *Handler) salesSummary(w http.ResponseWriter, r *http.Request, summarize func(ctx context.Context, p *access.Principal, pharmacyID *int64, day time.Time) (*service.SalesSummary, error)) {
	pharmacyID, err := queryID(r, "pharmacy_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := queryDate(r, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	day := time.Now().UTC()
	if date != nil {
		day = *date
	}
	summary, err := summarize(r.Context(), principalFrom(r), pharmacyID, day)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type salesReport struct {
	Summary *service.SalesSummary `json:"summary"`
	Sales   []domain.SaleRecord   `json:"sales"`
}

func (h *Handler) salesReport(w http.ResponseWriter, r *http.Request) {
	q, err := recordQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q.Since == nil || q.Until == nil {
		h.fail(w, r, fmt.Errorf("%w: start_date and end_date are required", domain.ErrValidation))
		return
	}
	p := principalFrom(r)
	summary, err := h.svc.SummarizeSales(r.Context(), p, q.PharmacyID, *q.Since, *q.Until)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sales, err := h.svc.ListSales(r.Context(), p, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, salesReport{Summary: summary, Sales: sales})
}

func (h *Handler) replenishment(w http.ResponseWriter, r *http.Request) {
	pharmacyID, err := queryID(r, "pharmacy_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recs, err := h.advisor.Advise(r.Context(), principalFrom(r), pharmacyID, queryBool(r, "below_only"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}
