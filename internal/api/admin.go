package api

import (
	"context"
	"net/http"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/service"
)

// Pharmacy handlers

type pharmacyRequest struct {
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (req pharmacyRequest) pharmacy(id int64) domain.Pharmacy {
	return domain.Pharmacy{ID: id, Name: req.Name, Address: req.Address, Latitude: req.Latitude, Longitude: req.Longitude}
}

func (h *Handler) createPharmacy(w http.ResponseWriter, r *http.Request) {
	var req pharmacyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ph, err := h.svc.CreatePharmacy(r.Context(), principalFrom(r), req.pharmacy(0))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ph)
}

func (h *Handler) listPharmacies(w http.ResponseWriter, r *http.Request) {
	pharmacies, err := h.svc.ListPharmacies(r.Context(), principalFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pharmacies)
}

func (h *Handler) getPharmacy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ph, err := h.svc.GetPharmacy(r.Context(), principalFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ph)
}

func (h *Handler) updatePharmacy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req pharmacyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ph, err := h.svc.UpdatePharmacy(r.Context(), principalFrom(r), req.pharmacy(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ph)
}

func (h *Handler) deletePharmacy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.DeletePharmacy(r.Context(), principalFrom(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Medication handlers

type medicationRequest struct {
	Code                 string `json:"code"`
	Name                 string `json:"name"`
	Category             string `json:"category"`
	RequiresPrescription bool   `json:"requires_prescription"`
}

func (req medicationRequest) medication(id int64) domain.Medication {
	return domain.Medication{ID: id, Code: req.Code, Name: req.Name, Category: req.Category, RequiresPrescription: req.RequiresPrescription}
}

func (h *Handler) createMedication(w http.ResponseWriter, r *http.Request) {
	var req medicationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.svc.CreateMedication(r.Context(), principalFrom(r), req.medication(0))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (h *Handler) searchMedications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	medications, err := h.svc.ListMedications(r.Context(), principalFrom(r), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, medications)
}

func (h *Handler) getMedication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.svc.GetMedication(r.Context(), principalFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handler) updateMedication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req medicationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.svc.UpdateMedication(r.Context(), principalFrom(r), req.medication(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMedication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.DeleteMedication(r.Context(), principalFrom(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// User handlers

type userRequest struct {
	Name               string      `json:"name"`
	Email              string      `json:"email"`
	PasswordHash       string      `json:"password_hash,omitempty"`
	Role               domain.Role `json:"role"`
	AssignedPharmacies []int64     `json:"assigned_pharmacies,omitempty"`
	ActivePharmacyID   *int64      `json:"active_pharmacy_id,omitempty"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.svc.CreateUser(r.Context(), principalFrom(r), service.UserRequest(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, u)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context(), principalFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	u, err := h.svc.GetUser(r.Context(), p, p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.svc.GetUser(r.Context(), principalFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.DeleteUser(r.Context(), principalFrom(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setActivePharmacy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		PharmacyID *int64 `json:"pharmacy_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.svc.SetActivePharmacy(r.Context(), principalFrom(r), id, req.PharmacyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (h *Handler) assignPharmacy(w http.ResponseWriter, r *http.Request) {
	h.changeAssignment(w, r, h.svc.AssignPharmacy)
}

func (h *Handler) unassignPharmacy(w http.ResponseWriter, r *http.Request) {
	h.changeAssignment(w, r, h.svc.UnassignPharmacy)
}

func (h *Handler) changeAssignment(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, p *access.Principal, userID, pharmacyID int64) error) {
	userID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pharmacyID, err := pathID(r, "pharmacyID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := change(r.Context(), principalFrom(r), userID, pharmacyID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
