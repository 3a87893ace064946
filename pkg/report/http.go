package report

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/telecheck/platform/pkg/common/logger"
	"github.com/telecheck/platform/pkg/common/models"
	"github.com/telecheck/platform/pkg/identity"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/reports", h.handleSaveReport).Methods(http.MethodPost)
	r.HandleFunc("/reports", h.handleListReports).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}", h.handleGetReport).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}", h.handleDeleteReport).Methods(http.MethodDelete)
}

func (h *Handler) handleSaveReport(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}

	var req models.SaveReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ClinicName == "" || req.Result == nil {
		http.Error(w, "clinic_name and result are required", http.StatusBadRequest)
		return
	}

	saved, err := h.service.SaveReport(r.Context(), req.ClinicName, req.Result, userKey)
	if err != nil {
		logger.Log.WithError(err).Error("failed to save report")
		if errors.Is(err, identity.ErrProfileResolution) {
			http.Error(w, "failed to resolve practitioner profile", http.StatusBadGateway)
			return
		}
		http.Error(w, "failed to save report", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"report": saved})
}

func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}

	reports, err := h.service.ListReports(r.Context(), userKey)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list reports")
		http.Error(w, "failed to list reports", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": reports})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid report id", http.StatusBadRequest)
		return
	}

	saved, err := h.service.GetReport(r.Context(), id, userKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to get report")
		http.Error(w, "failed to get report", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"report": saved})
}

func (h *Handler) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid report id", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteReport(r.Context(), id, userKey); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to delete report")
		http.Error(w, "failed to delete report", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func resolveUserKey(r *http.Request) string {
	return r.Header.Get("X-User-Key")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("failed to encode response")
	}
}
