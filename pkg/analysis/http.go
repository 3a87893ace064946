package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/telecheck/platform/pkg/common/kafka"
	"github.com/telecheck/platform/pkg/common/logger"
	"github.com/telecheck/platform/pkg/common/models"
	"github.com/telecheck/platform/pkg/eligibility"
	"github.com/telecheck/platform/pkg/ingestion"
	"github.com/telecheck/platform/pkg/session"
)

// Metric id under which the full analysis result is cached per session.
const analysisMetricID = "analysis-result"

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

type Handler struct {
	parser   *ingestion.Parser
	sessions *session.Manager
	client   eligibility.Client
	opts     Options
	events   EventPublisher
}

func NewHandler(parser *ingestion.Parser, sessions *session.Manager, client eligibility.Client, opts Options, events EventPublisher) *Handler {
	opts.applyDefaults()
	return &Handler{
		parser:   parser,
		sessions: sessions,
		client:   client,
		opts:     opts,
		events:   events,
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/datasets", h.handleUploadDataset).Methods(http.MethodPost)
	r.HandleFunc("/session", h.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/session", h.handleClearSession).Methods(http.MethodDelete)
	r.HandleFunc("/session/clinic", h.handleSetClinic).Methods(http.MethodPut)
	r.HandleFunc("/session/selections", h.handleAddSelection).Methods(http.MethodPost)
	r.HandleFunc("/analyze", h.handleAnalyze).Methods(http.MethodPost)
}

type uploadRequest struct {
	Method    string   `json:"method"`
	Content   string   `json:"content,omitempty"`
	Postcodes []string `json:"postcodes,omitempty"`
}

func (h *Handler) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	var (
		dataset *models.PostcodeDataset
		err     error
	)
	switch req.Method {
	case models.UploadMethodCSV:
		dataset, err = h.parser.ParseCSV(strings.NewReader(req.Content))
	case models.UploadMethodPaste:
		dataset, err = h.parser.ParsePaste(req.Content)
	case models.UploadMethodManual:
		dataset, err = h.parser.ParseManual(req.Postcodes)
	default:
		http.Error(w, "method must be csv, paste or manual", http.StatusBadRequest)
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, ingestion.ErrDatasetTooLarge):
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		case errors.Is(err, ingestion.ErrInvalidPostcode), errors.Is(err, ingestion.ErrEmptyDataset):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Log.WithError(err).Error("failed to parse dataset")
			http.Error(w, "failed to parse dataset", http.StatusBadRequest)
		}
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), userKey, dataset, nil)
	if err != nil {
		logger.Log.WithError(err).Error("failed to create session")
		// Session persists in memory even when the store write fails; the
		// upload itself succeeded.
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.SessionID,
		"expires_at": sess.ExpiresAt,
		"dataset": map[string]interface{}{
			"total_records":    dataset.TotalRecords,
			"upload_method":    dataset.UploadMethod,
			"has_demographics": dataset.HasDemographics,
		},
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}

	sess, err := h.sessions.Get(r.Context(), userKey)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

func (h *Handler) handleClearSession(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}
	if err := h.sessions.Clear(r.Context(), userKey); err != nil {
		logger.Log.WithError(err).Error("failed to clear session")
		http.Error(w, "failed to clear session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetClinic(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}

	var clinic models.ClinicConfiguration
	if err := json.NewDecoder(r.Body).Decode(&clinic); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if clinic.ClinicName == "" {
		http.Error(w, "clinic_name is required", http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.UpdateSession(r.Context(), userKey, session.SessionUpdate{Clinic: &clinic})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

type selectionRequest struct {
	Action  string   `json:"action"`
	Metrics []string `json:"metrics"`
	Reason  string   `json:"reason,omitempty"`
}

func (h *Handler) handleAddSelection(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}

	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Action != "add" && req.Action != "remove" {
		http.Error(w, "action must be add or remove", http.StatusBadRequest)
		return
	}

	if err := h.sessions.AddToSelectionHistory(r.Context(), userKey, req.Action, req.Metrics, req.Reason); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type analyzeRequest struct {
	Filters models.AnalysisFilters `json:"filters"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	userKey := resolveUserKey(r)
	if userKey == "" {
		http.Error(w, "user key required", http.StatusUnauthorized)
		return
	}

	var req analyzeRequest
	if r.Body != nil {
		// Filters are optional; an empty body means analyze everything.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess, err := h.sessions.Get(r.Context(), userKey)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if sess.Dataset == nil {
		http.Error(w, "no dataset uploaded", http.StatusConflict)
		return
	}

	// The aggregator always computes the full result; filters narrow what the
	// caller renders, not what is computed. One cached entry therefore serves
	// every filter combination.
	if cached, ok := h.sessions.GetCachedMetricResult(r.Context(), userKey, analysisMetricID); ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": cached, "cached": true})
		return
	}

	orch := NewOrchestrator(h.client, h.opts)
	result, err := orch.StartAnalysis(r.Context(), sess.Dataset, req.Filters)
	if err != nil {
		switch {
		case errors.Is(err, eligibility.ErrBadInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrTimeout):
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
		case errors.Is(err, ErrRemoteFailure), errors.Is(err, ErrAggregationFailure):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			logger.Log.WithError(err).Error("analysis failed")
			http.Error(w, "analysis failed", http.StatusInternalServerError)
		}
		return
	}

	// A long run may outlive the session window; only a still-live session
	// records the result.
	if h.sessions.IsValid(sess) {
		if err := h.sessions.CacheMetricResult(r.Context(), userKey, analysisMetricID, result); err != nil {
			logger.Log.WithError(err).Warn("failed to cache analysis result")
		}
		if err := h.sessions.AddToSelectionHistory(r.Context(), userKey, "add", req.Filters.Metrics, "Analysis run"); err != nil {
			logger.Log.WithError(err).Warn("failed to record selection history")
		}
	}

	if h.events != nil {
		if err := h.events.PublishEvent(r.Context(), kafka.EventAnalysisCompleted, "analysis-service", map[string]interface{}{
			"analysis_id":    result.AnalysisID,
			"session_id":     sess.SessionID,
			"total_patients": result.PatientSummary.TotalPatients,
			"total_eligible": result.PatientSummary.TotalEligible,
		}); err != nil {
			logger.Log.WithError(err).Warn("failed to publish analysis event")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result, "cached": false})
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		http.Error(w, "Session Expired", http.StatusGone)
	case errors.Is(err, session.ErrSessionCorrupt), errors.Is(err, session.ErrNotFound):
		http.Error(w, "no active session", http.StatusNotFound)
	default:
		logger.Log.WithError(err).Error("session operation failed")
		http.Error(w, "session unavailable", http.StatusInternalServerError)
	}
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
