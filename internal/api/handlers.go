package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/signalstack/signal-engine/internal/ingest"
	"github.com/signalstack/signal-engine/internal/metrics"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/query"
	"github.com/signalstack/signal-engine/internal/rules"
	"github.com/signalstack/signal-engine/internal/store"
)

const defaultAlertLimit = 20

// Ingestor is the write path the API submits observations into.
type Ingestor interface {
	Submit(obs models.Observation) error
}

// Handler exposes the engine over JSON HTTP. Writes go through the
// ingest boundary; reads come from the query facade.
type Handler struct {
	logger   *slog.Logger
	ingestor Ingestor
	queries  *query.Service
	rules    *rules.Engine
}

// NewHandler constructs the HTTP handler set.
func NewHandler(ingestor Ingestor, queries *query.Service, ruleEngine *rules.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, ingestor: ingestor, queries: queries, rules: ruleEngine}
}

// Router wires every route under /api/v1.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/observations", h.submitObservation).Methods(http.MethodPost)

	v1.HandleFunc("/signals", h.listSignals).Methods(http.MethodGet)
	v1.HandleFunc("/signals/{id}", h.getSignal).Methods(http.MethodGet)

	v1.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}/acknowledge", h.acknowledgeAlert).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}/resolve", h.resolveAlert).Methods(http.MethodPost)

	v1.HandleFunc("/correlations", h.listCorrelations).Methods(http.MethodGet)
	v1.HandleFunc("/predictions", h.listPredictions).Methods(http.MethodGet)
	v1.HandleFunc("/overview", h.overview).Methods(http.MethodGet)

	v1.HandleFunc("/workflows", h.listWorkflows).Methods(http.MethodGet)
	v1.HandleFunc("/workflows", h.createWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{id}", h.getWorkflow).Methods(http.MethodGet)
	v1.HandleFunc("/workflows/{id}", h.updateWorkflow).Methods(http.MethodPut)
	v1.HandleFunc("/workflows/{id}/pause", h.pauseWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{id}/resume", h.resumeWorkflow).Methods(http.MethodPost)

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}
		metrics.ObserveHTTPRequest(r.Method, route, rw.status, time.Since(start))
		h.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) submitObservation(w http.ResponseWriter, r *http.Request) {
	var obs models.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		writeError(w, http.StatusBadRequest, "undecodable observation payload")
		return
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now().UTC()
	}

	if err := h.ingestor.Submit(obs); err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidObservation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrRejectedStale):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ingest.ErrBusy):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, ingest.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) listSignals(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.queries.Signals(filter))
}

func (h *Handler) getSignal(w http.ResponseWriter, r *http.Request) {
	sig, ok := h.queries.Signal(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown signal")
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.queries.TopAlerts(limit))
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.transitionAlert(w, r, h.rules.Acknowledge)
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	h.transitionAlert(w, r, h.rules.Resolve)
}

func (h *Handler) transitionAlert(w http.ResponseWriter, r *http.Request, transition func(id, actor string) (models.Alert, error)) {
	var body struct {
		Actor string `json:"actor"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	alert, err := transition(mux.Vars(r)["id"], body.Actor)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrAlertNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, rules.ErrBadTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) listCorrelations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queries.Matrix())
}

func (h *Handler) listPredictions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queries.Predictions())
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queries.Overview())
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queries.Workflows())
}

func (h *Handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var def models.Workflow
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "undecodable workflow payload")
		return
	}

	created, err := h.rules.Create(def)
	if err != nil {
		if errors.Is(err, rules.ErrInvalidWorkflow) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	view, err := h.rules.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	var def models.Workflow
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "undecodable workflow payload")
		return
	}

	updated, err := h.rules.Update(mux.Vars(r)["id"], def)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrWorkflowNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, rules.ErrInvalidWorkflow):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) pauseWorkflow(w http.ResponseWriter, r *http.Request) {
	h.setWorkflowStatus(w, r, h.rules.Pause)
}

func (h *Handler) resumeWorkflow(w http.ResponseWriter, r *http.Request) {
	h.setWorkflowStatus(w, r, h.rules.Resume)
}

func (h *Handler) setWorkflowStatus(w http.ResponseWriter, r *http.Request, set func(id string) (models.Workflow, error)) {
	wf, err := set(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, rules.ErrWorkflowNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// filterFromQuery parses list parameters; absent parameters leave the
// dimension unrestricted and an absent confidence range spans [0,100].
func filterFromQuery(r *http.Request) (models.QueryFilter, error) {
	q := r.URL.Query()
	filter := models.QueryFilter{
		Sources:       splitParam(q.Get("sources")),
		Categories:    splitParam(q.Get("categories")),
		Severities:    splitParam(q.Get("severities")),
		ConfidenceMax: 100,
	}

	if raw := q.Get("confidenceMin"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.QueryFilter{}, errors.New("confidenceMin must be a number")
		}
		filter.ConfidenceMin = parsed
	}
	if raw := q.Get("confidenceMax"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.QueryFilter{}, errors.New("confidenceMax must be a number")
		}
		filter.ConfidenceMax = parsed
	}
	return filter, nil
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
