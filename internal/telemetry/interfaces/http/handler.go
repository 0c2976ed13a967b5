package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"leakwatch/internal/telemetry/application"
	telemetry "leakwatch/internal/telemetry/domain"
)

const maxBodyBytes = 64 << 10

// Handler serves the reading endpoints.
type Handler struct {
	ingest  *application.IngestService
	status  *application.StatusService
	history *application.HistoryService
	logger  *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(ingest *application.IngestService, status *application.StatusService, history *application.HistoryService, logger *log.Logger) (*Handler, error) {
	if ingest == nil {
		return nil, errors.New("telemetry handler: nil ingest service")
	}
	if status == nil {
		return nil, errors.New("telemetry handler: nil status service")
	}
	if history == nil {
		return nil, errors.New("telemetry handler: nil history service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{ingest: ingest, status: status, history: history, logger: logger}, nil
}

// RegisterRoutes mounts the reading endpoints on r. ingestMiddleware wraps
// only the uplink posts.
func (h *Handler) RegisterRoutes(r chi.Router, ingestMiddleware ...func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(ingestMiddleware...)
		r.Post("/data", h.handleAppend)
		r.Post("/update", h.handleAppend)
	})
	r.Get("/data", h.handleRecent)
	r.Get("/status", h.handleStatus)
	r.Get("/history", h.handleHistory)
	r.Get("/sensors", h.handleSensors)
	r.Get("/analytics", h.handleAnalytics)
	r.Get("/history/export.pdf", h.handleExportPDF)
	r.Get("/history/export.xlsx", h.handleExportXLSX)
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Printf("telemetry http: read body error: %v", err)
		writeError(w, http.StatusBadRequest, "read body error")
		return
	}
	defer r.Body.Close()

	id, err := h.ingest.AppendPayload(r.Context(), body)
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.window(w, r, application.RecentLimit)
	if !ok {
		return
	}
	out := make([]readingView, 0, len(rows))
	for _, row := range rows {
		out = append(out, toReadingView(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.status.Current(r.Context())
	if err != nil {
		h.logger.Printf("telemetry http: status error: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, toStatusView(report.Status, report.Observation))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.window(w, r, application.HistoryLimit)
	if !ok {
		return
	}
	out := make([]historyView, 0, len(rows))
	for _, row := range rows {
		out = append(out, toHistoryView(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSensors(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.window(w, r, application.SensorHistoryLimit)
	if !ok {
		return
	}
	out := make([]sensorView, 0, len(rows))
	for _, row := range rows {
		out = append(out, toSensorView(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, application.DefaultAnalyticsLimit, application.MaxAnalyticsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := h.history.Summary(r.Context(), limit)
	if err != nil {
		h.logger.Printf("telemetry http: analytics error: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) window(w http.ResponseWriter, r *http.Request, limit int) ([]telemetry.Observation, bool) {
	rows, err := h.history.Window(r.Context(), limit)
	if err != nil {
		h.logger.Printf("telemetry http: query error: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	return rows, true
}

func parseLimit(r *http.Request, fallback, max int) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
