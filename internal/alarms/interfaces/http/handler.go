package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	alarmapp "leakwatch/internal/alarms/application"
	alarms "leakwatch/internal/alarms/domain"
	"leakwatch/internal/audit"
	"leakwatch/internal/auth"
)

// AlertController is the part of the controller the HTTP layer drives.
type AlertController interface {
	State() alarms.State
	Dismiss(ctx context.Context) (alarmapp.DismissResult, error)
}

// Handler provides alert HTTP endpoints.
type Handler struct {
	controller AlertController
	audit      audit.Logger
	stream     *StreamHandler
	logger     *log.Logger
}

// NewHandler constructs a handler. auditLogger and broker may be nil.
func NewHandler(controller AlertController, auditLogger audit.Logger, broker *SSEBroker, logger *log.Logger) (*Handler, error) {
	if controller == nil {
		return nil, errors.New("alarms handler: nil controller")
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{controller: controller, audit: auditLogger, logger: logger}
	if broker != nil {
		h.stream = NewStreamHandler(broker)
	}
	return h, nil
}

// RegisterRoutes mounts the alert endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/alert", h.handleState)
	r.Post("/dismiss", h.handleDismiss)
	if h.stream != nil {
		r.Method(http.MethodGet, "/alert/stream", h.stream)
	}
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.State())
}

func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	result, err := h.controller.Dismiss(r.Context())
	if err != nil {
		h.logger.Printf("alarms http: dismiss error: %v", err)
		if errors.Is(err, alarms.ErrDismissFailed) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Database error"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "dismiss failed"})
		return
	}
	if result.Effective {
		h.recordAudit(r, result)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"dismissed": true,
		"effective": result.Effective,
		"alert":     result.State,
	})
}

func (h *Handler) recordAudit(r *http.Request, result alarmapp.DismissResult) {
	if h.audit == nil || result.Event == nil {
		return
	}
	meta := map[string]any{
		"episode_id": result.Event.EpisodeID,
		"marked":     result.Marked,
		"seq":        result.Event.Seq,
	}
	if snap := result.Event.Snapshot; snap != nil {
		meta["observation_id"] = snap.ObservationID
		meta["burst_type"] = snap.BurstType
	}
	metadata, _ := json.Marshal(meta)
	actor := auth.SubjectFromContext(r.Context())
	if actor == "" {
		actor = "anonymous"
	}
	entry := audit.WithRequest(audit.Entry{
		Actor:        actor,
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       audit.ActionAlertDismiss,
		ResourceType: "alert_episode",
		ResourceID:   result.Event.EpisodeID,
		Metadata:     metadata,
		CreatedAt:    result.Event.At,
	}, r)
	if err := h.audit.Log(r.Context(), entry); err != nil {
		h.logger.Printf("alarms http: audit error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
