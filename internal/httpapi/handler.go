// Package httpapi exposes the session manager over HTTP: REST control,
// a websocket event stream, the compositor page and operational endpoints.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"livestream-studio/internal/events"
	"livestream-studio/internal/history"
	"livestream-studio/internal/models"
	"livestream-studio/internal/observability/logging"
	"livestream-studio/internal/overlay"
	"livestream-studio/internal/session"
)

// Sessions is the control surface the handlers drive.
type Sessions interface {
	CreateAndStart(ctx context.Context, cfg models.SessionConfig) (models.Snapshot, error)
	Stop(ctx context.Context, id string) error
	Status(id string) (models.Snapshot, error)
	ListAll() []models.Snapshot
	History(ctx context.Context, limit int) ([]history.Entry, error)
}

// EventSource hands out event subscriptions for the websocket stream.
type EventSource interface {
	Subscribe(topic string, handler events.Handler) *events.Subscription
}

// HealthCheck reports the state of one dependency on /healthz.
type HealthCheck struct {
	Component string
	Check     func(context.Context) error
}

// Handler serves the API routes.
type Handler struct {
	Sessions Sessions
	Events   EventSource
	// Layout returns the compositor layout on every request so a reload
	// picks up edits.
	Layout func() (overlay.Layout, error)
	Checks []HealthCheck
	Logger *slog.Logger

	now func() time.Time
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.SessionStatus)
	mux.HandleFunc("POST /api/sessions/{id}/stop", h.StopSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.StopSession)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /ws", h.EventStream)
	mux.HandleFunc("GET /compositor", h.Compositor)
	mux.HandleFunc("GET /healthz", h.Health)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

type createSessionResponse struct {
	ID     string        `json:"id"`
	Status models.Status `json:"status"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var cfg models.SessionConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode session config: %w", err))
		return
	}
	snap, err := h.Sessions.CreateAndStart(r.Context(), cfg)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, models.ErrConfigValidation):
			status = http.StatusBadRequest
		case errors.Is(err, session.ErrCaptureBusy):
			status = http.StatusConflict
		default:
			h.logger().Warn("session start failed", "session_id", snap.ID, "error", err)
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{ID: snap.ID, Status: snap.Status})
}

func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Sessions.ListAll())
}

func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Sessions.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, statusForSessionError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := logging.ContextWithSessionID(r.Context(), id)
	if err := h.Sessions.Stop(ctx, id); err != nil {
		code := statusForSessionError(err)
		if code != http.StatusNotFound {
			logging.WithContext(ctx, h.logger()).Warn("stop session failed", "error", err)
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{ID: id, Status: models.StatusStopped})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	entries, err := h.Sessions.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) Compositor(w http.ResponseWriter, _ *http.Request) {
	layout := overlay.DefaultLayout()
	if h.Layout != nil {
		loaded, err := h.Layout()
		if err != nil {
			h.logger().Error("load overlay layout", "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		layout = loaded
	}
	var buf bytes.Buffer
	if err := overlay.Render(&buf, layout, h.clock()); err != nil {
		h.logger().Error("render compositor", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	overall := "ok"
	code := http.StatusOK
	components := make([]componentStatus, 0, len(h.Checks))
	for _, check := range h.Checks {
		status := componentStatus{Component: check.Component, Status: "ok"}
		if err := check.Check(r.Context()); err != nil {
			status.Status = "degraded"
			status.Error = err.Error()
			overall = "degraded"
			code = http.StatusServiceUnavailable
		}
		components = append(components, status)
	}
	writeJSON(w, code, map[string]any{
		"status":     overall,
		"sessions":   len(h.Sessions.ListAll()),
		"components": components,
	})
}

func statusForSessionError(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
