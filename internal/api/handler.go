package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"stream-analyst/config"
	"stream-analyst/internal/app"
	"stream-analyst/models"
	"stream-analyst/observability"
	"stream-analyst/services"
	"stream-analyst/view"
)

const (
	// DefaultPanel is the panel served at the root page
	DefaultPanel = "main"

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 90 * time.Second
	wsPingPeriod = 45 * time.Second
)

// Handler handles HTTP API requests
type Handler struct {
	app      *app.App
	cfg      *config.Config
	breakers *services.CircuitBreakerRegistry
	upgrader websocket.Upgrader
}

// NewHandler creates a new Handler
func NewHandler(application *app.App, cfg *config.Config) *Handler {
	h := &Handler{
		app:      application,
		cfg:      cfg,
		breakers: services.GetGlobalRegistry(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:       h.checkOrigin,
		EnableCompression: true,
	}
	return h
}

// WithBreakers reports health from the given registry instead of the global one
func (h *Handler) WithBreakers(r *services.CircuitBreakerRegistry) *Handler {
	h.breakers = r
	return h
}

// AnalyzeRequest represents a request to analyze a symbol on a panel
type AnalyzeRequest struct {
	Symbol   string `json:"symbol"`
	Protocol string `json:"protocol"`
	Locale   string `json:"locale"`
}

// PanelResponse is the JSON view of one panel
type PanelResponse struct {
	Panel      string                 `json:"panel"`
	Generation uint64                 `json:"generation"`
	Session    models.AnalysisSession `json:"session"`
}

// PanelSummary is one entry of the panel list
type PanelSummary struct {
	Panel      string               `json:"panel"`
	Symbol     string               `json:"symbol,omitempty"`
	Status     models.SessionStatus `json:"status"`
	Generation uint64               `json:"generation"`
}

// SnapshotMessage is pushed to WebSocket clients on every session update
type SnapshotMessage struct {
	Type    string                 `json:"type"`
	Panel   string                 `json:"panel"`
	Session models.AnalysisSession `json:"session"`
}

// controlMessage is sent by WebSocket clients to act on their panel
type controlMessage struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// HandleIndex serves the page for the default panel
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.Snapshot(DefaultPanel)
	if err != nil && !errors.Is(err, app.ErrPanelNotFound) {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.htmlResponse(w, view.Page(DefaultPanel, s), r)
}

// HandleHealth returns the health status of the application
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"services": map[string]string{
			"analysis_stream": h.cfg.Stream.BaseURL,
		},
		"active_streams": h.app.ActiveStreams(),
		"panels":         len(h.app.Panels()),
	}

	// Add circuit breaker status
	cbStatus := h.breakers.Status()
	status["circuit_breakers"] = cbStatus

	// Check if any breakers are open (degraded state)
	for _, cb := range cbStatus {
		if cb.State == "open" {
			status["status"] = "degraded"
			break
		}
	}

	h.jsonResponse(w, status)
}

// HandleListPanels returns a summary of every panel
func (h *Handler) HandleListPanels(w http.ResponseWriter, r *http.Request) {
	ids := h.app.Panels()
	panels := make([]PanelSummary, 0, len(ids))
	for _, id := range ids {
		s, err := h.app.Snapshot(id)
		if err != nil {
			// removed concurrently
			continue
		}
		panels = append(panels, PanelSummary{
			Panel:      id,
			Symbol:     s.Symbol,
			Status:     s.Status,
			Generation: s.Generation,
		})
	}

	h.jsonResponse(w, map[string]interface{}{
		"panels": panels,
		"count":  len(panels),
	})
}

// HandleGetPanel returns the panel's current session
func (h *Handler) HandleGetPanel(w http.ResponseWriter, r *http.Request) {
	panelID := chi.URLParam(r, "panel")

	s, err := h.app.Snapshot(panelID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.panelResponse(w, r, http.StatusOK, panelID, s)
}

// HandleAnalyze starts an analysis on the panel
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	panelID := chi.URLParam(r, "panel")

	var req AnalyzeRequest
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.handleError(w, r, errInvalidJSON)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.handleError(w, r, errInvalidForm)
			return
		}
		req.Symbol = r.FormValue("symbol")
		req.Protocol = r.FormValue("protocol")
		req.Locale = r.FormValue("locale")
	}

	locale := req.Locale
	if locale == "" {
		locale = r.Header.Get("Accept-Language")
	}

	if _, err := h.app.Analyze(panelID, req.Symbol, models.ParseProtocol(req.Protocol), locale); err != nil {
		h.handleError(w, r, err)
		return
	}

	s, err := h.app.Snapshot(panelID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.panelResponse(w, r, http.StatusAccepted, panelID, s)
}

// HandleCancel stops the panel's live stream
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	panelID := chi.URLParam(r, "panel")

	if err := h.app.Cancel(panelID); err != nil {
		h.handleError(w, r, err)
		return
	}

	s, err := h.app.Snapshot(panelID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.panelResponse(w, r, http.StatusOK, panelID, s)
}

// HandleRetry re-runs the panel's last analysis
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	panelID := chi.URLParam(r, "panel")

	if _, err := h.app.Retry(panelID); err != nil {
		h.handleError(w, r, err)
		return
	}

	s, err := h.app.Snapshot(panelID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.panelResponse(w, r, http.StatusAccepted, panelID, s)
}

// HandleDeletePanel closes and forgets a panel
func (h *Handler) HandleDeletePanel(w http.ResponseWriter, r *http.Request) {
	panelID := chi.URLParam(r, "panel")

	if err := h.app.Remove(panelID); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "removed", "panel": panelID})
}

// HandlePanelSocket pushes every snapshot of the panel to a WebSocket
// client. With ?format=html each message is the rendered panel, ready to be
// swapped in by id.
func (h *Handler) HandlePanelSocket(w http.ResponseWriter, r *http.Request) {
	panelID := chi.URLParam(r, "panel")

	snapshots, unsubscribe, err := h.app.Subscribe(panelID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		observability.Debug("websocket upgrade failed", "panel", panelID, "error", err)
		return
	}
	defer conn.Close()

	asHTML := r.URL.Query().Get("format") == "html"
	done := make(chan struct{})
	go h.readControl(conn, panelID, done)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case s, ok := <-snapshots:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "panel closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := writeSnapshot(r.Context(), conn, panelID, s, asHTML); err != nil {
				observability.Debug("websocket write failed", "panel", panelID, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readControl consumes client messages until the connection drops
func (h *Handler) readControl(conn *websocket.Conn, panelID string, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil || ctrl.Type != "control" {
			continue
		}

		switch strings.ToLower(ctrl.Action) {
		case "cancel":
			err = h.app.Cancel(panelID)
		case "retry":
			_, err = h.app.Retry(panelID)
		default:
			continue
		}
		if err != nil {
			observability.Warn("websocket control failed",
				"panel", panelID,
				"action", ctrl.Action,
				"error", err)
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, panelID string, s models.AnalysisSession, asHTML bool) error {
	if !asHTML {
		return conn.WriteJSON(SnapshotMessage{Type: "snapshot", Panel: panelID, Session: s})
	}

	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := view.SessionPanel(panelID, s).Render(ctx, w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// checkOrigin applies the CORS allow-list to WebSocket upgrades
func (h *Handler) checkOrigin(r *http.Request) bool {
	allowed := h.cfg.HTTP.CORSAllowedOrigins
	origin := r.Header.Get("Origin")
	if allowed == "*" || origin == "" {
		return true
	}
	for _, o := range strings.Split(allowed, ",") {
		if strings.EqualFold(strings.TrimSpace(o), origin) {
			return true
		}
	}
	return false
}

// Helper functions

var (
	errInvalidJSON = errors.New("invalid JSON request")
	errInvalidForm = errors.New("failed to parse form")
)

// isHTMXRequest checks if the request is from HTMX
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// templComponent matches the templ.Component interface
type templComponent interface {
	Render(ctx context.Context, w io.Writer) error
}

// htmlResponse renders a templ component as HTML
func (h *Handler) htmlResponse(w http.ResponseWriter, component templComponent, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		observability.WithError(err).Warn("failed to render component", "path", r.URL.Path)
	}
}

// htmlError renders an error state as HTML
func (h *Handler) htmlError(w http.ResponseWriter, message string, r *http.Request) {
	h.htmlResponse(w, view.ErrorState(message), r)
}

func (h *Handler) panelResponse(w http.ResponseWriter, r *http.Request, status int, panelID string, s models.AnalysisSession) {
	if isHTMXRequest(r) {
		h.htmlResponse(w, view.SessionPanel(panelID, s), r)
		return
	}
	h.jsonStatus(w, status, PanelResponse{
		Panel:      panelID,
		Generation: s.Generation,
		Session:    s,
	})
}

// handleError maps an error onto an HTML error state or a JSON error with
// the matching status code
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.WithError(err).Error("request failed", "path", r.URL.Path)
	}

	if isHTMXRequest(r) {
		h.htmlError(w, err.Error(), r)
		return
	}
	h.jsonError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidJSON), errors.Is(err, errInvalidForm), errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrPanelNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, app.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data interface{}) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handler) jsonStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	h.jsonStatus(w, status, map[string]string{"error": message})
}
