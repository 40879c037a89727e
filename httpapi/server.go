package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/quasar/core"
	"pkt.systems/quasar/internal/logx"
	"pkt.systems/quasar/schema"
)

const maxBodyBytes = 1 << 20

// Server serves the JSON API the UI shell drives the core service with.
type Server struct {
	cfg      Config
	service  core.Service
	hub      *Hub
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(cfg.HubHistory)
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		hub:      hub,
		basePath: normalizeBasePath(cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tabs", s.handleTabs)
	mux.HandleFunc("/api/tabs/switch", s.handleSwitch)
	mux.HandleFunc("/api/tabs/close", s.handleClose)
	mux.HandleFunc("/api/load", s.handleLoad)
	mux.HandleFunc("/api/navigation", s.handleNavigation)
	mux.HandleFunc("/api/zoom", s.handleZoom)
	mux.HandleFunc("/api/header", s.handleHeader)
	mux.HandleFunc("/api/windows", s.handleWindows)
	mux.HandleFunc("/api/windows/resize", s.handleResize)
	mux.HandleFunc("/api/windows/focus", s.handleFocus)
	mux.HandleFunc("/api/windows/close", s.handleWindowClose)
	mux.HandleFunc("/api/pool", s.handlePool)
	mux.HandleFunc("/api/stream", s.handleStream)

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	return root
}

type tabPayload struct {
	WindowID string `json:"window_id"`
	TabID    string `json:"tab_id"`
	URL      string `json:"url"`
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		windowID := schema.WindowID(r.URL.Query().Get("window"))
		log := logx.WithWindow(r.Context(), windowID)
		resp, err := s.service.ListTabs(r.Context(), schema.ListTabsRequest{WindowID: windowID})
		if err != nil {
			log.Warn("http tabs list failed", "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"window_id":  resp.WindowID,
			"tabs":       resp.Tabs,
			"active_tab": resp.ActiveTab,
		})
		log.Debug("http tabs list ok", "count", len(resp.Tabs))
	case http.MethodPost:
		var payload tabPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			logx.Ctx(r.Context()).Warn("http tabs decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		log := logx.WithWindowTab(r.Context(), schema.WindowID(payload.WindowID), schema.TabID(payload.TabID))
		resp, err := s.service.CreateTab(r.Context(), schema.CreateTabRequest{
			WindowID: schema.WindowID(payload.WindowID),
			TabID:    schema.TabID(payload.TabID),
			URL:      payload.URL,
		})
		if err != nil {
			log.Warn("http tabs create failed", "err", err)
			writeResult(w, statusFor(err), err, tabOrNil(resp.Tab))
			return
		}
		writeResult(w, http.StatusOK, nil, map[string]any{"tab": resp.Tab})
		log.Info("http tabs create ok", "tab", resp.Tab.ID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var payload tabPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	log := logx.WithWindowTab(r.Context(), schema.WindowID(payload.WindowID), schema.TabID(payload.TabID))
	resp, err := s.service.SwitchTab(r.Context(), schema.SwitchTabRequest{
		WindowID: schema.WindowID(payload.WindowID),
		TabID:    schema.TabID(payload.TabID),
	})
	if err != nil {
		log.Warn("http tab switch failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_tab": resp.ActiveTab, "switched": resp.Switched})
	log.Debug("http tab switch ok", "switched", resp.Switched)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var payload tabPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	log := logx.WithWindowTab(r.Context(), schema.WindowID(payload.WindowID), schema.TabID(payload.TabID))
	resp, err := s.service.CloseTab(r.Context(), schema.CloseTabRequest{
		WindowID: schema.WindowID(payload.WindowID),
		TabID:    schema.TabID(payload.TabID),
	})
	if err != nil {
		log.Warn("http tab close failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": resp.Closed, "active_tab": resp.ActiveTab})
	log.Debug("http tab close ok", "closed", resp.Closed)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var payload tabPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	log := logx.WithWindow(r.Context(), schema.WindowID(payload.WindowID))
	resp, err := s.service.LoadURL(r.Context(), schema.LoadURLRequest{
		WindowID: schema.WindowID(payload.WindowID),
		URL:      payload.URL,
	})
	if err != nil {
		log.Warn("http load failed", "err", err)
		writeResult(w, statusFor(err), err, tabOrNil(resp.Tab))
		return
	}
	writeResult(w, http.StatusOK, nil, map[string]any{"tab": resp.Tab, "target": resp.Target})
	log.Debug("http load ok", "target", resp.Target)
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		WindowID string `json:"window_id"`
		Action   string `json:"action"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}
	log := logx.WithWindow(r.Context(), schema.WindowID(payload.WindowID))
	resp, err := s.service.Navigate(r.Context(), schema.NavigateRequest{
		WindowID: schema.WindowID(payload.WindowID),
		Action:   schema.NavigationAction(payload.Action),
	})
	if err != nil {
		log.Warn("http navigation failed", "action", payload.Action, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab": resp.Tab})
	log.Debug("http navigation ok", "action", payload.Action)
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		WindowID  string `json:"window_id"`
		Direction string `json:"direction"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}
	log := logx.WithWindow(r.Context(), schema.WindowID(payload.WindowID))
	resp, err := s.service.AdjustZoom(r.Context(), schema.AdjustZoomRequest{
		WindowID:  schema.WindowID(payload.WindowID),
		Direction: schema.ZoomDirection(payload.Direction),
	})
	if err != nil {
		log.Warn("http zoom failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab": resp.Tab, "zoom": resp.Zoom})
}

func (s *Server) handleHeader(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		WindowID string  `json:"window_id"`
		Height   float64 `json:"height"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}
	resp, err := s.service.SetHeaderHeight(r.Context(), schema.SetHeaderHeightRequest{
		WindowID: schema.WindowID(payload.WindowID),
		Height:   payload.Height,
	})
	if err != nil {
		logx.WithWindow(r.Context(), schema.WindowID(payload.WindowID)).Warn("http header failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bounds": resp.Bounds})
}

type windowPayload struct {
	WindowID string `json:"window_id"`
	Kind     string `json:"kind"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Reason   string `json:"reason"`
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resp, err := s.service.ListWindows(r.Context(), schema.ListWindowsRequest{})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"windows": resp.Windows, "active_window": resp.ActiveWindow})
	case http.MethodPost:
		var payload windowPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		log := logx.WithWindow(r.Context(), schema.WindowID(payload.WindowID))
		resp, err := s.service.OpenWindow(r.Context(), schema.OpenWindowRequest{
			WindowID: schema.WindowID(payload.WindowID),
			Kind:     schema.WindowKind(payload.Kind),
			Width:    payload.Width,
			Height:   payload.Height,
		})
		if err != nil {
			log.Warn("http window open failed", "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"window": resp.Window})
		log.Info("http window open ok", "window", resp.Window.ID, "kind", resp.Window.Kind)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var payload windowPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	resp, err := s.service.ResizeWindow(r.Context(), schema.ResizeWindowRequest{
		WindowID: schema.WindowID(payload.WindowID),
		Width:    payload.Width,
		Height:   payload.Height,
		Reason:   schema.ResizeReason(payload.Reason),
	})
	if err != nil {
		logx.WithWindow(r.Context(), schema.WindowID(payload.WindowID)).Warn("http resize failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"immediate": resp.Immediate})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var payload windowPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	resp, err := s.service.FocusWindow(r.Context(), schema.FocusWindowRequest{WindowID: schema.WindowID(payload.WindowID)})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"window": resp.Window})
}

func (s *Server) handleWindowClose(w http.ResponseWriter, r *http.Request) {
	var payload windowPayload
	if !s.decodePost(w, r, &payload) {
		return
	}
	log := logx.WithWindow(r.Context(), schema.WindowID(payload.WindowID))
	resp, err := s.service.CloseWindow(r.Context(), schema.CloseWindowRequest{WindowID: schema.WindowID(payload.WindowID)})
	if err != nil {
		log.Warn("http window close failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"window": resp.Window})
	log.Info("http window close ok")
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, err := s.service.PoolStats(r.Context(), schema.PoolStatsRequest{})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Stats)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	windowID := schema.WindowID(r.URL.Query().Get("window"))
	if windowID == "" {
		windowID = schema.MainWindowID
	}
	ctx := r.Context()
	log := logx.WithWindow(ctx, windowID)
	// Subscribe before reading the snapshot so no event falls between the two.
	ch, unsubscribe, seq := s.hub.Subscribe(windowID)
	defer unsubscribe()
	snapshot, err := s.buildSnapshot(r, windowID)
	if err != nil {
		log.Warn("http stream snapshot failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	if lastID == 0 {
		lastID = parseUint(r.URL.Query().Get("after"))
	}
	_ = writeSSEvent(w, StreamEvent{
		Seq:       seq,
		Type:      "snapshot",
		WindowID:  windowID,
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
	replayCount := 0
	if lastID > 0 {
		for _, event := range s.hub.Replay(windowID, lastID) {
			if event.Seq > seq {
				continue
			}
			_ = writeSSEvent(w, event)
			replayCount++
		}
	}
	flusher.Flush()

	log.Info("http stream opened", "last_id", lastID, "replay", replayCount, "tabs", len(snapshot.Tabs))
	for {
		select {
		case <-ctx.Done():
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) buildSnapshot(r *http.Request, windowID schema.WindowID) (SnapshotPayload, error) {
	ctx := r.Context()
	tabs, err := s.service.ListTabs(ctx, schema.ListTabsRequest{WindowID: windowID})
	if err != nil {
		return SnapshotPayload{}, err
	}
	payload := SnapshotPayload{Tabs: tabs.Tabs, ActiveTab: tabs.ActiveTab}
	if windows, err := s.service.ListWindows(ctx, schema.ListWindowsRequest{}); err == nil {
		for _, window := range windows.Windows {
			if window.ID == windowID {
				payload.Window = window
			}
		}
	}
	if stats, err := s.service.PoolStats(ctx, schema.PoolStatsRequest{}); err == nil {
		payload.Pool = stats.Stats
	}
	return payload, nil
}

func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := decodeJSON(r.Body, target); err != nil {
		logx.Ctx(r.Context()).Warn("http decode failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidTab),
		errors.Is(err, schema.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, schema.ErrTabNotFound),
		errors.Is(err, schema.ErrWindowNotFound),
		errors.Is(err, schema.ErrNoActiveTab):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrDuplicateTab),
		errors.Is(err, schema.ErrWindowExists):
		return http.StatusConflict
	case errors.Is(err, schema.ErrNavigationFailed):
		return http.StatusBadGateway
	case errors.Is(err, schema.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func normalizeBasePath(value string) string {
	path := strings.TrimSpace(value)
	if path == "" || path == "/" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(path, "/")
}

func tabOrNil(tab schema.TabSnapshot) map[string]any {
	if tab.ID == "" {
		return nil
	}
	return map[string]any{"tab": tab}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// writeResult writes the {success, error?} reply used by create and load.
func writeResult(w http.ResponseWriter, status int, err error, extra map[string]any) {
	payload := map[string]any{"success": err == nil}
	if err != nil {
		payload["error"] = err.Error()
	}
	for key, value := range extra {
		payload[key] = value
	}
	writeJSON(w, status, payload)
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
