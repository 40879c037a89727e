package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/quasar/core"
	"pkt.systems/quasar/internal/engine/fake"
	"pkt.systems/quasar/schema"
)

type testServer struct {
	handler http.Handler
	engine  *fake.Engine
	hub     *Hub
}

func newTestServer(t *testing.T, cfg Config) testServer {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "history.html"), []byte("<html></html>"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	eng := fake.New()
	hub := NewHub(cfg.HubHistory)
	svc, err := core.NewService(schema.ServiceConfig{PoolCapacity: 2, AssetRoot: root}, core.ServiceDeps{Engine: eng, EventSink: hub})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return testServer{handler: NewServer(cfg, svc, hub).Handler(), engine: eng, hub: hub}
}

func (ts testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, out
}

func TestCreateAndListTabs(t *testing.T) {
	ts := newTestServer(t, Config{})
	status, body := ts.do(t, http.MethodPost, "/api/tabs", map[string]any{"tab_id": "a"})
	if status != http.StatusOK || body["success"] != true {
		t.Fatalf("unexpected create reply %d %v", status, body)
	}
	status, body = ts.do(t, http.MethodPost, "/api/tabs", map[string]any{"tab_id": "a"})
	if status != http.StatusConflict || body["success"] != false || body["error"] == nil {
		t.Fatalf("expected duplicate conflict, got %d %v", status, body)
	}
	status, body = ts.do(t, http.MethodGet, "/api/tabs?window=main", nil)
	if status != http.StatusOK || body["active_tab"] != "a" {
		t.Fatalf("unexpected list reply %d %v", status, body)
	}
	if tabs, _ := body["tabs"].([]any); len(tabs) != 1 {
		t.Fatalf("expected one tab, got %v", body["tabs"])
	}
}

func TestLoadErrorsMapToStatus(t *testing.T) {
	ts := newTestServer(t, Config{})
	status, body := ts.do(t, http.MethodPost, "/api/load", map[string]any{"url": "example.com"})
	if status != http.StatusNotFound || body["success"] != false {
		t.Fatalf("expected no active tab 404, got %d %v", status, body)
	}
	ts.do(t, http.MethodPost, "/api/tabs", map[string]any{"tab_id": "a"})
	status, body = ts.do(t, http.MethodPost, "/api/load", map[string]any{"url": "quasar://../../etc/passwd"})
	if status != http.StatusForbidden || body["success"] != false {
		t.Fatalf("expected access denied 403, got %d %v", status, body)
	}
	status, body = ts.do(t, http.MethodPost, "/api/load", map[string]any{"url": "quasar://history.html"})
	if status != http.StatusOK || body["success"] != true {
		t.Fatalf("expected local page load, got %d %v", status, body)
	}
	ts.engine.SetNavigateError(errors.New("refused"))
	status, body = ts.do(t, http.MethodPost, "/api/load", map[string]any{"url": "https://example.com"})
	if status != http.StatusBadGateway || body["success"] != false {
		t.Fatalf("expected navigation failure 502, got %d %v", status, body)
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	ts := newTestServer(t, Config{})
	if status, _ := ts.do(t, http.MethodPost, "/api/tabs/switch", "{"); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", status)
	}
	if status, _ := ts.do(t, http.MethodPost, "/api/tabs/switch", map[string]any{"tab": "a"}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", status)
	}
	if status, _ := ts.do(t, http.MethodGet, "/api/tabs/switch", nil); status != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", status)
	}
	if status, _ := ts.do(t, http.MethodPost, "/api/navigation", map[string]any{"action": "sideways"}); status != http.StatusNotFound {
		t.Fatalf("expected 404 without active tab, got %d", status)
	}
}

func TestWindowEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{})
	status, body := ts.do(t, http.MethodPost, "/api/windows", map[string]any{"window_id": "p1", "kind": "private"})
	if status != http.StatusOK {
		t.Fatalf("open window: %d %v", status, body)
	}
	if status, _ := ts.do(t, http.MethodPost, "/api/windows", map[string]any{"window_id": "p1"}); status != http.StatusConflict {
		t.Fatalf("expected 409 for existing window, got %d", status)
	}
	if status, _ := ts.do(t, http.MethodPost, "/api/windows/focus", map[string]any{"window_id": "p1"}); status != http.StatusOK {
		t.Fatalf("focus: %d", status)
	}
	status, body = ts.do(t, http.MethodGet, "/api/windows", nil)
	if status != http.StatusOK || body["active_window"] != "p1" {
		t.Fatalf("unexpected windows %d %v", status, body)
	}
	status, body = ts.do(t, http.MethodPost, "/api/windows/resize", map[string]any{"window_id": "p1", "width": 1000, "height": 700, "reason": "maximize"})
	if status != http.StatusOK || body["immediate"] != true {
		t.Fatalf("unexpected resize %d %v", status, body)
	}
	if status, _ := ts.do(t, http.MethodPost, "/api/windows/resize", map[string]any{"window_id": "p1", "width": 10, "height": 10, "reason": "wobble"}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown reason, got %d", status)
	}
	status, body = ts.do(t, http.MethodPost, "/api/header", map[string]any{"window_id": "p1", "height": 64})
	if status != http.StatusOK || body["bounds"] == nil {
		t.Fatalf("unexpected header reply %d %v", status, body)
	}
	if status, _ := ts.do(t, http.MethodPost, "/api/windows/close", map[string]any{"window_id": "p1"}); status != http.StatusOK {
		t.Fatalf("close window: %d", status)
	}
	if status, _ := ts.do(t, http.MethodPost, "/api/windows/close", map[string]any{"window_id": "p1"}); status != http.StatusNotFound {
		t.Fatalf("expected 404 for closed window, got %d", status)
	}
}

func TestPoolEndpointUnderBasePath(t *testing.T) {
	ts := newTestServer(t, Config{BasePath: "quasar/"})
	status, body := ts.do(t, http.MethodGet, "/quasar/api/pool", nil)
	if status != http.StatusOK || body["capacity"] != float64(2) {
		t.Fatalf("unexpected pool reply %d %v", status, body)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/pool", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected unprefixed path to 404, got %d", rec.Code)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":         "",
		"/":        "",
		"quasar":   "/quasar",
		"/quasar/": "/quasar",
		" /a/b ":   "/a/b",
	}
	for input, want := range cases {
		if got := normalizeBasePath(input); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestStreamSendsSnapshotThenEvents(t *testing.T) {
	ts := newTestServer(t, Config{})
	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream?window=main", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	events := make(chan StreamEvent, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event StreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err == nil {
				events <- event
			}
		}
		close(events)
	}()

	next := func() StreamEvent {
		t.Helper()
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("stream ended")
			}
			return event
		case <-ctx.Done():
			t.Fatalf("timed out reading stream")
		}
		return StreamEvent{}
	}
	if first := next(); first.Type != "snapshot" || first.Snapshot == nil {
		t.Fatalf("expected snapshot first, got %+v", first)
	}
	if status, _ := ts.do(t, http.MethodPost, "/api/tabs", map[string]any{"tab_id": "a"}); status != http.StatusOK {
		t.Fatalf("create failed: %d", status)
	}
	created := next()
	if created.Type != "tab" || created.Event != string(schema.TabEventCreated) || created.Tab == nil || created.Tab.ID != "a" {
		t.Fatalf("expected created event, got %+v", created)
	}
	if created.Seq == 0 {
		t.Fatalf("expected sequenced event")
	}
}

func TestResponsesCarryServerHeader(t *testing.T) {
	ts := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/pool", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Server"); !strings.HasPrefix(got, "quasar/") {
		t.Fatalf("unexpected server header %q", got)
	}
}
