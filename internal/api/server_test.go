package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/config"
	"github.com/rdfitted/hive-manager/internal/controller"
	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/logging"
	"github.com/rdfitted/hive-manager/internal/metrics"
	"github.com/rdfitted/hive-manager/internal/supervisor"
)

type fakePty struct {
	mu     sync.Mutex
	writes bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func (p *fakePty) Read(data []byte) (int, error) {
	<-p.closed
	return 0, io.EOF
}

func (p *fakePty) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes.Write(data)
}

func (p *fakePty) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePty) Resize(cols, rows uint16) error { return nil }

func (p *fakePty) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes.String()
}

type fakeFactory struct {
	mu   sync.Mutex
	ptys []*fakePty
}

func (f *fakeFactory) Start(spec supervisor.StartSpec) (supervisor.Pty, *exec.Cmd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pty := &fakePty{closed: make(chan struct{})}
	f.ptys = append(f.ptys, pty)
	return pty, nil, nil
}

func (f *fakeFactory) pty(i int) *fakePty {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ptys[i]
}

func newTestServer(t *testing.T, authToken string) (*Server, *fakeFactory, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bus := event.NewBus[event.Event](ctx, event.BusOptions{Name: "api-test"})
	t.Cleanup(bus.Close)

	project := t.TempDir()
	factory := &fakeFactory{}
	settings, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	settings.Sessions.WatchDebounceMS = 50

	registry := cliprofile.NewRegistry(cliprofile.Profile{
		Name:     "fakecli",
		Command:  "fakecli",
		Behavior: cliprofile.BehaviorInstructionFollowing,
	})
	ctrl := controller.New(ctx, controller.Options{
		Settings: settings,
		Registry: registry,
		Factory:  factory,
		Bus:      bus,
		Logger:   logging.NewLogger(logging.LevelError),
		Metrics:  &metrics.Registry{},
	})
	t.Cleanup(func() { ctrl.Shutdown(context.Background()) })

	return NewServer(ctrl, logging.NewLogger(logging.LevelError), authToken), factory, project
}

func launchBody(sessionID, project string) []byte {
	body, _ := json.Marshal(map[string]any{
		"session_id":   sessionID,
		"project_path": project,
		"task":         "build the feature",
		"queen":        map[string]string{"cli": "fakecli"},
		"workers": []map[string]string{
			{"cli": "fakecli"},
			{"cli": "fakecli"},
		},
	})
	return body
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestLaunchHiveCreatesSession(t *testing.T) {
	srv, _, project := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/hive", launchBody("hive-1", project))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != "hive-1" {
		t.Fatalf("expected session hive-1, got %q", resp.SessionID)
	}
	if len(resp.Agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(resp.Agents))
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sessions: expected 200, got %d", rec.Code)
	}
	var summaries []controller.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].SessionID != "hive-1" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestLaunchDuplicateSessionConflicts(t *testing.T) {
	srv, _, project := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/hive", launchBody("hive-1", project))
	if rec.Code != http.StatusCreated {
		t.Fatalf("first launch: expected 201, got %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/sessions/hive", launchBody("hive-1", project))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate launch: expected 409, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Code != "session_exists" {
		t.Fatalf("expected code session_exists, got %q", resp.Code)
	}
}

func TestInvalidSessionIDRejected(t *testing.T) {
	srv, _, project := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/hive", launchBody("../escape", project))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Code != "invalid_session_id" {
		t.Fatalf("expected code invalid_session_id, got %q", resp.Code)
	}
}

func TestUnknownSessionReturnsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/missing/stop", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMalformedJSONRejected(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/hive", []byte(`{"session_id": `))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/sessions/hive", []byte(`{"nope": true}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rec.Code)
	}
}

func TestAuthToken(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	rec := doRequest(t, srv, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions?token=secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("query token: expected 200, got %d", rec.Code)
	}
}

func TestStatusEndpointReportsCounters(t *testing.T) {
	srv, _, project := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/hive", launchBody("hive-1", project))
	if rec.Code != http.StatusCreated {
		t.Fatalf("launch: expected 201, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.Sessions != 1 {
		t.Fatalf("expected 1 live session, got %d", resp.Sessions)
	}
	if resp.Metrics.SessionsStarted != 1 {
		t.Fatalf("expected 1 started session, got %d", resp.Metrics.SessionsStarted)
	}
	if len(resp.Metrics.Spawns) != 1 || resp.Metrics.Spawns[0].Count != 3 {
		t.Fatalf("unexpected spawn stats: %+v", resp.Metrics.Spawns)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/version", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("version: expected 200, got %d", rec.Code)
	}
}

func TestCoordinationLogReturnsEmptyArray(t *testing.T) {
	srv, _, project := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/hive", launchBody("hive-1", project))
	if rec.Code != http.StatusCreated {
		t.Fatalf("launch: expected 201, got %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/hive-1/coordination", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("expected empty array, got %q", got)
	}
}

func TestPtyWriteEndpoint(t *testing.T) {
	srv, factory, project := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/hive", launchBody("hive-1", project))
	if rec.Code != http.StatusCreated {
		t.Fatalf("launch: expected 201, got %d", rec.Code)
	}

	body, _ := json.Marshal(ptyWriteRequest{Data: "ls -la\n"})
	rec = doRequest(t, srv, http.MethodPost, "/api/sessions/hive-1/pty/hive-1-queen/write", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(factory.pty(0).written(), "ls -la\n") {
		t.Fatalf("queen pty missing written data: %q", factory.pty(0).written())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/sessions/hive-1/pty/hive-1-ghost/write", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unknown agent: expected 409, got %d", rec.Code)
	}
}

func TestEventsWebsocketStreamsSessionUpdates(t *testing.T) {
	srv, _, project := newTestServer(t, "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events socket: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "connected" {
		t.Fatalf("expected connected ack, got %+v (%v)", hello, err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/hive", launchBody("hive-1", project))
	if rec.Code != http.StatusCreated {
		t.Fatalf("launch: expected 201, got %d", rec.Code)
	}

	for {
		var envelope struct {
			Type  string          `json:"type"`
			Event json.RawMessage `json:"event"`
		}
		if err := conn.ReadJSON(&envelope); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if envelope.Type != event.TypeSessionUpdate {
			continue
		}
		var payload struct {
			SessionID string `json:"SessionID"`
			State     string `json:"State"`
		}
		if err := json.Unmarshal(envelope.Event, &payload); err != nil {
			t.Fatalf("decode session event: %v", err)
		}
		if payload.SessionID != "hive-1" {
			t.Fatalf("expected session hive-1, got %q", payload.SessionID)
		}
		return
	}
}

func TestPtyStreamWebsocketRoutesInput(t *testing.T) {
	srv, factory, project := newTestServer(t, "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/hive", launchBody("hive-1", project))
	if rec.Code != http.StatusCreated {
		t.Fatalf("launch: expected 201, got %d", rec.Code)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/hive-1/pty/hive-1-queen"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial pty socket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ptyInboundMessage{Input: "echo hi\n"}); err != nil {
		t.Fatalf("write input: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(factory.pty(0).written(), "echo hi\n") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("input never reached queen pty: %q", factory.pty(0).written())
}
