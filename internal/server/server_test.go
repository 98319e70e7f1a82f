package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/automation"
	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/observability"
	"github.com/browzerlabs/browzer-engine/internal/store"
)

// fakeEngine is a scripted Automation.
type fakeEngine struct {
	mu       sync.Mutex
	sessions map[string]*schemas.AutomationSession
	started  []automation.StartRequest
	startErr error
	notes    chan schemas.Notification
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sessions: make(map[string]*schemas.AutomationSession)}
}

func (f *fakeEngine) Start(_ context.Context, req automation.StartRequest) (*schemas.AutomationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	s := &schemas.AutomationSession{SessionID: "s-new", UserGoal: req.UserGoal, AgentMode: req.AgentMode, Status: schemas.SessionRunning}
	f.sessions[s.SessionID] = s
	return s.Clone(), nil
}

func (f *fakeEngine) Stop(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status.Terminal() {
		return fmt.Errorf("%w: %s", schemas.ErrSessionNotFound, id)
	}
	return nil
}

func (f *fakeEngine) Get(_ context.Context, id string) (*schemas.AutomationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schemas.ErrSessionNotFound, id)
	}
	return s.Clone(), nil
}

func (f *fakeEngine) List(context.Context, int) ([]*schemas.AutomationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*schemas.AutomationSession
	for _, s := range f.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (f *fakeEngine) Subscribe(string) (<-chan schemas.Notification, func()) {
	if f.notes == nil {
		ch := make(chan schemas.Notification)
		close(ch)
		return ch, func() {}
	}
	return f.notes, func() {}
}

type mockEnhancer struct {
	mock.Mock
}

func (m *mockEnhancer) EnhanceWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	wf, _ := args.Get(0).(*schemas.WorkflowDefinition)
	return wf, args.Error(1)
}

type fixture struct {
	engine   *fakeEngine
	catalog  *store.Memory
	enhancer *mockEnhancer
	registry *prometheus.Registry
	server   *httptest.Server
}

func setupServer(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		engine:   newFakeEngine(),
		catalog:  store.NewMemory(),
		enhancer: new(mockEnhancer),
		registry: prometheus.NewRegistry(),
	}
	logger := zaptest.NewLogger(t)
	observability.NewMetrics(f.registry).SessionStarted()

	handlers := NewHandlers(logger, f.engine, f.catalog, f.enhancer)
	srv := NewServer(config.ServerConfig{MetricsEnabled: true}, handlers, f.registry, logger)
	f.server = httptest.NewServer(srv.Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) (*http.Response, Response) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out Response
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	} else {
		out.Data = string(raw)
	}
	return resp, out
}

func TestHealthCheck(t *testing.T) {
	f := setupServer(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body.Data)
}

func TestStartSession(t *testing.T) {
	f := setupServer(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/sessions/",
		`{"user_goal":"book a table","agent_mode":"automate","workflow_id":"wf-1","api_key":"ignored"}`,
		http.Header{"X-Llm-Api-Key": []string{"header-key"}})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", body.Status)
	require.Len(t, f.engine.started, 1)
	req := f.engine.started[0]
	assert.Equal(t, "book a table", req.UserGoal)
	assert.Equal(t, schemas.ModeAutomate, req.AgentMode)
	assert.Equal(t, "wf-1", req.WorkflowID)
	assert.Equal(t, "header-key", req.APIKey)
}

func TestStartSession_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{"malformed body", `{"user_goal":`, nil, http.StatusBadRequest},
		{"already running", `{"user_goal":"x","session_id":"s1"}`, fmt.Errorf("%w: s1", schemas.ErrSessionAlreadyRunning), http.StatusConflict},
		{"validation", `{"user_goal":""}`, fmt.Errorf("user goal is required"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupServer(t)
			f.engine.startErr = tt.startErr
			resp, body := f.do(t, http.MethodPost, "/api/v1/sessions/", tt.body, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, "error", body.Status)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestGetAndStopSession(t *testing.T) {
	f := setupServer(t)
	f.engine.sessions["live"] = &schemas.AutomationSession{SessionID: "live", Status: schemas.SessionRunning}
	f.engine.sessions["done"] = &schemas.AutomationSession{SessionID: "done", Status: schemas.SessionCompleted, Result: "ok"}

	resp, body := f.do(t, http.MethodGet, "/api/v1/sessions/done", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body.Status)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/v1/sessions/live/stop", "", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "stopping", body.Status)

	resp, body = f.do(t, http.MethodPost, "/api/v1/sessions/done/stop", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body.Error, "done")

	resp, body = f.do(t, http.MethodGet, "/api/v1/sessions/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.Data, 2)
}

func seedWorkflows(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, wf := range []*schemas.WorkflowDefinition{
		{ID: "wf-1", Name: "Checkout", Description: "Buy shoes"},
		{ID: "wf-2", Name: "Login", Description: "Sign in to the shop"},
	} {
		wf.UpdatedAt = base.Add(time.Duration(i) * time.Hour)
		wf.Steps = []schemas.WorkflowStep{{Index: 0, Type: schemas.ActionClick, Description: "Click \"Go\""}}
		require.NoError(t, f.catalog.SaveWorkflow(ctx, wf))
	}
}

func TestWorkflowRoutes(t *testing.T) {
	f := setupServer(t)
	seedWorkflows(t, f)

	resp, body := f.do(t, http.MethodGet, "/api/v1/workflows/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.Data, 2)

	resp, body = f.do(t, http.MethodGet, "/api/v1/workflows/?q=SHOP&limit=5", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "wf-2", body.Data.([]interface{})[0].(map[string]interface{})["id"])

	resp, _ = f.do(t, http.MethodGet, "/api/v1/workflows/wf-1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/workflows/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/v1/workflows/wf-1/export", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	assert.Contains(t, body.Data, "name: Checkout")
}

func TestEnhanceWorkflowRoute(t *testing.T) {
	f := setupServer(t)
	original := &schemas.WorkflowDefinition{ID: "wf-1", Name: "Checkout"}
	improved := &schemas.WorkflowDefinition{ID: "wf-1", Name: "Checkout", Description: "Buy a pair of shoes", Enhanced: true}

	f.enhancer.On("EnhanceWorkflow", mock.Anything, "wf-1").Return(improved, nil).Once()
	resp, body := f.do(t, http.MethodPost, "/api/v1/workflows/wf-1/enhance", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body.Data.(map[string]interface{})["enhanced"])

	f.enhancer.On("EnhanceWorkflow", mock.Anything, "wf-1").
		Return(original, fmt.Errorf("%w: timeout", schemas.ErrCollaborator)).Once()
	resp, body = f.do(t, http.MethodPost, "/api/v1/workflows/wf-1/enhance", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "unchanged", body.Status)
	assert.Contains(t, body.Error, "timeout")
	assert.NotNil(t, body.Data)

	f.enhancer.On("EnhanceWorkflow", mock.Anything, "gone").
		Return(nil, fmt.Errorf("workflow %q: %w", "gone", schemas.ErrNotFound)).Once()
	resp, _ = f.do(t, http.MethodPost, "/api/v1/workflows/gone/enhance", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	f.enhancer.AssertExpectations(t)
}

func TestRecordingRoutes(t *testing.T) {
	f := setupServer(t)
	require.NoError(t, f.catalog.SaveRecording(context.Background(), &schemas.RecordingSession{
		ID:     "rec-1",
		Name:   "Search",
		Status: schemas.RecordingStopped,
	}))

	resp, body := f.do(t, http.MethodGet, "/api/v1/recordings/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.Data, 1)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/recordings/rec-1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupServer(t)
	resp, body := f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body.Data, "browzer_automation_active_sessions 1")
}

func TestCORSPreflight(t *testing.T) {
	f := setupServer(t)
	resp, _ := f.do(t, http.MethodOptions, "/api/v1/sessions/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-LLM-API-Key")
}

func dialStream(t *testing.T, f *fixture, id string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/v1/sessions/" + id + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg StreamMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestSessionEventStream(t *testing.T) {
	f := setupServer(t)
	f.engine.sessions["live"] = &schemas.AutomationSession{SessionID: "live", Status: schemas.SessionRunning}
	f.engine.notes = make(chan schemas.Notification, 4)

	conn := dialStream(t, f, "live")
	defer conn.CloseNow()

	history := readFrame(t, conn)
	assert.Equal(t, StreamHistory, history.Type)
	require.NotNil(t, history.Session)
	assert.Equal(t, "live", history.Session.SessionID)

	start := schemas.AutomationEvent{
		ID: "e1", SessionID: "live", Type: schemas.EventStepStart,
		Data: map[string]interface{}{schemas.ToolUseIDKey: "tu-1"},
	}
	f.engine.notes <- schemas.Notification{Kind: schemas.NotifyProgress, SessionID: "live", Event: &start}
	f.engine.notes <- schemas.Notification{Kind: schemas.NotifyComplete, SessionID: "live",
		Session: &schemas.AutomationSession{SessionID: "live", Status: schemas.SessionCompleted}}
	close(f.engine.notes)

	first := readFrame(t, conn)
	assert.Equal(t, StreamNotification, first.Type)
	require.NotNil(t, first.Notification)
	assert.Equal(t, "tu-1", first.Notification.Event.ToolUseID())

	second := readFrame(t, conn)
	assert.Equal(t, schemas.NotifyComplete, second.Notification.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestSessionEventStream_TerminalSessionClosesAfterHistory(t *testing.T) {
	f := setupServer(t)
	f.engine.sessions["done"] = &schemas.AutomationSession{SessionID: "done", Status: schemas.SessionStopped, Error: automation.StoppedByUser}

	conn := dialStream(t, f, "done")
	defer conn.CloseNow()

	history := readFrame(t, conn)
	assert.Equal(t, automation.StoppedByUser, history.Session.Error)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestSessionEventStream_UnknownSession(t *testing.T) {
	f := setupServer(t)
	resp, body := f.do(t, http.MethodGet, "/ws/v1/sessions/missing/events", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "error", body.Status)
}

func TestServe_ShutsDownOnContextCancel(t *testing.T) {
	handlers := NewHandlers(zaptest.NewLogger(t), newFakeEngine(), store.NewMemory(), nil)
	srv := NewServer(config.ServerConfig{ShutdownTimeout: time.Second}, handlers, nil, zaptest.NewLogger(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return bytes.Equal(body, []byte("OK"))
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "metrics are off unless enabled")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
