package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/browser"
	"github.com/tabwatch/tabwatch/capture"
	"github.com/tabwatch/tabwatch/config"
	internaltesting "github.com/tabwatch/tabwatch/internal/testing"
	"github.com/tabwatch/tabwatch/queue"
	"github.com/tabwatch/tabwatch/schedule"
	"github.com/tabwatch/tabwatch/watch"
)

type fakeTabs struct {
	tabs []*browser.TabInfo
	err  error
}

func (f *fakeTabs) ListTabs(ctx context.Context) ([]*browser.TabInfo, error) {
	return f.tabs, f.err
}

func newTestServer(t *testing.T, tabs TabLister) (*TabwatchServer, *httptest.Server) {
	t.Helper()
	conn := internaltesting.CreateTestDB(t)

	regions, err := capture.NewRegionStore(conn)
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	s := NewServer(
		schedule.NewStore(conn),
		schedule.NewExecutionStore(conn),
		regions,
		watch.NewStatusBoard(time.Minute, nil),
		tabs,
		queue.New(logger),
		config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		logger,
	)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHandleWatchStart(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/watch/start", map[string]interface{}{
		"tab_id":           "tab-1",
		"interval_minutes": 15,
		"chat_id":          "chat-9",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var alarm schedule.Alarm
	decodeBody(t, resp, &alarm)
	assert.Equal(t, "tab-1", alarm.TabID)
	assert.Equal(t, 15, alarm.IntervalMinutes)
	assert.Equal(t, "chat-9", alarm.ChatID)
	assert.False(t, alarm.NextRunAt.After(time.Now()), "first run should be due immediately")
}

func TestHandleWatchStartValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/watch/start", map[string]interface{}{
		"interval_minutes": 15,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/watch/start", map[string]interface{}{
		"tab_id":           "tab-1",
		"interval_minutes": 0,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/api/watch/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleWatchStop(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/watch/start", map[string]interface{}{
		"tab_id":           "tab-1",
		"interval_minutes": 5,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/watch/stop", map[string]string{"tab_id": "tab-1"})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/watch/stop", map[string]string{"tab_id": "tab-1"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleRegion(t *testing.T) {
	_, ts := newTestServer(t, nil)
	client := &http.Client{}

	body, err := json.Marshal(capture.Region{TabID: "tab-1", X: 10, Y: 20, Width: 300, Height: 200})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/region", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored capture.Region
	decodeBody(t, resp, &stored)
	assert.Equal(t, 300, stored.Width)
	assert.Equal(t, 1.0, stored.DevicePixelRatio)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/region?tab_id=tab-1", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/region?tab_id=tab-1", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleRegionValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)
	client := &http.Client{}

	body, err := json.Marshal(capture.Region{TabID: "tab-1", Width: 0, Height: 100})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/region", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleStatus(t *testing.T) {
	s, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/watch/start", map[string]interface{}{
		"tab_id":           "tab-1",
		"interval_minutes": 5,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	s.status.Set("tab-1", watch.PhaseCapturing, 0, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status statusResponse
	decodeBody(t, resp, &status)
	require.Len(t, status.Alarms, 1)
	require.Len(t, status.Statuses, 1)
	assert.Equal(t, watch.PhaseCapturing, status.Statuses[0].Phase)
	assert.NotNil(t, status.Regions)
	assert.Equal(t, 0, status.Pending)
}

func TestHandleTabs(t *testing.T) {
	_, ts := newTestServer(t, &fakeTabs{tabs: []*browser.TabInfo{
		{ID: "tab-1", Title: "Dashboard", URL: "https://example.com"},
	}})

	resp, err := http.Get(ts.URL + "/api/tabs")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tabs []*browser.TabInfo
	decodeBody(t, resp, &tabs)
	require.Len(t, tabs, 1)
	assert.Equal(t, "Dashboard", tabs[0].Title)
}

func TestHandleTabsNoBrowser(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/tabs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleTabsBrowserError(t *testing.T) {
	_, ts := newTestServer(t, &fakeTabs{err: fmt.Errorf("connection reset")})

	resp, err := http.Get(ts.URL + "/api/tabs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandleExecutions(t *testing.T) {
	s, ts := newTestServer(t, nil)

	require.NoError(t, s.execs.CreateExecution(&schedule.Execution{
		ID:        "exec-1",
		TabID:     "tab-1",
		Status:    schedule.ExecutionStatusCompleted,
		Attempts:  1,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}))

	resp, err := http.Get(ts.URL + "/api/executions?tab_id=tab-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execs []*schedule.Execution
	decodeBody(t, resp, &execs)
	require.Len(t, execs, 1)
	assert.Equal(t, "exec-1", execs[0].ID)

	resp, err = http.Get(ts.URL + "/api/executions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	decodeBody(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSUnknownOrigin(t *testing.T) {
	_, ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestBroadcastSkipsFullClients(t *testing.T) {
	s, _ := newTestServer(t, nil)

	full := &Client{sendMsg: make(chan interface{})}
	open := &Client{sendMsg: make(chan interface{}, 4)}
	s.clients[full] = true
	s.clients[open] = true

	sent := s.broadcastMessage(newEvent("status", nil))
	assert.Equal(t, 1, sent)
	assert.Len(t, open.sendMsg, 1)
}

func TestExecutionBroadcastPayload(t *testing.T) {
	s, _ := newTestServer(t, nil)

	client := &Client{sendMsg: make(chan interface{}, 4)}
	s.clients[client] = true

	s.BroadcastWatchCompleted("tab-1", "exec-1", 1200)

	select {
	case msg := <-client.sendMsg:
		event, ok := msg.(wsEvent)
		require.True(t, ok)
		assert.Equal(t, "watch_completed", event.Type)
	default:
		t.Fatal("expected a broadcast message")
	}
}
