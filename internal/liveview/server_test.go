package liveview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"production-test/internal/db"
	"production-test/internal/session"
	"production-test/internal/stats"
	"production-test/internal/telemetry"
)

type memStore struct {
	runs     []db.RunInfo
	readings map[string][]telemetry.Reading
	err      error
	filter   db.RunFilter
}

func (m *memStore) ListRuns(_ context.Context, f db.RunFilter) ([]db.RunInfo, error) {
	m.filter = f
	return m.runs, m.err
}

func (m *memStore) GetRun(_ context.Context, id string) (db.RunInfo, error) {
	for _, r := range m.runs {
		if r.SessionID == id {
			return r, nil
		}
	}
	return db.RunInfo{}, fmt.Errorf("%w: %s", db.ErrRunNotFound, id)
}

func (m *memStore) RunReadings(ctx context.Context, id string) ([]telemetry.Reading, error) {
	if _, err := m.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return m.readings[id], nil
}

func newStore() *memStore {
	return &memStore{
		runs: []db.RunInfo{{
			SessionID: "run-1",
			Outcome:   "completed",
			Device:    telemetry.Device{Model: "PT-100", Serial: "42"},
			Summary:   &stats.Summary{Count: 2},
		}},
		readings: map[string][]telemetry.Reading{
			"run-1": {{Seconds: 0, MilliVolts: 5, MilliAmps: 1}, {Seconds: 0.05, MilliVolts: 7, MilliAmps: 2}},
		},
	}
}

func do(t *testing.T, s *Server, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(NewHub(), nil, "test")
	rec := do(t, s, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestListRuns(t *testing.T) {
	store := newStore()
	s := New(NewHub(), store, "test")

	rec := do(t, s, "/api/runs?serial=42&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_count":1`)
	assert.Contains(t, rec.Body.String(), `"session_id":"run-1"`)
	assert.Equal(t, db.RunFilter{Serial: "42", Limit: 5}, store.filter)

	rec = do(t, s, "/api/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"BAD_REQUEST"`)

	store.err = errors.New("db locked")
	rec = do(t, s, "/api/runs", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "db locked")
}

func TestGetRun(t *testing.T) {
	s := New(NewHub(), newStore(), "test")

	rec := do(t, s, "/api/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got db.RunInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "42", got.Device.Serial)

	rec = do(t, s, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "run not found: missing")
}

func TestHistoryDisabled(t *testing.T) {
	s := New(NewHub(), nil, "test")
	for _, path := range []string{"/api/runs", "/api/runs/x", "/api/runs/x/readings"} {
		rec := do(t, s, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestReadingsJSONAndMsgpack(t *testing.T) {
	s := New(NewHub(), newStore(), "test")

	rec := do(t, s, "/api/runs/run-1/readings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mv":[5,7]`)

	rec = do(t, s, "/api/runs/run-1/readings", map[string]string{"Accept": MIMEMsgpack})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MIMEMsgpack, rec.Header().Get("Content-Type"))

	var body struct {
		SessionID string           `msgpack:"session_id"`
		Count     int              `msgpack:"count"`
		Readings  telemetry.Series `msgpack:"readings"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.SessionID)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, []int{1, 2}, body.Readings.MilliAmps)
	assert.Equal(t, []float64{0, 0.05}, body.Readings.Times)

	rec = do(t, s, "/api/runs/nope/readings", map[string]string{"Accept": MIMEMsgpack})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Echo)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocketBroadcast(t *testing.T) {
	hub := NewHub()
	s := New(hub, nil, "test")

	hub.Publish(session.Event{Kind: session.EventState, SessionID: "s1", State: session.StateAwaitingDiscovery, Time: time.Now()})
	hub.Publish(session.Event{Kind: session.EventProgress, SessionID: "s1", Text: "Contacting device...", Time: time.Now()})

	conn := dial(t, s)
	assert.Equal(t, FrameHello, readFrame(t, conn).Type)

	// backlog replay
	f := readFrame(t, conn)
	assert.Equal(t, FrameState, f.Type)
	assert.JSONEq(t, `{"state":"awaiting-discovery"}`, string(f.Payload))
	f = readFrame(t, conn)
	assert.Equal(t, FrameProgress, f.Type)
	assert.JSONEq(t, `{"text":"Contacting device..."}`, string(f.Payload))

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Redraw(telemetry.Series{Times: []float64{0.1}, MilliVolts: []int{3}, MilliAmps: []int{4}})
	f = readFrame(t, conn)
	assert.Equal(t, FrameRedraw, f.Type)
	assert.Equal(t, "s1", f.SessionID)
	assert.JSONEq(t, `{"times":[0.1],"mv":[3],"ma":[4]}`, string(f.Payload))

	summary := stats.Summary{Count: 1, Voltage: stats.Channel{Min: 3, Max: 3, Mean: 3}}
	hub.Publish(session.Event{Kind: session.EventFinished, SessionID: "s1", Time: time.Now(), Result: &session.Result{
		Outcome:  session.OutcomeCompleted,
		Summary:  &summary,
		Readings: telemetry.Series{Times: []float64{0.1}, MilliVolts: []int{3}, MilliAmps: []int{4}},
	}})
	f = readFrame(t, conn)
	assert.Equal(t, FrameFinished, f.Type)
	var fin FinishedPayload
	require.NoError(t, json.Unmarshal(f.Payload, &fin))
	assert.Equal(t, "completed", fin.Outcome)
	assert.Equal(t, 1, fin.ReadingCount)
	assert.Equal(t, 3, fin.Summary.Voltage.Max)

	require.NoError(t, conn.WriteJSON(Frame{Type: FramePing}))
	assert.Equal(t, FramePong, readFrame(t, conn).Type)
}

func TestNewSessionClearsBacklog(t *testing.T) {
	hub := NewHub()
	hub.Publish(session.Event{Kind: session.EventProgress, Text: "old", Time: time.Now()})
	hub.Publish(session.Event{Kind: session.EventState, State: session.StateAwaitingDiscovery, Time: time.Now()})

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	require.Len(t, hub.backlog, 1)
	assert.Equal(t, FrameState, hub.backlog[0].Type)
}

func TestStartAndShutdown(t *testing.T) {
	s := New(NewHub(), nil, "test")
	require.NoError(t, s.Start("127.0.0.1:0"))

	url := "http://" + s.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
