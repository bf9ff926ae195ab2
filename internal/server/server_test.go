package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/predict"
	"github.com/droverhq/drover/internal/process"
	"github.com/droverhq/drover/internal/queue"
	"github.com/droverhq/drover/internal/session"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/timing"
)

func newTestServer(t *testing.T) (*Server, *events.Hub) {
	t.Helper()

	cfg := config.Defaults()
	cfg.Server.HeartbeatInterval = time.Hour

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := events.NewHub(100)
	store := timing.NewStore(db, timing.Options{})
	predictor := predict.New(store, cfg.Predict)
	sessions := session.NewManager(cfg, predictor, store, process.New(cfg.Process), hub)
	return New(cfg, sessions, queue.New(db), hub), hub
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.QueueDepth)
	assert.Equal(t, 0, body.Sessions)
}

func TestTaskEnqueueAndFetch(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	router := srv.routes()

	body := bytes.NewBufferString(`{"command":"echo hi","timeout_secs":60,"submitted_by":"cli"}`)
	req := httptest.NewRequest(http.MethodPost, "/tasks", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var enq EnqueueTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enq))
	require.NotEmpty(t, enq.TaskID)
	assert.Equal(t, "queued", enq.Status)

	req = httptest.NewRequest(http.MethodGet, "/tasks/"+enq.TaskID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var task TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "echo hi", task.Command)
	assert.Equal(t, "cli", task.SubmittedBy)
}

func TestTaskValidationAndNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	router := srv.routes()

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{"command":""}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/tasks/nonexistent", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsStreamsPublishedEvents(t *testing.T) {
	t.Parallel()

	srv, hub := newTestServer(t)
	hub.Publish(events.TaskEnqueued, events.Scope{TaskID: "t1"}, map[string]string{"k": "v"})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	out := rec.Body.String()
	assert.Contains(t, out, "event: task.enqueued")
	assert.Contains(t, out, `"k":"v"`)
}

func TestEventsReplayThenLiveDeliversEachEventOnce(t *testing.T) {
	t.Parallel()

	srv, hub := newTestServer(t)
	for _, id := range []string{"t1", "t2", "t3"} {
		hub.Publish(events.TaskEnqueued, events.Scope{TaskID: id}, nil)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		hub.Publish(events.TaskCompleted, events.Scope{TaskID: "t4"}, nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	out := rec.Body.String()
	assert.NotContains(t, out, "id: 1\n")
	for _, line := range []string{"id: 2\n", "id: 3\n", "id: 4\n"} {
		assert.Equal(t, 1, strings.Count(out, line), "expected exactly one %q", line)
	}
}

func TestWebsocketExecuteEndToEnd(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","method":"execute","params":{"command":"echo over-the-wire"},"id":1}`)))

	var sawOutput, sawCompleted bool
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && !(sawOutput && sawCompleted) {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.Unmarshal(data, &frame))
		switch frame.Method {
		case "process.output":
			var out struct {
				Data string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(frame.Params, &out))
			if strings.Contains(out.Data, "over-the-wire") {
				sawOutput = true
			}
		case "process.completed":
			sawCompleted = true
		}
	}
	assert.True(t, sawOutput, "never saw process.output")
	assert.True(t, sawCompleted, "never saw process.completed")
}
