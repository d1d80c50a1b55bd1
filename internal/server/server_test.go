package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/loop"
	"github.com/loopdeck/loopdeck/internal/session"
	"github.com/loopdeck/loopdeck/internal/transport"
)

// memStore mirrors the in-memory store used by the loop package tests.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]*loop.Task
}

func newMemStore() *memStore { return &memStore{tasks: make(map[string]*loop.Task)} }

func (m *memStore) Save(task *loop.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ProjectID+"/"+task.TaskID] = task.Clone()
	return nil
}

func (m *memStore) Load(projectID, taskID string) (*loop.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[projectID+"/"+taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", loop.ErrNotFound, taskID)
	}
	return task.Clone(), nil
}

func (m *memStore) List(projectID string) ([]*loop.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*loop.Task
	for k, task := range m.tasks {
		if strings.HasPrefix(k, projectID+"/") {
			out = append(out, task.Clone())
		}
	}
	return out, nil
}

func (m *memStore) Remove(projectID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, projectID+"/"+taskID)
	return nil
}

// respond scripts a full approve run: worker summary then reviewer approve.
func respond(mgr *session.MockManager) {
	mgr.OnStart = func(id string, spec session.SpawnSpec) {
		var out string
		if strings.Contains(spec.Input, "You are the worker agent") {
			out = `{"files_modified": ["a.go"], "note": "done"}`
		} else {
			out = "DECISION: approve"
		}
		mgr.Emit(id, session.MessageEvent{ID: id, Chunk: out})
		mgr.Emit(id, session.WaitingEvent{ID: id, Waiting: true})
	}
}

func newTestServer(t *testing.T, script func(*session.MockManager)) (*Server, *session.MockManager, *loop.Controller) {
	t.Helper()
	cfg := config.NewDefaults()
	cfg.Loop.WorkerAgent = "claude"
	cfg.Loop.ReviewerAgent = "claude"
	cfg.Agents = map[string]config.Agent{"claude": {Command: "claude"}}

	mgr := session.NewMockManager()
	if script != nil {
		script(mgr)
	}
	hub := transport.NewHub()
	ctrl := loop.NewController(cfg, loop.NewRegistry(newMemStore()), mgr, hub, nil)
	t.Cleanup(ctrl.Shutdown)
	return New(cfg, ctrl, hub, nil), mgr, ctrl
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func startLoop(t *testing.T, h http.Handler) string {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/projects/proj/loops", gin.H{
		"task_description": "fix it",
		"max_turns":        3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)
	return resp.TaskID
}

func waitDone(t *testing.T, h http.Handler, taskID string) map[string]any {
	t.Helper()
	var task map[string]any
	require.Eventually(t, func() bool {
		w := doJSON(t, h, http.MethodGet, "/api/projects/proj/loops/"+taskID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
		status, _ := task["status"].(string)
		return status == string(loop.StatusCompleted) || status == string(loop.StatusFailed)
	}, 3*time.Second, 10*time.Millisecond)
	return task
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestStartAndStatusFlow(t *testing.T) {
	s, _, _ := newTestServer(t, respond)
	h := s.Handler()

	taskID := startLoop(t, h)
	task := waitDone(t, h, taskID)
	assert.Equal(t, string(loop.StatusCompleted), task["status"])
	assert.Equal(t, string(loop.FinalApproved), task["final_status"])
}

func TestStartValidationErrors(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/projects/proj/loops", gin.H{"max_turns": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/projects/proj/loops", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSecondStartConflicts(t *testing.T) {
	// Sessions that never respond keep the first loop active.
	s, _, _ := newTestServer(t, func(mgr *session.MockManager) {
		mgr.OnStart = func(string, session.SpawnSpec) {}
	})
	h := s.Handler()

	startLoop(t, h)
	w := doJSON(t, h, http.MethodPost, "/api/projects/proj/loops", gin.H{
		"task_description": "another",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already running")
}

func TestStatusUnknownTask(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/projects/proj/loops/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseResumeStopEndpoints(t *testing.T) {
	s, mgr, _ := newTestServer(t, func(mgr *session.MockManager) {
		mgr.OnStart = func(string, session.SpawnSpec) {}
	})
	h := s.Handler()

	taskID := startLoop(t, h)
	require.Eventually(t, func() bool { return mgr.StartCount() == 1 }, time.Second, 5*time.Millisecond)

	w := doJSON(t, h, http.MethodPost, "/api/projects/proj/loops/"+taskID+"/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/projects/proj/loops/"+taskID+"/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/projects/proj/loops/"+taskID+"/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	task := waitDone(t, h, taskID)
	assert.Equal(t, string(loop.StatusFailed), task["status"])

	// Lifecycle calls on a finished task map to conflict, except stop,
	// which stays idempotent.
	w = doJSON(t, h, http.MethodPost, "/api/projects/proj/loops/"+taskID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = doJSON(t, h, http.MethodPost, "/api/projects/proj/loops/"+taskID+"/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, respond)
	h := s.Handler()

	taskID := startLoop(t, h)
	waitDone(t, h, taskID)

	w := doJSON(t, h, http.MethodDelete, "/api/projects/proj/loops/"+taskID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/projects/proj/loops/"+taskID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, respond)
	h := s.Handler()

	taskID := startLoop(t, h)
	waitDone(t, h, taskID)

	w := doJSON(t, h, http.MethodGet, "/api/projects/proj/loops", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tasks []loop.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, taskID, resp.Tasks[0].TaskID)
}

func TestWebsocketStreamsLoopEvents(t *testing.T) {
	s, _, _ := newTestServer(t, respond)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	taskID := startLoop(t, s.Handler())

	// Read until the complete event for our task arrives.
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var ev transport.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == transport.EventComplete && ev.TaskID == taskID {
			assert.Equal(t, string(loop.FinalApproved), ev.FinalStatus)
			return
		}
	}
}
