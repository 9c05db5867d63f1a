package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specsched/internal/adapters/statefile"
	"specsched/internal/core/domain"
	"specsched/internal/core/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHistory struct {
	runs   []domain.RunSummary
	events map[string][]domain.TaskEvent
}

func (f *fakeHistory) SaveRun(context.Context, domain.RunSummary) error      { return nil }
func (f *fakeHistory) SaveTaskEvent(context.Context, domain.TaskEvent) error { return nil }

func (f *fakeHistory) ListRuns(_ context.Context, limit int) ([]domain.RunSummary, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeHistory) ListTaskEvents(_ context.Context, runID string) ([]domain.TaskEvent, error) {
	return f.events[runID], nil
}

func newTestServer(t *testing.T) (*Server, *statefile.Store, *services.EventBus) {
	t.Helper()
	store, err := statefile.NewStore(testLogger(), t.TempDir()+"/state.json", "")
	require.NoError(t, err)
	bus := services.NewEventBus(testLogger())
	history := &fakeHistory{
		runs: []domain.RunSummary{{RunID: "run-1", SpecName: "checkout", Success: true}},
		events: map[string][]domain.TaskEvent{
			"run-1": {{RunID: "run-1", TaskID: "a", Success: true}},
		},
	}
	return NewServer(testLogger(), store, history, bus), store, bus
}

func TestServer_Health(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_StateAndSpec(t *testing.T) {
	srv, store, _ := newTestServer(t)
	require.NoError(t, store.PutSpec(&domain.SpecificationState{
		Name:         "checkout",
		CurrentPhase: domain.PhaseScheduling,
		Tasks: map[string]domain.Task{
			"a": {ID: "a", Status: domain.TaskStatusCompleted},
			"b": {ID: "b", Status: domain.TaskStatusPending},
		},
	}))
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/state", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var state domain.SystemState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Contains(t, state.Specs, "checkout")

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/specs/checkout", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var specResp struct {
		Progress float64 `json:"progress_percent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &specResp))
	assert.InDelta(t, 50.0, specResp.Progress, 0.01)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/specs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Runs(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/runs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Runs []domain.RunSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "run-1", resp.Runs[0].RunID)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/runs?limit=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_RunTasks(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/v1/runs/run-1/tasks", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tasks []domain.TaskEvent `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "a", resp.Tasks[0].TaskID)
}

func TestServer_RunSSEStreamsEvents(t *testing.T) {
	srv, _, bus := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/runs/run-7/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(services.Event{
		RunID: "run-7",
		Type:  services.EventTypeTaskCompleted,
		Data:  `{"task_id":"a"}`,
	})

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, eventLine, string(services.EventTypeTaskCompleted))
	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, dataLine, `"task_id":"a"`)
}

func TestServer_NoHistoryIs404(t *testing.T) {
	store, err := statefile.NewStore(testLogger(), t.TempDir()+"/state.json", "")
	require.NoError(t, err)
	srv := NewServer(testLogger(), store, nil, nil)
	handler := srv.Handler()

	for _, path := range []string{"/v1/runs", "/v1/runs/x/tasks", "/v1/events"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}
