package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync-api/internal/engine"
	"github.com/driftsync/driftsync-api/internal/models"
)

type fakeExecutionRepo struct {
	taskStatus  *models.TaskStatus
	cancelCalls []string
}

func (f *fakeExecutionRepo) CreateExecution(ctx context.Context, exec *models.Execution) error {
	return nil
}
func (f *fakeExecutionRepo) FinalizeExecution(ctx context.Context, exec *models.Execution) error {
	return nil
}
func (f *fakeExecutionRepo) AppendLog(ctx context.Context, executionID, line string) error {
	return nil
}
func (f *fakeExecutionRepo) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	return nil, nil
}
func (f *fakeExecutionRepo) ListExecutions(ctx context.Context, jobID string, limit, offset int) ([]*models.Execution, error) {
	return nil, nil
}
func (f *fakeExecutionRepo) ListExecutionStats(ctx context.Context, days int) (models.ExecutionStat, error) {
	return models.ExecutionStat{}, nil
}
func (f *fakeExecutionRepo) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeExecutionRepo) CreateTaskStatus(ctx context.Context, ts *models.TaskStatus) error {
	return nil
}
func (f *fakeExecutionRepo) UpdateTaskStatus(ctx context.Context, executionID string, status models.TaskControlStatus, stage string, progress int) error {
	return nil
}
func (f *fakeExecutionRepo) GetTaskStatus(ctx context.Context, executionID string) (*models.TaskStatus, error) {
	if f.taskStatus != nil && f.taskStatus.ExecutionID == executionID {
		return f.taskStatus, nil
	}
	return nil, nil
}
func (f *fakeExecutionRepo) RequestTaskCancellation(ctx context.Context, executionID string) error {
	f.cancelCalls = append(f.cancelCalls, executionID)
	return nil
}
func (f *fakeExecutionRepo) IsCancellationRequested(ctx context.Context, executionID string) (bool, error) {
	for _, id := range f.cancelCalls {
		if id == executionID {
			return true, nil
		}
	}
	return false, nil
}

// liveController backs the SyncController with a real tracker so the SSE
// path is exercised end to end.
type liveController struct {
	tracker *engine.RunTracker
}

func (c *liveController) RequestCancel(executionID string) bool {
	if c.tracker == nil || c.tracker.ExecutionID() != executionID {
		return false
	}
	return c.tracker.RequestStop()
}

func (c *liveController) Progress(executionID string) (engine.Snapshot, bool) {
	if c.tracker == nil || c.tracker.ExecutionID() != executionID {
		return engine.Snapshot{}, false
	}
	return c.tracker.Snapshot(), true
}

func (c *liveController) Subscribe(executionID string) (<-chan engine.Snapshot, func(), bool) {
	if c.tracker == nil || c.tracker.ExecutionID() != executionID {
		return nil, nil, false
	}
	ch, cancel := c.tracker.Subscribe()
	return ch, cancel, true
}

func newExecRouter(h *ExecutionHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/executions/{execID}/status", h.GetTaskStatus).Methods(http.MethodGet)
	r.HandleFunc("/executions/{execID}/cancel", h.CancelExecution).Methods(http.MethodPost)
	r.HandleFunc("/executions/{execID}/progress", h.StreamProgress).Methods(http.MethodGet)
	return r
}

func TestGetTaskStatusPrefersLiveSnapshot(t *testing.T) {
	tracker := engine.NewRunTracker("exec-1", "job-1")
	tracker.SetStage("syncing public.orders")
	h := NewExecutionHandler(&fakeExecutionRepo{}, &liveController{tracker: tracker}, zerolog.Nop())

	rec := httptest.NewRecorder()
	newExecRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/executions/exec-1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "syncing public.orders", snap.Stage)
	assert.Equal(t, models.TaskRunning, snap.Status)
}

func TestGetTaskStatusFallsBackToStore(t *testing.T) {
	repo := &fakeExecutionRepo{taskStatus: &models.TaskStatus{
		ExecutionID: "exec-2", Status: models.TaskCompleted, ProgressPercentage: 100,
	}}
	h := NewExecutionHandler(repo, &liveController{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	newExecRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/executions/exec-2/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var ts models.TaskStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ts))
	assert.Equal(t, models.TaskCompleted, ts.Status)
}

func TestGetTaskStatusUnknownExecution(t *testing.T) {
	h := NewExecutionHandler(&fakeExecutionRepo{}, &liveController{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	newExecRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/executions/nope/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelExecutionLiveRun(t *testing.T) {
	tracker := engine.NewRunTracker("exec-1", "job-1")
	repo := &fakeExecutionRepo{}
	h := NewExecutionHandler(repo, &liveController{tracker: tracker}, zerolog.Nop())

	rec := httptest.NewRecorder()
	newExecRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/executions/exec-1/cancel", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, tracker.CancellationRequested())
	// The durable flag is written as well.
	assert.Equal(t, []string{"exec-1"}, repo.cancelCalls)
}

func TestCancelExecutionUnknown(t *testing.T) {
	h := NewExecutionHandler(&fakeExecutionRepo{}, &liveController{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	newExecRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/executions/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamProgressLiveRun(t *testing.T) {
	tracker := engine.NewRunTracker("exec-1", "job-1")
	h := NewExecutionHandler(&fakeExecutionRepo{}, &liveController{tracker: tracker}, zerolog.Nop())

	srv := httptest.NewServer(newExecRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/executions/exec-1/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() engine.Snapshot {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				var snap engine.Snapshot
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &snap))
				return snap
			}
		}
	}

	// First event is the seeded current state.
	first := readEvent()
	assert.Equal(t, "initializing", first.Stage)

	tracker.SetStage("syncing public.orders")
	next := readEvent()
	assert.Equal(t, "syncing public.orders", next.Stage)

	// The stream ends when the run closes its tracker.
	tracker.MarkCompleted()
	tracker.Close()
}

func TestStreamProgressFinishedRun(t *testing.T) {
	repo := &fakeExecutionRepo{taskStatus: &models.TaskStatus{
		ExecutionID: "exec-2", Status: models.TaskCompleted, ProgressPercentage: 100,
	}}
	h := NewExecutionHandler(repo, &liveController{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	newExecRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/executions/exec-2/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.Contains(t, rec.Body.String(), `"completed"`)
}
