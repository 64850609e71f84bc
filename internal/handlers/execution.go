package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/driftsync/driftsync-api/internal/engine"
	"github.com/driftsync/driftsync-api/internal/repository"
)

// SyncController is the slice of the engine the executions API needs:
// live progress and cooperative cancellation of in-process runs.
type SyncController interface {
	RequestCancel(executionID string) bool
	Progress(executionID string) (engine.Snapshot, bool)
	Subscribe(executionID string) (<-chan engine.Snapshot, func(), bool)
}

type ExecutionHandler struct {
	repo   repository.ExecutionRepository
	sync   SyncController
	logger zerolog.Logger
}

func NewExecutionHandler(repo repository.ExecutionRepository, sync SyncController, logger zerolog.Logger) *ExecutionHandler {
	return &ExecutionHandler{repo: repo, sync: sync, logger: logger}
}

func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	executions, err := h.repo.ListExecutions(r.Context(), q.Get("job_id"), limit, offset)
	if err != nil {
		http.Error(w, "Failed to list executions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.repo.GetExecution(r.Context(), mux.Vars(r)["execID"])
	if err != nil {
		http.Error(w, "Failed to get execution: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if exec == nil {
		http.Error(w, "Execution not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) GetExecutionStats(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	stats, err := h.repo.ListExecutionStats(r.Context(), days)
	if err != nil {
		http.Error(w, "Failed to load execution stats: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetTaskStatus serves the poll endpoint: the live in-memory snapshot when
// the run is in this process, otherwise the persisted task-status row.
func (h *ExecutionHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	execID := mux.Vars(r)["execID"]

	if snap, ok := h.sync.Progress(execID); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	ts, err := h.repo.GetTaskStatus(r.Context(), execID)
	if err != nil {
		http.Error(w, "Failed to get task status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if ts == nil {
		http.Error(w, "Task status not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// CancelExecution requests a cooperative stop. The run keeps going until the
// next batch boundary; observers see stop_requested until it lands.
func (h *ExecutionHandler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	execID := mux.Vars(r)["execID"]

	accepted := h.sync.RequestCancel(execID)
	// Persist the request regardless: a run living in another process picks
	// the monotonic flag up through its own poll loop.
	if err := h.repo.RequestTaskCancellation(r.Context(), execID); err != nil {
		http.Error(w, "Failed to record cancellation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !accepted {
		ts, err := h.repo.GetTaskStatus(r.Context(), execID)
		if err != nil || ts == nil {
			http.Error(w, "Execution not found", http.StatusNotFound)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": execID, "status": "stop_requested"})
}

// CleanupExecutions deletes finished executions older than the given number
// of days (default 90).
func (h *ExecutionHandler) CleanupExecutions(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("older_than_days"))
	if days <= 0 {
		days = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := h.repo.DeleteExecutionsBefore(r.Context(), cutoff)
	if err != nil {
		http.Error(w, "Failed to clean up executions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("execution history cleaned up")
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// StreamProgress is the SSE endpoint. Live runs stream every snapshot until
// the run finishes or the client goes away; finished runs get a single event.
func (h *ExecutionHandler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	execID := mux.Vars(r)["execID"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, live := h.sync.Subscribe(execID)
	if !live {
		ts, err := h.repo.GetTaskStatus(r.Context(), execID)
		if err != nil {
			http.Error(w, "Failed to get task status: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if ts == nil {
			http.Error(w, "Execution not found", http.StatusNotFound)
			return
		}
		setSSEHeaders(w)
		writeSSEEvent(w, ts)
		flusher.Flush()
		return
	}
	defer cancel()

	setSSEHeaders(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(w, snap)
			flusher.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeSSEEvent(w http.ResponseWriter, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
