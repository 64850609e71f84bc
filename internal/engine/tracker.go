package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftsync/driftsync-api/internal/models"
	"github.com/puzpuzpuz/xsync/v3"
)

// Snapshot is the point-in-time progress view exposed to observers. Readers
// always see a complete snapshot; the run goroutine is the only writer.
type Snapshot struct {
	ExecutionID      string                   `json:"execution_id"`
	JobID            string                   `json:"job_id"`
	Status           models.TaskControlStatus `json:"status"`
	Stage            string                   `json:"stage"`
	TotalTables      int                      `json:"total_tables"`
	TablesCompleted  int                      `json:"tables_completed"`
	RecordsProcessed int64                    `json:"records_processed"`
	Percentage       int                      `json:"percentage"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

const (
	stateRunning int32 = iota
	stateStopRequested
	stateStopped
	stateCompleted
	stateFailed
)

func controlStatus(state int32) models.TaskControlStatus {
	switch state {
	case stateStopRequested:
		return models.TaskStopRequested
	case stateStopped:
		return models.TaskStopped
	case stateCompleted:
		return models.TaskCompleted
	case stateFailed:
		return models.TaskFailed
	default:
		return models.TaskRunning
	}
}

// RunTracker is the shared run-state machine: the active strategy writes
// progress, external observers poll or subscribe. The cancellation flag is
// monotonic; once requested it never resets for the lifetime of the run.
type RunTracker struct {
	executionID string
	jobID       string

	cancelled atomic.Bool
	state     atomic.Int32
	snap      atomic.Pointer[Snapshot]

	mu     sync.Mutex
	subs   map[chan Snapshot]struct{}
	closed bool
}

func NewRunTracker(executionID, jobID string) *RunTracker {
	t := &RunTracker{
		executionID: executionID,
		jobID:       jobID,
		subs:        make(map[chan Snapshot]struct{}),
	}
	t.snap.Store(&Snapshot{
		ExecutionID: executionID,
		JobID:       jobID,
		Status:      models.TaskRunning,
		Stage:       "initializing",
		UpdatedAt:   time.Now().UTC(),
	})
	return t
}

func (t *RunTracker) ExecutionID() string { return t.executionID }
func (t *RunTracker) JobID() string       { return t.jobID }

// RequestStop flips the monotonic cancellation flag and moves a running run
// to STOP_REQUESTED. Requests against a terminal run are no-ops.
func (t *RunTracker) RequestStop() bool {
	moved := t.state.CompareAndSwap(stateRunning, stateStopRequested)
	if moved {
		t.cancelled.Store(true)
		t.publish(func(s *Snapshot) {})
	}
	return moved
}

// CancellationRequested is polled by both strategies at batch boundaries.
func (t *RunTracker) CancellationRequested() bool {
	return t.cancelled.Load()
}

func (t *RunTracker) Status() models.TaskControlStatus {
	return controlStatus(t.state.Load())
}

// MarkCompleted transitions RUNNING -> COMPLETED. A stop requested after the
// run's last cancellation poll also lands here: the work finished, so the
// terminal state is COMPLETED, never a dangling STOP_REQUESTED.
func (t *RunTracker) MarkCompleted() bool {
	if !t.state.CompareAndSwap(stateRunning, stateCompleted) &&
		!t.state.CompareAndSwap(stateStopRequested, stateCompleted) {
		return false
	}
	t.publish(func(s *Snapshot) { s.Percentage = 100; s.Stage = "completed" })
	return true
}

// MarkFailed transitions RUNNING (or a late STOP_REQUESTED) -> FAILED.
func (t *RunTracker) MarkFailed() bool {
	if !t.state.CompareAndSwap(stateRunning, stateFailed) &&
		!t.state.CompareAndSwap(stateStopRequested, stateFailed) {
		return false
	}
	t.publish(func(s *Snapshot) { s.Stage = "failed" })
	return true
}

// MarkStopped transitions STOP_REQUESTED -> STOPPED.
func (t *RunTracker) MarkStopped() bool {
	if !t.state.CompareAndSwap(stateStopRequested, stateStopped) {
		return false
	}
	t.publish(func(s *Snapshot) { s.Stage = "stopped" })
	return true
}

// SetStage records the table (or phase) currently being processed.
func (t *RunTracker) SetStage(stage string) {
	t.publish(func(s *Snapshot) { s.Stage = stage })
}

// SetTotals fixes the table count used for percentage reporting.
func (t *RunTracker) SetTotals(totalTables int) {
	t.publish(func(s *Snapshot) { s.TotalTables = totalTables })
}

// TableCompleted advances the completed-table counter and the percentage.
func (t *RunTracker) TableCompleted(completed int) {
	t.publish(func(s *Snapshot) {
		s.TablesCompleted = completed
		if s.TotalTables > 0 {
			s.Percentage = completed * 100 / s.TotalTables
		}
	})
}

// AddRecords accumulates the transferred-row counter.
func (t *RunTracker) AddRecords(n int64) {
	t.publish(func(s *Snapshot) { s.RecordsProcessed += n })
}

// Snapshot returns the latest progress view. Safe from any goroutine.
func (t *RunTracker) Snapshot() Snapshot {
	return *t.snap.Load()
}

// Subscribe registers a progress listener. Updates that arrive faster than
// the listener drains are dropped rather than blocking the run. The returned
// cancel func must be called when the listener goes away.
func (t *RunTracker) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	// Seed the listener while holding the lock: the fresh buffered channel
	// cannot block, and Close cannot close it mid-send.
	ch <- t.Snapshot()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// Close tears down all subscriber channels after the terminal snapshot has
// been published.
func (t *RunTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for ch := range t.subs {
		close(ch)
	}
	t.subs = nil
}

func (t *RunTracker) publish(mutate func(*Snapshot)) {
	next := *t.snap.Load()
	mutate(&next)
	next.Status = controlStatus(t.state.Load())
	next.UpdatedAt = time.Now().UTC()
	t.snap.Store(&next)

	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- next:
		default: // slow listener, drop the update
		}
	}
}

// Registry tracks the live runs of this process, keyed by execution ID.
type Registry struct {
	trackers *xsync.MapOf[string, *RunTracker]
}

func NewRegistry() *Registry {
	return &Registry{trackers: xsync.NewMapOf[string, *RunTracker]()}
}

func (r *Registry) Register(t *RunTracker) {
	r.trackers.Store(t.ExecutionID(), t)
}

func (r *Registry) Get(executionID string) (*RunTracker, bool) {
	return r.trackers.Load(executionID)
}

func (r *Registry) Remove(executionID string) {
	r.trackers.Delete(executionID)
}
