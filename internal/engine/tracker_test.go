package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync-api/internal/models"
)

func TestRunTrackerLifecycle(t *testing.T) {
	tr := NewRunTracker("exec-1", "job-1")

	snap := tr.Snapshot()
	assert.Equal(t, models.TaskRunning, snap.Status)
	assert.Equal(t, "initializing", snap.Stage)

	tr.SetTotals(4)
	tr.SetStage("syncing public.orders")
	tr.TableCompleted(1)
	tr.AddRecords(500)

	snap = tr.Snapshot()
	assert.Equal(t, 25, snap.Percentage)
	assert.Equal(t, int64(500), snap.RecordsProcessed)
	assert.Equal(t, "syncing public.orders", snap.Stage)

	require.True(t, tr.MarkCompleted())
	snap = tr.Snapshot()
	assert.Equal(t, models.TaskCompleted, snap.Status)
	assert.Equal(t, 100, snap.Percentage)
}

func TestRunTrackerCancellationIsMonotonic(t *testing.T) {
	tr := NewRunTracker("exec-1", "job-1")
	assert.False(t, tr.CancellationRequested())

	require.True(t, tr.RequestStop())
	assert.True(t, tr.CancellationRequested())
	assert.Equal(t, models.TaskStopRequested, tr.Status())

	// A second request is a no-op, never a reset.
	assert.False(t, tr.RequestStop())
	assert.True(t, tr.CancellationRequested())

	require.True(t, tr.MarkStopped())
	assert.Equal(t, models.TaskStopped, tr.Status())
	assert.True(t, tr.CancellationRequested())
}

func TestRunTrackerTerminalStatesAreFinal(t *testing.T) {
	tr := NewRunTracker("exec-1", "job-1")
	require.True(t, tr.MarkFailed())

	assert.False(t, tr.MarkCompleted())
	assert.False(t, tr.RequestStop())
	assert.False(t, tr.MarkStopped())
	assert.Equal(t, models.TaskFailed, tr.Status())
}

func TestRunTrackerLateStopStillFinalizes(t *testing.T) {
	// A stop that arrives after the last cancellation poll must not leave
	// the run stuck in stop_requested once it finishes.
	tr := NewRunTracker("exec-1", "job-1")
	require.True(t, tr.RequestStop())
	require.True(t, tr.MarkCompleted())
	assert.Equal(t, models.TaskCompleted, tr.Status())

	tr = NewRunTracker("exec-2", "job-1")
	require.True(t, tr.RequestStop())
	require.True(t, tr.MarkFailed())
	assert.Equal(t, models.TaskFailed, tr.Status())
}

func TestRunTrackerStoppedRequiresStopRequested(t *testing.T) {
	tr := NewRunTracker("exec-1", "job-1")
	assert.False(t, tr.MarkStopped())

	tr.RequestStop()
	assert.True(t, tr.MarkStopped())
}

func TestRunTrackerSubscribe(t *testing.T) {
	tr := NewRunTracker("exec-1", "job-1")
	ch, cancel := tr.Subscribe()
	defer cancel()

	// The subscription is seeded with the current state.
	first := <-ch
	assert.Equal(t, "initializing", first.Stage)

	tr.SetStage("syncing public.orders")
	next := <-ch
	assert.Equal(t, "syncing public.orders", next.Stage)
}

func TestRunTrackerCloseEndsSubscriptions(t *testing.T) {
	tr := NewRunTracker("exec-1", "job-1")
	ch, cancel := tr.Subscribe()
	defer cancel()

	<-ch // seed
	tr.Close()

	_, open := <-ch
	assert.False(t, open)

	// Subscribing after close yields a closed channel.
	late, lateCancel := tr.Subscribe()
	defer lateCancel()
	_, open = <-late
	assert.False(t, open)
}

func TestRunTrackerSubscribeDuringClose(t *testing.T) {
	// Subscribing while the run is tearing down must never panic; the
	// listener either drains a seeded-then-closed channel or gets a channel
	// that is already closed.
	for i := 0; i < 1000; i++ {
		tr := NewRunTracker("exec-1", "job-1")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.Close()
		}()
		go func() {
			defer wg.Done()
			ch, cancel := tr.Subscribe()
			defer cancel()
			for range ch {
			}
		}()
		wg.Wait()
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	tr := NewRunTracker("exec-1", "job-1")

	reg.Register(tr)
	got, ok := reg.Get("exec-1")
	require.True(t, ok)
	assert.Same(t, tr, got)

	reg.Remove("exec-1")
	_, ok = reg.Get("exec-1")
	assert.False(t, ok)
}
