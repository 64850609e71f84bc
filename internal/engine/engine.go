package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftsync/driftsync-api/internal/models"
)

// JobStore is the slice of the job repository the engine needs.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	TryAcquireRunLock(ctx context.Context, jobID string) (bool, error)
	ReleaseRunLock(ctx context.Context, jobID string) error
	UpdateTableWatermark(ctx context.Context, tableID, value string) error
	SetLastRunAt(ctx context.Context, jobID string, at time.Time) error
}

// ExecutionStore persists execution rows, their task-status rows and the
// append-only run log.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.Execution) error
	FinalizeExecution(ctx context.Context, exec *models.Execution) error
	AppendLog(ctx context.Context, executionID, line string) error
	CreateTaskStatus(ctx context.Context, ts *models.TaskStatus) error
	UpdateTaskStatus(ctx context.Context, executionID string, status models.TaskControlStatus, stage string, progress int) error
	IsCancellationRequested(ctx context.Context, executionID string) (bool, error)
}

// ConnectionStore resolves connection IDs to credentials. Implementations
// return the connection with the password already decrypted.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
}

// OpenFunc opens a verified database pool for a DSN.
type OpenFunc func(ctx context.Context, dsn string) (*sql.DB, error)

// OpenPostgres is the default OpenFunc: lib/pq pool plus a ping so that an
// unreachable database fails the run up front instead of at the first query.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Engine runs sync jobs end to end: locking, execution bookkeeping, per-table
// transfer, watermark persistence and finalization.
type Engine struct {
	cfg      Config
	jobs     JobStore
	execs    ExecutionStore
	conns    ConnectionStore
	open     OpenFunc
	trackers *Registry
	logger   zerolog.Logger

	// cancelPollEvery paces the durable-flag poll that makes cancellation
	// requests from other processes reach this run.
	cancelPollEvery time.Duration
}

func New(cfg Config, jobs JobStore, execs ExecutionStore, conns ConnectionStore, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:             cfg.normalized(),
		jobs:            jobs,
		execs:           execs,
		conns:           conns,
		open:            OpenPostgres,
		trackers:        NewRegistry(),
		logger:          logger.With().Str("component", "engine").Logger(),
		cancelPollEvery: 2 * time.Second,
	}
}

// SetOpenFunc replaces the pool opener. Test hook.
func (e *Engine) SetOpenFunc(open OpenFunc) { e.open = open }

// Trackers exposes the live-run registry for the API layer.
func (e *Engine) Trackers() *Registry { return e.trackers }

// RequestCancel flips the cancellation flag of a live run. Returns false when
// the execution is unknown to this process or already terminal.
func (e *Engine) RequestCancel(executionID string) bool {
	t, ok := e.trackers.Get(executionID)
	if !ok {
		return false
	}
	return t.RequestStop()
}

// Progress returns the in-memory snapshot of a live run.
func (e *Engine) Progress(executionID string) (Snapshot, bool) {
	t, ok := e.trackers.Get(executionID)
	if !ok {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}

// Subscribe attaches a progress listener to a live run.
func (e *Engine) Subscribe(executionID string) (<-chan Snapshot, func(), bool) {
	t, ok := e.trackers.Get(executionID)
	if !ok {
		return nil, nil, false
	}
	ch, cancel := t.Subscribe()
	return ch, cancel, true
}

// tableOutcome is the per-table result collected by a run.
type tableOutcome struct {
	Table       string
	Strategy    string
	Transferred int64
	Skipped     int64
	DataSize    int64
	Err         error
}

// RunJob executes one job synchronously and returns the finalized execution.
// At most one execution per job is live at a time; a second request fails
// with ErrJobAlreadyRunning. Run failures are reported on the execution row,
// so the error return covers only pre-flight problems.
func (e *Engine) RunJob(ctx context.Context, jobID string) (*models.Execution, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	acquired, err := e.jobs.TryAcquireRunLock(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrJobAlreadyRunning
	}
	defer func() {
		if err := e.jobs.ReleaseRunLock(context.WithoutCancel(ctx), jobID); err != nil {
			e.logger.Error().Err(err).Str("job_id", jobID).Msg("releasing run lock")
		}
	}()

	now := time.Now().UTC()
	exec := &models.Execution{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Status:    models.ExecutionRunning,
		StartTime: now,
	}
	if err := e.execs.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if err := e.execs.CreateTaskStatus(ctx, &models.TaskStatus{
		ID:          uuid.NewString(),
		JobID:       jobID,
		ExecutionID: exec.ID,
		Status:      models.TaskRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, err
	}

	tracker := NewRunTracker(exec.ID, jobID)
	e.trackers.Register(tracker)
	defer e.trackers.Remove(exec.ID)
	defer tracker.Close()

	stopPersist := e.persistProgress(ctx, tracker)
	defer stopPersist()

	stopWatch := e.watchCancellation(ctx, tracker)
	defer stopWatch()

	log := e.logger.With().Str("job_id", jobID).Str("execution_id", exec.ID).Logger()
	log.Info().Str("job", job.Name).Str("mode", string(job.SyncMode)).Msg("sync run started")

	outcomes, runErr := e.runTables(ctx, job, tracker, log)
	e.finalize(ctx, job, exec, tracker, outcomes, runErr, log)
	return exec, nil
}

// runTables opens both pools and drives every active target table. A table
// failure is isolated; a connection failure or cancellation ends the loop.
func (e *Engine) runTables(ctx context.Context, job *models.SyncJob, tracker *RunTracker, log zerolog.Logger) ([]tableOutcome, error) {
	src, err := e.openSide(ctx, job.SourceConnectionID, "source")
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst, err := e.openSide(ctx, job.DestinationConnectionID, "destination")
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	var tables []models.TargetTable
	for _, t := range job.TargetTables {
		if t.IsActive {
			tables = append(tables, t)
		}
	}
	tracker.SetTotals(len(tables))

	var outcomes []tableOutcome
	var done int
	for _, table := range tables {
		if tracker.CancellationRequested() {
			return outcomes, ErrCancellationRequested
		}
		tracker.SetStage("syncing " + table.QualifiedName())

		out := e.runTable(ctx, *job, table, src, dst, tracker, log)
		outcomes = append(outcomes, out)
		if out.Err == nil {
			done++
			tracker.TableCompleted(done)
		}

		if errors.Is(out.Err, ErrCancellationRequested) {
			return outcomes, ErrCancellationRequested
		}
		if out.Err != nil {
			log.Error().Err(out.Err).Str("table", out.Table).Msg("table sync failed")
			e.appendLog(ctx, tracker.ExecutionID(), fmt.Sprintf("table %s failed: %v", out.Table, out.Err))
			continue
		}
		e.appendLog(ctx, tracker.ExecutionID(), fmt.Sprintf(
			"table %s: %d rows via %s strategy (%d skipped)",
			out.Table, out.Transferred, out.Strategy, out.Skipped))
	}
	return outcomes, nil
}

func (e *Engine) openSide(ctx context.Context, connectionID, role string) (*sql.DB, error) {
	conn, err := e.conns.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, &ConnectionError{Role: role, Err: err}
	}
	db, err := e.open(ctx, conn.DSN())
	if err != nil {
		return nil, &ConnectionError{Role: role, Err: err}
	}
	return db, nil
}

// runTable syncs one table: resolve the selection, pick a strategy, clear the
// destination when required, transfer, then persist the watermark only after
// the table fully succeeded.
func (e *Engine) runTable(ctx context.Context, job models.SyncJob, table models.TargetTable, src, dst *sql.DB, tracker *RunTracker, log zerolog.Logger) tableOutcome {
	out := tableOutcome{Table: table.QualifiedName()}

	query, err := buildSelectQuery(job, table)
	if err != nil {
		out.Err = err
		return out
	}

	cols, err := tableColumns(ctx, dst, table.SchemaName, table.TableName)
	if err != nil {
		out.Err = err
		return out
	}
	pkCols, err := primaryKeyColumns(ctx, dst, table.SchemaName, table.TableName)
	if err != nil {
		out.Err = err
		return out
	}
	action := ResolveConflict(job.ConflictStrategy)
	if action == ActionReplaceRow && len(pkCols) == 0 {
		log.Warn().Str("table", out.Table).Msg("replace strategy without a primary key, degrading to ignore")
	}

	structured := hasStructuredColumns(cols)
	var estRows int64
	mode := job.TransferMode
	if mode == "" || mode == models.TransferAuto {
		if estRows, err = countRows(ctx, src, query); err != nil {
			out.Err = err
			return out
		}
	}

	sel := chooseStrategy(e.cfg, mode, job.ConflictStrategy, estRows, structured)
	out.Strategy = sel.Strategy.Name()
	log.Debug().Str("table", out.Table).Str("strategy", out.Strategy).Str("reason", sel.Reason).Msg("strategy selected")

	if needsTruncate(job, table) {
		if err := truncateTable(ctx, dst, table.SchemaName, table.TableName); err != nil {
			out.Err = err
			return out
		}
	}

	req := transferRequest{
		Table:     table,
		Query:     query,
		Columns:   cols,
		PKCols:    pkCols,
		Action:    action,
		BatchSize: batchSizeFor(e.cfg, sel.Strategy),
		Tracker:   tracker,
		Watermark: newWatermarkTracker(query.WatermarkField),
	}

	res, err := sel.Strategy.Run(ctx, src, dst, req)
	out.Transferred, out.Skipped, out.DataSize = res.Transferred, res.Skipped, res.DataSize

	var bulkErr *BulkLoadError
	if errors.As(err, &bulkErr) && e.cfg.EnableBulkFallback {
		log.Warn().Err(err).Str("table", out.Table).Msg("bulk load failed, retrying with row strategy")
		// The row rerun rescans everything, so it owns the watermark fold.
		req.Watermark = newWatermarkTracker(query.WatermarkField)
		res, err = e.fallbackToRow(ctx, job, table, src, dst, req)
		out.Strategy = "bulk->row"
		out.Transferred, out.Skipped, out.DataSize = res.Transferred, res.Skipped, res.DataSize
	}
	if err != nil {
		// The watermark is untouched on any failure, cancellation included:
		// committed batches are simply re-read on the next run.
		out.Err = err
		return out
	}

	e.persistWatermark(ctx, table, req.Watermark, log)
	return out
}

// fallbackToRow reruns a table through the row strategy after a bulk failure.
// The bulk path may have committed earlier batches, so an "error" conflict
// strategy is relaxed to ignore: re-sent rows must not read as collisions.
func (e *Engine) fallbackToRow(ctx context.Context, job models.SyncJob, table models.TargetTable, src, dst *sql.DB, req transferRequest) (transferResult, error) {
	if needsTruncate(job, table) {
		if err := truncateTable(ctx, dst, table.SchemaName, table.TableName); err != nil {
			return transferResult{}, err
		}
	} else if req.Action == ActionAbort {
		req.Action = ActionIgnoreRow
	}
	req.BatchSize = e.cfg.RowBatchSize
	return rowStrategy{}.Run(ctx, src, dst, req)
}

func (e *Engine) persistWatermark(ctx context.Context, table models.TargetTable, wm *watermarkTracker, log zerolog.Logger) {
	value, ok := wm.Value()
	if !ok {
		return
	}
	if err := e.jobs.UpdateTableWatermark(ctx, table.ID, value); err != nil {
		log.Error().Err(err).Str("table", table.QualifiedName()).Msg("persisting watermark")
		return
	}
	log.Debug().Str("table", table.QualifiedName()).Str("watermark", value).Msg("watermark advanced")
}

// finalize settles the execution row, the task-status row and the job's
// last-run marker from the collected outcomes.
func (e *Engine) finalize(ctx context.Context, job *models.SyncJob, exec *models.Execution, tracker *RunTracker, outcomes []tableOutcome, runErr error, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)

	var transferred, dataSize int64
	var processed int
	var failures []string
	for _, out := range outcomes {
		transferred += out.Transferred
		dataSize += out.DataSize
		if errors.Is(out.Err, ErrCancellationRequested) {
			continue
		}
		if out.Err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", out.Table, out.Err))
			continue
		}
		processed++
	}

	end := time.Now().UTC()
	duration := int64(end.Sub(exec.StartTime).Seconds())
	exec.EndTime = &end
	exec.DurationSeconds = &duration
	exec.TablesProcessed = processed
	exec.RecordsTransferred = transferred
	exec.DataSize = dataSize

	switch {
	case errors.Is(runErr, ErrCancellationRequested):
		exec.Status = models.ExecutionCancelled
		tracker.MarkStopped()
		msg := "cancelled by user request"
		exec.ErrorMessage = &msg
	case runErr != nil:
		exec.Status = models.ExecutionFailed
		tracker.MarkFailed()
		msg := runErr.Error()
		exec.ErrorMessage = &msg
	case len(outcomes) > 0 && processed == 0:
		exec.Status = models.ExecutionFailed
		tracker.MarkFailed()
		msg := strings.Join(failures, "; ")
		exec.ErrorMessage = &msg
	default:
		exec.Status = models.ExecutionSuccess
		tracker.MarkCompleted()
		if len(failures) > 0 {
			msg := strings.Join(failures, "; ")
			exec.ErrorMessage = &msg
		}
	}

	if err := e.execs.FinalizeExecution(ctx, exec); err != nil {
		log.Error().Err(err).Msg("finalizing execution")
	}
	snap := tracker.Snapshot()
	if err := e.execs.UpdateTaskStatus(ctx, exec.ID, snap.Status, snap.Stage, snap.Percentage); err != nil {
		log.Error().Err(err).Msg("finalizing task status")
	}
	if exec.Status == models.ExecutionSuccess || exec.Status == models.ExecutionCancelled {
		if err := e.jobs.SetLastRunAt(ctx, job.ID, end); err != nil {
			log.Error().Err(err).Msg("updating last run timestamp")
		}
	}

	log.Info().
		Str("status", string(exec.Status)).
		Int("tables", processed).
		Int64("records", transferred).
		Int64("duration_seconds", duration).
		Msg("sync run finished")
}

// persistProgress samples the tracker's update stream and writes every Nth
// snapshot to the task-status row so pollers on other processes see movement.
func (e *Engine) persistProgress(ctx context.Context, tracker *RunTracker) func() {
	ch, cancel := tracker.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.WithoutCancel(ctx)
		var n int
		for snap := range ch {
			n++
			if n%e.cfg.ProgressInterval != 0 {
				continue
			}
			if err := e.execs.UpdateTaskStatus(ctx, snap.ExecutionID, snap.Status, snap.Stage, snap.Percentage); err != nil {
				e.logger.Warn().Err(err).Msg("persisting progress snapshot")
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// watchCancellation polls the persisted is_cancellation_requested flag so a
// cancel issued through another process's API still stops this run.
func (e *Engine) watchCancellation(ctx context.Context, tracker *RunTracker) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ctx := context.WithoutCancel(ctx)
		ticker := time.NewTicker(e.cancelPollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if tracker.CancellationRequested() {
					return
				}
				requested, err := e.execs.IsCancellationRequested(ctx, tracker.ExecutionID())
				if err != nil {
					e.logger.Warn().Err(err).Msg("polling cancellation flag")
					continue
				}
				if requested {
					tracker.RequestStop()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (e *Engine) appendLog(ctx context.Context, executionID, line string) {
	if err := e.execs.AppendLog(ctx, executionID, line); err != nil {
		e.logger.Warn().Err(err).Msg("appending execution log")
	}
}
