package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/driftsync/driftsync-api/internal/models"
)

type ExecutionRepository interface {
	CreateExecution(ctx context.Context, exec *models.Execution) error
	FinalizeExecution(ctx context.Context, exec *models.Execution) error
	AppendLog(ctx context.Context, executionID, line string) error
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	ListExecutions(ctx context.Context, jobID string, limit, offset int) ([]*models.Execution, error)
	ListExecutionStats(ctx context.Context, days int) (models.ExecutionStat, error)
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CreateTaskStatus(ctx context.Context, ts *models.TaskStatus) error
	UpdateTaskStatus(ctx context.Context, executionID string, status models.TaskControlStatus, stage string, progress int) error
	GetTaskStatus(ctx context.Context, executionID string) (*models.TaskStatus, error)
	RequestTaskCancellation(ctx context.Context, executionID string) error
	IsCancellationRequested(ctx context.Context, executionID string) (bool, error)
}

type executionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

const executionColumns = `id, job_id, status, start_time, end_time, duration_seconds,
	tables_processed, records_transferred, data_size, error_message, log_details`

func scanExecution(row interface{ Scan(...interface{}) error }) (*models.Execution, error) {
	exec := &models.Execution{}
	err := row.Scan(&exec.ID, &exec.JobID, &exec.Status, &exec.StartTime, &exec.EndTime,
		&exec.DurationSeconds, &exec.TablesProcessed, &exec.RecordsTransferred,
		&exec.DataSize, &exec.ErrorMessage, &exec.LogDetails)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (r *executionRepository) CreateExecution(ctx context.Context, exec *models.Execution) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_executions (id, job_id, status, start_time) VALUES ($1, $2, $3, $4)`,
		exec.ID, exec.JobID, exec.Status, exec.StartTime)
	return err
}

func (r *executionRepository) FinalizeExecution(ctx context.Context, exec *models.Execution) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE job_executions
		 SET status = $1, end_time = $2, duration_seconds = $3,
		     tables_processed = $4, records_transferred = $5, data_size = $6, error_message = $7
		 WHERE id = $8`,
		exec.Status, exec.EndTime, exec.DurationSeconds,
		exec.TablesProcessed, exec.RecordsTransferred, exec.DataSize, exec.ErrorMessage, exec.ID)
	return err
}

// AppendLog concatenates one line onto the execution's log column. Runs emit
// a handful of lines per table, so a text column beats a separate log table.
func (r *executionRepository) AppendLog(ctx context.Context, executionID, line string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE job_executions
		 SET log_details = COALESCE(log_details || E'\n', '') || $1
		 WHERE id = $2`, line, executionID)
	return err
}

func (r *executionRepository) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	exec, err := scanExecution(r.db.QueryRowContext(ctx,
		"SELECT "+executionColumns+" FROM job_executions WHERE id = $1", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return exec, nil
}

func (r *executionRepository) ListExecutions(ctx context.Context, jobID string, limit, offset int) ([]*models.Execution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := "SELECT " + executionColumns + " FROM job_executions"
	args := []interface{}{}
	if jobID != "" {
		query += " WHERE job_id = $1"
		args = append(args, jobID)
	}
	query += " ORDER BY start_time DESC"
	args = append(args, limit, offset)
	query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (r *executionRepository) ListExecutionStats(ctx context.Context, days int) (models.ExecutionStat, error) {
	if days <= 0 {
		days = 7
	}
	var stat models.ExecutionStat

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'success'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COUNT(*) FILTER (WHERE status = 'cancelled'),
		        COUNT(*) FILTER (WHERE status = 'running'),
		        COUNT(DISTINCT job_id)
		 FROM job_executions
		 WHERE start_time >= NOW() - ($1 || ' days')::interval`, days,
	).Scan(&stat.Total, &stat.Succeeded, &stat.Failed, &stat.Cancelled, &stat.Running, &stat.TotalJobs)
	if err != nil {
		return stat, err
	}
	if finished := stat.Succeeded + stat.Failed + stat.Cancelled; finished > 0 {
		stat.SuccessRate = float64(stat.Succeeded) / float64(finished) * 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT date_trunc('day', start_time) AS day,
		        COUNT(*) FILTER (WHERE status = 'success'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COUNT(*) FILTER (WHERE status = 'cancelled'),
		        COUNT(*) FILTER (WHERE status = 'running')
		 FROM job_executions
		 WHERE start_time >= NOW() - ($1 || ' days')::interval
		 GROUP BY day ORDER BY day`, days)
	if err != nil {
		return stat, err
	}
	defer rows.Close()

	for rows.Next() {
		var day models.ExecutionStatDay
		if err := rows.Scan(&day.Day, &day.Succeeded, &day.Failed, &day.Cancelled, &day.Running); err != nil {
			return stat, err
		}
		stat.PerDay = append(stat.PerDay, day)
	}
	return stat, rows.Err()
}

// DeleteExecutionsBefore removes finished executions older than the cutoff,
// keeping the history table from growing without bound.
func (r *executionRepository) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM job_executions WHERE start_time < $1 AND status <> 'running'", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *executionRepository) CreateTaskStatus(ctx context.Context, ts *models.TaskStatus) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_task_status (id, job_id, execution_id, status, current_stage, progress_percentage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ts.ID, ts.JobID, ts.ExecutionID, ts.Status, ts.CurrentStage, ts.ProgressPercentage, ts.CreatedAt, ts.UpdatedAt)
	return err
}

func (r *executionRepository) UpdateTaskStatus(ctx context.Context, executionID string, status models.TaskControlStatus, stage string, progress int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE job_task_status
		 SET status = $1, current_stage = $2, progress_percentage = $3, updated_at = NOW()
		 WHERE execution_id = $4`,
		status, stage, progress, executionID)
	return err
}

func (r *executionRepository) GetTaskStatus(ctx context.Context, executionID string) (*models.TaskStatus, error) {
	ts := &models.TaskStatus{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, job_id, execution_id, status, is_cancellation_requested, current_stage, progress_percentage, created_at, updated_at
		 FROM job_task_status WHERE execution_id = $1`, executionID,
	).Scan(&ts.ID, &ts.JobID, &ts.ExecutionID, &ts.Status, &ts.IsCancellationRequested,
		&ts.CurrentStage, &ts.ProgressPercentage, &ts.CreatedAt, &ts.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return ts, nil
}

// RequestTaskCancellation sets the persisted cancellation marker. The flag is
// monotonic: once true it is never written back to false.
func (r *executionRepository) RequestTaskCancellation(ctx context.Context, executionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE job_task_status
		 SET is_cancellation_requested = TRUE, status = 'stop_requested', updated_at = NOW()
		 WHERE execution_id = $1 AND status = 'running'`, executionID)
	return err
}

// IsCancellationRequested is polled by a live run so a cancel recorded by
// another process still reaches it.
func (r *executionRepository) IsCancellationRequested(ctx context.Context, executionID string) (bool, error) {
	var requested bool
	err := r.db.QueryRowContext(ctx,
		`SELECT is_cancellation_requested FROM job_task_status WHERE execution_id = $1`,
		executionID).Scan(&requested)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return requested, err
}
