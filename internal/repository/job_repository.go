package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/driftsync/driftsync-api/internal/models"
)

type JobRepository interface {
	CreateJob(ctx context.Context, job *models.SyncJob) (*models.SyncJob, error)
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	ListJobs(ctx context.Context) ([]*models.SyncJob, error)
	ListScheduledJobs(ctx context.Context) ([]*models.SyncJob, error)
	UpdateJob(ctx context.Context, job *models.SyncJob) (*models.SyncJob, error)
	SetJobStatus(ctx context.Context, id string, status models.JobStatus) error
	DeleteJob(ctx context.Context, id string) error

	// Run coordination, used by the engine.
	TryAcquireRunLock(ctx context.Context, jobID string) (bool, error)
	ReleaseRunLock(ctx context.Context, jobID string) error
	UpdateTableWatermark(ctx context.Context, tableID, value string) error
	SetLastRunAt(ctx context.Context, jobID string, at time.Time) error
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, name, description, source_connection_id, destination_connection_id,
	sync_mode, conflict_strategy, transfer_mode, where_condition,
	execution_mode, cron_expression, timezone, status, is_running,
	created_at, updated_at, last_run_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.SyncJob, error) {
	job := &models.SyncJob{}
	err := row.Scan(&job.ID, &job.Name, &job.Description,
		&job.SourceConnectionID, &job.DestinationConnectionID,
		&job.SyncMode, &job.ConflictStrategy, &job.TransferMode, &job.WhereCondition,
		&job.ExecutionMode, &job.CronExpression, &job.Timezone, &job.Status, &job.IsRunning,
		&job.CreatedAt, &job.UpdatedAt, &job.LastRunAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) CreateJob(ctx context.Context, job *models.SyncJob) (*models.SyncJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO sync_jobs (name, description, source_connection_id, destination_connection_id,
			sync_mode, conflict_strategy, transfer_mode, where_condition,
			execution_mode, cron_expression, timezone, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at, updated_at`,
		job.Name, job.Description, job.SourceConnectionID, job.DestinationConnectionID,
		job.SyncMode, job.ConflictStrategy, job.TransferMode, job.WhereCondition,
		job.ExecutionMode, job.CronExpression, job.Timezone, job.Status,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := insertTargetTables(ctx, tx, job.ID, job.TargetTables); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetJob(ctx, job.ID)
}

func insertTargetTables(ctx context.Context, tx *sql.Tx, jobID string, tables []models.TargetTable) error {
	for i, t := range tables {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO job_target_tables (job_id, schema_name, table_name, is_active,
				incremental_strategy, incremental_field, custom_condition, last_sync_value, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			jobID, t.SchemaName, t.TableName, t.IsActive,
			t.IncrementalStrategy, t.IncrementalField, t.CustomCondition, t.LastSyncValue, i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *jobRepository) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM sync_jobs WHERE id = $1", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	if job.TargetTables, err = r.targetTables(ctx, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) targetTables(ctx context.Context, jobID string) ([]models.TargetTable, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, job_id, schema_name, table_name, is_active,
			incremental_strategy, incremental_field, custom_condition, last_sync_value, position, created_at
		 FROM job_target_tables WHERE job_id = $1 ORDER BY position`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []models.TargetTable
	for rows.Next() {
		var t models.TargetTable
		if err := rows.Scan(&t.ID, &t.JobID, &t.SchemaName, &t.TableName, &t.IsActive,
			&t.IncrementalStrategy, &t.IncrementalField, &t.CustomCondition,
			&t.LastSyncValue, &t.Position, &t.CreatedAt); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (r *jobRepository) listWhere(ctx context.Context, where string, args ...interface{}) ([]*models.SyncJob, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM sync_jobs "+where+" ORDER BY created_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if job.TargetTables, err = r.targetTables(ctx, job.ID); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (r *jobRepository) ListJobs(ctx context.Context) ([]*models.SyncJob, error) {
	return r.listWhere(ctx, "")
}

// ListScheduledJobs returns the active cron-driven jobs, the set the
// scheduler keeps registered with Temporal.
func (r *jobRepository) ListScheduledJobs(ctx context.Context) ([]*models.SyncJob, error) {
	return r.listWhere(ctx,
		"WHERE execution_mode = $1 AND status = $2 AND cron_expression <> ''",
		models.ExecutionModeScheduled, models.JobStatusActive)
}

func (r *jobRepository) UpdateJob(ctx context.Context, job *models.SyncJob) (*models.SyncJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sync_jobs SET name = $1, description = $2,
			source_connection_id = $3, destination_connection_id = $4,
			sync_mode = $5, conflict_strategy = $6, transfer_mode = $7, where_condition = $8,
			execution_mode = $9, cron_expression = $10, timezone = $11, status = $12, updated_at = NOW()
		 WHERE id = $13`,
		job.Name, job.Description, job.SourceConnectionID, job.DestinationConnectionID,
		job.SyncMode, job.ConflictStrategy, job.TransferMode, job.WhereCondition,
		job.ExecutionMode, job.CronExpression, job.Timezone, job.Status, job.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, sql.ErrNoRows
	}

	// Replacing the table list resets watermarks for tables that changed;
	// carrying them over across a redefinition would be wrong anyway.
	if _, err := tx.ExecContext(ctx, "DELETE FROM job_target_tables WHERE job_id = $1", job.ID); err != nil {
		return nil, err
	}
	if err := insertTargetTables(ctx, tx, job.ID, job.TargetTables); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetJob(ctx, job.ID)
}

func (r *jobRepository) SetJobStatus(ctx context.Context, id string, status models.JobStatus) error {
	_, err := r.db.ExecContext(ctx, "UPDATE sync_jobs SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	return err
}

func (r *jobRepository) DeleteJob(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM sync_jobs WHERE id = $1", id)
	return err
}

// TryAcquireRunLock flips is_running only when it is clear, so concurrent run
// requests collapse to a single winner.
func (r *jobRepository) TryAcquireRunLock(ctx context.Context, jobID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE sync_jobs SET is_running = TRUE, updated_at = NOW() WHERE id = $1 AND is_running = FALSE", jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *jobRepository) ReleaseRunLock(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sync_jobs SET is_running = FALSE, updated_at = NOW() WHERE id = $1", jobID)
	return err
}

func (r *jobRepository) UpdateTableWatermark(ctx context.Context, tableID, value string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE job_target_tables SET last_sync_value = $1 WHERE id = $2", value, tableID)
	return err
}

func (r *jobRepository) SetLastRunAt(ctx context.Context, jobID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sync_jobs SET last_run_at = $1, updated_at = NOW() WHERE id = $2", at, jobID)
	return err
}
