package scheduler

import (
	"context"

	"github.com/rs/zerolog"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tc "go.temporal.io/sdk/client"

	"github.com/driftsync/driftsync-api/internal/models"
	"github.com/driftsync/driftsync-api/internal/repository"
	"github.com/driftsync/driftsync-api/internal/temporal"
	"github.com/driftsync/driftsync-api/internal/temporal/workflows"
)

// Scheduler keeps Temporal cron workflows in step with the jobs table: every
// active scheduled job owns exactly one cron workflow, keyed by job ID.
type Scheduler struct {
	client    tc.Client
	jobs      repository.JobRepository
	taskQueue string
	logger    zerolog.Logger
}

func New(client tc.Client, jobs repository.JobRepository, taskQueue string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		client:    client,
		jobs:      jobs,
		taskQueue: taskQueue,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

func scheduleWorkflowID(jobID string) string {
	return temporal.ScheduleWorkflowIDPrefix + jobID
}

// SyncAll registers a cron workflow for every active scheduled job. Run at
// startup; jobs whose workflow already exists are left alone.
func (s *Scheduler) SyncAll(ctx context.Context) error {
	jobs, err := s.jobs.ListScheduledJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.EnsureSchedule(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to register schedule")
		}
	}
	s.logger.Info().Int("jobs", len(jobs)).Msg("schedules synchronized")
	return nil
}

// EnsureSchedule starts (or restarts) the cron workflow for one job. The
// workflow ID is derived from the job ID, so an updated cron expression
// replaces the previous schedule instead of stacking a second one.
func (s *Scheduler) EnsureSchedule(ctx context.Context, job *models.SyncJob) error {
	if job.ExecutionMode != models.ExecutionModeScheduled || job.CronExpression == "" {
		return s.RemoveSchedule(ctx, job.ID)
	}
	if job.Status != models.JobStatusActive {
		return s.RemoveSchedule(ctx, job.ID)
	}

	// Terminate a stale schedule first so cron changes take effect.
	if err := s.RemoveSchedule(ctx, job.ID); err != nil {
		return err
	}

	opts := tc.StartWorkflowOptions{
		ID:                    scheduleWorkflowID(job.ID),
		TaskQueue:             s.taskQueue,
		CronSchedule:          job.CronExpression,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	_, err := s.client.ExecuteWorkflow(ctx, opts, workflows.SyncJobWorkflow, temporal.SyncParams{JobID: job.ID})
	if err != nil {
		if _, ok := err.(*serviceerror.WorkflowExecutionAlreadyStarted); ok {
			return nil
		}
		return err
	}
	s.logger.Info().Str("job_id", job.ID).Str("cron", job.CronExpression).Msg("schedule registered")
	return nil
}

// RemoveSchedule terminates the cron workflow of a job, if one exists.
func (s *Scheduler) RemoveSchedule(ctx context.Context, jobID string) error {
	err := s.client.TerminateWorkflow(ctx, scheduleWorkflowID(jobID), "", "schedule removed")
	if err != nil {
		if _, ok := err.(*serviceerror.NotFound); ok {
			return nil
		}
		return err
	}
	s.logger.Info().Str("job_id", jobID).Msg("schedule removed")
	return nil
}

// TriggerRun starts an immediate one-off run workflow for a job and returns
// the workflow ID.
func (s *Scheduler) TriggerRun(ctx context.Context, jobID string) (string, error) {
	opts := tc.StartWorkflowOptions{
		ID:                    temporal.SyncWorkflowIDPrefix + jobID,
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	run, err := s.client.ExecuteWorkflow(ctx, opts, workflows.SyncJobWorkflow, temporal.SyncParams{JobID: jobID})
	if err != nil {
		return "", err
	}
	return run.GetID(), nil
}
