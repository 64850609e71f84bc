package workflows

import (
	"github.com/driftsync/driftsync-api/internal/temporal"
	"github.com/driftsync/driftsync-api/internal/temporal/activities"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// SyncJobWorkflow drives one run of a sync job. The engine does its own
// locking, bookkeeping and finalization inside the activity, so the workflow
// is a thin shell whose value is durable scheduling and the cron trigger.
func SyncJobWorkflow(ctx workflow.Context, params temporal.SyncParams) (*temporal.SyncResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: temporal.DefaultRunTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			// A failed run must not be silently replayed: the engine already
			// delivers at-least-once per table and records the failure.
			MaximumAttempts: 1,
			NonRetryableErrorTypes: []string{
				activities.ErrTypeJobAlreadyRunning,
				activities.ErrTypeJobNotFound,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting sync job workflow", "JobID", params.JobID)

	// The actual implementation is on the worker; this is just a proxy.
	var a *activities.Activities

	var result temporal.SyncResult
	if err := workflow.ExecuteActivity(ctx, a.RunSyncJobActivity, params).Get(ctx, &result); err != nil {
		logger.Error("Sync job run failed.", "JobID", params.JobID, "error", err)
		return nil, err
	}

	logger.Info("Sync job workflow completed.",
		"JobID", params.JobID, "ExecutionID", result.ExecutionID, "Status", result.Status)
	return &result, nil
}
