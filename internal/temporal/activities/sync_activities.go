package activities

import (
	"context"

	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/driftsync/driftsync-api/internal/engine"
	"github.com/driftsync/driftsync-api/internal/temporal"
)

// Application error types surfaced to the workflow's retry policy.
const (
	ErrTypeJobAlreadyRunning = "JobAlreadyRunning"
	ErrTypeJobNotFound       = "JobNotFound"
)

type Activities struct {
	Engine *engine.Engine
}

// RunSyncJobActivity executes one sync run in-process and reports the
// finalized execution back to the workflow.
func (a *Activities) RunSyncJobActivity(ctx context.Context, params temporal.SyncParams) (*temporal.SyncResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Running sync job", "jobID", params.JobID)

	exec, err := a.Engine.RunJob(ctx, params.JobID)
	if err != nil {
		switch err {
		case engine.ErrJobAlreadyRunning:
			// A cron tick that lands while the previous run is still going is
			// expected; the workflow treats it as non-retryable.
			return nil, sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeJobAlreadyRunning, err)
		case engine.ErrJobNotFound:
			return nil, sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeJobNotFound, err)
		}
		logger.Error("Sync run could not start", "error", err)
		return nil, err
	}

	result := &temporal.SyncResult{
		ExecutionID:        exec.ID,
		Status:             string(exec.Status),
		TablesProcessed:    exec.TablesProcessed,
		RecordsTransferred: exec.RecordsTransferred,
	}
	if exec.ErrorMessage != nil {
		result.ErrorMessage = *exec.ErrorMessage
	}
	return result, nil
}
