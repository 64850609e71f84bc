package temporal

import "time"

// TaskQueueName is the name of the Temporal task queue used for DriftSync job workflows.
const TaskQueueName = "DRIFTSYNC_JOBS"

// SyncWorkflowIDPrefix is the prefix used for DriftSync job workflow IDs.
const SyncWorkflowIDPrefix = "driftsync-job-"

// ScheduleWorkflowIDPrefix is the prefix used for cron-scheduled job workflow IDs.
const ScheduleWorkflowIDPrefix = "driftsync-schedule-"

// DefaultRunTimeout bounds one sync run end to end. Large initial loads can
// run for hours, so this is deliberately generous.
const DefaultRunTimeout = 4 * time.Hour

// SyncParams defines the input for DriftSync job workflows.
type SyncParams struct {
	JobID string
}

// SyncResult summarizes a finished run for the workflow history.
type SyncResult struct {
	ExecutionID        string
	Status             string
	TablesProcessed    int
	RecordsTransferred int64
	ErrorMessage       string
}
