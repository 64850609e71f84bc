package models

import "time"

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Execution is one end-to-end run of a job. Immutable once finalized, except
// for operator-driven cleanup.
type Execution struct {
	ID                 string          `json:"id" db:"id"`
	JobID              string          `json:"job_id" db:"job_id"`
	Status             ExecutionStatus `json:"status" db:"status"`
	StartTime          time.Time       `json:"start_time" db:"start_time"`
	EndTime            *time.Time      `json:"end_time" db:"end_time"`
	DurationSeconds    *int64          `json:"duration_seconds" db:"duration_seconds"`
	TablesProcessed    int             `json:"tables_processed" db:"tables_processed"`
	RecordsTransferred int64           `json:"records_transferred" db:"records_transferred"`
	DataSize           int64           `json:"data_size" db:"data_size"`
	ErrorMessage       *string         `json:"error_message" db:"error_message"`
	LogDetails         *string         `json:"log_details" db:"log_details"`
}

// TaskControlStatus is the fine-grained control state polled by observers,
// kept separate from the execution log so cancellation checks stay cheap.
type TaskControlStatus string

const (
	TaskRunning       TaskControlStatus = "running"
	TaskStopRequested TaskControlStatus = "stop_requested"
	TaskStopped       TaskControlStatus = "stopped"
	TaskCompleted     TaskControlStatus = "completed"
	TaskFailed        TaskControlStatus = "failed"
)

type TaskStatus struct {
	ID                      string            `json:"id" db:"id"`
	JobID                   string            `json:"job_id" db:"job_id"`
	ExecutionID             string            `json:"execution_id" db:"execution_id"`
	Status                  TaskControlStatus `json:"status" db:"status"`
	IsCancellationRequested bool              `json:"is_cancellation_requested" db:"is_cancellation_requested"`
	CurrentStage            string            `json:"current_stage" db:"current_stage"`
	ProgressPercentage      int               `json:"progress_percentage" db:"progress_percentage"`
	CreatedAt               time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at" db:"updated_at"`
}

// ExecutionStatDay holds counts for a single day.
type ExecutionStatDay struct {
	Day       time.Time `json:"day" db:"day"`
	Succeeded int       `json:"succeeded" db:"succeeded"`
	Failed    int       `json:"failed" db:"failed"`
	Cancelled int       `json:"cancelled" db:"cancelled"`
	Running   int       `json:"running" db:"running"`
}

// ExecutionStat is the aggregated stats over a period, plus per-day details.
type ExecutionStat struct {
	Total       int                `json:"total" db:"total"`
	Succeeded   int                `json:"succeeded" db:"succeeded"`
	Failed      int                `json:"failed" db:"failed"`
	Cancelled   int                `json:"cancelled" db:"cancelled"`
	Running     int                `json:"running" db:"running"`
	SuccessRate float64            `json:"success_rate" db:"success_rate"`
	TotalJobs   int                `json:"total_jobs" db:"total_jobs"`
	PerDay      []ExecutionStatDay `json:"per_day" db:"per_day"`
}
