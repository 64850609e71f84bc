package models

import "time"

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

type ConflictStrategy string

const (
	ConflictError   ConflictStrategy = "error"   // abort the table on the first collision
	ConflictSkip    ConflictStrategy = "skip"    // keep the destination row, count the skip
	ConflictReplace ConflictStrategy = "replace" // upsert keyed on the primary key
	ConflictIgnore  ConflictStrategy = "ignore"  // ON CONFLICT DO NOTHING
)

type ExecutionMode string

const (
	ExecutionModeScheduled ExecutionMode = "scheduled"
	ExecutionModeImmediate ExecutionMode = "immediate"
)

// TransferMode is the operator override for per-table strategy selection.
type TransferMode string

const (
	TransferAuto TransferMode = "auto"
	TransferBulk TransferMode = "bulk"
	TransferRow  TransferMode = "row"
)

type JobStatus string

const (
	JobStatusActive  JobStatus = "active"
	JobStatusPaused  JobStatus = "paused"
	JobStatusRunning JobStatus = "running"
)

type IncrementalStrategy string

const (
	IncrementalNone      IncrementalStrategy = "none"
	IncrementalAutoID    IncrementalStrategy = "auto_id"
	IncrementalTimestamp IncrementalStrategy = "auto_timestamp"
	IncrementalCustom    IncrementalStrategy = "custom_condition"
)

type SyncJob struct {
	ID                      string           `json:"id" db:"id"`
	Name                    string           `json:"name" db:"name"`
	Description             string           `json:"description" db:"description"`
	SourceConnectionID      string           `json:"source_connection_id" db:"source_connection_id"`
	DestinationConnectionID string           `json:"destination_connection_id" db:"destination_connection_id"`
	SyncMode                SyncMode         `json:"sync_mode" db:"sync_mode"`
	ConflictStrategy        ConflictStrategy `json:"conflict_strategy" db:"conflict_strategy"`
	TransferMode            TransferMode     `json:"transfer_mode" db:"transfer_mode"`
	WhereCondition          string           `json:"where_condition" db:"where_condition"`
	ExecutionMode           ExecutionMode    `json:"execution_mode" db:"execution_mode"`
	CronExpression          string           `json:"cron_expression" db:"cron_expression"`
	Timezone                string           `json:"timezone" db:"timezone"`
	Status                  JobStatus        `json:"status" db:"status"`
	IsRunning               bool             `json:"is_running" db:"is_running"`
	CreatedAt               time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at" db:"updated_at"`
	LastRunAt               *time.Time       `json:"last_run_at" db:"last_run_at"`

	TargetTables []TargetTable `json:"target_tables"`
}

// TargetTable is one schema-qualified table inside a job, carrying its own
// incremental policy and watermark.
type TargetTable struct {
	ID                  string              `json:"id" db:"id"`
	JobID               string              `json:"job_id" db:"job_id"`
	SchemaName          string              `json:"schema_name" db:"schema_name"`
	TableName           string              `json:"table_name" db:"table_name"`
	IsActive            bool                `json:"is_active" db:"is_active"`
	IncrementalStrategy IncrementalStrategy `json:"incremental_strategy" db:"incremental_strategy"`
	IncrementalField    string              `json:"incremental_field" db:"incremental_field"`
	CustomCondition     string              `json:"custom_condition" db:"custom_condition"`
	LastSyncValue       *string             `json:"last_sync_value" db:"last_sync_value"`
	Position            int                 `json:"position" db:"position"`
	CreatedAt           time.Time           `json:"created_at" db:"created_at"`
}

// QualifiedName returns the schema-qualified table name for logging.
func (t TargetTable) QualifiedName() string {
	return t.SchemaName + "." + t.TableName
}
