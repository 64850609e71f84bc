package engine

import "github.com/driftsync/driftsync-api/internal/models"

// Config carries the per-run tuning knobs. A copy is passed into every run so
// concurrent runs stay independent; nothing here is process-global.
type Config struct {
	// DefaultTransferMode applies when the job does not force bulk or row.
	DefaultTransferMode models.TransferMode `mapstructure:"default_transfer_mode"`

	// BulkBatchSize is the number of rows per COPY transaction.
	BulkBatchSize int `mapstructure:"bulk_batch_size"`

	// RowBatchSize is the number of rows per batched insert statement.
	RowBatchSize int `mapstructure:"row_batch_size"`

	// LargeTableThreshold is the estimated row count above which a table with
	// only simple column types is routed to the bulk strategy.
	LargeTableThreshold int64 `mapstructure:"large_table_threshold"`

	// EnableBulkFallback re-runs a table through the row strategy when the
	// bulk path fails. When false, a bulk failure is fatal for the table.
	EnableBulkFallback bool `mapstructure:"enable_bulk_fallback"`

	// ProgressInterval is the number of batches between persisted progress
	// updates. In-memory snapshots update every batch regardless.
	ProgressInterval int `mapstructure:"progress_interval"`
}

const (
	defaultBulkBatchSize       = 50000
	defaultRowBatchSize        = 1000
	defaultLargeTableThreshold = 100000
	defaultProgressInterval    = 10
)

func (c Config) normalized() Config {
	if c.DefaultTransferMode == "" {
		c.DefaultTransferMode = models.TransferAuto
	}
	if c.BulkBatchSize <= 0 {
		c.BulkBatchSize = defaultBulkBatchSize
	}
	if c.RowBatchSize <= 0 {
		c.RowBatchSize = defaultRowBatchSize
	}
	if c.LargeTableThreshold <= 0 {
		c.LargeTableThreshold = defaultLargeTableThreshold
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaultProgressInterval
	}
	return c
}
