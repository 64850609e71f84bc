package engine

import (
	"context"
	"database/sql"

	"github.com/driftsync/driftsync-api/internal/models"
)

// transferRequest is everything a strategy needs for one table.
type transferRequest struct {
	Table     models.TargetTable
	Query     selectQuery
	Columns   []columnInfo
	PKCols    []string
	Action    ConflictAction
	BatchSize int
	Tracker   *RunTracker
	Watermark *watermarkTracker
}

// transferResult counts what one strategy run actually moved. On
// ErrCancellationRequested the counts cover the batches committed before the
// stop; they feed the execution summary only, never the watermark.
type transferResult struct {
	Transferred int64
	Skipped     int64
	DataSize    int64
}

// transferStrategy moves the selected rows of one table from source to
// destination. Implementations commit batch by batch and honor the tracker's
// cancellation flag between batches.
type transferStrategy interface {
	Name() string
	Run(ctx context.Context, src, dst *sql.DB, req transferRequest) (transferResult, error)
}

func columnNames(cols []columnInfo) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// scanBatch reads up to limit rows from rows into normalized value slices,
// feeding the watermark fold and the data-size counter as it goes.
func scanBatch(rows *sql.Rows, cols []columnInfo, limit int, req transferRequest, res *transferResult) ([][]interface{}, error) {
	wmIdx := -1
	if req.Watermark != nil {
		for i, c := range cols {
			if c.Name == req.Watermark.field {
				wmIdx = i
				break
			}
		}
	}

	batch := make([][]interface{}, 0, limit)
	for len(batch) < limit && rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		vals := make([]interface{}, len(cols))
		for i, v := range raw {
			vals[i] = normalizeValue(v, cols[i])
			res.DataSize += approxValueSize(vals[i])
		}
		if wmIdx >= 0 {
			req.Watermark.Observe(raw[wmIdx])
		}
		batch = append(batch, vals)
	}
	return batch, rows.Err()
}
