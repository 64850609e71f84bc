package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync-api/internal/models"
)

func stubSourceRows() *stubDB {
	return &stubDB{
		queryCols: []string{"id", "name"},
		queryRows: [][]driver.Value{
			{int64(1), "alpha"},
			{int64(2), "beta"},
			{int64(3), "gamma"},
		},
	}
}

func stubDest(existing map[int64][]driver.Value) *stubDB {
	return &stubDB{destCols: 2, table: existing}
}

func rowRequest(action ConflictAction, batchSize int) transferRequest {
	return transferRequest{
		Table: models.TargetTable{SchemaName: "public", TableName: "orders"},
		Query: selectQuery{SQL: `SELECT "id", "name" FROM "public"."orders"`},
		Columns: []columnInfo{
			{Name: "id", DataType: "bigint", UDTName: "int8"},
			{Name: "name", DataType: "text", UDTName: "text"},
		},
		PKCols:    []string{"id"},
		Action:    action,
		BatchSize: batchSize,
		Watermark: newWatermarkTracker("id"),
	}
}

func TestRowStrategyErrorSurfacesConflict(t *testing.T) {
	src := stubSourceRows()
	dst := stubDest(map[int64][]driver.Value{2: {int64(2), "keep"}})

	_, err := rowStrategy{}.Run(context.Background(), src.DB(), dst.DB(), rowRequest(ActionAbort, 10))

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "public.orders", conflict.Table)
}

func TestRowStrategySkipReplaysRowwise(t *testing.T) {
	src := stubSourceRows()
	dst := stubDest(map[int64][]driver.Value{2: {int64(2), "keep"}})

	req := rowRequest(ActionSkipRow, 10)
	res, err := rowStrategy{}.Run(context.Background(), src.DB(), dst.DB(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Transferred)
	assert.Equal(t, int64(1), res.Skipped)

	// The colliding destination row survives; the rest of the batch lands.
	row, ok := dst.row(2)
	require.True(t, ok)
	assert.Equal(t, "keep", row[1])
	_, ok = dst.row(1)
	assert.True(t, ok)
	_, ok = dst.row(3)
	assert.True(t, ok)

	v, ok := req.Watermark.Value()
	require.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestRowStrategyIgnoreCountsSkipped(t *testing.T) {
	src := stubSourceRows()
	dst := stubDest(map[int64][]driver.Value{2: {int64(2), "keep"}})

	res, err := rowStrategy{}.Run(context.Background(), src.DB(), dst.DB(), rowRequest(ActionIgnoreRow, 10))
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Transferred)
	assert.Equal(t, int64(1), res.Skipped)
	row, _ := dst.row(2)
	assert.Equal(t, "keep", row[1])
}

func TestRowStrategyReplaceUpserts(t *testing.T) {
	src := stubSourceRows()
	dst := stubDest(map[int64][]driver.Value{2: {int64(2), "old"}})

	res, err := rowStrategy{}.Run(context.Background(), src.DB(), dst.DB(), rowRequest(ActionReplaceRow, 10))
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Transferred)
	assert.Equal(t, int64(0), res.Skipped)
	row, ok := dst.row(2)
	require.True(t, ok)
	assert.Equal(t, "beta", row[1])
}

func TestRowStrategyHonorsStopBetweenBatches(t *testing.T) {
	src := stubSourceRows()
	dst := stubDest(nil)
	tracker := NewRunTracker("exec-1", "job-1")
	dst.onExec = func(stmt string) {
		if strings.HasPrefix(stmt, "INSERT") {
			tracker.RequestStop()
		}
	}

	req := rowRequest(ActionAbort, 1)
	req.Tracker = tracker
	res, err := rowStrategy{}.Run(context.Background(), src.DB(), dst.DB(), req)

	assert.ErrorIs(t, err, ErrCancellationRequested)
	assert.Equal(t, int64(1), res.Transferred)
}

func TestRunTableCancellationLeavesWatermarkUntouched(t *testing.T) {
	jobs := &fakeJobStore{}
	e := New(Config{RowBatchSize: 1}, jobs, &fakeExecStore{}, testConns(), zerolog.Nop())

	tracker := NewRunTracker("exec-1", "job-1")
	src := stubSourceRows()
	dst := stubDest(nil)
	dst.onExec = func(stmt string) {
		if strings.HasPrefix(stmt, "INSERT") {
			tracker.RequestStop()
		}
	}

	job := *testJob()
	out := e.runTable(context.Background(), job, job.TargetTables[0], src.DB(), dst.DB(), tracker, zerolog.Nop())

	require.ErrorIs(t, out.Err, ErrCancellationRequested)
	assert.Equal(t, int64(1), out.Transferred)
	// Committed batches are re-read on the next run instead of advancing
	// last_sync_value past uncommitted rows.
	assert.Empty(t, jobs.watermarks)
}

func TestRunTableSuccessPersistsWatermark(t *testing.T) {
	jobs := &fakeJobStore{}
	e := New(Config{RowBatchSize: 2}, jobs, &fakeExecStore{}, testConns(), zerolog.Nop())

	tracker := NewRunTracker("exec-1", "job-1")
	job := *testJob()
	out := e.runTable(context.Background(), job, job.TargetTables[0], stubSourceRows().DB(), stubDest(nil).DB(), tracker, zerolog.Nop())

	require.NoError(t, out.Err)
	assert.Equal(t, int64(3), out.Transferred)
	assert.Equal(t, "3", jobs.watermarks["t1"])
}

func TestRunTablesFailedTableDoesNotAdvanceProgress(t *testing.T) {
	job := testJob()
	job.TargetTables = append(job.TargetTables, models.TargetTable{
		ID: "t2", SchemaName: "public", TableName: "ghosts", IsActive: true,
		IncrementalStrategy: models.IncrementalAutoID, IncrementalField: "id",
	})
	jobs := &fakeJobStore{job: job}
	e := New(Config{RowBatchSize: 2}, jobs, &fakeExecStore{}, testConns(), zerolog.Nop())

	src := stubSourceRows()
	dst := stubDest(nil)
	dst.noMetaFor = "ghosts"
	e.SetOpenFunc(func(ctx context.Context, dsn string) (*sql.DB, error) {
		if strings.Contains(dsn, "/a?") {
			return src.DB(), nil
		}
		return dst.DB(), nil
	})

	tracker := NewRunTracker("exec-1", "job-1")
	outcomes, err := e.runTables(context.Background(), job, tracker, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)

	// Only the table that actually synced advances the progress counters.
	snap := tracker.Snapshot()
	assert.Equal(t, 1, snap.TablesCompleted)
	assert.Equal(t, 50, snap.Percentage)
}
