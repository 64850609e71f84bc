package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync-api/internal/models"
)

func strPtr(s string) *string { return &s }

func table(strategy models.IncrementalStrategy) models.TargetTable {
	return models.TargetTable{
		ID:                  "t1",
		SchemaName:          "public",
		TableName:           "orders",
		IsActive:            true,
		IncrementalStrategy: strategy,
	}
}

func TestBuildSelectQueryFullMode(t *testing.T) {
	job := models.SyncJob{SyncMode: models.SyncModeFull}
	tbl := table(models.IncrementalAutoID)
	tbl.IncrementalField = "id"
	tbl.LastSyncValue = strPtr("42")

	q, err := buildSelectQuery(job, tbl)
	require.NoError(t, err)

	// Full mode ignores the incremental strategy entirely.
	assert.Equal(t, `SELECT * FROM "public"."orders"`, q.SQL)
	assert.Empty(t, q.Args)
	assert.Empty(t, q.WatermarkField)
}

func TestBuildSelectQueryGlobalPredicate(t *testing.T) {
	job := models.SyncJob{SyncMode: models.SyncModeFull, WhereCondition: "region = 'eu'"}

	q, err := buildSelectQuery(job, table(models.IncrementalNone))
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."orders" WHERE (region = 'eu')`, q.SQL)
}

func TestBuildSelectQueryAutoIDFirstRun(t *testing.T) {
	job := models.SyncJob{SyncMode: models.SyncModeIncremental}
	tbl := table(models.IncrementalAutoID)
	tbl.IncrementalField = "id"

	q, err := buildSelectQuery(job, tbl)
	require.NoError(t, err)

	// No stored watermark: unbounded scan, still ordered for the fold.
	assert.Equal(t, `SELECT * FROM "public"."orders" ORDER BY "id"`, q.SQL)
	assert.Empty(t, q.Args)
	assert.Equal(t, "id", q.WatermarkField)
}

func TestBuildSelectQueryAutoIDWithWatermark(t *testing.T) {
	job := models.SyncJob{SyncMode: models.SyncModeIncremental}
	tbl := table(models.IncrementalAutoID)
	tbl.IncrementalField = "id"
	tbl.LastSyncValue = strPtr("42")

	q, err := buildSelectQuery(job, tbl)
	require.NoError(t, err)

	// Strictly greater than: watermark rows are never re-read.
	assert.Equal(t, `SELECT * FROM "public"."orders" WHERE "id" > $1 ORDER BY "id"`, q.SQL)
	assert.Equal(t, []interface{}{"42"}, q.Args)
}

func TestBuildSelectQueryTimestampWithGlobalPredicate(t *testing.T) {
	job := models.SyncJob{SyncMode: models.SyncModeIncremental, WhereCondition: "active"}
	tbl := table(models.IncrementalTimestamp)
	tbl.IncrementalField = "updated_at"
	tbl.LastSyncValue = strPtr("2026-01-02T03:04:05Z")

	q, err := buildSelectQuery(job, tbl)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."orders" WHERE (active) AND "updated_at" > $1 ORDER BY "updated_at"`, q.SQL)
	assert.Equal(t, "updated_at", q.WatermarkField)
}

func TestBuildSelectQueryCustomCondition(t *testing.T) {
	job := models.SyncJob{SyncMode: models.SyncModeIncremental}
	tbl := table(models.IncrementalCustom)
	tbl.CustomCondition = "updated_at > NOW() - INTERVAL '1 day'"

	q, err := buildSelectQuery(job, tbl)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."orders" WHERE (updated_at > NOW() - INTERVAL '1 day')`, q.SQL)
	// Custom conditions track no watermark.
	assert.Empty(t, q.WatermarkField)
}

func TestBuildSelectQueryValidation(t *testing.T) {
	job := models.SyncJob{SyncMode: models.SyncModeIncremental}

	var cfgErr *ConfigurationError

	_, err := buildSelectQuery(job, table(models.IncrementalAutoID))
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "public.orders")

	_, err = buildSelectQuery(job, table(models.IncrementalCustom))
	require.ErrorAs(t, err, &cfgErr)

	_, err = buildSelectQuery(job, table(models.IncrementalStrategy("bogus")))
	require.ErrorAs(t, err, &cfgErr)
}

func TestBuildSelectQueryQuotesIdentifiers(t *testing.T) {
	job := models.SyncJob{SyncMode: models.SyncModeIncremental}
	tbl := models.TargetTable{
		SchemaName:          "odd schema",
		TableName:           `we"ird`,
		IncrementalStrategy: models.IncrementalAutoID,
		IncrementalField:    "id",
	}

	q, err := buildSelectQuery(job, tbl)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, `"odd schema"."we""ird"`)
}

func TestNeedsTruncate(t *testing.T) {
	full := models.SyncJob{SyncMode: models.SyncModeFull}
	incr := models.SyncJob{SyncMode: models.SyncModeIncremental}

	assert.True(t, needsTruncate(full, table(models.IncrementalAutoID)))
	assert.True(t, needsTruncate(incr, table(models.IncrementalNone)))
	assert.False(t, needsTruncate(incr, table(models.IncrementalAutoID)))
	assert.False(t, needsTruncate(incr, table(models.IncrementalCustom)))
}
