package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driftsync/driftsync-api/internal/models"
)

func TestChooseStrategyAuto(t *testing.T) {
	cfg := Config{}.normalized()

	tests := []struct {
		name       string
		conflict   models.ConflictStrategy
		estRows    int64
		structured bool
		want       string
	}{
		{"small simple table", models.ConflictError, 10, false, "row"},
		{"large simple table", models.ConflictError, 200000, false, "bulk"},
		{"exactly at threshold", models.ConflictError, 100000, false, "bulk"},
		{"large but structured", models.ConflictError, 200000, true, "row"},
		{"large with skip conflicts", models.ConflictSkip, 200000, false, "row"},
		{"large with replace conflicts", models.ConflictReplace, 200000, false, "row"},
		{"large with ignore conflicts", models.ConflictIgnore, 200000, false, "row"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := chooseStrategy(cfg, models.TransferAuto, tt.conflict, tt.estRows, tt.structured)
			assert.Equal(t, tt.want, sel.Strategy.Name())
			assert.NotEmpty(t, sel.Reason)
		})
	}
}

func TestChooseStrategyForced(t *testing.T) {
	cfg := Config{}.normalized()

	sel := chooseStrategy(cfg, models.TransferBulk, models.ConflictError, 1, false)
	assert.Equal(t, "bulk", sel.Strategy.Name())

	sel = chooseStrategy(cfg, models.TransferRow, models.ConflictError, 10_000_000, false)
	assert.Equal(t, "row", sel.Strategy.Name())

	// Forced bulk degrades when COPY cannot express the table's needs.
	sel = chooseStrategy(cfg, models.TransferBulk, models.ConflictError, 1, true)
	assert.Equal(t, "row", sel.Strategy.Name())

	sel = chooseStrategy(cfg, models.TransferBulk, models.ConflictReplace, 1, false)
	assert.Equal(t, "row", sel.Strategy.Name())
}

func TestChooseStrategyEmptyModeUsesDefault(t *testing.T) {
	cfg := Config{DefaultTransferMode: models.TransferBulk}.normalized()

	sel := chooseStrategy(cfg, "", models.ConflictError, 1, false)
	assert.Equal(t, "bulk", sel.Strategy.Name())
}

func TestBatchSizeFor(t *testing.T) {
	cfg := Config{BulkBatchSize: 5000, RowBatchSize: 250}.normalized()

	assert.Equal(t, 5000, batchSizeFor(cfg, bulkStrategy{}))
	assert.Equal(t, 250, batchSizeFor(cfg, rowStrategy{}))
}
