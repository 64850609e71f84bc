package engine

import (
	"fmt"

	"github.com/driftsync/driftsync-api/internal/models"
)

// selection is the outcome of strategy selection for one table, with the
// reason kept for the execution log.
type selection struct {
	Strategy transferStrategy
	Reason   string
}

// chooseStrategy decides the transfer path for one table. The decision is
// pure so it can be logged and tested without a database:
//
//   - a forced mode wins, except that bulk silently degrades to row when the
//     table carries structured columns or a non-error conflict strategy,
//     neither of which COPY can express;
//   - auto mode routes large simple tables to bulk and everything else to row.
func chooseStrategy(cfg Config, mode models.TransferMode, conflict models.ConflictStrategy, estRows int64, structured bool) selection {
	if mode == "" || mode == models.TransferAuto {
		mode = cfg.DefaultTransferMode
	}

	switch mode {
	case models.TransferBulk:
		if structured {
			return selection{rowStrategy{}, "bulk requested but structured columns require row transfer"}
		}
		if !bulkEligible(conflict) {
			return selection{rowStrategy{}, fmt.Sprintf("bulk requested but conflict strategy %q requires row transfer", conflict)}
		}
		return selection{bulkStrategy{}, "bulk transfer forced by configuration"}
	case models.TransferRow:
		return selection{rowStrategy{}, "row transfer forced by configuration"}
	}

	if structured {
		return selection{rowStrategy{}, "structured columns require row transfer"}
	}
	if !bulkEligible(conflict) {
		return selection{rowStrategy{}, fmt.Sprintf("conflict strategy %q requires row transfer", conflict)}
	}
	if estRows >= cfg.LargeTableThreshold {
		return selection{bulkStrategy{}, fmt.Sprintf("%d rows exceed the large-table threshold", estRows)}
	}
	return selection{rowStrategy{}, "table below the large-table threshold"}
}

func batchSizeFor(cfg Config, s transferStrategy) int {
	if _, ok := s.(bulkStrategy); ok {
		return cfg.BulkBatchSize
	}
	return cfg.RowBatchSize
}
