package engine

import (
	"fmt"
	"strings"

	"github.com/driftsync/driftsync-api/internal/models"
	"github.com/lib/pq"
)

// selectQuery is the computed row selection for one table: a parameterized
// SELECT plus the field whose max forwarded value becomes the next watermark.
type selectQuery struct {
	SQL            string
	Args           []interface{}
	WatermarkField string // empty when no watermark is tracked for this table
}

func qualifiedName(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// buildSelectQuery resolves the incremental strategy of a target table into
// the predicate for this run.
//
// A full-mode job (or a table with strategy none) re-scans everything that
// matches the job's optional global predicate. auto_id and auto_timestamp
// bound the scan by the stored watermark using a strict ">": for timestamps
// this accepts a narrow race window around the prior watermark instant in
// exchange for never re-reading watermark rows. custom_condition is passed
// through opaquely and tracks no watermark.
func buildSelectQuery(job models.SyncJob, table models.TargetTable) (selectQuery, error) {
	base := "SELECT * FROM " + qualifiedName(table.SchemaName, table.TableName)
	var conds []string
	if job.WhereCondition != "" {
		conds = append(conds, "("+job.WhereCondition+")")
	}

	if job.SyncMode == models.SyncModeFull || table.IncrementalStrategy == models.IncrementalNone {
		return selectQuery{SQL: base + whereClause(conds)}, nil
	}

	switch table.IncrementalStrategy {
	case models.IncrementalCustom:
		if strings.TrimSpace(table.CustomCondition) == "" {
			return selectQuery{}, &ConfigurationError{
				Table:  table.QualifiedName(),
				Reason: "custom_condition strategy requires a condition",
			}
		}
		conds = append(conds, "("+table.CustomCondition+")")
		return selectQuery{SQL: base + whereClause(conds)}, nil

	case models.IncrementalAutoID, models.IncrementalTimestamp:
		if strings.TrimSpace(table.IncrementalField) == "" {
			return selectQuery{}, &ConfigurationError{
				Table:  table.QualifiedName(),
				Reason: fmt.Sprintf("%s strategy requires an incremental field", table.IncrementalStrategy),
			}
		}
		field := pq.QuoteIdentifier(table.IncrementalField)
		q := selectQuery{WatermarkField: table.IncrementalField}
		if table.LastSyncValue != nil && *table.LastSyncValue != "" {
			q.Args = append(q.Args, *table.LastSyncValue)
			conds = append(conds, fmt.Sprintf("%s > $%d", field, len(q.Args)))
		}
		q.SQL = base + whereClause(conds) + " ORDER BY " + field
		return q, nil

	default:
		return selectQuery{}, &ConfigurationError{
			Table:  table.QualifiedName(),
			Reason: fmt.Sprintf("unknown incremental strategy %q", table.IncrementalStrategy),
		}
	}
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// needsTruncate reports whether the destination table must be cleared before
// the transfer: full reloads and watermark-less tables always start empty so
// consecutive runs stay idempotent.
func needsTruncate(job models.SyncJob, table models.TargetTable) bool {
	return job.SyncMode == models.SyncModeFull || table.IncrementalStrategy == models.IncrementalNone
}
