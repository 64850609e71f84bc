package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// maxStatementParams is the Postgres extended-protocol limit on bind
// parameters per statement; batched inserts are capped so a wide table never
// exceeds it.
const maxStatementParams = 65535

// rowStrategy moves rows through batched parameterized inserts, applying the
// conflict action per statement. Slower than COPY but able to express every
// conflict strategy and to carry structured column types.
type rowStrategy struct{}

func (rowStrategy) Name() string { return "row" }

func (rowStrategy) Run(ctx context.Context, src, dst *sql.DB, req transferRequest) (transferResult, error) {
	var res transferResult

	rows, err := src.QueryContext(ctx, req.Query.SQL, req.Query.Args...)
	if err != nil {
		return res, err
	}
	defer rows.Close()

	perStmt := req.BatchSize
	if limit := maxStatementParams / len(req.Columns); limit < perStmt {
		perStmt = limit
	}
	if perStmt < 1 {
		perStmt = 1
	}

	names := columnNames(req.Columns)
	clause := conflictClause(req.Action, req.PKCols, names)

	for {
		if req.Tracker != nil && req.Tracker.CancellationRequested() {
			return res, ErrCancellationRequested
		}

		batch, err := scanBatch(rows, req.Columns, perStmt, req, &res)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			return res, nil
		}

		inserted, skipped, err := insertBatch(ctx, dst, req, names, clause, batch)
		if err != nil {
			return res, err
		}
		res.Transferred += inserted
		res.Skipped += skipped
		if req.Tracker != nil {
			req.Tracker.AddRecords(inserted)
		}
	}
}

func insertBatch(ctx context.Context, dst *sql.DB, req transferRequest, names []string, clause string, batch [][]interface{}) (inserted, skipped int64, err error) {
	stmt, args := buildInsert(req.Table.SchemaName, req.Table.TableName, names, clause, batch)
	result, err := dst.ExecContext(ctx, stmt, args...)
	if err != nil {
		if !isUniqueViolation(err) {
			return 0, 0, err
		}
		switch req.Action {
		case ActionSkipRow:
			// Replay the batch row by row so only the colliding rows drop.
			return insertRowwise(ctx, dst, req, names, batch)
		default:
			return 0, 0, &ConflictError{Table: req.Table.QualifiedName(), Err: err}
		}
	}

	affected, raErr := result.RowsAffected()
	if raErr != nil || req.Action == ActionAbort || req.Action == ActionSkipRow {
		return int64(len(batch)), 0, nil
	}
	// DO NOTHING reports only the rows that landed; the rest were conflicts.
	if dropped := int64(len(batch)) - affected; req.Action == ActionIgnoreRow && dropped > 0 {
		return affected, dropped, nil
	}
	return int64(len(batch)), 0, nil
}

func insertRowwise(ctx context.Context, dst *sql.DB, req transferRequest, names []string, batch [][]interface{}) (inserted, skipped int64, err error) {
	for _, vals := range batch {
		stmt, args := buildInsert(req.Table.SchemaName, req.Table.TableName, names, "", [][]interface{}{vals})
		if _, err := dst.ExecContext(ctx, stmt, args...); err != nil {
			if isUniqueViolation(err) {
				skipped++
				continue
			}
			return inserted, skipped, err
		}
		inserted++
	}
	return inserted, skipped, nil
}

func buildInsert(schema, table string, names []string, clause string, batch [][]interface{}) (string, []interface{}) {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(qualifiedName(schema, table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(batch)*len(names))
	for r, vals := range batch {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range names {
			if c > 0 {
				sb.WriteString(", ")
			}
			args = append(args, vals[c])
			fmt.Fprintf(&sb, "$%d", len(args))
		}
		sb.WriteByte(')')
	}
	sb.WriteString(clause)
	return sb.String(), args
}
