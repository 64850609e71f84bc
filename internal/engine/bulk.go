package engine

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// bulkStrategy streams rows through COPY, one transaction per batch. A
// failure mid-table surfaces as a BulkLoadError carrying the counts of the
// batches already committed; at-least-once delivery means the fallback path
// may resend some of those rows.
type bulkStrategy struct{}

func (bulkStrategy) Name() string { return "bulk" }

func (bulkStrategy) Run(ctx context.Context, src, dst *sql.DB, req transferRequest) (transferResult, error) {
	var res transferResult

	rows, err := src.QueryContext(ctx, req.Query.SQL, req.Query.Args...)
	if err != nil {
		return res, &BulkLoadError{Table: req.Table.QualifiedName(), Err: err}
	}
	defer rows.Close()

	names := columnNames(req.Columns)
	for {
		if req.Tracker != nil && req.Tracker.CancellationRequested() {
			return res, ErrCancellationRequested
		}

		batch, err := scanBatch(rows, req.Columns, req.BatchSize, req, &res)
		if err != nil {
			return res, &BulkLoadError{Table: req.Table.QualifiedName(), Err: err}
		}
		if len(batch) == 0 {
			return res, nil
		}

		if err := copyBatch(ctx, dst, req.Table.SchemaName, req.Table.TableName, names, batch); err != nil {
			return res, &BulkLoadError{Table: req.Table.QualifiedName(), Err: err}
		}
		res.Transferred += int64(len(batch))
		if req.Tracker != nil {
			req.Tracker.AddRecords(int64(len(batch)))
		}
	}
}

func copyBatch(ctx context.Context, dst *sql.DB, schema, table string, names []string, batch [][]interface{}) error {
	tx, err := dst.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(schema, table, names...))
	if err != nil {
		return err
	}
	for _, vals := range batch {
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			stmt.Close()
			return err
		}
	}
	// The empty Exec flushes the COPY buffer; errors from the server land here.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}
