package engine

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// tableColumns reads the destination table's column shapes in ordinal order.
func tableColumns(ctx context.Context, db *sql.DB, schema, table string) ([]columnInfo, error) {
	const q = `
		SELECT column_name, data_type, udt_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`
	rows, err := db.QueryContext(ctx, q, schema, table)
	if err != nil {
		return nil, errors.Wrapf(err, "reading columns of %s.%s", schema, table)
	}
	defer rows.Close()

	var cols []columnInfo
	for rows.Next() {
		var c columnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.UDTName); err != nil {
			return nil, errors.Wrap(err, "scanning column metadata")
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating column metadata")
	}
	if len(cols) == 0 {
		return nil, errors.Errorf("table %s.%s not found in destination", schema, table)
	}
	return cols, nil
}

// primaryKeyColumns reads the destination table's primary key column names.
// An empty slice (no error) means the table has no primary key.
func primaryKeyColumns(ctx context.Context, db *sql.DB, schema, table string) ([]string, error) {
	const q = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`
	rows, err := db.QueryContext(ctx, q, schema, table)
	if err != nil {
		return nil, errors.Wrapf(err, "reading primary key of %s.%s", schema, table)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scanning primary key column")
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// countRows estimates the number of rows the select will produce. Used only
// for strategy selection, so a wrapped COUNT over the exact query is
// acceptable even when it is not cheap.
func countRows(ctx context.Context, db *sql.DB, q selectQuery) (int64, error) {
	wrapped := "SELECT COUNT(*) FROM (" + q.SQL + ") AS sub"
	var n int64
	if err := db.QueryRowContext(ctx, wrapped, q.Args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "counting source rows")
	}
	return n, nil
}

// truncateTable clears the destination table ahead of a full reload. TRUNCATE
// fails on tables referenced by foreign keys we cannot cascade to, so a plain
// DELETE covers that case.
func truncateTable(ctx context.Context, db *sql.DB, schema, table string) error {
	name := qualifiedName(schema, table)
	if _, err := db.ExecContext(ctx, "TRUNCATE TABLE "+name+" RESTART IDENTITY CASCADE"); err == nil {
		return nil
	}
	_, err := db.ExecContext(ctx, "DELETE FROM "+name)
	return errors.Wrapf(err, "clearing %s", name)
}
