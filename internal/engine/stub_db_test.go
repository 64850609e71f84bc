package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/lib/pq"
)

var errStubUnsupported = errors.New("not supported by stub backend")

// stubDB is an in-memory database/sql backend used to drive the transfer
// strategies without a live Postgres. The source side serves a fixed row set;
// the destination side keeps a table keyed by its first column and raises
// unique violations the way lib/pq reports them.
type stubDB struct {
	mu sync.Mutex

	// Source side: the rows returned for the transfer's select.
	queryCols []string
	queryRows [][]driver.Value

	// Destination side.
	destCols  int
	table     map[int64][]driver.Value
	noMetaFor string
	execs     []string
	onExec    func(stmt string)
}

func (s *stubDB) DB() *sql.DB { return sql.OpenDB(stubConnector{s}) }

func (s *stubDB) row(key int64) ([]driver.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.table[key]
	return row, ok
}

type stubConnector struct{ b *stubDB }

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return stubConn{c.b}, nil }
func (c stubConnector) Driver() driver.Driver                        { return stubDrv{} }

type stubDrv struct{}

func (stubDrv) Open(string) (driver.Conn, error) { return nil, errStubUnsupported }

type stubConn struct{ b *stubDB }

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errStubUnsupported }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errStubUnsupported }

func (c stubConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case strings.Contains(query, "information_schema.columns"):
		if len(args) > 1 && args[1].Value == b.noMetaFor {
			return &stubRows{cols: []string{"column_name", "data_type", "udt_name"}}, nil
		}
		return &stubRows{
			cols: []string{"column_name", "data_type", "udt_name"},
			rows: [][]driver.Value{
				{"id", "bigint", "int8"},
				{"name", "text", "text"},
			},
		}, nil
	case strings.Contains(query, "table_constraints"):
		return &stubRows{
			cols: []string{"column_name"},
			rows: [][]driver.Value{{"id"}},
		}, nil
	case strings.Contains(query, "COUNT(*)"):
		return &stubRows{
			cols: []string{"count"},
			rows: [][]driver.Value{{int64(len(b.queryRows))}},
		}, nil
	}
	rows := make([][]driver.Value, len(b.queryRows))
	copy(rows, b.queryRows)
	return &stubRows{cols: b.queryCols, rows: rows}, nil
}

func (c stubConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	b.execs = append(b.execs, query)
	if b.onExec != nil {
		defer b.onExec(query)
	}

	if strings.HasPrefix(query, "TRUNCATE") || strings.HasPrefix(query, "DELETE") {
		b.table = make(map[int64][]driver.Value)
		return driver.RowsAffected(0), nil
	}

	if b.table == nil {
		b.table = make(map[int64][]driver.Value)
	}
	rows := splitExecRows(args, b.destCols)
	switch {
	case strings.Contains(query, "DO NOTHING"):
		var landed int64
		for _, row := range rows {
			key := row[0].(int64)
			if _, exists := b.table[key]; exists {
				continue
			}
			b.table[key] = row
			landed++
		}
		return driver.RowsAffected(landed), nil
	case strings.Contains(query, "DO UPDATE"):
		for _, row := range rows {
			b.table[row[0].(int64)] = row
		}
		return driver.RowsAffected(int64(len(rows))), nil
	default:
		for _, row := range rows {
			if _, exists := b.table[row[0].(int64)]; exists {
				return nil, &pq.Error{Code: "23505"}
			}
		}
		for _, row := range rows {
			b.table[row[0].(int64)] = row
		}
		return driver.RowsAffected(int64(len(rows))), nil
	}
}

func splitExecRows(args []driver.NamedValue, cols int) [][]driver.Value {
	var rows [][]driver.Value
	for i := 0; i+cols <= len(args); i += cols {
		row := make([]driver.Value, cols)
		for j := 0; j < cols; j++ {
			row[j] = args[i+j].Value
		}
		rows = append(rows, row)
	}
	return rows
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	i    int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}
