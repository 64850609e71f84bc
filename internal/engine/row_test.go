package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInsertSingleRow(t *testing.T) {
	sql, args := buildInsert("public", "orders", []string{"id", "name"}, "", [][]interface{}{
		{int64(1), "a"},
	})

	assert.Equal(t, `INSERT INTO "public"."orders" ("id", "name") VALUES ($1, $2)`, sql)
	assert.Equal(t, []interface{}{int64(1), "a"}, args)
}

func TestBuildInsertMultiRowWithClause(t *testing.T) {
	sql, args := buildInsert("public", "orders", []string{"id", "name"}, " ON CONFLICT DO NOTHING", [][]interface{}{
		{int64(1), "a"},
		{int64(2), "b"},
		{int64(3), "c"},
	})

	assert.Equal(t,
		`INSERT INTO "public"."orders" ("id", "name") VALUES ($1, $2), ($3, $4), ($5, $6) ON CONFLICT DO NOTHING`,
		sql)
	assert.Len(t, args, 6)
	assert.Equal(t, "b", args[3])
}

func TestBuildInsertQuotesIdentifiers(t *testing.T) {
	sql, _ := buildInsert("public", "orders", []string{`bad"col`}, "", [][]interface{}{{1}})
	assert.Contains(t, sql, `("bad""col")`)
}
