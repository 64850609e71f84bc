package engine

import (
	"fmt"
	"math/big"
	"time"
)

// columnInfo is the destination-side shape of one column, read from
// information_schema before a transfer starts.
type columnInfo struct {
	Name     string
	DataType string
	UDTName  string
}

// isStructuredType reports whether a column carries a structured value that
// the COPY text encoding cannot round-trip reliably. Tables containing any
// such column are routed to the row strategy.
func isStructuredType(c columnInfo) bool {
	switch c.DataType {
	case "json", "jsonb", "xml", "ARRAY", "USER-DEFINED":
		return true
	}
	switch c.UDTName {
	case "json", "jsonb", "xml":
		return true
	}
	return false
}

func hasStructuredColumns(cols []columnInfo) bool {
	for _, c := range cols {
		if isStructuredType(c) {
			return true
		}
	}
	return false
}

// normalizeValue converts a scanned source value into a driver-friendly
// parameter. lib/pq scans text-ish columns into []byte; passing those through
// as strings keeps COPY and parameterized inserts consistent. bytea columns
// keep their raw bytes.
func normalizeValue(v interface{}, col columnInfo) interface{} {
	if b, ok := v.([]byte); ok && col.UDTName != "bytea" {
		return string(b)
	}
	return v
}

// approxValueSize estimates the wire size of one value for the execution's
// data-size counter. Cheap approximation, not an exact byte count.
func approxValueSize(v interface{}) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(x))
	case []byte:
		return int64(len(x))
	case bool:
		return 1
	case time.Time:
		return 8
	default:
		return 8
	}
}

// watermarkTracker folds the maximum observed value of the watermark field
// across every row actually forwarded to the destination. The fold runs over
// forwarded rows only, so a failed batch never advances the watermark.
type watermarkTracker struct {
	field string
	max   interface{}
}

func newWatermarkTracker(field string) *watermarkTracker {
	if field == "" {
		return nil
	}
	return &watermarkTracker{field: field}
}

// Observe feeds one forwarded row's watermark value into the fold.
func (w *watermarkTracker) Observe(v interface{}) {
	if w == nil || v == nil {
		return
	}
	if w.max == nil || compareValues(v, w.max) > 0 {
		w.max = v
	}
}

// Value renders the folded maximum as the string stored in last_sync_value,
// or ("", false) when no row carried a usable value.
func (w *watermarkTracker) Value() (string, bool) {
	if w == nil || w.max == nil {
		return "", false
	}
	return formatWatermark(w.max), true
}

func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case int64:
		if bv, ok := asInt64(b); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case float64:
		if bv, ok := asFloat64(b); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			}
			return 0
		}
	}
	// lib/pq scans NUMERIC and DECIMAL columns as []byte, so byte-string
	// values that parse as numbers compare by value ("10" > "9").
	as, bs := formatWatermark(a), formatWatermark(b)
	if ar, ok := new(big.Rat).SetString(as); ok {
		if br, ok := new(big.Rat).SetString(bs); ok {
			return ar.Cmp(br)
		}
	}
	// Fallback: lexicographic over the string forms. Correct for ISO
	// timestamps, best-effort otherwise.
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func asInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func formatWatermark(v interface{}) string {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
