package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"pyfin/pkg/records"
)

// ColumnsOf returns the union of keys across rows, ordered by preferred first
// (schema order) and then alphabetically for anything else.
//
// Bulk statements need one column list for the whole batch; rows that lack a
// column bind NULL for it.
func ColumnsOf(rows []records.Record, preferred []string) []string {
	seen := make(map[string]bool)
	for _, r := range rows {
		for k := range r {
			seen[k] = true
		}
	}

	out := make([]string, 0, len(seen))
	for _, c := range preferred {
		if seen[c] {
			out = append(out, c)
			delete(seen, c)
		}
	}
	rest := make([]string, 0, len(seen))
	for c := range seen {
		rest = append(rest, c)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// RowValues projects rows onto columns, binding each value with BindValue.
func RowValues(rows []records.Record, columns []string) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		vals := make([]any, len(columns))
		for j, c := range columns {
			vals[j] = BindValue(r[c])
		}
		out[i] = vals
	}
	return out
}

// BindValue converts a decoded JSON value into something every database/sql
// driver accepts: nested objects and arrays become JSON text, whole floats
// stay floats (drivers coerce them for integer columns).
func BindValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, []byte, time.Time:
		return t
	case json.Number:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmtAny(t)
		}
		return string(b)
	default:
		return fmtAny(t)
	}
}

func fmtAny(v any) string { return fmt.Sprint(v) }
