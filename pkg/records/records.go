// Package records holds the row and vector shapes passed between pipeline
// stages. They are plain maps/structs so they round-trip through the JSON
// artifacts without adapters.
package records

import "strings"

// Record is one relational row keyed by column name.
//
// Values are scalars (string, float64, int64, bool, nil) or nested objects
// decoded from JSON (map[string]any, []any). Backends decide how nested values
// are bound (usually as JSON text).
type Record map[string]any

// Has reports whether the record carries field, even with a nil value.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// VectorEntry is one chunk of text waiting to be embedded and indexed.
//
// ID must be unique inside the target index. Metadata carries the fields used
// by the index's uniqueness probe (e.g. id_informe + chunk_id).
type VectorEntry struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// HasText reports whether Text is non-empty after trimming.
func (v VectorEntry) HasText() bool {
	return strings.TrimSpace(v.Text) != ""
}
