// The TableSpec types live here so the schema registry and every backend
// package can import them without cycles.
package storage

import "strings"

// Semantic column types. Backends map these to their own SQL types.
const (
	TypeText      = "text"
	TypeInteger   = "integer"
	TypeNumeric   = "numeric"
	TypeDate      = "date"
	TypeTimestamp = "timestamp"
	TypeBoolean   = "boolean"
	TypeJSON      = "json"
)

type TableSpec struct {
	Name            string           `json:"name"`
	AutoCreateTable bool             `json:"auto_create_table"`
	PrimaryKey      *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns         []ColumnSpec     `json:"columns"`
	Constraints     []ConstraintSpec `json:"constraints,omitempty"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // "serial" is the only generated kind the backends translate
}

type ColumnSpec struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // one of the Type* constants
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// IsNullable reports the column's nullability; nil means nullable.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

// ColumnNames returns the declared column names in order, without the
// primary key.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// SplitReference splits a "Table(column)" reference. A bare table name
// returns an empty column.
func SplitReference(ref string) (table, column string) {
	ref = strings.TrimSpace(ref)
	open := strings.IndexByte(ref, '(')
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return ref, ""
	}
	return strings.TrimSpace(ref[:open]), strings.TrimSpace(ref[open+1 : len(ref)-1])
}
