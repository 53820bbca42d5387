// Package extract pulls structured records and raw documents out of saved or
// fetched HTML pages.
//
// A mapping file binds CSS selectors to table columns:
//
//	{"tables": [{
//	  "table": "Emisores",
//	  "record_selector": "table.emisores tbody tr",
//	  "mappings": [
//	    {"selector": "td:nth-child(1)", "extract": "text", "column": "nombre_emisor"},
//	    {"selector": "a", "extract": "attr", "attr": "href", "column": "sitio_web"}
//	  ]}]}
//
// With record_selector set every matched element yields one record; without
// it the whole page yields at most one.
package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"pyfin/internal/schema"
)

// Extraction modes.
const (
	ModeText = "text"
	ModeAttr = "attr"
)

// Mapping is one selector-to-column rule.
type Mapping struct {
	Selector string `json:"selector"`
	Extract  string `json:"extract"`
	Attr     string `json:"attr,omitempty"`
	Column   string `json:"column"`
	// Match is an optional regex; group 1 (or the whole match) is kept and a
	// non-matching value drops the column.
	Match string `json:"match,omitempty"`
	// All joins every match with "; " instead of taking the first.
	All bool `json:"all,omitempty"`

	re *regexp.Regexp
}

// TableMapping extracts records for one table.
type TableMapping struct {
	Table          string    `json:"table"`
	RecordSelector string    `json:"record_selector,omitempty"`
	Mappings       []Mapping `json:"mappings"`

	types map[string]string
}

// MappingFile is the decoded mapping file.
type MappingFile struct {
	Tables []TableMapping `json:"tables"`
}

// LoadMappingFile reads and compiles the mapping file at path.
func LoadMappingFile(path string) (*MappingFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings file: %w", err)
	}
	var mf MappingFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return nil, fmt.Errorf("parse mappings json: %w", err)
	}
	if err := mf.Compile(); err != nil {
		return nil, fmt.Errorf("mappings %s: %w", path, err)
	}
	return &mf, nil
}

// Compile checks every table and column against the schema registry and
// compiles the Match expressions.
func (mf *MappingFile) Compile() error {
	if len(mf.Tables) == 0 {
		return fmt.Errorf("no tables")
	}
	for i := range mf.Tables {
		tm := &mf.Tables[i]
		desc, ok := schema.LookupTable(tm.Table)
		if !ok {
			return fmt.Errorf("unknown table %q", tm.Table)
		}
		if len(tm.Mappings) == 0 {
			return fmt.Errorf("%s: no mappings", tm.Table)
		}
		tm.types = make(map[string]string, len(desc.Columns))
		for _, c := range desc.Columns {
			tm.types[c.Name] = c.Type
		}
		for j := range tm.Mappings {
			m := &tm.Mappings[j]
			if !desc.HasColumn(m.Column) {
				return fmt.Errorf("%s: unknown column %q", tm.Table, m.Column)
			}
			switch m.Extract {
			case ModeText:
			case ModeAttr:
				if m.Attr == "" {
					return fmt.Errorf("%s.%s: extract attr needs attr", tm.Table, m.Column)
				}
			default:
				return fmt.Errorf("%s.%s: unknown extract mode %q", tm.Table, m.Column, m.Extract)
			}
			if strings.TrimSpace(m.Match) != "" {
				re, err := regexp.Compile(m.Match)
				if err != nil {
					return fmt.Errorf("%s.%s: invalid match: %w", tm.Table, m.Column, err)
				}
				m.re = re
			}
		}
	}
	return nil
}
