package report

import (
	"fmt"

	"pyfin/internal/schema"
	"pyfin/pkg/records"
)

const (
	recordSampleSize = 10
	vectorSampleSize = 5
)

// Side is the validation outcome for one store.
type Side struct {
	Valid   bool     `json:"valid"`
	Total   int      `json:"total"`
	Sampled int      `json:"sampled"`
	Issues  []string `json:"issues,omitempty"`
}

// ValidationReport is the outcome of Validate. Vectors is nil when no index
// and no vector data were given.
type ValidationReport struct {
	Table           string   `json:"table"`
	Records         Side     `json:"records"`
	Index           string   `json:"index,omitempty"`
	Vectors         *Side    `json:"vectors,omitempty"`
	Recommendations []string `json:"recommendations"`
}

// Valid reports whether every validated side passed.
func (r ValidationReport) Valid() bool {
	return r.Records.Valid && (r.Vectors == nil || r.Vectors.Valid)
}

// Validate pre-flights data for table and, when index or vectorData is given,
// vectorData for index. It only inspects the leading entries and never
// touches a store.
func Validate(table string, data []records.Record, index string, vectorData []records.VectorEntry) ValidationReport {
	rep := ValidationReport{Table: table, Index: index, Recommendations: []string{}}
	recommend := func(format string, args ...any) {
		rep.Recommendations = append(rep.Recommendations, fmt.Sprintf(format, args...))
	}

	rep.Records = validateRecords(table, data, recommend)
	if index != "" || vectorData != nil {
		side := validateVectors(index, vectorData, recommend)
		rep.Vectors = &side
	}
	if rep.Valid() && len(rep.Recommendations) == 0 {
		recommend("data is ready to load")
	}
	return rep
}

func validateRecords(table string, data []records.Record, recommend func(string, ...any)) Side {
	s := Side{Total: len(data)}
	if len(data) == 0 {
		s.Issues = append(s.Issues, "no records")
		recommend("check the extraction step: %s produced no records", table)
		return s
	}
	s.Sampled = min(recordSampleSize, len(data))
	for i, r := range data[:s.Sampled] {
		if len(r) == 0 {
			s.Issues = append(s.Issues, fmt.Sprintf("record %d is empty", i))
		}
	}
	s.Valid = len(s.Issues) == 0
	if !s.Valid {
		recommend("drop empty records from %s before loading", table)
	}

	desc, ok := schema.LookupTable(table)
	if !ok {
		recommend("%s is not a registered table; it will be rejected by the loader", table)
		return s
	}
	if len(desc.NaturalKey) > 0 && len(data[0]) > 0 {
		var missing []string
		for _, f := range desc.NaturalKey {
			if !data[0].Has(f) {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			recommend("first %s record lacks key fields %v; dedup will treat every record as new", table, missing)
		}
	}
	return s
}

func validateVectors(index string, data []records.VectorEntry, recommend func(string, ...any)) Side {
	s := Side{Total: len(data)}
	if len(data) == 0 {
		s.Issues = append(s.Issues, "no vectors")
		recommend("check the vectorize step: %s produced no vectors", index)
		return s
	}
	s.Sampled = min(vectorSampleSize, len(data))
	for i, v := range data[:s.Sampled] {
		switch {
		case v.ID == "":
			s.Issues = append(s.Issues, fmt.Sprintf("vector %d: missing id", i))
		case v.Metadata == nil:
			s.Issues = append(s.Issues, fmt.Sprintf("vector %d (%s): missing metadata", i, v.ID))
		case !v.HasText():
			s.Issues = append(s.Issues, fmt.Sprintf("vector %d (%s): empty text", i, v.ID))
		}
	}
	s.Valid = len(s.Issues) == 0
	if !s.Valid {
		recommend("every vector needs id, metadata and non-empty text")
	}

	desc, ok := schema.LookupIndex(index)
	if !ok {
		recommend("%q is not a registered index; dedup will treat every vector as new", index)
		return s
	}
	for _, f := range desc.KeyFields {
		if data[0].Metadata != nil {
			if _, ok := data[0].Metadata[f]; !ok {
				recommend("vector metadata lacks %s; duplicates in %s cannot be detected", f, index)
			}
		}
	}
	return s
}
