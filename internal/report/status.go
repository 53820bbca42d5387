// Package report inspects the destination stores and pre-flights input data.
package report

import (
	"context"
	"time"

	"pyfin/internal/logging"
	"pyfin/internal/schema"
	"pyfin/internal/storage"
	"pyfin/internal/vectorstore"
)

// State classifies one table or index.
type State string

const (
	StateLoaded  State = "loaded"
	StateEmpty   State = "empty"
	StateMissing State = "missing"
	StateError   State = "error"
)

type TableStatus struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

type IndexStatus struct {
	Index     string `json:"index"`
	Vectors   int64  `json:"vectors"`
	Dimension int    `json:"dimension"`
	State     State  `json:"state"`
	Error     string `json:"error,omitempty"`
}

// StatusReport is the outcome of CheckStatus. RelationalError and VectorError
// are set when a whole store could not be reached; the other store's checks
// still run.
type StatusReport struct {
	CheckedAt       time.Time     `json:"checked_at"`
	Tables          []TableStatus `json:"tables"`
	Indexes         []IndexStatus `json:"indexes"`
	RelationalError string        `json:"relational_error,omitempty"`
	VectorError     string        `json:"vector_error,omitempty"`
}

// Reporter reads counts from the stores. Either store may be nil; its section
// of the report then carries a "not configured" error.
type Reporter struct {
	Rel    storage.Store
	Vec    vectorstore.Store
	Logger *logging.Logger

	now func() time.Time
}

// CheckStatus counts rows for tables and vectors for indexes. Nil or empty
// lists default to every registered table or index.
func (r *Reporter) CheckStatus(ctx context.Context, tables, indexes []string) StatusReport {
	if len(tables) == 0 {
		tables = schema.TableNames()
	}
	if len(indexes) == 0 {
		indexes = schema.IndexNames()
	}
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	log := r.Logger
	if log == nil {
		log = logging.Nop()
	}

	rep := StatusReport{CheckedAt: now().UTC(), Tables: []TableStatus{}, Indexes: []IndexStatus{}}
	r.checkTables(ctx, log, &rep, tables)
	r.checkIndexes(ctx, log, &rep, indexes)
	return rep
}

func (r *Reporter) checkTables(ctx context.Context, log *logging.Logger, rep *StatusReport, tables []string) {
	if r.Rel == nil {
		rep.RelationalError = "relational store is not configured"
		return
	}
	for _, t := range tables {
		st := TableStatus{Table: t}
		n, err := r.Rel.CountRows(ctx, t)
		switch {
		case err != nil:
			st.State, st.Error = StateError, err.Error()
			log.Warn("count rows failed", "table", t, "error", err)
		case n > 0:
			st.Rows, st.State = n, StateLoaded
		default:
			st.State = StateEmpty
		}
		rep.Tables = append(rep.Tables, st)
	}
}

func (r *Reporter) checkIndexes(ctx context.Context, log *logging.Logger, rep *StatusReport, indexes []string) {
	if r.Vec == nil {
		rep.VectorError = "vector store is not configured"
		return
	}
	existing, err := r.Vec.ListIndexes(ctx)
	if err != nil {
		rep.VectorError = err.Error()
		log.Warn("list indexes failed", "error", err)
		return
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	for _, ix := range indexes {
		st := IndexStatus{Index: ix}
		if !present[ix] {
			st.State = StateMissing
			rep.Indexes = append(rep.Indexes, st)
			continue
		}
		stats, err := r.Vec.DescribeIndexStats(ctx, ix)
		switch {
		case err != nil:
			st.State, st.Error = StateError, err.Error()
			log.Warn("describe index failed", "index", ix, "error", err)
		default:
			st.Vectors, st.Dimension = stats.TotalVectorCount, stats.Dimension
			st.State = StateEmpty
			if stats.TotalVectorCount > 0 {
				st.State = StateLoaded
			}
		}
		rep.Indexes = append(rep.Indexes, st)
	}
}
