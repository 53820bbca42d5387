// Package dedup partitions candidate records and vectors into "new" and
// "already present" by probing the destination stores with natural keys.
//
// Probing is read-only: running a filter twice without an intervening load
// yields the same partition.
//
// Failure policy differs per store:
//   - relational probe failure: fail closed. The table is marked with an
//     error and all of its records are counted unresolved; none are forwarded
//     as new.
//   - vector probe failure: fail open. The vector is treated as new and the
//     failure is counted in ProbeFailures.
package dedup

import (
	"context"
	"fmt"
	"time"

	"pyfin/internal/etlerr"
	"pyfin/internal/logging"
	"pyfin/internal/metrics"
	"pyfin/internal/rowhash"
	"pyfin/internal/schema"
	"pyfin/internal/storage"
	"pyfin/internal/vectorstore"
	"pyfin/pkg/records"
)

// Probe is the outcome of one existence lookup.
type Probe int

const (
	NotFound Probe = iota
	Found
	ProbeFailed
)

func (p Probe) String() string {
	switch p {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case ProbeFailed:
		return "probe_failed"
	default:
		return fmt.Sprintf("Probe(%d)", int(p))
	}
}

// TableReport is the per-table breakdown. Total == New + Existing + Unresolved.
type TableReport struct {
	Table      string `json:"table"`
	Total      int    `json:"total"`
	New        int    `json:"new"`
	Existing   int    `json:"existing"`
	Unresolved int    `json:"unresolved,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of FilterDuplicates.
type Result struct {
	TotalRecords      int           `json:"total_records"`
	NewRecords        int           `json:"new_records"`
	ExistingRecords   int           `json:"existing_records"`
	UnresolvedRecords int           `json:"unresolved_records,omitempty"`
	Tables            []TableReport `json:"tables"`

	// New holds the records to load, keyed by table. Tables whose probe
	// failed are absent.
	New map[string][]records.Record `json:"-"`
}

// VectorResult is the outcome of FilterDuplicateVectors.
type VectorResult struct {
	Index           string `json:"index"`
	TotalVectors    int    `json:"total_vectors"`
	NewVectors      int    `json:"new_vectors"`
	ExistingVectors int    `json:"existing_vectors"`
	ProbeFailures   int    `json:"probe_failures"`

	New []records.VectorEntry `json:"-"`
}

// Options tunes the engine.
type Options struct {
	// DedupeWithinBatch classifies a record as existing without a store call
	// when an earlier record of the same input carried the same natural key.
	DedupeWithinBatch bool

	Logger *logging.Logger
}

// Engine probes the relational and vector stores. Either store may be nil
// when only the other side is filtered.
type Engine struct {
	rel  storage.Store
	vec  vectorstore.Store
	opts Options
	log  *logging.Logger
}

func New(rel storage.Store, vec vectorstore.Store, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{rel: rel, vec: vec, opts: opts, log: log.With("component", "dedup")}
}

// FilterDuplicates partitions data (records grouped by table) into new and
// existing records. Tables are processed in load order; unknown tables come
// last and are never deduplicated.
func (e *Engine) FilterDuplicates(ctx context.Context, data map[string][]records.Record) (Result, error) {
	const op = "dedup.FilterDuplicates"
	if e.rel == nil {
		return Result{}, etlerr.Configuration(op, "relational store is not configured")
	}

	names := make([]string, 0, len(data))
	for t := range data {
		names = append(names, t)
	}
	names = schema.SortByLoadOrder(names)

	res := Result{New: make(map[string][]records.Record, len(data))}
	for _, table := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		start := time.Now()
		tr, fresh := e.filterTable(ctx, table, data[table])

		res.Tables = append(res.Tables, tr)
		res.TotalRecords += tr.Total
		res.NewRecords += tr.New
		res.ExistingRecords += tr.Existing
		res.UnresolvedRecords += tr.Unresolved
		if tr.Error == "" {
			res.New[table] = fresh
		}

		metrics.RecordRecords(table, "new", tr.New)
		metrics.RecordRecords(table, "existing", tr.Existing)
		metrics.RecordRecords(table, "unresolved", tr.Unresolved)
		if tr.Error != "" {
			e.log.Error("dedup table failed", "table", table, "total", tr.Total, "error", tr.Error)
			continue
		}
		e.log.Info("dedup table", "table", table, "total", tr.Total, "new", tr.New,
			"existing", tr.Existing, "duration", time.Since(start).Truncate(time.Millisecond).String())
	}
	return res, nil
}

func (e *Engine) filterTable(ctx context.Context, table string, recs []records.Record) (TableReport, []records.Record) {
	tr := TableReport{Table: table, Total: len(recs)}
	if len(recs) == 0 {
		return tr, nil
	}

	key := schema.NaturalKey(table)
	if len(key) == 0 || !hasAll(recs[0], key) {
		tr.New = len(recs)
		return tr, recs
	}

	var seen map[string]bool
	var hasher rowhash.Hasher
	if e.opts.DedupeWithinBatch {
		seen = make(map[string]bool, len(recs))
		hasher = rowhash.NaturalKey(key)
	}

	fresh := make([]records.Record, 0, len(recs))
	for i, r := range recs {
		r = canonicalKey(r, key)
		var fp string
		if seen != nil {
			fp = hasher.Sum(r)
			if seen[fp] {
				tr.Existing++
				continue
			}
		}

		probe, err := e.probeRecord(ctx, table, key, r)
		switch probe {
		case Found:
			tr.Existing++
		case NotFound:
			tr.New++
			fresh = append(fresh, r)
		case ProbeFailed:
			tr.New, tr.Existing = 0, 0
			tr.Unresolved = tr.Total
			tr.Error = fmt.Sprintf("record %d: %v", i, err)
			return tr, nil
		}
		if seen != nil {
			seen[fp] = true
		}
	}
	return tr, fresh
}

// ProbeRecord looks r up in table by the table's natural key. A table without
// a natural key, or a record carrying none of its fields, is NotFound.
func (e *Engine) ProbeRecord(ctx context.Context, table string, r records.Record) (Probe, error) {
	if e.rel == nil {
		return ProbeFailed, etlerr.Configuration("dedup.ProbeRecord", "relational store is not configured")
	}
	key := schema.NaturalKey(table)
	return e.probeRecord(ctx, table, key, canonicalKey(r, key))
}

func (e *Engine) probeRecord(ctx context.Context, table string, key []string, r records.Record) (Probe, error) {
	filter := make(storage.Filter, 0, len(key))
	for _, f := range key {
		if r.Has(f) {
			filter = append(filter, storage.Condition{Column: f, Value: r[f]})
		}
	}
	if len(filter) == 0 {
		return NotFound, nil
	}
	rows, err := e.rel.SelectMatching(ctx, table, filter, 1)
	if err != nil {
		return ProbeFailed, etlerr.Wrap(etlerr.KindProbe, "dedup.ProbeRecord", err)
	}
	if len(rows) > 0 {
		return Found, nil
	}
	return NotFound, nil
}

// FilterDuplicateVectors partitions vectors for index into new and existing.
// An unregistered index cannot be probed, so every vector is new.
func (e *Engine) FilterDuplicateVectors(ctx context.Context, vectors []records.VectorEntry, index string) (VectorResult, error) {
	res := VectorResult{Index: index, TotalVectors: len(vectors)}

	desc, ok := schema.LookupIndex(index)
	if !ok {
		res.NewVectors = len(vectors)
		res.New = vectors
		e.log.Warn("unknown index; treating all vectors as new", "index", index, "total", len(vectors))
		metrics.RecordVectors(index, "new", res.NewVectors)
		return res, nil
	}
	if e.vec == nil {
		return res, etlerr.Configuration("dedup.FilterDuplicateVectors", "vector store is not configured")
	}

	res.New = make([]records.VectorEntry, 0, len(vectors))
	for _, v := range vectors {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		probe, err := e.probeVector(ctx, desc, v)
		switch probe {
		case Found:
			res.ExistingVectors++
		case ProbeFailed:
			res.ProbeFailures++
			e.log.Warn("vector probe failed; treating as new", "index", index, "id", v.ID, "error", err)
			fallthrough
		case NotFound:
			res.NewVectors++
			res.New = append(res.New, v)
		}
	}

	metrics.RecordVectors(index, "new", res.NewVectors)
	metrics.RecordVectors(index, "existing", res.ExistingVectors)
	metrics.RecordVectors(index, "probe_failed", res.ProbeFailures)
	e.log.Info("dedup index", "index", index, "total", res.TotalVectors, "new", res.NewVectors,
		"existing", res.ExistingVectors, "probe_failures", res.ProbeFailures)
	return res, nil
}

// ProbeVector looks v up in index by the index's metadata key fields.
func (e *Engine) ProbeVector(ctx context.Context, index string, v records.VectorEntry) (Probe, error) {
	desc, ok := schema.LookupIndex(index)
	if !ok {
		return NotFound, nil
	}
	if e.vec == nil {
		return ProbeFailed, etlerr.Configuration("dedup.ProbeVector", "vector store is not configured")
	}
	return e.probeVector(ctx, desc, v)
}

func (e *Engine) probeVector(ctx context.Context, desc schema.IndexDescriptor, v records.VectorEntry) (Probe, error) {
	if v.Metadata == nil {
		return NotFound, nil
	}
	filter := make(map[string]any, len(desc.KeyFields))
	for _, f := range desc.KeyFields {
		if val, ok := v.Metadata[f]; ok {
			filter[f] = val
		}
	}
	if len(filter) == 0 {
		return NotFound, nil
	}

	matches, err := e.vec.Query(ctx, string(desc.Index), vectorstore.Query{
		Vector: vectorstore.ZeroVector(desc.Dimension),
		Filter: filter,
		TopK:   1,
	})
	if err != nil {
		return ProbeFailed, etlerr.Wrap(etlerr.KindProbe, "dedup.ProbeVector", err)
	}
	if len(matches) > 0 {
		return Found, nil
	}
	return NotFound, nil
}

func hasAll(r records.Record, fields []string) bool {
	for _, f := range fields {
		if !r.Has(f) {
			return false
		}
	}
	return true
}

// canonicalKey returns r with its string key fields in storage.NormalizeKey
// form, the same form the within-batch fingerprints use. r is copied only
// when a value changes; the copy is what gets probed and loaded.
func canonicalKey(r records.Record, key []string) records.Record {
	out, copied := r, false
	for _, f := range key {
		v, ok := r[f].(string)
		if !ok {
			continue
		}
		c := storage.NormalizeKey(v)
		if c == v {
			continue
		}
		if !copied {
			out = make(records.Record, len(r))
			for k, v := range r {
				out[k] = v
			}
			copied = true
		}
		out[f] = c
	}
	return out
}
