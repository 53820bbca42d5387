// Package pipeline runs the load-and-index stages over one run's input:
//
//	dedup_records -> load_records -> dedup_vectors -> load_vectors
//
// Tables are loaded parents first; indexes in name order. A previous run's
// results can be passed in to skip tables and indexes that already loaded
// cleanly.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pyfin/internal/dedup"
	"pyfin/internal/embedding"
	"pyfin/internal/etlerr"
	"pyfin/internal/logging"
	"pyfin/internal/loader"
	"pyfin/internal/metrics"
	"pyfin/internal/schema"
	"pyfin/internal/storage"
	"pyfin/internal/vectorstore"
	"pyfin/pkg/records"
)

const (
	StageDedupRecords = "dedup_records"
	StageLoadRecords  = "load_records"
	StageDedupVectors = "dedup_vectors"
	StageLoadVectors  = "load_vectors"
)

// Run status values.
const (
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
)

// Input is one run's structured records (by table) and chunks (by index).
type Input struct {
	Records map[string][]records.Record
	Vectors map[string][]records.VectorEntry
}

// validate rejects tables and indexes missing from the registry before any
// store is touched.
func (in Input) validate() error {
	var unknown []string
	for _, t := range keys(in.Records) {
		if _, ok := schema.LookupTable(t); !ok {
			unknown = append(unknown, fmt.Sprintf("table %q", t))
		}
	}
	for _, ix := range keys(in.Vectors) {
		if _, ok := schema.LookupIndex(ix); !ok {
			unknown = append(unknown, fmt.Sprintf("index %q", ix))
		}
	}
	if len(unknown) > 0 {
		return etlerr.Validation("pipeline.Run", "unregistered %s", strings.Join(unknown, ", "))
	}
	return nil
}

func (in Input) hasRecords() bool { return len(in.Records) > 0 }
func (in Input) hasVectors() bool { return len(in.Vectors) > 0 }

type StageResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// Results is the loading_results payload.
type Results struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	DryRun bool   `json:"dry_run,omitempty"`

	Dedup       *dedup.Result                      `json:"dedup,omitempty"`
	VectorDedup map[string]dedup.VectorResult      `json:"vector_dedup,omitempty"`
	Tables      map[string]loader.LoadReport       `json:"tables,omitempty"`
	Indexes     map[string]loader.VectorLoadReport `json:"indexes,omitempty"`

	// Resumed lists tables and indexes carried over from a previous run.
	Resumed []string      `json:"resumed,omitempty"`
	Stages  []StageResult `json:"stages"`
	Error   string        `json:"error,omitempty"`
}

// Options tunes a run.
type Options struct {
	BatchSize         int
	VectorBatchSize   int
	DedupeWithinBatch bool
	// DryRun runs the dedup stages only.
	DryRun bool
}

// Runner executes the stages against already opened stores. Rel, Vec and
// Embedder may be nil when the input has nothing for them.
type Runner struct {
	Rel      storage.Store
	Vec      vectorstore.Store
	Embedder embedding.Embedder
	Options  Options
	Logger   *logging.Logger

	// Previous is the loading_results of an earlier run to resume from.
	Previous *Results
}

// Run executes every stage the input needs. Configuration and validation
// failures stop the run and are returned together with the partial results;
// record and batch failures are only reported.
func (r *Runner) Run(ctx context.Context, runID string, in Input) (Results, error) {
	log := r.Logger
	if log == nil {
		log = logging.Nop()
	}
	res := Results{
		RunID:       runID,
		DryRun:      r.Options.DryRun,
		VectorDedup: map[string]dedup.VectorResult{},
		Tables:      map[string]loader.LoadReport{},
		Indexes:     map[string]loader.VectorLoadReport{},
		Stages:      []StageResult{},
	}
	if err := in.validate(); err != nil {
		res.Status, res.Error = StatusFailed, err.Error()
		return res, fmt.Errorf("pipeline: %w", err)
	}
	eng := dedup.New(r.Rel, r.Vec, dedup.Options{DedupeWithinBatch: r.Options.DedupeWithinBatch, Logger: log})

	stages := []struct {
		name string
		skip bool
		run  func(context.Context) error
	}{
		{StageDedupRecords, !in.hasRecords(), func(ctx context.Context) error {
			return r.dedupRecords(ctx, eng, &res, in.Records)
		}},
		{StageLoadRecords, !in.hasRecords() || r.Options.DryRun, func(ctx context.Context) error {
			return r.loadRecords(ctx, log, &res)
		}},
		{StageDedupVectors, !in.hasVectors(), func(ctx context.Context) error {
			return r.dedupVectors(ctx, eng, &res, in.Vectors)
		}},
		{StageLoadVectors, !in.hasVectors() || r.Options.DryRun, func(ctx context.Context) error {
			return r.loadVectors(ctx, log, &res)
		}},
	}

	for _, st := range stages {
		if st.skip {
			continue
		}
		start := time.Now()
		err := st.run(ctx)
		d := durMS(start)
		if err != nil {
			metrics.RecordStage(st.name, "failed", d)
			log.Printf("stage=%s failed duration=%s err=%v", st.name, d, err)
			res.Stages = append(res.Stages, StageResult{Name: st.name, Status: "failed", Duration: d.String(), Error: err.Error()})
			res.Status, res.Error = StatusFailed, err.Error()
			return res, fmt.Errorf("pipeline: %s: %w", st.name, err)
		}
		metrics.RecordStage(st.name, "ok", d)
		log.Printf("stage=%s ok duration=%s", st.name, d)
		res.Stages = append(res.Stages, StageResult{Name: st.name, Status: "ok", Duration: d.String()})
	}

	res.Status = StatusCompleted
	if res.hasItemErrors() {
		res.Status = StatusCompletedWithErrors
	}
	return res, nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

func (r *Runner) dedupRecords(ctx context.Context, eng *dedup.Engine, res *Results, data map[string][]records.Record) error {
	todo := make(map[string][]records.Record, len(data))
	for t, recs := range data {
		if prev, ok := r.previousTable(t); ok {
			res.Tables[t] = prev
			res.Resumed = append(res.Resumed, t)
			continue
		}
		todo[t] = recs
	}
	sort.Strings(res.Resumed)
	if len(todo) == 0 {
		res.Dedup = &dedup.Result{New: map[string][]records.Record{}}
		return nil
	}

	dr, err := eng.FilterDuplicates(ctx, todo)
	if err != nil {
		return err
	}
	res.Dedup = &dr
	return nil
}

func (r *Runner) loadRecords(ctx context.Context, log *logging.Logger, res *Results) error {
	bl := &loader.BatchLoader{Store: r.Rel, BatchSize: r.Options.BatchSize, Logger: log}
	for _, t := range schema.SortByLoadOrder(keys(res.Dedup.New)) {
		fresh := res.Dedup.New[t]
		if len(fresh) == 0 {
			// The loader rejects empty input; record a no-op.
			res.Tables[t] = loader.LoadReport{Table: t, Errors: []loader.ItemError{}, Status: loader.StatusCompleted}
			continue
		}
		rep, err := bl.LoadRecords(ctx, t, fresh)
		res.Tables[t] = rep
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) dedupVectors(ctx context.Context, eng *dedup.Engine, res *Results, data map[string][]records.VectorEntry) error {
	for _, ix := range keys(data) {
		if prev, ok := r.previousIndex(ix); ok {
			res.Indexes[ix] = prev
			res.Resumed = append(res.Resumed, ix)
			continue
		}
		vr, err := eng.FilterDuplicateVectors(ctx, data[ix], ix)
		if err != nil {
			return err
		}
		res.VectorDedup[ix] = vr
	}
	sort.Strings(res.Resumed)
	return nil
}

func (r *Runner) loadVectors(ctx context.Context, log *logging.Logger, res *Results) error {
	vl := &loader.VectorLoader{Store: r.Vec, Embedder: r.Embedder, BatchSize: r.Options.VectorBatchSize, Logger: log}
	for _, ix := range keys(res.VectorDedup) {
		fresh := res.VectorDedup[ix].New
		if len(fresh) == 0 {
			res.Indexes[ix] = loader.VectorLoadReport{Index: ix, Errors: []loader.ItemError{}, Status: loader.StatusCompleted}
			continue
		}
		rep, err := vl.LoadVectors(ctx, ix, fresh)
		res.Indexes[ix] = rep
		if err != nil {
			return err
		}
	}
	return nil
}

// previousTable returns the earlier report for table when it loaded every
// record without errors.
func (r *Runner) previousTable(table string) (loader.LoadReport, bool) {
	if r.Previous == nil {
		return loader.LoadReport{}, false
	}
	prev, ok := r.Previous.Tables[table]
	if !ok || prev.Status != loader.StatusCompleted || len(prev.Errors) > 0 || prev.Inserted != prev.TotalRecords {
		return loader.LoadReport{}, false
	}
	return prev, true
}

func (r *Runner) previousIndex(index string) (loader.VectorLoadReport, bool) {
	if r.Previous == nil {
		return loader.VectorLoadReport{}, false
	}
	prev, ok := r.Previous.Indexes[index]
	if !ok || prev.Status != loader.StatusCompleted || len(prev.Errors) > 0 || prev.Loaded != prev.TotalVectors {
		return loader.VectorLoadReport{}, false
	}
	return prev, true
}

func (res Results) hasItemErrors() bool {
	if res.Dedup != nil && res.Dedup.UnresolvedRecords > 0 {
		return true
	}
	for _, t := range res.Tables {
		if len(t.Errors) > 0 {
			return true
		}
	}
	for _, ix := range res.Indexes {
		if len(ix.Errors) > 0 {
			return true
		}
	}
	return false
}

// Counts summarises results for artifact metadata.
func (res Results) Counts() map[string]int {
	c := map[string]int{}
	for _, t := range res.Tables {
		c["inserted"] += t.Inserted
		c["skipped"] += t.Skipped
	}
	for _, ix := range res.Indexes {
		c["vectors_loaded"] += ix.Loaded
	}
	if res.Dedup != nil {
		c["existing_records"] = res.Dedup.ExistingRecords
	}
	for _, vr := range res.VectorDedup {
		c["existing_vectors"] += vr.ExistingVectors
	}
	return c
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
