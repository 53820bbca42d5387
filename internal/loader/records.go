package loader

import (
	"context"
	"time"

	"pyfin/internal/etlerr"
	"pyfin/internal/logging"
	"pyfin/internal/metrics"
	"pyfin/internal/schema"
	"pyfin/internal/storage"
	"pyfin/pkg/records"
)

// BatchLoader inserts records into the relational store.
type BatchLoader struct {
	Store     storage.Store
	BatchSize int
	Logger    *logging.Logger
}

func (l *BatchLoader) batchSize() int {
	if l.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return l.BatchSize
}

func (l *BatchLoader) logger() *logging.Logger {
	if l.Logger == nil {
		return logging.Nop()
	}
	return l.Logger
}

// LoadRecords inserts recs into table in input order. Each batch is tried
// with one bulk insert; when that fails the batch is retried one record at a
// time and only the records that still fail are skipped.
//
// Inserts are not idempotent: recs should come out of the dedup engine.
func (l *BatchLoader) LoadRecords(ctx context.Context, table string, recs []records.Record) (LoadReport, error) {
	const op = "loader.LoadRecords"
	rep := LoadReport{Table: table, TotalRecords: len(recs), Errors: []ItemError{}}

	if err := l.precheck(op, table, recs); err != nil {
		rep.Status = StatusFailed
		rep.Error = err.Error()
		return rep, err
	}

	log := l.logger().With("table", table)
	size := l.batchSize()
	start := time.Now()

	for b, lo := 0, 0; lo < len(recs); b, lo = b+1, lo+size {
		if err := ctx.Err(); err != nil {
			rep.Status = StatusFailed
			rep.Error = err.Error()
			rep.SuccessRate = successRate(rep.Inserted, rep.TotalRecords)
			return rep, err
		}
		hi := min(lo+size, len(recs))
		l.loadBatch(ctx, log, &rep, b, recs[lo:hi])
		rep.Batches++
	}

	rep.SuccessRate = successRate(rep.Inserted, rep.TotalRecords)
	rep.Status = StatusCompleted
	metrics.RecordRecords(table, "inserted", rep.Inserted)
	metrics.RecordRecords(table, "skipped", rep.Skipped)
	log.Info("load table", "total", rep.TotalRecords, "inserted", rep.Inserted, "skipped", rep.Skipped,
		"batches", rep.Batches, "duration", time.Since(start).Truncate(time.Millisecond).String())
	return rep, nil
}

func (l *BatchLoader) precheck(op, table string, recs []records.Record) error {
	if l.Store == nil {
		return etlerr.Configuration(op, "relational store is not configured")
	}
	if _, ok := schema.LookupTable(table); !ok {
		return etlerr.Validation(op, "unknown table %q", table)
	}
	if len(recs) == 0 {
		return etlerr.Validation(op, "no records to load for %s", table)
	}
	for i, r := range recs {
		if r == nil {
			return etlerr.Validation(op, "record %d is not an object", i)
		}
	}
	return nil
}

func (l *BatchLoader) loadBatch(ctx context.Context, log *logging.Logger, rep *LoadReport, b int, batch []records.Record) {
	n, err := l.Store.InsertRows(ctx, rep.Table, batch)
	if err == nil {
		rep.Inserted += int(n)
		metrics.RecordBatch("records", "ok")
		log.Debug("batch inserted", "batch", b, "rows", n)
		return
	}

	metrics.RecordBatch("records", "fallback")
	log.Warn("bulk insert failed; retrying per record", "batch", b, "rows", len(batch),
		"error", etlerr.Wrap(etlerr.KindBatch, "loader.LoadRecords", err))

	for i, r := range batch {
		if _, err := l.Store.InsertRows(ctx, rep.Table, []records.Record{r}); err != nil {
			rep.Skipped++
			rep.Errors = append(rep.Errors, ItemError{
				BatchIndex:  b,
				RecordIndex: i,
				Record:      r,
				Kind:        etlerr.KindRecord,
				Error:       err.Error(),
			})
			log.Debug("record skipped", "batch", b, "record", i, "error", err)
			continue
		}
		rep.Inserted++
	}
}
