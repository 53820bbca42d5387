package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pyfin/internal/embedding"
	"pyfin/internal/etlerr"
	"pyfin/internal/logging"
	"pyfin/internal/metrics"
	"pyfin/internal/schema"
	"pyfin/internal/vectorstore"
	"pyfin/pkg/records"
)

// VectorLoader embeds chunk text and upserts the vectors into an index.
type VectorLoader struct {
	Store     vectorstore.Store
	Embedder  embedding.Embedder
	BatchSize int
	Logger    *logging.Logger
}

func (l *VectorLoader) batchSize() int {
	if l.BatchSize <= 0 {
		return DefaultVectorBatchSize
	}
	return l.BatchSize
}

func (l *VectorLoader) logger() *logging.Logger {
	if l.Logger == nil {
		return logging.Nop()
	}
	return l.Logger
}

// LoadVectors embeds and upserts vectors into index, one upsert per batch.
//
// Entries with empty text, a failed embedding or an embedding whose length
// differs from the index dimension are reported and left out of the upsert.
// A rejected upsert is reported once for the whole batch.
func (l *VectorLoader) LoadVectors(ctx context.Context, index string, vectors []records.VectorEntry) (VectorLoadReport, error) {
	const op = "loader.LoadVectors"
	rep := VectorLoadReport{Index: index, TotalVectors: len(vectors), Errors: []ItemError{}}

	desc, err := l.precheck(op, index, vectors)
	if err != nil {
		rep.Status = StatusFailed
		rep.Error = err.Error()
		return rep, err
	}

	log := l.logger().With("index", index)
	size := l.batchSize()
	start := time.Now()

	for b, lo := 0, 0; lo < len(vectors); b, lo = b+1, lo+size {
		if err := ctx.Err(); err != nil {
			rep.Status = StatusFailed
			rep.Error = err.Error()
			rep.SuccessRate = successRate(rep.Loaded, rep.TotalVectors)
			return rep, err
		}
		hi := min(lo+size, len(vectors))
		l.loadBatch(ctx, log, desc, &rep, b, vectors[lo:hi])
		rep.Batches++
	}

	rep.SuccessRate = successRate(rep.Loaded, rep.TotalVectors)
	rep.Status = StatusCompleted
	metrics.RecordVectors(index, "embedded", rep.Processed)
	metrics.RecordVectors(index, "loaded", rep.Loaded)
	metrics.RecordVectors(index, "dropped", rep.TotalVectors-rep.Processed)
	log.Info("load index", "total", rep.TotalVectors, "processed", rep.Processed, "loaded", rep.Loaded,
		"errors", len(rep.Errors), "duration", time.Since(start).Truncate(time.Millisecond).String())
	return rep, nil
}

func (l *VectorLoader) precheck(op, index string, vectors []records.VectorEntry) (schema.IndexDescriptor, error) {
	if l.Store == nil {
		return schema.IndexDescriptor{}, etlerr.Configuration(op, "vector store is not configured")
	}
	if l.Embedder == nil {
		return schema.IndexDescriptor{}, etlerr.Configuration(op, "embedding service is not configured")
	}
	if len(vectors) == 0 {
		return schema.IndexDescriptor{}, etlerr.Validation(op, "no vectors to load for %s", index)
	}
	desc, ok := schema.LookupIndex(index)
	if !ok {
		return schema.IndexDescriptor{}, etlerr.Validation(op, "unknown index %q", index)
	}
	if err := CheckVectorSample(vectors); err != nil {
		return schema.IndexDescriptor{}, etlerr.Validation(op, "%v", err)
	}
	return desc, nil
}

// CheckVectorSample checks that the leading entries carry an id, non-blank
// text and a metadata object. Past the sample, empty text is reported per
// entry during loading.
func CheckVectorSample(vectors []records.VectorEntry) error {
	for i, v := range vectors[:min(vectorSampleSize, len(vectors))] {
		if v.ID == "" {
			return fmt.Errorf("vector %d: missing id", i)
		}
		if !v.HasText() {
			return fmt.Errorf("vector %d (%s): missing text", i, v.ID)
		}
		if v.Metadata == nil {
			return fmt.Errorf("vector %d (%s): missing metadata", i, v.ID)
		}
	}
	return nil
}

func (l *VectorLoader) loadBatch(
	ctx context.Context,
	log *logging.Logger,
	desc schema.IndexDescriptor,
	rep *VectorLoadReport,
	b int,
	batch []records.VectorEntry,
) {
	fail := func(i int, v records.VectorEntry, msg string) {
		rep.Errors = append(rep.Errors, ItemError{
			BatchIndex: b, RecordIndex: i, ID: v.ID, Kind: etlerr.KindRecord, Error: msg,
		})
	}

	pending := make([]vectorstore.Vector, 0, len(batch))
	for i, v := range batch {
		if !v.HasText() {
			fail(i, v, "empty text")
			continue
		}
		values, err := l.Embedder.Embed(ctx, v.Text)
		if err != nil {
			fail(i, v, fmt.Sprintf("embed: %v", err))
			continue
		}
		if len(values) != desc.Dimension {
			fail(i, v, fmt.Sprintf("embedding dimension %d does not match index dimension %d", len(values), desc.Dimension))
			continue
		}
		md, err := FlattenMetadata(v.Metadata, v.Text)
		if err != nil {
			fail(i, v, fmt.Sprintf("metadata: %v", err))
			continue
		}
		rep.Processed++
		pending = append(pending, vectorstore.Vector{ID: v.ID, Values: values, Metadata: md})
	}
	if len(pending) == 0 {
		return
	}

	n, err := l.Store.Upsert(ctx, string(desc.Index), pending)
	if err != nil {
		metrics.RecordBatch("vectors", "failed")
		rep.Errors = append(rep.Errors, ItemError{
			BatchIndex:  b,
			RecordIndex: -1,
			Kind:        etlerr.KindBatch,
			Error:       fmt.Sprintf("upsert %d vectors: %v", len(pending), err),
		})
		log.Warn("upsert failed", "batch", b, "vectors", len(pending), "error", err)
		return
	}
	rep.Loaded += n
	if n < len(pending) {
		metrics.RecordBatch("vectors", "partial")
		rep.Errors = append(rep.Errors, ItemError{
			BatchIndex:  b,
			RecordIndex: -1,
			Kind:        etlerr.KindBatch,
			Error:       fmt.Sprintf("upsert acknowledged %d of %d vectors", n, len(pending)),
		})
		log.Warn("upsert short", "batch", b, "sent", len(pending), "acknowledged", n)
		return
	}
	metrics.RecordBatch("vectors", "ok")
	log.Debug("batch upserted", "batch", b, "vectors", n)
}

// FlattenMetadata converts metadata to the flat scalar map vector stores
// accept: nil values are dropped, nested objects and lists become JSON text,
// and the chunk text is stored under "text".
func FlattenMetadata(md map[string]any, text string) (map[string]any, error) {
	out := make(map[string]any, len(md)+1)
	for k, v := range md {
		switch t := v.(type) {
		case nil:
			continue
		case string, bool, float64, float32, int, int32, int64:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	out["text"] = text
	return out, nil
}
