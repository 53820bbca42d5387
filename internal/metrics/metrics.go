// Package metrics is the backend-neutral metrics facade used by the loaders
// and the pipeline runner.
//
// Code records through the package-level helpers; a binary picks a concrete
// backend (Datadog, or none) once at startup with SetBackend. The default
// backend drops everything.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends ignore names they do not know.
const (
	StageTotal           = "pyfin_stage_total"
	StageDurationSeconds = "pyfin_stage_duration_seconds"
	RecordsTotal         = "pyfin_records_total"
	VectorsTotal         = "pyfin_vectors_total"
	BatchesTotal         = "pyfin_batches_total"
	EmbeddingsTotal      = "pyfin_embeddings_total"
	EmbedDurationSeconds = "pyfin_embed_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by buffering backends.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// RecordStage counts a pipeline stage and observes its duration.
func RecordStage(stage, status string, d time.Duration) {
	l := Labels{"stage": stage, "status": status}
	IncCounter(StageTotal, 1, l)
	ObserveHistogram(StageDurationSeconds, d.Seconds(), l)
}

// RecordRecords counts relational records by outcome (new, existing,
// unresolved, inserted, skipped).
func RecordRecords(table, outcome string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"table": table, "outcome": outcome})
}

// RecordVectors counts vectors by outcome (new, existing, probe_failed,
// embedded, dropped, loaded).
func RecordVectors(index, outcome string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(VectorsTotal, float64(n), Labels{"index": index, "outcome": outcome})
}

// RecordBatch counts one store batch. kind is "records" or "vectors"; status
// is "ok", "fallback" or "failed".
func RecordBatch(kind, status string) {
	IncCounter(BatchesTotal, 1, Labels{"kind": kind, "status": status})
}

// RecordEmbedding counts one embedding call and observes its latency.
func RecordEmbedding(model, status string, d time.Duration) {
	l := Labels{"model": model, "status": status}
	IncCounter(EmbeddingsTotal, 1, l)
	ObserveHistogram(EmbedDurationSeconds, d.Seconds(), l)
}
