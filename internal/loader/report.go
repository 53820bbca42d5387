// Package loader writes deduplicated records and vectors into the destination
// stores in fixed-size batches.
//
// Loaders never abort a run because of one bad item. Precondition failures
// (missing store, empty or malformed input) return an error together with a
// report whose Status is StatusFailed; record and batch failures are collected
// in the report while loading continues.
package loader

import (
	"math"

	"pyfin/internal/etlerr"
	"pyfin/pkg/records"
)

const (
	DefaultBatchSize       = 50
	DefaultVectorBatchSize = 20

	// vectorSampleSize is how many leading entries are checked structurally
	// before any embedding call.
	vectorSampleSize = 5
)

// Status is the overall outcome of a load call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ItemError is one failed record, vector or vector batch.
//
// RecordIndex is the position inside the batch; it is -1 for failures that
// concern the whole batch (a rejected vector upsert).
type ItemError struct {
	BatchIndex  int            `json:"batch_index"`
	RecordIndex int            `json:"record_index"`
	ID          string         `json:"id,omitempty"`
	Record      records.Record `json:"record,omitempty"`
	Kind        etlerr.Kind    `json:"kind"`
	Error       string         `json:"error"`
}

// LoadReport is the outcome of BatchLoader.LoadRecords.
type LoadReport struct {
	Table        string      `json:"table"`
	TotalRecords int         `json:"total_records"`
	Inserted     int         `json:"inserted"`
	Skipped      int         `json:"skipped"`
	Batches      int         `json:"batches"`
	Errors       []ItemError `json:"errors"`
	SuccessRate  float64     `json:"success_rate"`
	Status       Status      `json:"status"`
	Error        string      `json:"error,omitempty"`
}

// VectorLoadReport is the outcome of VectorLoader.LoadVectors. Processed
// counts vectors embedded successfully; Loaded counts vectors the store
// accepted.
type VectorLoadReport struct {
	Index        string      `json:"index"`
	TotalVectors int         `json:"total_vectors"`
	Processed    int         `json:"processed"`
	Loaded       int         `json:"loaded"`
	Batches      int         `json:"batches"`
	Errors       []ItemError `json:"errors"`
	SuccessRate  float64     `json:"success_rate"`
	Status       Status      `json:"status"`
	Error        string      `json:"error,omitempty"`
}

// successRate returns ok/total as a percentage rounded to two decimals.
func successRate(ok, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(ok)*100*100/float64(total)) / 100
}

func batchCount(n, size int) int {
	return (n + size - 1) / size
}
