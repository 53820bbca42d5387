// Package vectorstore is the backend-agnostic vector index interface consumed
// by the vector dedup engine, the vector loader and the status reporter.
//
// Backends register themselves by kind from their init() the same way the
// relational backends in internal/storage do.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to create a vector store.
//
// Kind must match a registered backend ("pinecone", "qdrant", "memory").
// APIKey is used by hosted backends. Addr is the gRPC address for qdrant or a
// control-plane base URL override for pinecone.
type Config struct {
	Kind   string
	APIKey string
	Addr   string
}

// Vector is one point written by Upsert.
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is one query hit.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Query is a nearest-neighbour request. Filter is a conjunction of metadata
// equality predicates.
type Query struct {
	Vector          []float32
	Filter          map[string]any
	TopK            int
	IncludeMetadata bool
}

// IndexStats is the result of DescribeIndexStats.
type IndexStats struct {
	TotalVectorCount int64
	Dimension        int
}

// Store is implemented by every vector backend.
type Store interface {
	// ListIndexes returns the names of the indexes visible to the client.
	ListIndexes(ctx context.Context) ([]string, error)

	// Query runs a nearest-neighbour search against index.
	Query(ctx context.Context, index string, q Query) ([]Match, error)

	// Upsert writes vectors with a single call and returns the number the
	// backend acknowledged.
	Upsert(ctx context.Context, index string, vectors []Vector) (int, error)

	// DescribeIndexStats returns the vector count and dimension of index.
	DescribeIndexStats(ctx context.Context, index string) (IndexStats, error)

	Close() error
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under kind. Panics on an empty kind, a nil
// factory or a duplicate registration.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("vectorstore: Register called with empty kind")
	}
	if f == nil {
		panic("vectorstore: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("vectorstore: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("vectorstore: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported vectorstore.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ZeroVector returns a dimension-length vector of zeros, used as the dummy
// query vector of existence probes.
func ZeroVector(dimension int) []float32 {
	if dimension <= 0 {
		return nil
	}
	return make([]float32, dimension)
}
