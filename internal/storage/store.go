package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pyfin/pkg/records"
)

// Config is the minimal configuration needed to create a relational store.
//
// Kind must match a registered backend ("supabase", "postgres", "sqlite",
// "mssql"). DSN is the connection string for SQL backends or the project URL
// for supabase. Key is only used by HTTP backends.
type Config struct {
	Kind string
	DSN  string
	Key  string
}

// Condition is one equality predicate. A nil Value matches SQL NULL.
type Condition struct {
	Column string
	Value  any
}

// Filter is a conjunction of equality predicates.
type Filter []Condition

// Columns returns the filter columns in order.
func (f Filter) Columns() []string {
	out := make([]string, len(f))
	for i, c := range f {
		out[i] = c.Column
	}
	return out
}

// Store is the backend-agnostic relational interface consumed by the dedup
// engine, the batch loader and the status reporter.
//
// It deliberately mirrors the table(name).select(filters)/insert(rows) shape of
// the hosted store: each call is atomic on its own and nothing is transactional
// across calls.
type Store interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTables creates tables that do not exist yet. Backends without DDL
	// access (PostgREST) treat this as a no-op.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// SelectMatching returns up to limit rows of table matching every
	// condition in filter. limit <= 0 means no limit.
	SelectMatching(ctx context.Context, table string, filter Filter, limit int) ([]records.Record, error)

	// InsertRows inserts rows with a single statement/request. Either all rows
	// are written or the call fails.
	InsertRows(ctx context.Context, table string, rows []records.Record) (int64, error)

	// CountRows returns the exact row count of table.
	CountRows(ctx context.Context, table string) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under kind. Call it from a backend package's
// init().
//
// Panics if kind is empty, f is nil or kind is already registered, so
// ambiguous backend selection fails at startup.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
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
