// Package memory is an in-process vector store. It backs dry runs and tests;
// nothing is persisted.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"pyfin/internal/vectorstore"
)

func init() {
	vectorstore.Register("memory", func(ctx context.Context, cfg vectorstore.Config) (vectorstore.Store, error) {
		return New(), nil
	})
}

type index struct {
	dimension int
	order     []string
	points    map[string]vectorstore.Vector
}

// Store keeps indexes in memory. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	indexes map[string]*index

	// QueryErr, when set, is returned by every Query call.
	QueryErr error
	// UpsertErr, when set, is returned by every Upsert call.
	UpsertErr error
}

// New returns an empty store.
func New() *Store {
	return &Store{indexes: make(map[string]*index)}
}

// CreateIndex registers an empty index. Recreating an index with the same
// dimension is a no-op.
func (s *Store) CreateIndex(name string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ix, ok := s.indexes[name]; ok {
		if ix.dimension != dimension {
			return fmt.Errorf("memory: index %s exists with dimension %d", name, ix.dimension)
		}
		return nil
	}
	s.indexes[name] = &index{dimension: dimension, points: make(map[string]vectorstore.Vector)}
	return nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Query(ctx context.Context, name string, q vectorstore.Query) ([]vectorstore.Match, error) {
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ix, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("memory: index %s not found", name)
	}
	if len(q.Vector) != ix.dimension {
		return nil, fmt.Errorf("memory: query vector dimension %d does not match index dimension %d", len(q.Vector), ix.dimension)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	var matches []vectorstore.Match
	for _, id := range ix.order {
		v := ix.points[id]
		if !metadataMatches(v.Metadata, q.Filter) {
			continue
		}
		m := vectorstore.Match{ID: id, Score: cosine(q.Vector, v.Values)}
		if q.IncludeMetadata {
			m.Metadata = v.Metadata
		}
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Upsert creates the index on first write, using the dimension of the first
// vector.
func (s *Store) Upsert(ctx context.Context, name string, vectors []vectorstore.Vector) (int, error) {
	if s.UpsertErr != nil {
		return 0, s.UpsertErr
	}
	if len(vectors) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ix, ok := s.indexes[name]
	if !ok {
		ix = &index{dimension: len(vectors[0].Values), points: make(map[string]vectorstore.Vector)}
		s.indexes[name] = ix
	}
	for _, v := range vectors {
		if len(v.Values) != ix.dimension {
			return 0, fmt.Errorf("memory: vector %s dimension %d does not match index dimension %d", v.ID, len(v.Values), ix.dimension)
		}
	}
	for _, v := range vectors {
		if _, exists := ix.points[v.ID]; !exists {
			ix.order = append(ix.order, v.ID)
		}
		ix.points[v.ID] = v
	}
	return len(vectors), nil
}

func (s *Store) DescribeIndexStats(ctx context.Context, name string) (vectorstore.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ix, ok := s.indexes[name]
	if !ok {
		return vectorstore.IndexStats{}, fmt.Errorf("memory: index %s not found", name)
	}
	return vectorstore.IndexStats{TotalVectorCount: int64(len(ix.points)), Dimension: ix.dimension}, nil
}

func (s *Store) Close() error { return nil }

func metadataMatches(md, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := md[k]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	return true
}

// sameValue compares metadata values, treating all numeric kinds alike since
// JSON decoding turns integers into float64.
func sameValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ vectorstore.Store = (*Store)(nil)
