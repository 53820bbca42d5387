// Package pinecone is a REST client for Pinecone serverless indexes.
//
// Control-plane calls (list/describe) go to BaseURL; data-plane calls go to the
// per-index host returned by describe_index, which is cached per index.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"pyfin/internal/vectorstore"
)

const (
	defaultAPIVersion = "2025-10"
	defaultBaseURL    = "https://api.pinecone.io"
)

func init() {
	vectorstore.Register("pinecone", func(ctx context.Context, cfg vectorstore.Config) (vectorstore.Store, error) {
		return New(Config{APIKey: cfg.APIKey, BaseURL: cfg.Addr})
	})
}

type Config struct {
	APIKey     string
	APIVersion string
	BaseURL    string
	Timeout    time.Duration
}

type Store struct {
	cfg  Config
	http *http.Client

	mu    sync.Mutex
	hosts map[string]string
}

func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Pinecone API key")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Store{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		hosts: make(map[string]string),
	}, nil
}

// -------------------- Control plane --------------------

type indexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

type listIndexesResponse struct {
	Indexes []indexDescription `json:"indexes"`
}

func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/indexes"
	out, err := doJSON[listIndexesResponse](s, ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("pinecone list_indexes: %w", err)
	}
	names := make([]string, 0, len(out.Indexes))
	s.mu.Lock()
	for _, ix := range out.Indexes {
		names = append(names, ix.Name)
		if ix.Host != "" {
			s.hosts[ix.Name] = ix.Host
		}
	}
	s.mu.Unlock()
	return names, nil
}

func (s *Store) describeIndex(ctx context.Context, name string) (*indexDescription, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("index name required")
	}
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/indexes/" + name
	out, err := doJSON[indexDescription](s, ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("pinecone describe_index %s: %w", name, err)
	}
	if strings.TrimSpace(out.Host) == "" {
		return nil, fmt.Errorf("pinecone describe_index %s returned empty host", name)
	}
	return out, nil
}

func (s *Store) host(ctx context.Context, index string) (string, error) {
	s.mu.Lock()
	h, ok := s.hosts[index]
	s.mu.Unlock()
	if ok {
		return h, nil
	}
	desc, err := s.describeIndex(ctx, index)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.hosts[index] = desc.Host
	s.mu.Unlock()
	return desc.Host, nil
}

// -------------------- Data plane --------------------

type wireVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors []wireVector `json:"vectors"`
}

type upsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

func (s *Store) Upsert(ctx context.Context, index string, vectors []vectorstore.Vector) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	h, err := s.host(ctx, index)
	if err != nil {
		return 0, err
	}
	req := upsertRequest{Vectors: make([]wireVector, len(vectors))}
	for i, v := range vectors {
		req.Vectors[i] = wireVector{ID: v.ID, Values: v.Values, Metadata: v.Metadata}
	}
	out, err := doJSON[upsertResponse](s, ctx, http.MethodPost, dataURL(h, "/vectors/upsert"), req)
	if err != nil {
		return 0, fmt.Errorf("pinecone upsert %s: %w", index, err)
	}
	return out.UpsertedCount, nil
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeValues   bool           `json:"includeValues"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryMatch struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type queryResponse struct {
	Matches []queryMatch `json:"matches"`
}

func (s *Store) Query(ctx context.Context, index string, q vectorstore.Query) ([]vectorstore.Match, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	h, err := s.host(ctx, index)
	if err != nil {
		return nil, err
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	req := queryRequest{
		Vector:          q.Vector,
		TopK:            topK,
		Filter:          buildFilter(q.Filter),
		IncludeMetadata: q.IncludeMetadata,
	}
	out, err := doJSON[queryResponse](s, ctx, http.MethodPost, dataURL(h, "/query"), req)
	if err != nil {
		return nil, fmt.Errorf("pinecone query %s: %w", index, err)
	}
	matches := make([]vectorstore.Match, 0, len(out.Matches))
	for _, m := range out.Matches {
		matches = append(matches, vectorstore.Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return matches, nil
}

type statsResponse struct {
	Dimension        int   `json:"dimension"`
	TotalVectorCount int64 `json:"totalVectorCount"`
}

func (s *Store) DescribeIndexStats(ctx context.Context, index string) (vectorstore.IndexStats, error) {
	h, err := s.host(ctx, index)
	if err != nil {
		return vectorstore.IndexStats{}, err
	}
	out, err := doJSON[statsResponse](s, ctx, http.MethodPost, dataURL(h, "/describe_index_stats"), struct{}{})
	if err != nil {
		return vectorstore.IndexStats{}, fmt.Errorf("pinecone describe_index_stats %s: %w", index, err)
	}
	return vectorstore.IndexStats{TotalVectorCount: out.TotalVectorCount, Dimension: out.Dimension}, nil
}

func (s *Store) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

// -------------------- helpers --------------------

// buildFilter turns equality predicates into Pinecone's {"field": {"$eq": v}}
// metadata filter.
func buildFilter(eq map[string]any) map[string]any {
	if len(eq) == 0 {
		return nil
	}
	out := make(map[string]any, len(eq))
	for k, v := range eq {
		out[k] = map[string]any{"$eq": v}
	}
	return out
}

// dataURL accepts bare hosts (as returned by describe_index) and full URLs.
func dataURL(host, path string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host + path
}

func doJSON[T any](s *Store, ctx context.Context, method, url string, body any) (*T, error) {
	var rdr io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
		rdr = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("X-Pinecone-Api-Version", s.cfg.APIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pinecone http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pinecone decode error: %w; raw=%s", err, string(raw))
	}
	return &out, nil
}

var _ vectorstore.Store = (*Store)(nil)
