// Package supabase implements storage.Store on top of the hosted Supabase
// REST API (PostgREST).
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pyfin/internal/storage"
	"pyfin/pkg/records"
)

func init() {
	storage.Register("supabase", New)
}

const defaultTimeout = 30 * time.Second

// Store talks to {DSN}/rest/v1/{table}. DSN is the project URL and Key the
// service-role (or anon) key.
type Store struct {
	baseURL string
	key     string
	http    *http.Client
}

// New validates credentials and returns a Store. No request is made.
func New(_ context.Context, cfg storage.Config) (storage.Store, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.DSN), "/")
	if base == "" {
		return nil, fmt.Errorf("supabase: missing project URL")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("supabase: missing API key")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("supabase: invalid project URL: %w", err)
	}
	return &Store{
		baseURL: base,
		key:     strings.TrimSpace(cfg.Key),
		http:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (s *Store) Close() {}

// EnsureTables is a no-op: PostgREST exposes no DDL. Tables are provisioned
// through migrations on the hosted project.
func (s *Store) EnsureTables(context.Context, []storage.TableSpec) error { return nil }

func (s *Store) SelectMatching(ctx context.Context, table string, filter storage.Filter, limit int) ([]records.Record, error) {
	q := selectQuery(filter, limit)
	raw, _, err := s.do(ctx, http.MethodGet, table, q, nil, nil)
	if err != nil {
		return nil, err
	}
	var out []records.Record
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("supabase select %s decode: %w", table, err)
	}
	return out, nil
}

// InsertRows posts rows as one JSON array. PostgREST requires every object to
// carry the same keys, so missing columns are sent as null.
func (s *Store) InsertRows(ctx context.Context, table string, rows []records.Record) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	columns := storage.ColumnsOf(rows, nil)
	body := make([]map[string]any, len(rows))
	for i, r := range rows {
		obj := make(map[string]any, len(columns))
		for _, c := range columns {
			obj[c] = r[c]
		}
		body[i] = obj
	}
	headers := map[string]string{"Prefer": "return=minimal"}
	if _, _, err := s.do(ctx, http.MethodPost, table, nil, body, headers); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// CountRows asks PostgREST for an exact count and reads it from
// Content-Range ("0-0/123" or "*/0").
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("limit", "1")
	headers := map[string]string{"Prefer": "count=exact"}
	_, h, err := s.do(ctx, http.MethodGet, table, q, nil, headers)
	if err != nil {
		return 0, err
	}
	return parseContentRangeTotal(h.Get("Content-Range"))
}

func (s *Store) do(ctx context.Context, method, table string, q url.Values, body any, headers map[string]string) ([]byte, http.Header, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	u := s.baseURL + "/rest/v1/" + url.PathEscape(table)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("supabase %s %s http %d: %s", strings.ToLower(method), table, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, resp.Header, nil
}

// selectQuery renders PostgREST horizontal filters: col=eq.value, or
// col=is.null for nil values.
func selectQuery(filter storage.Filter, limit int) url.Values {
	q := url.Values{}
	q.Set("select", "*")
	for _, c := range filter {
		if c.Value == nil {
			q.Add(c.Column, "is.null")
			continue
		}
		q.Add(c.Column, "eq."+filterLiteral(c.Value))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func filterLiteral(v any) string {
	switch t := storage.BindValue(v).(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func parseContentRangeTotal(cr string) (int64, error) {
	i := strings.LastIndexByte(cr, '/')
	if i < 0 || i == len(cr)-1 {
		return 0, fmt.Errorf("supabase: malformed Content-Range %q", cr)
	}
	total := cr[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("supabase: count not returned (Content-Range %q)", cr)
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("supabase: malformed Content-Range %q: %w", cr, err)
	}
	return n, nil
}
