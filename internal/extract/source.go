package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"pyfin/internal/artifact"
	"pyfin/internal/logging"
	"pyfin/internal/pipeline"
	"pyfin/internal/rowhash"
)

// ReadDir returns one document per .html/.htm file in dir, ordered by file
// name. The document id is the file name without extension. Unreadable files
// are logged and skipped.
func ReadDir(dir string, budget *pipeline.Budget, log *logging.Logger) ([]artifact.Document, error) {
	if log == nil {
		log = logging.Nop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var docs []artifact.Document
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".html" && ext != ".htm") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warn("skip unreadable file", "file", e.Name(), "error", err)
			continue
		}
		if budget != nil && !budget.Take() {
			break
		}
		docs = append(docs, artifact.Document{
			ID:   strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			HTML: string(b),
		})
	}
	return docs, nil
}

// Fetcher downloads pages with a per-request timeout and an optional rate
// limit.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// NewFetcher returns a Fetcher. A nil client uses http.DefaultClient;
// perMinute <= 0 disables pacing.
func NewFetcher(client *http.Client, timeout time.Duration, perMinute int) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{client: client, timeout: timeout}
	if perMinute > 0 {
		f.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return f
}

// Fetch returns the body of rawURL. Non-2xx responses are errors carrying the
// status and up to 4KB of the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "pyfin-extract/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}

// FetchAll downloads urls in order. A failed URL is logged and listed in the
// second return value; cancellation stops the loop and is returned.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, budget *pipeline.Budget, log *logging.Logger) ([]artifact.Document, []string, error) {
	if log == nil {
		log = logging.Nop()
	}
	var (
		docs   []artifact.Document
		failed []string
	)
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return docs, failed, err
		}
		if budget != nil && !budget.Take() {
			break
		}
		html, err := f.Fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return docs, failed, ctx.Err()
			}
			log.Warn("fetch failed", "url", u, "error", err)
			failed = append(failed, u)
			continue
		}
		docs = append(docs, artifact.Document{ID: DocumentID(u), URL: u, HTML: html})
	}
	return docs, failed, nil
}

// DocumentID derives a stable id from a page URL: the last path segment
// without extension, suffixed with a short hash of the full URL so distinct
// pages never collide.
func DocumentID(rawURL string) string {
	h := rowhash.Text(rawURL)
	if len(h) > 8 {
		h = h[:8]
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return h
	}
	base := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	if base == "" || base == "." || base == "/" {
		return h
	}
	return base + "-" + h
}

// Links returns the absolute http(s) URLs of the elements matched by selector
// in html that live on the same host as base. Fragments are dropped and
// duplicates removed, keeping document order.
func Links(html, base, selector string) ([]string, error) {
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", base)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := map[string]bool{}
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := b.ResolveReference(u)
		if (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host != b.Host {
			return
		}
		abs.Fragment = ""
		if key := abs.String(); !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	})
	return out, nil
}

// ExpandLinks fetches every index page in urls and returns the links matched
// by selector across all of them, de-duplicated. Index pages that fail are
// logged and skipped.
func (f *Fetcher) ExpandLinks(ctx context.Context, urls []string, selector string, log *logging.Logger) ([]string, error) {
	if log == nil {
		log = logging.Nop()
	}
	seen := map[string]bool{}
	var out []string
	for _, u := range urls {
		html, err := f.Fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			log.Warn("index page fetch failed", "url", u, "error", err)
			continue
		}
		links, err := Links(html, u, selector)
		if err != nil {
			log.Warn("index page skipped", "url", u, "error", err)
			continue
		}
		for _, l := range links {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
		log.Debug("index page expanded", "url", u, "links", len(links))
	}
	return out, nil
}
