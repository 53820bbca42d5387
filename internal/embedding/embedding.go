// Package embedding turns chunk text into dense vectors for the vector loader.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"

	"pyfin/internal/metrics"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com/"
	DefaultModel    = "models/text-embedding-004"
	DefaultTaskType = "RETRIEVAL_DOCUMENT"
	DefaultTimeout  = 60 * time.Second
)

// Embedder returns one vector per text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Config configures the Gemini embedder.
type Config struct {
	APIKey   string
	Model    string
	TaskType string
	// Endpoint overrides the API base URL (tests).
	Endpoint string
	// RequestsPerMinute caps the call rate. <= 0 disables limiting.
	RequestsPerMinute int
	// HTTPClient defaults to a client with DefaultTimeout.
	HTTPClient *http.Client
}

// Gemini calls the Generative Language v1beta embedContent method over REST.
type Gemini struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
	taskType string
}

type embedPart struct {
	Text string `json:"text"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedRequest struct {
	Model    string       `json:"model"`
	Content  embedContent `json:"content"`
	TaskType string       `json:"taskType,omitempty"`
}

type embedResponse struct {
	Embedding *struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// NewGemini builds a Gemini embedder, wrapped in a rate limiter when
// cfg.RequestsPerMinute is positive.
func NewGemini(ctx context.Context, cfg Config) (Embedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("embedding: missing API key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	taskType := cfg.TaskType
	if taskType == "" {
		taskType = DefaultTaskType
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	var e Embedder = &Gemini{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    model,
		taskType: taskType,
	}
	if cfg.RequestsPerMinute > 0 {
		e = NewRateLimited(e, cfg.RequestsPerMinute)
	}
	return e, nil
}

func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := g.embed(ctx, text)
	if err != nil {
		metrics.RecordEmbedding(g.model, "failed", time.Since(start))
		return nil, err
	}
	metrics.RecordEmbedding(g.model, "ok", time.Since(start))
	return vec, nil
}

func (g *Gemini) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:    g.model,
		Content:  embedContent{Parts: []embedPart{{Text: text}}},
		TaskType: g.taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	url := g.endpoint + "/v1beta/" + g.model + ":embedContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: embedContent %s: %w", g.model, err)
	}
	defer resp.Body.Close()

	// CheckResponse decodes the {"error":{...}} body into a *googleapi.Error.
	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("embedding: embedContent %s: %w", g.model, err)
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if out.Embedding == nil || len(out.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embedding: embedContent %s returned no values", g.model)
	}

	vec := make([]float32, len(out.Embedding.Values))
	for i, v := range out.Embedding.Values {
		vec[i] = float32(v)
	}
	return vec, nil
}

// RateLimited spaces calls to an Embedder with a token bucket and backs off
// after a 429 from the service.
type RateLimited struct {
	next    Embedder
	limiter *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time
	now     func() time.Time
}

// NewRateLimited allows rpm calls per minute with a burst of one.
func NewRateLimited(next Embedder, rpm int) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		now:     time.Now,
	}
}

func (r *RateLimited) Model() string { return r.next.Model() }

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if wait := retryAt.Sub(r.now()); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vec, err := r.next.Embed(ctx, text)
	if IsRateLimited(err) {
		r.mu.Lock()
		r.retryAt = r.now().Add(time.Minute / 2)
		r.mu.Unlock()
	}
	return vec, err
}

// IsRateLimited reports whether err is an HTTP 429 from the Google API.
func IsRateLimited(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 429
}
