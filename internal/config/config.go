// Package config loads pipeline settings from an optional JSON file and the
// environment.
//
// Precedence is file, then environment: a non-empty env var overrides the
// file value. ${VAR} references inside the file are expanded before decoding,
// so credentials can stay out of the file either way.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"pyfin/internal/embedding"
	"pyfin/internal/etlerr"
	"pyfin/internal/storage"
	"pyfin/internal/vectorstore"
)

// Config is the decoded pipeline configuration.
type Config struct {
	Job        string     `json:"job"`
	Relational Relational `json:"relational"`
	Vector     Vector     `json:"vector"`
	Embedding  Embedding  `json:"embedding"`
	Runtime    Runtime    `json:"runtime"`
	Metrics    Metrics    `json:"metrics"`
	Logging    Logging    `json:"logging"`
}

type Relational struct {
	// Kind: "supabase" | "postgres" | "sqlite" | "mssql"
	Kind string `json:"kind"`
	// URL and Key are the Supabase project URL and service key.
	URL string `json:"url"`
	Key string `json:"key"`
	// DSN is used by the SQL backends.
	DSN string `json:"dsn"`
}

type Vector struct {
	// Kind: "pinecone" | "qdrant" | "memory"
	Kind   string `json:"kind"`
	APIKey string `json:"api_key"`
	// Addr is the Qdrant gRPC address, or a Pinecone control-plane override.
	Addr string `json:"addr"`
}

type Embedding struct {
	APIKey            string `json:"api_key"`
	Model             string `json:"model"`
	TaskType          string `json:"task_type"`
	RequestsPerMinute int    `json:"requests_per_minute"`
}

// Runtime controls loader and dedup behaviour.
type Runtime struct {
	BatchSize       int `json:"batch_size"`
	VectorBatchSize int `json:"vector_batch_size"`

	// DedupeWithinBatch collapses records whose natural key repeats inside
	// one input before probing the store.
	DedupeWithinBatch bool `json:"dedupe_within_batch"`

	// MaxDocuments bounds how many documents one vectorize run processes.
	// 0 means unbounded.
	MaxDocuments int `json:"max_documents"`
}

type Metrics struct {
	// Backend: "datadog" | "none" | ""
	Backend string `json:"backend"`
	Tags    string `json:"tags"`
}

type Logging struct {
	// Mode: "prod" emits JSON; anything else is console output.
	Mode string `json:"mode"`
}

// Severity is the level of a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found by Validate.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// Load reads path (optional) and overlays the environment. An empty path
// yields a config built from the environment alone.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Decode(raw, &c); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	c.ApplyEnv(os.Getenv)
	c.applyDefaults()
	return c, nil
}

// Decode expands ${VAR} references in raw and decodes it strictly.
func Decode(raw []byte, c *Config) error {
	expanded := os.ExpandEnv(string(raw))
	dec := json.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields with non-empty environment values.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str(&c.Relational.Kind, "RELATIONAL_KIND")
	str(&c.Relational.URL, "SUPABASE_URL")
	str(&c.Relational.Key, "SUPABASE_KEY")
	str(&c.Relational.DSN, "DATABASE_URL")
	str(&c.Vector.Kind, "VECTOR_KIND")
	str(&c.Vector.APIKey, "PINECONE_API_KEY")
	str(&c.Vector.Addr, "QDRANT_ADDR")
	str(&c.Embedding.APIKey, "GEMINI_API_KEY")
	str(&c.Embedding.Model, "EMBEDDING_MODEL")
	num(&c.Embedding.RequestsPerMinute, "EMBEDDING_RPM")
	str(&c.Metrics.Backend, "METRICS_BACKEND")
	str(&c.Metrics.Tags, "METRICS_TAGS")
	str(&c.Logging.Mode, "LOG_MODE")
}

func (c *Config) applyDefaults() {
	if c.Job == "" {
		c.Job = "pyfin"
	}
	if c.Relational.Kind == "" {
		c.Relational.Kind = "supabase"
	}
	if c.Vector.Kind == "" {
		c.Vector.Kind = "pinecone"
	}
	if c.Runtime.BatchSize <= 0 {
		c.Runtime.BatchSize = 50
	}
	if c.Runtime.VectorBatchSize <= 0 {
		c.Runtime.VectorBatchSize = 20
	}
}

// Validate reports structural problems. Missing credentials are not reported
// here; they surface from the *Config accessors when a store is needed.
func Validate(c Config) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Relational.Kind {
	case "supabase", "postgres", "sqlite", "mssql":
	default:
		add(SeverityError, "relational.kind", "unsupported kind %q", c.Relational.Kind)
	}
	switch c.Vector.Kind {
	case "pinecone", "qdrant", "memory":
	default:
		add(SeverityError, "vector.kind", "unsupported kind %q", c.Vector.Kind)
	}
	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		add(SeverityWarning, "metrics.backend", "unknown backend %q; metrics disabled", c.Metrics.Backend)
	}
	if c.Runtime.BatchSize > 1000 {
		add(SeverityWarning, "runtime.batch_size", "batch size %d is large for a single insert", c.Runtime.BatchSize)
	}
	if c.Runtime.MaxDocuments < 0 {
		add(SeverityError, "runtime.max_documents", "must be >= 0")
	}
	if c.Embedding.RequestsPerMinute < 0 {
		add(SeverityError, "embedding.requests_per_minute", "must be >= 0")
	}
	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// RelationalConfig returns the storage config or a configuration error
// naming the missing variable.
func (c Config) RelationalConfig() (storage.Config, error) {
	const op = "config.Relational"
	r := c.Relational
	switch r.Kind {
	case "supabase":
		if r.URL == "" {
			return storage.Config{}, etlerr.Configuration(op, "SUPABASE_URL is not set")
		}
		if r.Key == "" {
			return storage.Config{}, etlerr.Configuration(op, "SUPABASE_KEY is not set")
		}
		return storage.Config{Kind: r.Kind, DSN: r.URL, Key: r.Key}, nil
	case "postgres", "sqlite", "mssql":
		if r.DSN == "" {
			return storage.Config{}, etlerr.Configuration(op, "DATABASE_URL is not set for kind %s", r.Kind)
		}
		return storage.Config{Kind: r.Kind, DSN: r.DSN}, nil
	default:
		return storage.Config{}, etlerr.Configuration(op, "unsupported relational kind %q", r.Kind)
	}
}

// VectorConfig returns the vector store config or a configuration error.
func (c Config) VectorConfig() (vectorstore.Config, error) {
	const op = "config.Vector"
	v := c.Vector
	switch v.Kind {
	case "pinecone":
		if v.APIKey == "" {
			return vectorstore.Config{}, etlerr.Configuration(op, "PINECONE_API_KEY is not set")
		}
	case "qdrant":
		if v.Addr == "" {
			return vectorstore.Config{}, etlerr.Configuration(op, "QDRANT_ADDR is not set")
		}
	case "memory":
	default:
		return vectorstore.Config{}, etlerr.Configuration(op, "unsupported vector kind %q", v.Kind)
	}
	return vectorstore.Config{Kind: v.Kind, APIKey: v.APIKey, Addr: v.Addr}, nil
}

// EmbeddingConfig returns the embedder config or a configuration error.
func (c Config) EmbeddingConfig() (embedding.Config, error) {
	if c.Embedding.APIKey == "" {
		return embedding.Config{}, etlerr.Configuration("config.Embedding", "GEMINI_API_KEY is not set")
	}
	return embedding.Config{
		APIKey:            c.Embedding.APIKey,
		Model:             c.Embedding.Model,
		TaskType:          c.Embedding.TaskType,
		RequestsPerMinute: c.Embedding.RequestsPerMinute,
	}, nil
}
