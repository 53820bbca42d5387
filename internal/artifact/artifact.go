// Package artifact reads and writes the JSON files handed between pipeline
// stages.
//
// Every file is an envelope:
//
//	{"version": 1, "kind": "structured_data",
//	 "metadata": {"run_id": "...", "created_at": "...", "source": "...", "counts": {...}},
//	 "payload": {...}}
//
// Read refuses unknown versions and kinds other than the one requested, so a
// stage never consumes another stage's output by mistake.
package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"pyfin/internal/schema"
	"pyfin/pkg/records"
)

// Version is the envelope version written by this package.
const Version = 1

// Kind names the stage output an artifact holds.
type Kind string

const (
	KindRawExtraction  Kind = "raw_extraction"
	KindStructuredData Kind = "structured_data"
	KindVectorData     Kind = "vector_data"
	KindLoadingResults Kind = "loading_results"
)

func (k Kind) valid() bool {
	switch k {
	case KindRawExtraction, KindStructuredData, KindVectorData, KindLoadingResults:
		return true
	}
	return false
}

type Metadata struct {
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Source    string         `json:"source,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
}

// outEnvelope is envelope with the payload encoded in place, so the
// encoder's HTML escaping setting also covers the payload.
type outEnvelope struct {
	Version  int      `json:"version"`
	Kind     Kind     `json:"kind"`
	Metadata Metadata `json:"metadata"`
	Payload  any      `json:"payload"`
}

type envelope struct {
	Version  int             `json:"version"`
	Kind     Kind            `json:"kind"`
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Document is one extracted page or report in a raw_extraction artifact.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	HTML  string `json:"html,omitempty"`
	Text  string `json:"text,omitempty"`
}

// RawExtraction is the raw_extraction payload.
type RawExtraction struct {
	Documents []Document `json:"documents"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Write stores payload under kind at path. The file is written to a temporary
// sibling and renamed into place. Missing RunID and CreatedAt are filled in.
func Write(path string, kind Kind, md Metadata, payload any) error {
	if !kind.valid() {
		return fmt.Errorf("artifact: unknown kind %q", kind)
	}
	if md.RunID == "" {
		md.RunID = NewRunID()
	}
	if md.CreatedAt.IsZero() {
		md.CreatedAt = time.Now().UTC()
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("artifact: create temp in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(outEnvelope{Version: Version, Kind: kind, Metadata: md, Payload: payload}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("artifact: write %s %s: %w", kind, path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("artifact: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("artifact: rename into %s: %w", path, err)
	}
	return nil
}

// Read decodes the artifact at path into payload after checking its version
// and kind.
func Read(path string, kind Kind, payload any) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("artifact: %w", err)
	}
	defer f.Close()
	md, err := Decode(f, kind, payload)
	if err != nil {
		return md, fmt.Errorf("%w (file %s)", err, path)
	}
	return md, nil
}

// Decode is Read for an already open stream.
func Decode(r io.Reader, kind Kind, payload any) (Metadata, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return Metadata{}, fmt.Errorf("artifact: decode envelope: %w", err)
	}
	if env.Version != Version {
		return env.Metadata, fmt.Errorf("artifact: unsupported version %d (want %d)", env.Version, Version)
	}
	if env.Kind != kind {
		return env.Metadata, fmt.Errorf("artifact: kind %q, want %q", env.Kind, kind)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return env.Metadata, fmt.Errorf("artifact: %s has no payload", kind)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return env.Metadata, fmt.Errorf("artifact: decode %s payload: %w", kind, err)
	}
	return env.Metadata, nil
}

// WriteStructured writes a structured_data artifact with per-table counts.
func WriteStructured(path string, md Metadata, data map[string][]records.Record) error {
	md.Counts = make(map[string]int, len(data))
	for t, recs := range data {
		md.Counts[t] = len(recs)
	}
	return Write(path, KindStructuredData, md, data)
}

// ReadStructured reads a structured_data artifact. Every table must be
// registered.
func ReadStructured(path string) (map[string][]records.Record, Metadata, error) {
	var data map[string][]records.Record
	md, err := Read(path, KindStructuredData, &data)
	if err != nil {
		return nil, md, err
	}
	for _, t := range sortedKeys(data) {
		if _, ok := schema.LookupTable(t); !ok {
			return nil, md, fmt.Errorf("artifact: %s: unknown table %q", path, t)
		}
	}
	return data, md, nil
}

// WriteVectors writes a vector_data artifact with per-index counts.
func WriteVectors(path string, md Metadata, data map[string][]records.VectorEntry) error {
	md.Counts = make(map[string]int, len(data))
	for ix, vs := range data {
		md.Counts[ix] = len(vs)
	}
	return Write(path, KindVectorData, md, data)
}

// ReadVectors reads a vector_data artifact. Every index must be registered.
func ReadVectors(path string) (map[string][]records.VectorEntry, Metadata, error) {
	var data map[string][]records.VectorEntry
	md, err := Read(path, KindVectorData, &data)
	if err != nil {
		return nil, md, err
	}
	for _, ix := range sortedKeys(data) {
		if _, ok := schema.LookupIndex(ix); !ok {
			return nil, md, fmt.Errorf("artifact: %s: unknown index %q", path, ix)
		}
	}
	return data, md, nil
}

// ReadRaw reads a raw_extraction artifact.
func ReadRaw(path string) (RawExtraction, Metadata, error) {
	var raw RawExtraction
	md, err := Read(path, KindRawExtraction, &raw)
	return raw, md, err
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
