// Package rowhash computes deterministic SHA-256 fingerprints of records and
// text.
//
// Record fingerprints identify "the same natural key" inside one input, which
// lets the dedup engine collapse repeats without a store round trip. Text
// fingerprints become the content_hash metadata of vector chunks.
//
// Canonicalization rules:
//   - Fields are concatenated in the given order using Separator.
//   - Missing or nil values are encoded as a single NUL byte (0x00) so missing
//     differs from empty-string.
//   - Values go through storage.NormalizeKey: strings are trimmed and
//     NFC-normalised, numbers use their shortest decimal form.
//   - time.Time values are encoded as RFC3339Nano in UTC.
//   - Output is a lowercase hex string (length 64).
package rowhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"pyfin/internal/storage"
	"pyfin/pkg/records"
)

// Hasher fingerprints a fixed, ordered list of fields.
type Hasher struct {
	// Fields is the ordered list of input fields used to compute the hash.
	Fields []string

	// IncludeFieldNames includes "field=value" in the canonical form.
	IncludeFieldNames bool

	// Separator between field components. Defaults to ASCII Unit Separator.
	Separator string
}

// NaturalKey returns the hasher used for natural-key fingerprints.
func NaturalKey(fields []string) Hasher {
	return Hasher{Fields: fields, IncludeFieldNames: true}
}

// Sum returns the hex fingerprint of r.
func (h Hasher) Sum(r records.Record) string {
	sep := h.Separator
	if sep == "" {
		sep = "\x1f"
	}

	var b strings.Builder
	b.Grow(len(h.Fields) * 20)

	for i, f := range h.Fields {
		if i > 0 {
			b.WriteString(sep)
		}
		if h.IncludeFieldNames {
			b.WriteString(f)
			b.WriteByte('=')
		}

		v, ok := r[f]
		if !ok || v == nil {
			b.WriteByte('\x00')
			continue
		}
		appendCanonicalValue(&b, v)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Apply writes Sum(r) into target on every record, overwriting any value.
func (h Hasher) Apply(in []records.Record, target string) []records.Record {
	if target == "" || len(h.Fields) == 0 {
		return in
	}
	for _, r := range in {
		if r != nil {
			r[target] = h.Sum(r)
		}
	}
	return in
}

func appendCanonicalValue(b *strings.Builder, v any) {
	if t, ok := v.(time.Time); ok {
		if !t.IsZero() {
			t = t.UTC()
		}
		b.WriteString(t.Format(time.RFC3339Nano))
		return
	}
	b.WriteString(storage.NormalizeKey(v))
}

// Text returns the hex SHA-256 of text after NFC normalisation and whitespace
// collapsing, so re-scraped pages with different spacing hash the same.
func Text(text string) string {
	collapsed := strings.Join(strings.Fields(norm.NFC.String(text)), " ")
	sum := sha256.Sum256([]byte(collapsed))
	return hex.EncodeToString(sum[:])
}
