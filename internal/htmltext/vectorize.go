package htmltext

import (
	"fmt"

	"pyfin/internal/artifact"
	"pyfin/internal/pipeline"
	"pyfin/internal/rowhash"
	"pyfin/pkg/records"
)

// ChunkID returns the vector id of chunk n of document doc.
func ChunkID(doc string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", doc, n)
}

// Stats summarises one Vectorize call.
type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	// Empty counts documents that produced no text.
	Empty int `json:"empty"`
	// Failed lists documents whose HTML could not be parsed.
	Failed []string `json:"failed,omitempty"`
	// Truncated is set when the budget stopped the run early.
	Truncated bool `json:"truncated,omitempty"`
}

// Vectorize chunks every document into vector entries carrying the document
// id under opts.IDField plus chunk_id, titulo, url and content_hash. Documents with HTML are extracted with opts; otherwise
// their plain Text is used. budget may be nil.
//
// A document that cannot be parsed is recorded in Stats.Failed and skipped.
func Vectorize(docs []artifact.Document, opts Options, budget *pipeline.Budget) ([]records.VectorEntry, Stats) {
	opts = opts.withDefaults()
	var (
		out   []records.VectorEntry
		stats Stats
	)

	for _, d := range docs {
		if budget != nil && !budget.Take() {
			stats.Truncated = true
			break
		}
		stats.Documents++

		title, text := d.Title, d.Text
		if d.HTML != "" {
			p, err := Parse(d.HTML)
			if err != nil {
				stats.Failed = append(stats.Failed, d.ID)
				continue
			}
			text = p.Text(opts)
			if title == "" {
				title = p.Title()
			}
		}

		chunks := Chunk(text, opts.ChunkSize, opts.Overlap)
		if len(chunks) == 0 {
			stats.Empty++
			continue
		}
		for n, c := range chunks {
			md := map[string]any{
				opts.IDField:   d.ID,
				"chunk_id":     n,
				"content_hash": rowhash.Text(c),
			}
			if title != "" {
				md["titulo"] = title
			}
			if d.URL != "" {
				md["url"] = d.URL
			}
			out = append(out, records.VectorEntry{ID: ChunkID(d.ID, n), Text: c, Metadata: md})
		}
		stats.Chunks += len(chunks)
	}
	return out, stats
}
