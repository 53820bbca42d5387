// Package htmltext turns extracted report pages into chunked vector entries.
//
// Text is pulled from the elements matched by a CSS selector (goquery), with
// boilerplate elements removed first. Whitespace is collapsed and the text is
// split into fixed-size, overlapping windows measured in runes.
package htmltext

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultSelector  = "body"
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
	DefaultIDField   = "id_informe"
)

// DefaultDrop lists elements removed before text extraction.
var DefaultDrop = []string{"script", "style", "noscript", "nav", "header", "footer", "form"}

// Options controls extraction and chunking. Zero values take the defaults.
type Options struct {
	Selector  string
	Drop      []string
	ChunkSize int
	Overlap   int
	// IDField is the metadata key that carries the document id.
	IDField string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Selector) == "" {
		o.Selector = DefaultSelector
	}
	if o.Drop == nil {
		o.Drop = DefaultDrop
	}
	if o.IDField == "" {
		o.IDField = DefaultIDField
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		o.Overlap = 0
	}
	return o
}

// Page is a parsed HTML document.
type Page struct {
	doc *goquery.Document
}

// Parse parses html.
func Parse(html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{doc: doc}, nil
}

// Title returns the <title> text, falling back to the first <h1>.
func (p *Page) Title() string {
	if t := Normalize(p.doc.Find("title").First().Text()); t != "" {
		return t
	}
	return Normalize(p.doc.Find("h1").First().Text())
}

// Text returns the normalised text of every element matched by
// opts.Selector, one block per match, after removing opts.Drop elements.
// A selector that matches nothing yields "".
func (p *Page) Text(opts Options) string {
	opts = opts.withDefaults()
	for _, sel := range opts.Drop {
		p.doc.Find(sel).Remove()
	}

	var blocks []string
	p.doc.Find(opts.Selector).Each(func(_ int, s *goquery.Selection) {
		// Block elements are separated by a space so words do not fuse.
		s.Find("p, div, li, br, h1, h2, h3, h4, h5, h6, td, th, tr").Each(func(_ int, b *goquery.Selection) {
			b.AppendHtml(" ")
		})
		if t := Normalize(s.Text()); t != "" {
			blocks = append(blocks, t)
		}
	})
	return strings.Join(blocks, "\n")
}

// ExtractText is Parse followed by Text.
func ExtractText(html string, opts Options) (string, error) {
	p, err := Parse(html)
	if err != nil {
		return "", err
	}
	return p.Text(opts), nil
}

// Normalize collapses runs of whitespace into single spaces and trims.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Chunk splits text into windows of at most size runes, each starting about
// overlap runes before the end of the previous one. Windows end on a space
// when one exists in their second half, and the next window starts on a word
// boundary. overlap >= size is treated as 0.
func Chunk(text string, size, overlap int) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	r := []rune(text)
	var out []string
	for start := 0; start < len(r); {
		end := min(start+size, len(r))
		if end < len(r) {
			for i := end; i > start+size/2; i-- {
				if r[i] == ' ' {
					end = i
					break
				}
			}
		}
		if c := strings.TrimSpace(string(r[start:end])); c != "" {
			out = append(out, c)
		}
		if end >= len(r) {
			break
		}
		next := end - overlap
		for next < end && next > 0 && r[next-1] != ' ' {
			next++
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}
