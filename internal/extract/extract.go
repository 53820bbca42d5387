package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pyfin/internal/artifact"
	"pyfin/internal/htmltext"
	"pyfin/pkg/records"
)

// Records applies tm to one page. Missing selectors produce no column; a
// record left with no columns is dropped.
func Records(html string, tm TableMapping) ([]records.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if strings.TrimSpace(tm.RecordSelector) == "" {
		if r := parseSelection(doc.Selection, tm); len(r) > 0 {
			return []records.Record{r}, nil
		}
		return nil, nil
	}

	var out []records.Record
	doc.Find(tm.RecordSelector).Each(func(_ int, sel *goquery.Selection) {
		if r := parseSelection(sel, tm); len(r) > 0 {
			out = append(out, r)
		}
	})
	return out, nil
}

func parseSelection(root *goquery.Selection, tm TableMapping) records.Record {
	out := records.Record{}
	for _, m := range tm.Mappings {
		extractOne := func(sel *goquery.Selection) string {
			var v string
			switch m.Extract {
			case ModeText:
				v = htmltext.Normalize(sel.Text())
			case ModeAttr:
				v, _ = sel.Attr(m.Attr)
				v = strings.TrimSpace(v)
			}
			return applyMatch(v, m)
		}

		var v string
		if m.All {
			var vals []string
			root.Find(m.Selector).Each(func(_ int, sel *goquery.Selection) {
				if s := extractOne(sel); s != "" {
					vals = append(vals, s)
				}
			})
			v = strings.Join(vals, "; ")
		} else if sel := root.Find(m.Selector).First(); sel.Length() > 0 {
			v = extractOne(sel)
		}
		if v == "" {
			continue
		}
		out[m.Column], _ = coerce(tm.types[m.Column], v)
	}
	return out
}

func applyMatch(v string, m Mapping) string {
	if v == "" || m.re == nil {
		return v
	}
	sm := m.re.FindStringSubmatch(v)
	switch {
	case len(sm) == 0:
		return ""
	case len(sm) > 1:
		return sm[1]
	default:
		return sm[0]
	}
}

// Stats summarises one Structure call.
type Stats struct {
	Documents int            `json:"documents"`
	Records   map[string]int `json:"records"`
	// Failed lists documents whose HTML could not be parsed.
	Failed []string `json:"failed,omitempty"`
}

// Structure runs every table mapping over every document with HTML and
// groups the records by table, in document order.
func Structure(docs []artifact.Document, mf *MappingFile) (map[string][]records.Record, Stats) {
	out := map[string][]records.Record{}
	stats := Stats{Records: map[string]int{}}
	for _, d := range docs {
		if d.HTML == "" {
			continue
		}
		stats.Documents++
		for _, tm := range mf.Tables {
			recs, err := Records(d.HTML, tm)
			if err != nil {
				stats.Failed = append(stats.Failed, d.ID)
				break
			}
			if len(recs) > 0 {
				out[tm.Table] = append(out[tm.Table], recs...)
				stats.Records[tm.Table] += len(recs)
			}
		}
	}
	return out, stats
}
