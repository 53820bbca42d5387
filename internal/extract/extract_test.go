package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyfin/internal/artifact"
	"pyfin/internal/pipeline"
	"pyfin/pkg/records"
)

const listing = `<html><body>
<table class="emisores"><tbody>
  <tr><td> ACME  S.A. </td><td><a href="https://acme.com.py">web</a></td><td>AA-py</td></tr>
  <tr><td>Banco Basa S.A.</td><td></td><td>Calificación: A+py</td></tr>
  <tr><td></td><td></td><td></td></tr>
</tbody></table>
<div class="dato"><span class="ind">Inflación interanual</span><span class="fecha">31/01/2024</span><span class="v">3,8 %</span></div>
</body></html>`

func compiled(t *testing.T, mf MappingFile) *MappingFile {
	t.Helper()
	require.NoError(t, mf.Compile())
	return &mf
}

func emisoresMapping() TableMapping {
	return TableMapping{
		Table:          "Emisores",
		RecordSelector: "table.emisores tbody tr",
		Mappings: []Mapping{
			{Selector: "td:nth-child(1)", Extract: ModeText, Column: "nombre_emisor"},
			{Selector: "td:nth-child(2) a", Extract: ModeAttr, Attr: "href", Column: "sitio_web"},
			{Selector: "td:nth-child(3)", Extract: ModeText, Column: "calificacion_bva", Match: `([A-D]{1,3}[+-]?py)`},
		},
	}
}

func TestRecords_RecordMode(t *testing.T) {
	mf := compiled(t, MappingFile{Tables: []TableMapping{emisoresMapping()}})

	got, err := Records(listing, mf.Tables[0])
	require.NoError(t, err)
	assert.Equal(t, []records.Record{
		{"nombre_emisor": "ACME S.A.", "sitio_web": "https://acme.com.py", "calificacion_bva": "AA-py"},
		{"nombre_emisor": "Banco Basa S.A.", "calificacion_bva": "A+py"},
	}, got)
}

func TestRecords_SingleModeCoercesTypes(t *testing.T) {
	mf := compiled(t, MappingFile{Tables: []TableMapping{{
		Table: "Dato_Macroeconomico",
		Mappings: []Mapping{
			{Selector: ".dato .ind", Extract: ModeText, Column: "indicador_nombre"},
			{Selector: ".dato .fecha", Extract: ModeText, Column: "fecha_dato"},
			{Selector: ".dato .v", Extract: ModeText, Column: "valor_numerico"},
			{Selector: ".missing", Extract: ModeText, Column: "texto_valor_descriptivo"},
		},
	}}})

	got, err := Records(listing, mf.Tables[0])
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, records.Record{
		"indicador_nombre": "Inflación interanual",
		"fecha_dato":       "2024-01-31",
		"valor_numerico":   3.8,
	}, got[0])
}

func TestRecords_All(t *testing.T) {
	mf := compiled(t, MappingFile{Tables: []TableMapping{{
		Table:    "Emisores",
		Mappings: []Mapping{{Selector: "td:nth-child(1)", Extract: ModeText, Column: "nombre_emisor", All: true}},
	}}})
	got, err := Records(listing, mf.Tables[0])
	require.NoError(t, err)
	assert.Equal(t, "ACME S.A.; Banco Basa S.A.", got[0]["nombre_emisor"])
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		tm   TableMapping
		want string
	}{
		{"unknown_table", TableMapping{Table: "Nope", Mappings: []Mapping{{}}}, `unknown table "Nope"`},
		{"no_mappings", TableMapping{Table: "Moneda"}, "Moneda: no mappings"},
		{"unknown_column", TableMapping{Table: "Moneda", Mappings: []Mapping{{Extract: ModeText, Column: "x"}}}, `unknown column "x"`},
		{"bad_mode", TableMapping{Table: "Moneda", Mappings: []Mapping{{Extract: "js", Column: "codigo_moneda"}}}, `unknown extract mode "js"`},
		{"attr_without_name", TableMapping{Table: "Moneda", Mappings: []Mapping{{Extract: ModeAttr, Column: "codigo_moneda"}}}, "needs attr"},
		{"bad_regex", TableMapping{Table: "Moneda", Mappings: []Mapping{{Extract: ModeText, Column: "codigo_moneda", Match: "("}}}, "invalid match"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mf := MappingFile{Tables: []TableMapping{tc.tm}}
			assert.ErrorContains(t, mf.Compile(), tc.want)
		})
	}
	assert.ErrorContains(t, (&MappingFile{}).Compile(), "no tables")
}

func TestLoadMappingFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "m.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"tables":[{"table":"Moneda","mappings":[{"selector":"td","extract":"text","column":"codigo_moneda"}]}]}`), 0o644))
	mf, err := LoadMappingFile(p)
	require.NoError(t, err)
	assert.Equal(t, "Moneda", mf.Tables[0].Table)

	_, err = LoadMappingFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "read mappings file")
}

func TestStructure(t *testing.T) {
	mf := compiled(t, MappingFile{Tables: []TableMapping{
		emisoresMapping(),
		{Table: "Moneda", Mappings: []Mapping{{Selector: ".moneda", Extract: ModeText, Column: "codigo_moneda"}}},
	}})
	docs := []artifact.Document{
		{ID: "p1", HTML: listing},
		{ID: "p2", Text: "sin html"},
		{ID: "p3", HTML: `<table class="emisores"><tbody><tr><td>Tercero S.A.</td></tr></tbody></table>`},
	}

	data, stats := Structure(docs, mf)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 3, stats.Records["Emisores"])
	require.Len(t, data["Emisores"], 3)
	assert.Equal(t, "Tercero S.A.", data["Emisores"][2]["nombre_emisor"])
	assert.NotContains(t, data, "Moneda")
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"3,8", 3.8},
		{"6,25 %", 6.25},
		{"Gs. 1.500.000", 1500000},
		{"1.234.567,89", 1234567.89},
		{"1,234,567.89", 1234567.89},
		{"1.234", 1234},
		{"12.5", 12.5},
		{"-0,75", -0.75},
		{"USD 2 500,10", 2500.10},
	}
	for _, tc := range tests {
		got, err := ParseNumber(tc.in)
		require.NoError(t, err, tc.in)
		assert.InDelta(t, tc.want, got, 1e-9, tc.in)
	}
	_, err := ParseNumber("n/d")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	for in, want := range map[string]string{
		"2024-01-31": "2024-01-31",
		"31/01/2024": "2024-01-31",
		"1/2/2024":   "2024-02-01",
		"05.03.2023": "2023-03-05",
	} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDate("enero 2024")
	assert.Error(t, err)
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"b.html":    "<p>b</p>",
		"a.htm":     "<p>a</p>",
		"c.html":    "<p>c</p>",
		"notes.txt": "skip",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.html"), 0o755))

	docs, err := ReadDir(dir, pipeline.NewBudget(2), nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "<p>a</p>", docs[0].HTML)
	assert.Equal(t, "b", docs[1].ID)

	_, err = ReadDir(filepath.Join(dir, "missing"), nil, nil)
	assert.ErrorContains(t, err, "read dir")
}

func TestFetchAll(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "pyfin-extract/1.0", r.Header.Get("User-Agent"))
		if strings.HasSuffix(r.URL.Path, "/caido") {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<title>" + r.URL.Path + "</title>"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), 5*time.Second, 0)
	urls := []string{srv.URL + "/informes/boletin.html", srv.URL + "/caido", srv.URL + "/otro", srv.URL + "/ignorado"}
	docs, failed, err := f.FetchAll(context.Background(), urls, pipeline.NewBudget(3), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []string{srv.URL + "/caido"}, failed)
	require.Len(t, docs, 2)
	assert.Equal(t, urls[0], docs[0].URL)
	assert.True(t, strings.HasPrefix(docs[0].ID, "boletin-"))
	assert.Contains(t, docs[0].HTML, "/informes/boletin.html")

	_, err = f.Fetch(context.Background(), srv.URL+"/caido")
	assert.ErrorContains(t, err, "http status 502: boom")
}

func TestFetchAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFetcher(nil, time.Second, 60)
	docs, _, err := f.FetchAll(ctx, []string{"http://127.0.0.1:1/x"}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, docs)
}

func TestDocumentID(t *testing.T) {
	a := DocumentID("https://www.bcp.gov.py/informes/ipom-2024.pdf")
	b := DocumentID("https://www.bcp.gov.py/otros/ipom-2024.pdf")
	assert.True(t, strings.HasPrefix(a, "ipom-2024-"))
	assert.NotEqual(t, a, b)
	assert.Len(t, DocumentID("https://www.bcp.gov.py/"), 8)
}

func TestLinks(t *testing.T) {
	html := `<a class="r" href="/a">a</a><a class="r" href="b?x=1#top">b</a><a class="r" href="/a#dup">dup</a>
<a class="r" href="mailto:x@y.py">mail</a><a class="r" href="https://other.py/c">c</a><a class="r">none</a><a href="/skip">skip</a>`
	got, err := Links(html, "https://www.bcp.gov.py/pub/", "a.r")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.bcp.gov.py/a", "https://www.bcp.gov.py/pub/b?x=1"}, got)

	_, err = Links(html, "not a url", "a")
	assert.Error(t, err)
}
