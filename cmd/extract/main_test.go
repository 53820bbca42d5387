package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyfin/internal/artifact"
	"pyfin/internal/config"
	"pyfin/internal/logging"
)

const page = `<html><head><title>Emisores registrados</title></head><body>
<table class="emisores"><tbody>
<tr><td>ACME S.A.</td><td>AA-py</td></tr>
<tr><td>Banco Basa S.A.</td><td>A+py</td></tr>
</tbody></table></body></html>`

const mappings = `{"tables":[{"table":"Emisores","record_selector":"table.emisores tbody tr","mappings":[
 {"selector":"td:nth-child(1)","extract":"text","column":"nombre_emisor"},
 {"selector":"td:nth-child(2)","extract":"text","column":"calificacion_bva"}]}]}`

func testDeps(client *http.Client) appDeps {
	return appDeps{
		loadConfig: func(string) (config.Config, error) {
			return config.Config{Relational: config.Relational{Kind: "sqlite"}, Vector: config.Vector{Kind: "memory"}}, nil
		},
		newLogger: func(config.Config, bool) (*logging.Logger, error) { return logging.Nop(), nil },
		initMetrics: func(context.Context, *logging.Logger, string, string, string) (func(), error) {
			return func() {}, nil
		},
		httpClient: client,
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRunMain_DirToRawAndStructured(t *testing.T) {
	dir := t.TempDir()
	pages := filepath.Join(dir, "pages")
	require.NoError(t, os.Mkdir(pages, 0o755))
	writeFile(t, pages, "emisores.html", page)
	m := writeFile(t, dir, "m.json", mappings)
	raw := filepath.Join(dir, "raw.json")
	structured := filepath.Join(dir, "structured.json")

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-dir", pages, "-raw", raw, "-mappings", m, "-structured", structured}, &stdout, &stderr, testDeps(nil))
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "documents=1 failed=0 records=2")

	r, rawMD, err := artifact.ReadRaw(raw)
	require.NoError(t, err)
	require.Len(t, r.Documents, 1)
	assert.Equal(t, "emisores", r.Documents[0].ID)

	data, md, err := artifact.ReadStructured(structured)
	require.NoError(t, err)
	assert.Equal(t, rawMD.RunID, md.RunID)
	require.Len(t, data["Emisores"], 2)
	assert.Equal(t, "Banco Basa S.A.", data["Emisores"][1]["nombre_emisor"])
	assert.Equal(t, "A+py", data["Emisores"][1]["calificacion_bva"])
}

func TestRunMain_URLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	dir := t.TempDir()
	urls := writeFile(t, dir, "urls.txt", "# emisores\n"+srv.URL+"/emisores\n\n"+srv.URL+"/missing\n")
	raw := filepath.Join(dir, "raw.json")

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-urls", urls, "-raw", raw, "-rpm", "0"}, &stdout, &stderr, testDeps(srv.Client()))
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "documents=1 failed=1")

	r, md, err := artifact.ReadRaw(raw)
	require.NoError(t, err)
	require.Len(t, r.Documents, 1)
	assert.Equal(t, srv.URL+"/emisores", r.Documents[0].URL)
	assert.Equal(t, 1, md.Counts["failed"])
}

func TestRunMain_Follow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/publicaciones", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<ul>
<li><a class="informe" href="/informes/ipom-2024">IPoM</a></li>
<li><a class="informe" href="/informes/ipom-2024#resumen">IPoM resumen</a></li>
<li><a class="informe" href="https://otro.example.com/x">externo</a></li>
<li><a href="/contacto">contacto</a></li></ul>`))
	})
	mux.HandleFunc("/informes/ipom-2024", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	urls := writeFile(t, dir, "urls.txt", srv.URL+"/publicaciones\n")
	raw := filepath.Join(dir, "raw.json")

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-urls", urls, "-follow", "a.informe", "-raw", raw, "-rpm", "0"}, &stdout, &stderr, testDeps(srv.Client()))
	require.Equal(t, 0, code, stderr.String())

	r, _, err := artifact.ReadRaw(raw)
	require.NoError(t, err)
	require.Len(t, r.Documents, 1)
	assert.Equal(t, srv.URL+"/informes/ipom-2024", r.Documents[0].URL)
}

func TestRunMain_Usage(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.json", `{"tables":[{"table":"Nope","mappings":[{}]}]}`)
	empty := t.TempDir()

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no_source", []string{"-raw", "r.json"}, 2},
		{"two_sources", []string{"-dir", dir, "-urls", "u.txt", "-raw", "r.json"}, 2},
		{"no_output", []string{"-dir", dir}, 2},
		{"follow_without_urls", []string{"-dir", dir, "-raw", "r.json", "-follow", "a"}, 2},
		{"structured_without_mappings", []string{"-dir", dir, "-structured", "s.json"}, 2},
		{"bad_mappings", []string{"-dir", dir, "-mappings", bad, "-structured", "s.json"}, 2},
		{"missing_urls_file", []string{"-urls", filepath.Join(dir, "none.txt"), "-raw", filepath.Join(dir, "r.json")}, 1},
		{"empty_dir", []string{"-dir", empty, "-raw", filepath.Join(dir, "r.json")}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tc.want, runMain(context.Background(), tc.args, &stdout, &stderr, testDeps(nil)))
		})
	}
}
