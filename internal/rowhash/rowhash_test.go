package rowhash

import (
	"strconv"
	"testing"
	"time"

	"pyfin/pkg/records"
)

func TestSum_DeterministicWithTrimAndNFC(t *testing.T) {
	h := NaturalKey([]string{"titulo_informe", "fecha_publicacion"})

	r1 := records.Record{
		"titulo_informe":    " Informe de Política Monetaria ",
		"fecha_publicacion": "2024-03-31",
	}
	// Same title with a decomposed "i" + combining acute accent.
	r2 := records.Record{
		"titulo_informe":    "Informe de Poli\u0301tica Monetaria",
		"fecha_publicacion": "2024-03-31",
	}

	s1, s2 := h.Sum(r1), h.Sum(r2)
	if len(s1) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d (%q)", len(s1), s1)
	}
	if s1 != s2 {
		t.Fatalf("expected same hash after trim+NFC; s1=%q s2=%q", s1, s2)
	}
}

func TestSum_ChangesWhenFieldChanges(t *testing.T) {
	h := NaturalKey([]string{"indicador_nombre", "fecha_dato"})

	a := records.Record{"indicador_nombre": "IPC", "fecha_dato": "2024-01-31"}
	b := records.Record{"indicador_nombre": "IPC", "fecha_dato": "2024-02-29"}

	if h.Sum(a) == h.Sum(b) {
		t.Fatalf("expected different hashes when inputs differ")
	}
}

func TestSum_MissingVsEmptyDifferent(t *testing.T) {
	h := NaturalKey([]string{"nombre_emisor", "sitio_web"})

	missing := records.Record{"nombre_emisor": "ACME S.A."}
	empty := records.Record{"nombre_emisor": "ACME S.A.", "sitio_web": ""}

	if h.Sum(missing) == h.Sum(empty) {
		t.Fatalf("expected different hashes for missing vs empty")
	}
	nilValue := records.Record{"nombre_emisor": "ACME S.A.", "sitio_web": nil}
	if h.Sum(missing) != h.Sum(nilValue) {
		t.Fatalf("missing and nil should hash the same")
	}
}

func TestSum_NumericFormsAgree(t *testing.T) {
	h := NaturalKey([]string{"id_emisor"})
	if h.Sum(records.Record{"id_emisor": float64(7)}) != h.Sum(records.Record{"id_emisor": int64(7)}) {
		t.Fatalf("float64(7) and int64(7) should hash the same")
	}
}

func TestSum_TimeInUTC(t *testing.T) {
	h := NaturalKey([]string{"ts"})
	loc := time.FixedZone("PYT", -3*3600)
	a := records.Record{"ts": time.Date(2024, 5, 1, 9, 0, 0, 0, loc)}
	b := records.Record{"ts": time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	if h.Sum(a) != h.Sum(b) {
		t.Fatalf("same instant in different zones should hash the same")
	}
}

func TestApply(t *testing.T) {
	h := NaturalKey([]string{"codigo_moneda"})
	recs := []records.Record{{"codigo_moneda": "PYG"}, nil, {"codigo_moneda": "USD", "row_hash": "stale"}}
	h.Apply(recs, "row_hash")
	if recs[0]["row_hash"] == nil || recs[2]["row_hash"] == "stale" {
		t.Fatalf("Apply did not write hashes: %v", recs)
	}
	if out := (Hasher{}).Apply(recs, "x"); len(out) != 3 {
		t.Fatalf("no-op Apply changed length")
	}
}

func TestText_CollapsesWhitespace(t *testing.T) {
	if Text("Resumen  del\n informe") != Text(" Resumen del informe ") {
		t.Fatalf("whitespace variants should hash the same")
	}
	if Text("a") == Text("b") {
		t.Fatalf("different text should hash differently")
	}
}

func BenchmarkSum(b *testing.B) {
	h := NaturalKey([]string{"fecha_operacion", "id_instrumento", "precio_operacion"})

	const n = 10_000
	recs := make([]records.Record, n)
	for i := 0; i < n; i++ {
		recs[i] = records.Record{
			"fecha_operacion":  "2024-06-03",
			"id_instrumento":   int64(i % 300),
			"precio_operacion": float64(100+i%50) + 0.25,
			"simbolo":          " BBVA" + strconv.Itoa(i) + " ",
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, r := range recs {
			_ = h.Sum(r)
		}
	}
}
