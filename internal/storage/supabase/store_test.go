package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyfin/internal/storage"
	"pyfin/pkg/records"
)

func newTestStore(t *testing.T, h http.HandlerFunc) storage.Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	st, err := New(context.Background(), storage.Config{Kind: "supabase", DSN: srv.URL, Key: "service-key"})
	require.NoError(t, err)
	return st
}

func TestNew_RequiresURLAndKey(t *testing.T) {
	_, err := New(context.Background(), storage.Config{Key: "k"})
	require.Error(t, err)
	_, err = New(context.Background(), storage.Config{DSN: "https://x.supabase.co"})
	require.Error(t, err)
}

func TestSelectMatching_SendsFiltersAndAuth(t *testing.T) {
	st := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/Emisores", r.URL.Path)
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "eq.Banco Basa S.A.", q.Get("nombre_emisor"))
		assert.Equal(t, "is.null", q.Get("sitio_web"))
		assert.Equal(t, "eq.3", q.Get("id_categoria_emisor"))
		assert.Equal(t, "1", q.Get("limit"))

		_, _ = io.WriteString(w, `[{"id_emisor":9,"nombre_emisor":"Banco Basa S.A."}]`)
	})

	got, err := st.SelectMatching(context.Background(), "Emisores", storage.Filter{
		{Column: "nombre_emisor", Value: "Banco Basa S.A."},
		{Column: "sitio_web", Value: nil},
		{Column: "id_categoria_emisor", Value: float64(3)},
	}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(9), got[0]["id_emisor"])
}

func TestInsertRows_PostsUniformArray(t *testing.T) {
	st := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))

		var body []map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if assert.Len(t, body, 2) {
			for _, obj := range body {
				assert.Contains(t, obj, "codigo_moneda")
				assert.Contains(t, obj, "nombre_moneda")
			}
			assert.Nil(t, body[1]["nombre_moneda"])
		}
		w.WriteHeader(http.StatusCreated)
	})

	n, err := st.InsertRows(context.Background(), "Moneda", []records.Record{
		{"codigo_moneda": "PYG", "nombre_moneda": "Guaraní"},
		{"codigo_moneda": "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestInsertRows_SurfacesHTTPError(t *testing.T) {
	st := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key"}`)
	})

	_, err := st.InsertRows(context.Background(), "Moneda", []records.Record{{"codigo_moneda": "PYG"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestCountRows_ParsesContentRange(t *testing.T) {
	st := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		w.Header().Set("Content-Range", "0-0/128")
		_, _ = io.WriteString(w, `[{}]`)
	})

	n, err := st.CountRows(context.Background(), "Informe_General")
	require.NoError(t, err)
	assert.Equal(t, int64(128), n)
}

func TestParseContentRangeTotal(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "0-24/3573", want: 3573},
		{in: "*/0", want: 0},
		{in: "0-0/*", wantErr: true},
		{in: "", wantErr: true},
		{in: "0-1/abc", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseContentRangeTotal(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
