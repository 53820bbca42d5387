package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyfin/internal/artifact"
	"pyfin/internal/config"
	"pyfin/internal/logging"
	"pyfin/internal/report"
	"pyfin/internal/schema"
	"pyfin/internal/storage"
	"pyfin/internal/storage/sqlite"
	"pyfin/internal/vectorstore"
	"pyfin/internal/vectorstore/memory"
	"pyfin/pkg/records"
)

func testDeps(t *testing.T) appDeps {
	t.Helper()
	return appDeps{
		loadConfig: func(string) (config.Config, error) {
			return config.Config{
				Relational: config.Relational{Kind: "sqlite", DSN: ":memory:"},
				Vector:     config.Vector{Kind: "memory"},
			}, nil
		},
		newLogger: func(config.Config, bool) (*logging.Logger, error) { return logging.Nop(), nil },
		newRelational: func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
			st, err := sqlite.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			if err := st.EnsureTables(ctx, schema.TableSpecs()); err != nil {
				return nil, err
			}
			_, err = st.InsertRows(ctx, "Moneda", []records.Record{{"codigo_moneda": "PYG"}})
			return st, err
		},
		newVector: func(context.Context, vectorstore.Config) (vectorstore.Store, error) {
			vs := memory.New()
			return vs, vs.CreateIndex(string(schema.DocumentosInformes), schema.EmbeddingDimension)
		},
	}
}

func run(t *testing.T, deps appDeps, args ...string) (int, output, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), args, &stdout, &stderr, deps)
	var out output
	if stdout.Len() > 0 {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	}
	return code, out, stderr.String()
}

func TestRunMain_Status(t *testing.T) {
	code, out, stderr := run(t, testDeps(t), "-tables", "Moneda,Emisores", "-indexes", "documentos-informes-vector,licitacion-contrato-vector")
	require.Equal(t, 0, code, stderr)
	require.NotNil(t, out.Status)
	require.Len(t, out.Status.Tables, 2)
	assert.Equal(t, report.StateLoaded, out.Status.Tables[0].State)
	assert.Equal(t, report.StateEmpty, out.Status.Tables[1].State)
	require.Len(t, out.Status.Indexes, 2)
	assert.Equal(t, report.StateEmpty, out.Status.Indexes[0].State)
	assert.Equal(t, report.StateMissing, out.Status.Indexes[1].State)
	assert.True(t, out.Valid)
}

func TestRunMain_StoreErrorsAreReported(t *testing.T) {
	deps := testDeps(t)
	deps.loadConfig = func(string) (config.Config, error) {
		return config.Config{Relational: config.Relational{Kind: "supabase"}, Vector: config.Vector{Kind: "memory"}}, nil
	}
	deps.newVector = func(context.Context, vectorstore.Config) (vectorstore.Store, error) {
		return nil, errors.New("dial tcp: refused")
	}

	code, out, stderr := run(t, deps)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out.Status.RelationalError, "SUPABASE_URL")
	assert.Equal(t, "vector store (memory): dial tcp: refused", out.Status.VectorError)
	assert.Empty(t, out.Status.Tables)
}

func TestRunMain_Validate(t *testing.T) {
	dir := t.TempDir()
	structured := filepath.Join(dir, "structured.json")
	require.NoError(t, artifact.WriteStructured(structured, artifact.Metadata{RunID: "r"}, map[string][]records.Record{
		"Informe_General": {{"titulo_informe": "Boletín", "fecha_publicacion": "2024-01-31"}},
		"Moneda":          {{"codigo_moneda": "PYG"}},
	}))
	vectors := filepath.Join(dir, "vectors.json")
	require.NoError(t, artifact.WriteVectors(vectors, artifact.Metadata{RunID: "r"}, map[string][]records.VectorEntry{
		string(schema.DocumentosInformes): {{ID: "inf-1_chunk_0", Text: "Resumen", Metadata: map[string]any{"id_informe": "inf-1", "chunk_id": 0}}},
	}))

	code, out, stderr := run(t, testDeps(t), "-no-stores", "-structured", structured, "-vectors", vectors)
	require.Equal(t, 0, code, stderr)
	assert.Nil(t, out.Status)
	require.Len(t, out.Validation, 2)
	assert.Equal(t, "Moneda", out.Validation[0].Table)
	assert.Nil(t, out.Validation[0].Vectors)
	assert.Equal(t, "Informe_General", out.Validation[1].Table)
	assert.Equal(t, string(schema.DocumentosInformes), out.Validation[1].Index)
	require.NotNil(t, out.Validation[1].Vectors)
	assert.True(t, out.Validation[1].Vectors.Valid)
	assert.True(t, out.Valid)
}

func TestRunMain_ValidateVectorsOnlyFailure(t *testing.T) {
	vectors := filepath.Join(t.TempDir(), "vectors.json")
	require.NoError(t, artifact.WriteVectors(vectors, artifact.Metadata{RunID: "r"}, map[string][]records.VectorEntry{
		string(schema.DocumentosInformes): {{ID: "", Text: "x", Metadata: map[string]any{}}},
	}))

	code, out, _ := run(t, testDeps(t), "-no-stores", "-vectors", vectors)
	assert.Equal(t, 1, code)
	assert.False(t, out.Valid)
	require.Len(t, out.Validation, 1)
	assert.Contains(t, out.Validation[0].Vectors.Issues, "vector 0: missing id")
}

func TestRunMain_Usage(t *testing.T) {
	deps := testDeps(t)
	code, _, _ := run(t, deps, "extra")
	assert.Equal(t, 2, code)

	deps.loadConfig = func(string) (config.Config, error) { return config.Config{}, errors.New("bad json") }
	code, _, stderr := run(t, deps)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "config: bad json")
}
