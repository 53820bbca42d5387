package mssql

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"

	"pyfin/internal/storage"
	"pyfin/pkg/records"
)

type fakeResult struct{ n int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

type fakeRow struct {
	n   int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.n
	return nil
}

// fakeDB records every statement it is asked to run.
type fakeDB struct {
	execs   []string
	args    [][]any
	execErr error
	count   int64
	closed  bool
}

func (f *fakeDB) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, q)
	f.args = append(f.args, args)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult{n: int64(strings.Count(q, "("+"@p"))}, nil
}

func (f *fakeDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRowContext(_ context.Context, q string, _ ...any) rowScanner {
	f.execs = append(f.execs, q)
	return fakeRow{n: f.count}
}

func (f *fakeDB) Close() error { f.closed = true; return nil }

func boolPtr(v bool) *bool { return &v }

func TestBuildSelectSQL_TopAndPlaceholders(t *testing.T) {
	t.Parallel()

	q, args := buildSelectSQL("Dato_Macroeconomico", storage.Filter{
		{Column: "indicador_nombre", Value: "IPC"},
		{Column: "fecha_dato", Value: "2024-01-31"},
		{Column: "id_emisor", Value: nil},
	}, 1)
	want := "SELECT TOP (1) * FROM [Dato_Macroeconomico] WHERE [indicador_nombre] = @p1 AND [fecha_dato] = @p2 AND [id_emisor] IS NULL"
	if q != want {
		t.Fatalf("sql mismatch\n got: %s\nwant: %s", q, want)
	}
	if !reflect.DeepEqual(args, []any{"IPC", "2024-01-31"}) {
		t.Fatalf("args=%#v", args)
	}
}

func TestBuildCreateSQL_GuardAndTypes(t *testing.T) {
	t.Parallel()

	ddl, err := buildCreateSQL(storage.TableSpec{
		Name:       "Emisores",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id_emisor", Type: "serial"},
		Columns: []storage.ColumnSpec{
			{Name: "nombre_emisor", Type: storage.TypeText, Nullable: boolPtr(false)},
			{Name: "sitio_web", Type: storage.TypeText},
			{Name: "id_categoria_emisor", Type: storage.TypeInteger, References: "Categoria_Emisor(id_categoria_emisor)"},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"nombre_emisor"}}},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	for _, want := range []string{
		"IF OBJECT_ID(N'Emisores', N'U') IS NULL BEGIN CREATE TABLE [Emisores]",
		"[id_emisor] INT IDENTITY(1,1) PRIMARY KEY",
		"[nombre_emisor] NVARCHAR(255) NOT NULL",
		"[sitio_web] NVARCHAR(MAX) NULL",
		"[id_categoria_emisor] BIGINT NULL REFERENCES [Categoria_Emisor]([id_categoria_emisor])",
		"UNIQUE ([nombre_emisor])",
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

func TestStore_EnsureInsertCountThroughSeam(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := &fakeDB{count: 7}
	s := &Store{db: db}

	specs := []storage.TableSpec{
		{Name: "Moneda", AutoCreateTable: true, Columns: []storage.ColumnSpec{{Name: "codigo_moneda", Type: "text"}}},
		{Name: "Skipped", AutoCreateTable: false, Columns: []storage.ColumnSpec{{Name: "x", Type: "text"}}},
	}
	if err := s.EnsureTables(ctx, specs); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "[Moneda]") {
		t.Fatalf("expected a single CREATE for Moneda, got %v", db.execs)
	}

	n, err := s.InsertRows(ctx, "Moneda", []records.Record{{"codigo_moneda": "PYG"}, {"codigo_moneda": "USD"}})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted=%d, want 2", n)
	}
	if got := db.execs[1]; got != "INSERT INTO [Moneda] ([codigo_moneda]) VALUES (@p1), (@p2)" {
		t.Fatalf("insert sql=%s", got)
	}

	c, err := s.CountRows(ctx, "Moneda")
	if err != nil || c != 7 {
		t.Fatalf("CountRows=%d err=%v", c, err)
	}

	s.Close()
	if !db.closed {
		t.Fatalf("Close did not close the connection")
	}
}

func TestStore_InsertRowsPropagatesError(t *testing.T) {
	t.Parallel()

	s := &Store{db: &fakeDB{execErr: errors.New("constraint")}}
	if _, err := s.InsertRows(context.Background(), "Moneda", []records.Record{{"a": 1}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPlainValue_Decimal(t *testing.T) {
	t.Parallel()

	if got := plainValue("DECIMAL", []byte("12.500000")); got != 12.5 {
		t.Fatalf("plainValue(DECIMAL)=%v", got)
	}
	if got := plainValue("NVARCHAR", []byte("x")); got != "x" {
		t.Fatalf("plainValue(NVARCHAR)=%v", got)
	}
	if got := plainValue("BIGINT", int64(3)); got != int64(3) {
		t.Fatalf("plainValue(BIGINT)=%v", got)
	}
}
