package sqlite

import (
	"context"
	"strings"
	"testing"
	"time"

	"pyfin/internal/storage"
	"pyfin/pkg/records"
)

func boolPtr(v bool) *bool { return &v }

func monedaSpec() storage.TableSpec {
	return storage.TableSpec{
		Name:            "Moneda",
		AutoCreateTable: true,
		PrimaryKey:      &storage.PrimaryKeySpec{Name: "id_moneda", Type: "serial"},
		Columns: []storage.ColumnSpec{
			{Name: "codigo_moneda", Type: storage.TypeText, Nullable: boolPtr(false)},
			{Name: "nombre_moneda", Type: storage.TypeText},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"codigo_moneda"}}},
	}
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	st, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(st.Close)
	return st.(*Store)
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	spec := monedaSpec()
	spec.Columns = append(spec.Columns, storage.ColumnSpec{
		Name: "id_emisor", Type: storage.TypeInteger, References: "Emisores(id_emisor)",
	})
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "Moneda"`,
		`"id_moneda" INTEGER PRIMARY KEY AUTOINCREMENT`,
		`"codigo_moneda" TEXT NOT NULL`,
		`"nombre_moneda" TEXT,`,
		`"id_emisor" INTEGER REFERENCES "Emisores"("id_emisor")`,
		`UNIQUE ("codigo_moneda")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

func TestBuildSelectSQL_NullAndLimit(t *testing.T) {
	t.Parallel()

	q, args := buildSelectSQL("Moneda", storage.Filter{{Column: "codigo_moneda", Value: "PYG"}, {Column: "nombre_moneda"}}, 1)
	want := `SELECT * FROM "Moneda" WHERE "codigo_moneda" = ? AND "nombre_moneda" IS NULL LIMIT 1`
	if q != want {
		t.Fatalf("sql mismatch\n got: %s\nwant: %s", q, want)
	}
	if len(args) != 1 || args[0] != "PYG" {
		t.Fatalf("args=%#v", args)
	}
}

func TestSQLiteValue_FormatsTime(t *testing.T) {
	t.Parallel()

	in := time.Date(2026, 1, 27, 12, 17, 8, 123, time.FixedZone("X", 3600))
	got := sqliteValue(in)
	if got != "2026-01-27T11:17:08.000000123Z" {
		t.Fatalf("sqliteValue(time)=%v", got)
	}
	if sqliteValue(int64(3)) != int64(3) {
		t.Fatalf("non-time values must pass through")
	}
}

func TestStore_InsertSelectCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openMemory(t)
	if err := st.EnsureTables(ctx, []storage.TableSpec{monedaSpec()}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	// Idempotent.
	if err := st.EnsureTables(ctx, []storage.TableSpec{monedaSpec()}); err != nil {
		t.Fatalf("EnsureTables (again): %v", err)
	}

	n, err := st.InsertRows(ctx, "Moneda", []records.Record{
		{"codigo_moneda": "PYG", "nombre_moneda": "Guaraní"},
		{"codigo_moneda": "USD"},
	})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted=%d, want 2", n)
	}

	got, err := st.SelectMatching(ctx, "Moneda", storage.Filter{{Column: "codigo_moneda", Value: "PYG"}}, 1)
	if err != nil {
		t.Fatalf("SelectMatching: %v", err)
	}
	if len(got) != 1 || got[0]["nombre_moneda"] != "Guaraní" {
		t.Fatalf("SelectMatching=%v", got)
	}

	got, err = st.SelectMatching(ctx, "Moneda", storage.Filter{{Column: "nombre_moneda", Value: nil}}, 0)
	if err != nil {
		t.Fatalf("SelectMatching(null): %v", err)
	}
	if len(got) != 1 || got[0]["codigo_moneda"] != "USD" {
		t.Fatalf("SelectMatching(null)=%v", got)
	}

	count, err := st.CountRows(ctx, "Moneda")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if count != 2 {
		t.Fatalf("count=%d, want 2", count)
	}
}

func TestStore_InsertRowsIsAllOrNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openMemory(t)
	if err := st.EnsureTables(ctx, []storage.TableSpec{monedaSpec()}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}

	_, err := st.InsertRows(ctx, "Moneda", []records.Record{
		{"codigo_moneda": "EUR"},
		{"nombre_moneda": "sin código"},
	})
	if err == nil {
		t.Fatalf("expected NOT NULL violation")
	}
	count, err := st.CountRows(ctx, "Moneda")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if count != 0 {
		t.Fatalf("count=%d, want 0 after failed statement", count)
	}
}
