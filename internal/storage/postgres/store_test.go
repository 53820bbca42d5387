package postgres

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"pyfin/internal/storage"
)

// boolPtr is a tiny helper to avoid repeating &[]bool literals in tests.
func boolPtr(v bool) *bool { return &v }

func TestBuildInsertSQL_PlaceholdersAndQuoting(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("Emisores",
		[]string{"nombre_emisor", "id_categoria_emisor"},
		[][]any{{"BANCO A", int64(1)}, {"BANCO B", nil}},
	)

	want := `INSERT INTO "Emisores" ("nombre_emisor", "id_categoria_emisor") VALUES ($1, $2), ($3, $4);`
	if q != want {
		t.Fatalf("sql mismatch\n got: %s\nwant: %s", q, want)
	}
	if !reflect.DeepEqual(args, []any{"BANCO A", int64(1), "BANCO B", nil}) {
		t.Fatalf("args=%#v", args)
	}
}

func TestBuildSelectSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filter   storage.Filter
		limit    int
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "composite_key",
			filter:   storage.Filter{{Column: "titulo_informe", Value: "Informe Q1"}, {Column: "fecha_publicacion", Value: "2024-03-31"}},
			limit:    1,
			wantSQL:  `SELECT * FROM "Informe_General" WHERE "titulo_informe" = $1 AND "fecha_publicacion" = $2 LIMIT 1`,
			wantArgs: []any{"Informe Q1", "2024-03-31"},
		},
		{
			name:     "null_consumes_no_placeholder",
			filter:   storage.Filter{{Column: "a", Value: nil}, {Column: "b", Value: 3}},
			wantSQL:  `SELECT * FROM "Informe_General" WHERE "a" IS NULL AND "b" = $1`,
			wantArgs: []any{3},
		},
		{
			name:     "no_filter",
			wantSQL:  `SELECT * FROM "Informe_General"`,
			wantArgs: []any{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, args := buildSelectSQL("Informe_General", tc.filter, tc.limit)
			if q != tc.wantSQL {
				t.Fatalf("sql mismatch\n got: %s\nwant: %s", q, tc.wantSQL)
			}
			if !reflect.DeepEqual(args, tc.wantArgs) {
				t.Fatalf("args=%#v, want %#v", args, tc.wantArgs)
			}
		})
	}
}

func TestBuildCreateSQL_TypesKeysAndReferences(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:            "Emisores",
		AutoCreateTable: true,
		PrimaryKey:      &storage.PrimaryKeySpec{Name: "id_emisor", Type: "serial"},
		Columns: []storage.ColumnSpec{
			{Name: "nombre_emisor", Type: storage.TypeText, Nullable: boolPtr(false)},
			{Name: "id_categoria_emisor", Type: storage.TypeInteger, References: "Categoria_Emisor(id_categoria_emisor)"},
			{Name: "detalle", Type: storage.TypeJSON},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"nombre_emisor"}}},
	}

	ddl, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "Emisores"`,
		`"id_emisor" BIGSERIAL PRIMARY KEY`,
		`"nombre_emisor" TEXT NOT NULL`,
		`"id_categoria_emisor" BIGINT REFERENCES "Categoria_Emisor" ("id_categoria_emisor")`,
		`"detalle" JSONB`,
		`UNIQUE ("nombre_emisor")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
	if strings.Contains(ddl, `"detalle" JSONB NOT NULL`) {
		t.Fatalf("nil Nullable must render a nullable column: %s", ddl)
	}
}

func TestBuildCreateSQL_Errors(t *testing.T) {
	t.Parallel()

	if _, err := buildCreateSQL(storage.TableSpec{}); err == nil {
		t.Fatalf("expected error for empty name")
	}
	bad := storage.TableSpec{
		Name:        "x",
		Columns:     []storage.ColumnSpec{{Name: "a", Type: "text"}},
		Constraints: []storage.ConstraintSpec{{Kind: "check", Columns: []string{"a"}}},
	}
	if _, err := buildCreateSQL(bad); err == nil {
		t.Fatalf("expected error for unsupported constraint")
	}
}

func TestPgTableIdent(t *testing.T) {
	t.Parallel()

	if got := pgTableIdent("public.Moneda"); got != `"public"."Moneda"` {
		t.Fatalf("pgTableIdent=%s", got)
	}
	if got := pgIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("pgIdent=%s", got)
	}
}

func TestPlainValue_Numeric(t *testing.T) {
	t.Parallel()

	var n pgtype.Numeric
	if err := n.Scan("1234.5"); err != nil {
		t.Fatalf("scan numeric: %v", err)
	}
	if got := plainValue(n); got != 1234.5 {
		t.Fatalf("plainValue(numeric)=%v", got)
	}
	if got := plainValue(pgtype.Numeric{}); got != nil {
		t.Fatalf("invalid numeric should be nil, got %v", got)
	}
}
