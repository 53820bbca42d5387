package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"pyfin/internal/storage"
	"pyfin/pkg/records"
)

func init() {
	storage.Register("postgres", New)
}

/*
Store implements storage.Store for a direct Postgres connection.

It is the same relational surface the hosted (PostgREST) backend exposes,
expressed as plain SQL:
  - equality/IS NULL probes with LIMIT
  - a single multi-row INSERT per batch
  - COUNT(*) for status reports
*/
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Store from cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: DSN is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureTables creates every AutoCreateTable spec that does not exist yet.
// Specs must be passed parents first so REFERENCES resolve.
func (s *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// SelectMatching runs an equality probe against table.
func (s *Store) SelectMatching(ctx context.Context, table string, filter storage.Filter, limit int) ([]records.Record, error) {
	q, args := buildSelectSQL(table, filter, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("SelectMatching: query %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []records.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("SelectMatching: scan %s: %w", table, err)
		}
		rec := make(records.Record, len(fields))
		for i, f := range fields {
			rec[f.Name] = plainValue(vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SelectMatching: rows %s: %w", table, err)
	}
	return out, nil
}

// InsertRows writes rows with one INSERT statement.
func (s *Store) InsertRows(ctx context.Context, table string, rows []records.Record) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	columns := storage.ColumnsOf(rows, nil)
	q, args := buildInsertSQL(table, columns, storage.RowValues(rows, columns))

	cmd, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// CountRows returns SELECT COUNT(*) for table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, buildCountSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountRows: %s: %w", table, err)
	}
	return n, nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// It is pure so placeholder numbering can be tested without a database.
// Every row must have len(columns) values.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

// buildSelectSQL renders SELECT * with one predicate per condition. Nil values
// become IS NULL and consume no placeholder.
func buildSelectSQL(table string, filter storage.Filter, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(pgTableIdent(table))

	args := make([]any, 0, len(filter))
	for i, c := range filter {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(pgIdent(c.Column))
		if c.Value == nil {
			b.WriteString(" IS NULL")
			continue
		}
		args = append(args, storage.BindValue(c.Value))
		fmt.Fprintf(&b, " = $%d", len(args))
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String(), args
}

func buildCountSQL(table string) string {
	return "SELECT COUNT(*) FROM " + pgTableIdent(table)
}

// buildCreateSQL renders CREATE TABLE IF NOT EXISTS for one spec.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	cols := make([]string, 0, len(t.Columns)+len(t.Constraints)+1)
	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		if pk == "" {
			return "", fmt.Errorf("table %s: primary_key.name is required", t.Name)
		}
		cols = append(cols, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(pk), pgType(t.PrimaryKey.Type)))
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("table %s: no columns", t.Name)
	}

	for _, c := range t.Constraints {
		switch strings.ToLower(strings.TrimSpace(c.Kind)) {
		case "unique":
			if len(c.Columns) == 0 {
				return "", fmt.Errorf("table %s: unique constraint requires columns", t.Name)
			}
			quoted := make([]string, len(c.Columns))
			for i, col := range c.Columns {
				quoted[i] = pgIdent(col)
			}
			cols = append(cols, "UNIQUE ("+strings.Join(quoted, ", ")+")")
		default:
			return "", fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgTableIdent(t.Name), strings.Join(cols, ", ")), nil
}

// buildColumnDef renders a single column definition. Foreign keys are inline.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" || strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("column name/type must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(pgType(c.Type))
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		table, col := storage.SplitReference(ref)
		b.WriteString(" REFERENCES ")
		b.WriteString(pgTableIdent(table))
		if col != "" {
			b.WriteString(" (" + pgIdent(col) + ")")
		}
	}
	return b.String(), nil
}

// pgType maps semantic types; anything else is passed through as native SQL.
func pgType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "serial":
		return "BIGSERIAL"
	case storage.TypeText:
		return "TEXT"
	case storage.TypeInteger:
		return "BIGINT"
	case storage.TypeNumeric:
		return "NUMERIC"
	case storage.TypeDate:
		return "DATE"
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ"
	case storage.TypeBoolean:
		return "BOOLEAN"
	case storage.TypeJSON:
		return "JSONB"
	default:
		return t
	}
}

// pgIdent double-quotes an identifier. Mixed-case table names such as
// "Emisores" would otherwise fold to lower case.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(strings.TrimSpace(name), `"`, `""`) + `"`
}

// pgTableIdent quotes each part of an optionally schema-qualified name.
func pgTableIdent(name string) string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// plainValue converts driver-specific values into the JSON-friendly shapes
// the rest of the pipeline compares and reports.
func plainValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	default:
		return v
	}
}
