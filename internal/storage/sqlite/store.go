package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pyfin/internal/storage"
	"pyfin/pkg/records"
)

// Store implements storage.Store for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native DATE/TIMESTAMPTZ type. Dates arrive as ISO strings
//     and are stored with TEXT affinity; time.Time values are written as
//     RFC3339Nano strings so they round-trip and compare lexically.
//   - The pool is capped at one connection so ":memory:" databases are shared
//     across calls.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens cfg.DSN with the pure-Go modernc driver.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: DSN is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

// EnsureTables creates every AutoCreateTable spec. It is idempotent.
func (s *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Store) SelectMatching(ctx context.Context, table string, filter storage.Filter, limit int) ([]records.Record, error) {
	q, args := buildSelectSQL(table, filter, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("SelectMatching: query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []records.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		dests := make([]any, len(cols))
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("SelectMatching: scan %s: %w", table, err)
		}
		rec := make(records.Record, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SelectMatching: rows %s: %w", table, err)
	}
	return out, nil
}

// InsertRows writes rows with one multi-row INSERT. SQLite applies a single
// statement atomically, so a constraint failure on any row writes nothing.
func (s *Store) InsertRows(ctx context.Context, table string, rows []records.Record) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	columns := storage.ColumnsOf(rows, nil)
	q, args := buildInsertSQL(table, columns, storage.RowValues(rows, columns))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountRows: %s: %w", table, err)
	}
	return n, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, sqliteValue(row[j]))
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func buildSelectSQL(table string, filter storage.Filter, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(sqlIdent(table))

	args := make([]any, 0, len(filter))
	for i, c := range filter {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(sqlIdent(c.Column))
		if c.Value == nil {
			b.WriteString(" IS NULL")
			continue
		}
		b.WriteString(" = ?")
		args = append(args, sqliteValue(storage.BindValue(c.Value)))
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String(), args
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints)+1)
	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return "", fmt.Errorf("table %s: primary_key.name is required", t.Name)
		}
		if strings.EqualFold(t.PrimaryKey.Type, "serial") {
			defs = append(defs, sqlIdent(t.PrimaryKey.Name)+" INTEGER PRIMARY KEY AUTOINCREMENT")
		} else {
			defs = append(defs, sqlIdent(t.PrimaryKey.Name)+" "+sqliteType(t.PrimaryKey.Type)+" PRIMARY KEY")
		}
	}

	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("table %s: column name/type must be set", t.Name)
		}
		def := sqlIdent(c.Name) + " " + sqliteType(c.Type)
		if !c.IsNullable() {
			def += " NOT NULL"
		}
		if ref := strings.TrimSpace(c.References); ref != "" {
			table, col := storage.SplitReference(ref)
			def += " REFERENCES " + sqlIdent(table)
			if col != "" {
				def += "(" + sqlIdent(col) + ")"
			}
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("table %s: no columns", t.Name)
	}

	for _, c := range t.Constraints {
		if !strings.EqualFold(strings.TrimSpace(c.Kind), "unique") {
			return "", fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
		if len(c.Columns) == 0 {
			return "", fmt.Errorf("table %s: unique constraint requires columns", t.Name)
		}
		defs = append(defs, "UNIQUE ("+joinIdentList(c.Columns)+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", sqlIdent(t.Name), strings.Join(defs, ", ")), nil
}

// sqliteType maps semantic types onto SQLite storage classes.
func sqliteType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case storage.TypeInteger, storage.TypeBoolean, "serial":
		return "INTEGER"
	case storage.TypeNumeric:
		return "REAL"
	case storage.TypeText, storage.TypeDate, storage.TypeTimestamp, storage.TypeJSON:
		return "TEXT"
	default:
		return t
	}
}

func joinIdentList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = sqlIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// sqliteValue stores times as RFC3339Nano text.
func sqliteValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatSQLiteTime(t)
	}
	return v
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
