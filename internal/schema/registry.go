// Package schema is the static registry of the 13 relational entities and the
// vector indexes the pipeline loads into.
//
// Tables and indexes are closed sets of typed identifiers. Every lookup goes
// through the registry, which is validated once at init: a natural key that
// names an undeclared column, or a reference to an unknown table, panics at
// startup instead of surfacing as a per-call surprise.
package schema

import (
	"fmt"

	"pyfin/internal/storage"
)

// Table identifies one relational entity.
type Table string

const (
	CategoriaEmisor          Table = "Categoria_Emisor"
	Emisores                 Table = "Emisores"
	Moneda                   Table = "Moneda"
	Frecuencia               Table = "Frecuencia"
	TipoInforme              Table = "Tipo_Informe"
	PeriodoInforme           Table = "Periodo_Informe"
	UnidadMedida             Table = "Unidad_Medida"
	Instrumento              Table = "Instrumento"
	InformeGeneral           Table = "Informe_General"
	ResumenInformeFinanciero Table = "Resumen_Informe_Financiero"
	DatoMacroeconomico       Table = "Dato_Macroeconomico"
	MovimientoDiarioBolsa    Table = "Movimiento_Diario_Bolsa"
	LicitacionContrato       Table = "Licitacion_Contrato"
)

// Column describes one non-primary-key column.
type Column struct {
	Name       string
	Type       string // storage.Type* semantic type
	Nullable   bool
	References Table
}

// TableDescriptor is the registry entry for a table.
type TableDescriptor struct {
	Table      Table
	PrimaryKey string
	Columns    []Column

	// NaturalKey is the ordered list of fields whose joint value identifies a
	// real-world entity. Empty means the table is never deduplicated.
	NaturalKey []string
}

// HasColumn reports whether name is the primary key or a declared column.
func (d TableDescriptor) HasColumn(name string) bool {
	if name == d.PrimaryKey {
		return true
	}
	for _, c := range d.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnNames returns the primary key followed by the declared columns.
func (d TableDescriptor) ColumnNames() []string {
	out := make([]string, 0, len(d.Columns)+1)
	out = append(out, d.PrimaryKey)
	for _, c := range d.Columns {
		out = append(out, c.Name)
	}
	return out
}

// col helpers keep the table literals below readable.
func req(name, typ string) Column { return Column{Name: name, Type: typ} }
func opt(name, typ string) Column { return Column{Name: name, Type: typ, Nullable: true} }
func ref(name string, t Table) Column {
	return Column{Name: name, Type: storage.TypeInteger, Nullable: true, References: t}
}
func reqRef(name string, t Table) Column {
	return Column{Name: name, Type: storage.TypeInteger, References: t}
}

// tables is declared parents-first; LoadOrder relies on that.
var tables = []TableDescriptor{
	{
		Table:      CategoriaEmisor,
		PrimaryKey: "id_categoria_emisor",
		Columns:    []Column{req("categoria_emisor", storage.TypeText)},
		NaturalKey: []string{"categoria_emisor"},
	},
	{
		Table:      Moneda,
		PrimaryKey: "id_moneda",
		Columns: []Column{
			req("codigo_moneda", storage.TypeText),
			opt("nombre_moneda", storage.TypeText),
		},
		NaturalKey: []string{"codigo_moneda"},
	},
	{
		Table:      Frecuencia,
		PrimaryKey: "id_frecuencia",
		Columns:    []Column{req("nombre_frecuencia", storage.TypeText)},
		NaturalKey: []string{"nombre_frecuencia"},
	},
	{
		Table:      TipoInforme,
		PrimaryKey: "id_tipo_informe",
		Columns:    []Column{req("nombre_tipo_informe", storage.TypeText)},
		NaturalKey: []string{"nombre_tipo_informe"},
	},
	{
		Table:      PeriodoInforme,
		PrimaryKey: "id_periodo",
		Columns:    []Column{req("periodo_informe", storage.TypeText)},
		NaturalKey: []string{"periodo_informe"},
	},
	{
		Table:      UnidadMedida,
		PrimaryKey: "id_unidad_medida",
		Columns: []Column{
			req("simbolo", storage.TypeText),
			opt("descripcion", storage.TypeText),
		},
		NaturalKey: []string{"simbolo"},
	},
	{
		Table:      Emisores,
		PrimaryKey: "id_emisor",
		Columns: []Column{
			req("nombre_emisor", storage.TypeText),
			ref("id_categoria_emisor", CategoriaEmisor),
			opt("calificacion_bva", storage.TypeText),
			opt("sitio_web", storage.TypeText),
		},
		NaturalKey: []string{"nombre_emisor"},
	},
	{
		Table:      Instrumento,
		PrimaryKey: "id_instrumento",
		Columns: []Column{
			req("simbolo_instrumento", storage.TypeText),
			opt("nombre_instrumento", storage.TypeText),
			ref("id_emisor", Emisores),
			ref("id_moneda", Moneda),
		},
		NaturalKey: []string{"simbolo_instrumento"},
	},
	{
		Table:      InformeGeneral,
		PrimaryKey: "id_informe",
		Columns: []Column{
			req("titulo_informe", storage.TypeText),
			req("fecha_publicacion", storage.TypeDate),
			ref("id_emisor", Emisores),
			ref("id_tipo_informe", TipoInforme),
			ref("id_frecuencia", Frecuencia),
			ref("id_periodo", PeriodoInforme),
			opt("resumen_general", storage.TypeText),
			opt("url_descarga_original", storage.TypeText),
			opt("detalles_informe_jsonb", storage.TypeJSON),
		},
		NaturalKey: []string{"titulo_informe", "fecha_publicacion"},
	},
	{
		Table:      ResumenInformeFinanciero,
		PrimaryKey: "id_resumen_financiero",
		Columns: []Column{
			reqRef("id_informe", InformeGeneral),
			req("fecha_corte_informe", storage.TypeDate),
			ref("moneda_informe", Moneda),
			opt("unidad_expresion", storage.TypeText),
			opt("activos_totales", storage.TypeNumeric),
			opt("pasivos_totales", storage.TypeNumeric),
			opt("patrimonio_neto", storage.TypeNumeric),
			opt("disponible", storage.TypeNumeric),
			opt("ingresos_totales", storage.TypeNumeric),
			opt("utilidad_del_ejercicio", storage.TypeNumeric),
			opt("calificacion_riesgo_tendencia", storage.TypeText),
			opt("otras_metricas_jsonb", storage.TypeJSON),
		},
		NaturalKey: []string{"id_informe", "fecha_corte_informe"},
	},
	{
		Table:      DatoMacroeconomico,
		PrimaryKey: "id_dato_macro",
		Columns: []Column{
			ref("id_informe", InformeGeneral),
			req("indicador_nombre", storage.TypeText),
			req("fecha_dato", storage.TypeDate),
			opt("valor_numerico", storage.TypeNumeric),
			opt("texto_valor_descriptivo", storage.TypeText),
			ref("id_unidad_medida", UnidadMedida),
			ref("id_frecuencia", Frecuencia),
			reqRef("id_emisor", Emisores),
			opt("otras_propiedades_jsonb", storage.TypeJSON),
		},
		NaturalKey: []string{"indicador_nombre", "fecha_dato", "id_emisor"},
	},
	{
		Table:      MovimientoDiarioBolsa,
		PrimaryKey: "id_operacion",
		Columns: []Column{
			req("fecha_operacion", storage.TypeDate),
			reqRef("id_instrumento", Instrumento),
			ref("id_emisor", Emisores),
			ref("id_moneda", Moneda),
			req("precio_operacion", storage.TypeNumeric),
			opt("cantidad_operacion", storage.TypeNumeric),
			opt("monto_total", storage.TypeNumeric),
			opt("tasa_interes_nominal", storage.TypeNumeric),
			opt("tipo_cambio", storage.TypeNumeric),
			opt("fecha_vencimiento_instrumento", storage.TypeDate),
		},
		NaturalKey: []string{"fecha_operacion", "id_instrumento", "precio_operacion"},
	},
	{
		Table:      LicitacionContrato,
		PrimaryKey: "id_licitacion_contrato",
		Columns: []Column{
			ref("id_emisor_adjudicado", Emisores),
			req("titulo", storage.TypeText),
			req("entidad_convocante", storage.TypeText),
			opt("monto_adjudicado", storage.TypeNumeric),
			ref("id_moneda", Moneda),
			req("fecha_adjudicacion", storage.TypeDate),
			opt("estado", storage.TypeText),
		},
		NaturalKey: []string{"titulo", "entidad_convocante", "fecha_adjudicacion"},
	},
}

var byName map[Table]int

func init() {
	byName = make(map[Table]int, len(tables))
	for i, d := range tables {
		byName[d.Table] = i
	}
	if err := Validate(); err != nil {
		panic(err)
	}
}

// Validate checks registry consistency: unique table names, natural keys that
// reference declared columns, and references that point at a table declared
// earlier (so LoadOrder never inserts a child before its parent).
func Validate() error {
	seen := make(map[Table]bool, len(tables))
	for _, d := range tables {
		if d.Table == "" || d.PrimaryKey == "" {
			return fmt.Errorf("schema: table %q: name and primary key are required", d.Table)
		}
		if seen[d.Table] {
			return fmt.Errorf("schema: table %q declared twice", d.Table)
		}
		cols := make(map[string]bool, len(d.Columns))
		for _, c := range d.Columns {
			if cols[c.Name] || c.Name == d.PrimaryKey {
				return fmt.Errorf("schema: table %q: column %q declared twice", d.Table, c.Name)
			}
			cols[c.Name] = true
			if c.References != "" && !seen[c.References] {
				return fmt.Errorf("schema: table %q: column %q references %q, which is not declared before it", d.Table, c.Name, c.References)
			}
		}
		for _, k := range d.NaturalKey {
			if !d.HasColumn(k) {
				return fmt.Errorf("schema: table %q: natural key field %q is not a column", d.Table, k)
			}
		}
		seen[d.Table] = true
	}
	return validateIndexes()
}

// LookupTable resolves a table by its wire name.
func LookupTable(name string) (TableDescriptor, bool) {
	i, ok := byName[Table(name)]
	if !ok {
		return TableDescriptor{}, false
	}
	return tables[i], true
}

// NaturalKey returns the registered natural key for name, or nil when the
// table is unknown or has none.
func NaturalKey(name string) []string {
	d, ok := LookupTable(name)
	if !ok {
		return nil
	}
	return d.NaturalKey
}

// LoadOrder returns every table, parents first.
func LoadOrder() []Table {
	out := make([]Table, len(tables))
	for i, d := range tables {
		out[i] = d.Table
	}
	return out
}

// TableNames returns LoadOrder as plain strings.
func TableNames() []string {
	out := make([]string, len(tables))
	for i, d := range tables {
		out[i] = string(d.Table)
	}
	return out
}

// SortByLoadOrder orders names parents-first; unknown names go last in their
// original order.
func SortByLoadOrder(names []string) []string {
	out := make([]string, 0, len(names))
	var unknown []string
	present := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := byName[Table(n)]; ok {
			present[n] = true
		} else {
			unknown = append(unknown, n)
		}
	}
	for _, d := range tables {
		if present[string(d.Table)] {
			out = append(out, string(d.Table))
		}
	}
	return append(out, unknown...)
}

// TableSpecs renders the registry as storage DDL specs. Natural keys become
// UNIQUE constraints so the database backs up the dedup engine.
func TableSpecs() []storage.TableSpec {
	out := make([]storage.TableSpec, 0, len(tables))
	for _, d := range tables {
		spec := storage.TableSpec{
			Name:            string(d.Table),
			AutoCreateTable: true,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: d.PrimaryKey, Type: "serial"},
		}
		for _, c := range d.Columns {
			nullable := c.Nullable
			cs := storage.ColumnSpec{Name: c.Name, Type: c.Type, Nullable: &nullable}
			if c.References != "" {
				parent := tables[byName[c.References]]
				cs.References = fmt.Sprintf("%s(%s)", c.References, parent.PrimaryKey)
			}
			spec.Columns = append(spec.Columns, cs)
		}
		if len(d.NaturalKey) > 0 {
			spec.Constraints = []storage.ConstraintSpec{{Kind: "unique", Columns: append([]string(nil), d.NaturalKey...)}}
		}
		out = append(out, spec)
	}
	return out
}
