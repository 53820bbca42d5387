package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyfin/internal/storage"
)

func TestRegistry_HasThirteenTablesAndValidates(t *testing.T) {
	require.NoError(t, Validate())
	assert.Len(t, LoadOrder(), 13)
	assert.Equal(t, len(LoadOrder()), len(TableNames()))
}

func TestNaturalKeys(t *testing.T) {
	tests := []struct {
		table string
		want  []string
	}{
		{"Emisores", []string{"nombre_emisor"}},
		{"Informe_General", []string{"titulo_informe", "fecha_publicacion"}},
		{"Dato_Macroeconomico", []string{"indicador_nombre", "fecha_dato", "id_emisor"}},
		{"Moneda", []string{"codigo_moneda"}},
		{"NoSuchTable", nil},
	}
	for _, tc := range tests {
		t.Run(tc.table, func(t *testing.T) {
			assert.Equal(t, tc.want, NaturalKey(tc.table))
		})
	}
}

func TestLoadOrder_ParentsBeforeChildren(t *testing.T) {
	pos := map[Table]int{}
	for i, tbl := range LoadOrder() {
		pos[tbl] = i
	}
	for _, tbl := range LoadOrder() {
		d, ok := LookupTable(string(tbl))
		require.True(t, ok)
		for _, c := range d.Columns {
			if c.References == "" {
				continue
			}
			assert.Less(t, pos[c.References], pos[tbl], "%s.%s references %s", tbl, c.Name, c.References)
		}
	}
}

func TestSortByLoadOrder(t *testing.T) {
	got := SortByLoadOrder([]string{"Licitacion_Contrato", "zz_unknown", "Emisores", "Categoria_Emisor"})
	assert.Equal(t, []string{"Categoria_Emisor", "Emisores", "Licitacion_Contrato", "zz_unknown"}, got)
}

func TestTableSpecs_RenderKeysAsUniqueAndNotNull(t *testing.T) {
	specs := TableSpecs()
	require.Len(t, specs, 13)

	var emisores storage.TableSpec
	for _, s := range specs {
		if s.Name == "Emisores" {
			emisores = s
		}
	}
	require.NotNil(t, emisores.PrimaryKey)
	assert.Equal(t, "id_emisor", emisores.PrimaryKey.Name)
	require.Len(t, emisores.Constraints, 1)
	assert.Equal(t, []string{"nombre_emisor"}, emisores.Constraints[0].Columns)

	for _, c := range emisores.Columns {
		switch c.Name {
		case "nombre_emisor":
			assert.False(t, c.IsNullable())
		case "id_categoria_emisor":
			assert.True(t, c.IsNullable())
			assert.Equal(t, "Categoria_Emisor(id_categoria_emisor)", c.References)
		}
	}
}

func TestIndexes(t *testing.T) {
	ix, ok := LookupIndex("documentos-informes-vector")
	require.True(t, ok)
	assert.Equal(t, []string{"id_informe", "chunk_id"}, ix.KeyFields)
	assert.Equal(t, 768, ix.Dimension)

	_, ok = LookupIndex("unknown-index")
	assert.False(t, ok)
	assert.Len(t, IndexNames(), 3)
}

func TestDescriptorHelpers(t *testing.T) {
	d, ok := LookupTable("Moneda")
	require.True(t, ok)
	assert.True(t, d.HasColumn("id_moneda"))
	assert.True(t, d.HasColumn("codigo_moneda"))
	assert.False(t, d.HasColumn("nope"))
	assert.Equal(t, []string{"id_moneda", "codigo_moneda", "nombre_moneda"}, d.ColumnNames())
}
