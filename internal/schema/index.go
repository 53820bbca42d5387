package schema

import "fmt"

// Index identifies one vector index.
type Index string

const (
	DocumentosInformes  Index = "documentos-informes-vector"
	DatoMacroeconomicoV Index = "dato-macroeconomico-vector"
	LicitacionContratoV Index = "licitacion-contrato-vector"
)

// EmbeddingDimension is the vector length every index is provisioned with.
const EmbeddingDimension = 768

// IndexDescriptor is the registry entry for a vector index.
type IndexDescriptor struct {
	Index Index
	// KeyFields are the metadata fields whose joint value identifies a chunk.
	KeyFields []string
	Dimension int
	// Source is the relational table the chunks belong to.
	Source Table
}

var indexes = []IndexDescriptor{
	{Index: DocumentosInformes, KeyFields: []string{"id_informe", "chunk_id"}, Dimension: EmbeddingDimension, Source: InformeGeneral},
	{Index: DatoMacroeconomicoV, KeyFields: []string{"id_dato_macro", "chunk_id"}, Dimension: EmbeddingDimension, Source: DatoMacroeconomico},
	{Index: LicitacionContratoV, KeyFields: []string{"id_licitacion_contrato", "chunk_id"}, Dimension: EmbeddingDimension, Source: LicitacionContrato},
}

func validateIndexes() error {
	seen := make(map[Index]bool, len(indexes))
	for _, ix := range indexes {
		if seen[ix.Index] {
			return fmt.Errorf("schema: index %q declared twice", ix.Index)
		}
		seen[ix.Index] = true
		if len(ix.KeyFields) == 0 {
			return fmt.Errorf("schema: index %q has no key fields", ix.Index)
		}
		if ix.Dimension <= 0 {
			return fmt.Errorf("schema: index %q has dimension %d", ix.Index, ix.Dimension)
		}
		if _, ok := byName[ix.Source]; !ok {
			return fmt.Errorf("schema: index %q: unknown source table %q", ix.Index, ix.Source)
		}
	}
	return nil
}

// LookupIndex resolves an index by name.
func LookupIndex(name string) (IndexDescriptor, bool) {
	for _, ix := range indexes {
		if string(ix.Index) == name {
			return ix, true
		}
	}
	return IndexDescriptor{}, false
}

// IndexNames lists every registered index.
func IndexNames() []string {
	out := make([]string, len(indexes))
	for i, ix := range indexes {
		out[i] = string(ix.Index)
	}
	return out
}
