// Package all registers every vector store backend. Binaries import it for
// its side effects.
package all

import (
	_ "pyfin/internal/vectorstore/memory"
	_ "pyfin/internal/vectorstore/pinecone"
	_ "pyfin/internal/vectorstore/qdrant"
)
