// Package all registers every relational backend. Binaries import it for its
// side effects.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "pyfin/internal/storage/mssql"
	_ "pyfin/internal/storage/postgres"
	_ "pyfin/internal/storage/sqlite"
	_ "pyfin/internal/storage/supabase"
)
