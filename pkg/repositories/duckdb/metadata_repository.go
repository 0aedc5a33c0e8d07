package duckdb

import (
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/repositories/sqlbase"
)

// Catalog reads DuckDB's duckdb_* table functions, restricted to the
// current database so attached catalogs are not mixed in.
var Catalog = sqlbase.Catalog{
	ListTables: `
		SELECT schema_name, table_name, 'r'
		FROM duckdb_tables()
		WHERE NOT internal AND database_name = current_database()
		UNION ALL
		SELECT schema_name, view_name, 'v'
		FROM duckdb_views()
		WHERE NOT internal AND NOT temporary AND database_name = current_database()
		ORDER BY 1, 2`,

	Columns: `
		SELECT column_name, data_type, is_nullable
		FROM duckdb_columns()
		WHERE database_name = current_database() AND schema_name = ? AND table_name = ?
		ORDER BY column_index`,

	Keys: `
		SELECT unnest(constraint_column_names), constraint_type, CAST(constraint_index AS VARCHAR)
		FROM duckdb_constraints()
		WHERE database_name = current_database() AND schema_name = ? AND table_name = ?
		  AND constraint_type IN ('PRIMARY KEY', 'UNIQUE')`,

	// Both lists have one entry per key column, so the parallel unnest pairs
	// referencing and referenced columns by position.
	ForeignKeys: `
		SELECT unnest(constraint_column_names), schema_name, referenced_table, unnest(referenced_column_names)
		FROM duckdb_constraints()
		WHERE database_name = current_database() AND schema_name = ? AND table_name = ?
		  AND constraint_type = 'FOREIGN KEY'
		ORDER BY constraint_index`,

	DefaultSchema: sqlbase.StaticSchema("main"),
}

// NewMetadataRepository creates a DuckDB catalog reader.
func NewMetadataRepository(p pool.ConnectionPool, logger zerolog.Logger) repositories.MetadataRepository {
	return sqlbase.NewMetadataRepository(p, Catalog, logger)
}
