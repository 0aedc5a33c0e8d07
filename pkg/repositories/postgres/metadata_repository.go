package postgres

import (
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/repositories/sqlbase"
)

// Catalog reads pg_catalog for the relation list and information_schema for
// columns and constraints.
var Catalog = sqlbase.Catalog{
	ListTables: `
		SELECT n.nspname, c.relname, c.relkind::text
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p', 'v', 'm')
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
		  AND n.nspname NOT LIKE 'pg\_toast%'
		  AND c.relname NOT LIKE '\_%'
		ORDER BY n.nspname || '.' || c.relname`,

	Columns: `
		SELECT column_name,
		       CASE WHEN data_type IN ('USER-DEFINED', 'ARRAY') THEN udt_name ELSE data_type END,
		       is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`,

	Keys: `
		SELECT kcu.column_name, tc.constraint_type, tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_schema = tc.constraint_schema
		 AND kcu.constraint_name = tc.constraint_name
		 AND kcu.table_name = tc.table_name
		WHERE tc.table_schema = $1 AND tc.table_name = $2
		  AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY tc.constraint_name, kcu.ordinal_position`,

	// position_in_unique_constraint pairs each referencing column with the
	// referenced column at the same key position.
	ForeignKeys: `
		SELECT kcu.column_name, ref.table_schema, ref.table_name, ref.column_name
		FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_schema = rc.constraint_schema
		 AND kcu.constraint_name = rc.constraint_name
		JOIN information_schema.key_column_usage ref
		  ON ref.constraint_schema = rc.unique_constraint_schema
		 AND ref.constraint_name = rc.unique_constraint_name
		 AND ref.ordinal_position = kcu.position_in_unique_constraint
		WHERE kcu.table_schema = $1 AND kcu.table_name = $2
		ORDER BY kcu.constraint_name, kcu.ordinal_position`,

	DefaultSchema: sqlbase.StaticSchema("public"),
}

// NewMetadataRepository creates a PostgreSQL catalog reader.
func NewMetadataRepository(p pool.ConnectionPool, logger zerolog.Logger) repositories.MetadataRepository {
	return sqlbase.NewMetadataRepository(p, Catalog, logger)
}
