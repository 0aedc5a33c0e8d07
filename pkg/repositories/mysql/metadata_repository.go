package mysql

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/repositories/sqlbase"
)

// Catalog reads information_schema. COLUMN_TYPE keeps the native spelling
// such as int(11) unsigned or enum('a','b').
var Catalog = sqlbase.Catalog{
	ListTables: `
		SELECT TABLE_SCHEMA, TABLE_NAME, CASE TABLE_TYPE WHEN 'VIEW' THEN 'v' ELSE 'r' END
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
		ORDER BY TABLE_SCHEMA, TABLE_NAME`,

	Columns: `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE = 'YES'
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`,

	Keys: `
		SELECT k.COLUMN_NAME, t.CONSTRAINT_TYPE, t.CONSTRAINT_NAME
		FROM information_schema.TABLE_CONSTRAINTS t
		JOIN information_schema.KEY_COLUMN_USAGE k
		  ON k.CONSTRAINT_SCHEMA = t.CONSTRAINT_SCHEMA
		 AND k.CONSTRAINT_NAME = t.CONSTRAINT_NAME
		 AND k.TABLE_NAME = t.TABLE_NAME
		WHERE t.TABLE_SCHEMA = ? AND t.TABLE_NAME = ?
		  AND t.CONSTRAINT_TYPE IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY t.CONSTRAINT_NAME, k.ORDINAL_POSITION`,

	ForeignKeys: `
		SELECT COLUMN_NAME, REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		  AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`,

	DefaultSchema: currentDatabase,
}

func currentDatabase(ctx context.Context, db *sql.DB) (string, error) {
	var name sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&name); err != nil {
		return "", err
	}
	return name.String, nil
}

// NewMetadataRepository creates a MySQL catalog reader.
func NewMetadataRepository(p pool.ConnectionPool, logger zerolog.Logger) repositories.MetadataRepository {
	return sqlbase.NewMetadataRepository(p, Catalog, logger)
}
