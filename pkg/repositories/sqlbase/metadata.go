package sqlbase

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
)

// Catalog holds the dialect-specific catalog queries. Every per-table query
// takes (schema, table) as its two parameters.
type Catalog struct {
	// ListTables returns (schema, name, relkind) where relkind is one of
	// r, p, v, m.
	ListTables string
	// Columns returns (name, declared_type, is_nullable) in catalog order.
	Columns string
	// Keys returns (column, constraint_type, constraint_name) for PRIMARY
	// KEY and UNIQUE constraints.
	Keys string
	// ForeignKeys returns (column, ref_schema, ref_table, ref_column), one
	// row per column pair.
	ForeignKeys string
	// DefaultSchema resolves the schema of unqualified table names.
	DefaultSchema func(ctx context.Context, db *sql.DB) (string, error)
}

// StaticSchema returns a DefaultSchema func yielding name.
func StaticSchema(name string) func(context.Context, *sql.DB) (string, error) {
	return func(context.Context, *sql.DB) (string, error) { return name, nil }
}

// MetadataRepository reads a relational catalog through a Catalog.
type MetadataRepository struct {
	pool    pool.ConnectionPool
	catalog Catalog
	logger  zerolog.Logger
}

// NewMetadataRepository creates a catalog reader.
func NewMetadataRepository(p pool.ConnectionPool, catalog Catalog, logger zerolog.Logger) *MetadataRepository {
	return &MetadataRepository{
		pool:    p,
		catalog: catalog,
		logger:  logger.With().Str("repo", "metadata").Logger(),
	}
}

// ListTables returns user tables and views ordered by qualified name.
func (r *MetadataRepository) ListTables(ctx context.Context) ([]models.TableInfo, error) {
	r.logger.Debug().Msg("Listing tables")

	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, r.catalog.ListTables)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to query tables")
	}
	defer rows.Close()

	var tables []models.TableInfo
	for rows.Next() {
		var schema, name, relkind string
		if err := rows.Scan(&schema, &name, &relkind); err != nil {
			return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to scan table")
		}
		tables = append(tables, models.TableInfo{
			Name: schema + "." + name,
			Type: tableType(relkind),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "error iterating tables")
	}

	r.logger.Debug().Int("count", len(tables)).Msg("Listed tables")
	return tables, nil
}

// TableSchema returns the columns of one table with their key flags and
// foreign key edges.
func (r *MetadataRepository) TableSchema(ctx context.Context, table string) (*models.TableSchema, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	defaultSchema, err := r.catalog.DefaultSchema(ctx, db)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to resolve default schema")
	}
	schemaName, tableName := models.SplitQualifiedName(table, defaultSchema)

	r.logger.Debug().
		Str("schema", schemaName).
		Str("table", tableName).
		Msg("Reading table schema")

	columns, err := r.columns(ctx, db, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		e := errors.Newf(errors.CodeNotFound, "table '%s' not found", table)
		e.Table = table
		return nil, e
	}

	ts := &models.TableSchema{
		Name:    schemaName + "." + tableName,
		Columns: columns,
	}

	if err := r.applyKeys(ctx, db, ts, schemaName, tableName); err != nil {
		return nil, err
	}
	if err := r.applyForeignKeys(ctx, db, ts, schemaName, tableName); err != nil {
		return nil, err
	}

	ts.Normalize()
	return ts, nil
}

func (r *MetadataRepository) columns(ctx context.Context, db *sql.DB, schema, table string) ([]models.ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, r.catalog.Columns, schema, table)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to query columns")
	}
	defer rows.Close()

	var columns []models.ColumnInfo
	for rows.Next() {
		var col models.ColumnInfo
		if err := rows.Scan(&col.Name, &col.DeclaredType, &col.IsNullable); err != nil {
			return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to scan column")
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "error iterating columns")
	}
	return columns, nil
}

// applyKeys marks primary key members and columns that alone form a
// UNIQUE constraint.
func (r *MetadataRepository) applyKeys(ctx context.Context, db *sql.DB, ts *models.TableSchema, schema, table string) error {
	rows, err := db.QueryContext(ctx, r.catalog.Keys, schema, table)
	if err != nil {
		return errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to query key constraints")
	}
	defer rows.Close()

	type member struct{ column, kind string }
	byConstraint := make(map[string][]member)
	var order []string
	for rows.Next() {
		var column, kind, name string
		if err := rows.Scan(&column, &kind, &name); err != nil {
			return errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to scan key constraint")
		}
		if _, seen := byConstraint[name]; !seen {
			order = append(order, name)
		}
		byConstraint[name] = append(byConstraint[name], member{column, kind})
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.CodeIntrospectionFailed, "error iterating key constraints")
	}

	for _, name := range order {
		members := byConstraint[name]
		for _, m := range members {
			col, ok := ts.Column(m.column)
			if !ok {
				continue
			}
			switch m.kind {
			case "PRIMARY KEY":
				col.IsPrimaryKey = true
			case "UNIQUE":
				if len(members) == 1 {
					col.IsUnique = true
				}
			}
		}
	}
	return nil
}

// applyForeignKeys attaches one referenced column per referencing column.
// When a column takes part in several foreign keys the first one wins.
func (r *MetadataRepository) applyForeignKeys(ctx context.Context, db *sql.DB, ts *models.TableSchema, schema, table string) error {
	rows, err := db.QueryContext(ctx, r.catalog.ForeignKeys, schema, table)
	if err != nil {
		return errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to query foreign keys")
	}
	defer rows.Close()

	for rows.Next() {
		var column, refSchema, refTable, refColumn sql.NullString
		if err := rows.Scan(&column, &refSchema, &refTable, &refColumn); err != nil {
			return errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to scan foreign key")
		}
		col, ok := ts.Column(column.String)
		if !ok || col.ForeignKey != nil || !refTable.Valid {
			continue
		}
		ref := refTable.String
		if refSchema.Valid && refSchema.String != "" {
			ref = fmt.Sprintf("%s.%s", refSchema.String, refTable.String)
		}
		col.ForeignKey = &models.ForeignKeyRef{Table: ref, Column: refColumn.String}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.CodeIntrospectionFailed, "error iterating foreign keys")
	}
	return nil
}

func tableType(relkind string) models.TableType {
	switch relkind {
	case "v":
		return models.TableTypeView
	case "m":
		return models.TableTypeMaterializedView
	default:
		return models.TableTypeTable
	}
}
