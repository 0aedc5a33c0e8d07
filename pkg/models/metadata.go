package models

import "strings"

// TableType classifies a relation.
type TableType string

const (
	TableTypeTable            TableType = "table"
	TableTypeView             TableType = "view"
	TableTypeMaterializedView TableType = "materialized_view"
	TableTypeCollection       TableType = "collection"
	TableTypeKeyspace         TableType = "keyspace"
)

// TableInfo names one relation of a database.
type TableInfo struct {
	Name string    `json:"name"`
	Type TableType `json:"type"`
}

// ForeignKeyRef is a single column-to-column foreign key edge. Composite
// foreign keys are represented by one edge per participating column.
type ForeignKeyRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// ColumnInfo describes one column.
type ColumnInfo struct {
	Name         string         `json:"name"`
	DeclaredType string         `json:"type"`
	IsNullable   bool           `json:"is_nullable"`
	IsPrimaryKey bool           `json:"is_primary_key"`
	IsUnique     bool           `json:"is_unique"`
	ForeignKey   *ForeignKeyRef `json:"foreign_key,omitempty"`
}

// TableSchema is a table and its columns in catalog order.
type TableSchema struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// Normalize enforces the column invariants: primary key columns are never
// nullable, and a single-column primary key is unique.
func (t *TableSchema) Normalize() {
	pkCount := 0
	for i := range t.Columns {
		if t.Columns[i].IsPrimaryKey {
			t.Columns[i].IsNullable = false
			pkCount++
		}
	}
	if pkCount == 1 {
		for i := range t.Columns {
			if t.Columns[i].IsPrimaryKey {
				t.Columns[i].IsUnique = true
			}
		}
	}
}

// Column returns the named column, if present.
func (t *TableSchema) Column(name string) (*ColumnInfo, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// PrimaryKey returns the primary key column names in catalog order.
func (t *TableSchema) PrimaryKey() []string {
	var cols []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// DatabaseSchema is the schema of one alias.
type DatabaseSchema struct {
	Alias  string        `json:"name"`
	Kind   BackendKind   `json:"db_type"`
	Tables []TableSchema `json:"tables"`
}

// FullSchema covers every reachable alias.
type FullSchema struct {
	Databases []DatabaseSchema `json:"databases"`
}

// SplitQualifiedName splits "schema.table" into its parts. Names without a
// schema get defaultSchema. Surrounding double quotes and backticks are removed.
func SplitQualifiedName(name, defaultSchema string) (schema, table string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i > 0 {
		return unquoteIdent(name[:i]), unquoteIdent(name[i+1:])
	}
	return defaultSchema, unquoteIdent(name)
}

func unquoteIdent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '`' && s[len(s)-1] == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
