package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendKind(t *testing.T) {
	tests := []struct {
		input    string
		expected BackendKind
		wantErr  bool
	}{
		{"postgres", KindPostgres, false},
		{"PostgreSQL", KindPostgres, false},
		{"mariadb", KindMySQL, false},
		{" mysql ", KindMySQL, false},
		{"duckdb", KindDuckDB, false},
		{"redis", KindRedis, false},
		{"mongo", KindMongoDB, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			kind, err := ParseBackendKind(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, kind)
		})
	}
}

func TestTableSchema_Normalize(t *testing.T) {
	t.Run("composite primary key", func(t *testing.T) {
		schema := TableSchema{
			Name: "public.pairs",
			Columns: []ColumnInfo{
				{Name: "a", IsPrimaryKey: true, IsNullable: true},
				{Name: "b", IsPrimaryKey: true, IsNullable: true},
				{Name: "note", IsNullable: true},
			},
		}
		schema.Normalize()

		for _, name := range []string{"a", "b"} {
			col, ok := schema.Column(name)
			require.True(t, ok)
			assert.True(t, col.IsPrimaryKey)
			assert.False(t, col.IsNullable)
			assert.False(t, col.IsUnique, "a member of a composite key is not unique on its own")
		}
		note, _ := schema.Column("note")
		assert.True(t, note.IsNullable)
		assert.Equal(t, []string{"a", "b"}, schema.PrimaryKey())
	})

	t.Run("single primary key is unique", func(t *testing.T) {
		schema := TableSchema{Columns: []ColumnInfo{{Name: "id", IsPrimaryKey: true}}}
		schema.Normalize()
		assert.True(t, schema.Columns[0].IsUnique)
	})
}

func TestSplitQualifiedName(t *testing.T) {
	tests := []struct {
		name, def, schema, table string
	}{
		{"public.users", "public", "public", "users"},
		{"users", "public", "public", "users"},
		{`"Sales"."Orders"`, "public", "Sales", "Orders"},
		{"`shop`.`items`", "", "shop", "items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, table := SplitQualifiedName(tt.name, tt.def)
			assert.Equal(t, tt.schema, schema)
			assert.Equal(t, tt.table, table)
		})
	}
}

func TestQueryResult_MarshalJSON(t *testing.T) {
	t.Run("rows variant", func(t *testing.T) {
		result := NewRowsResult(
			[]json.RawMessage{json.RawMessage(`{"x":1}`)},
			json.RawMessage(`{"Plan":{"Node Type":"Result"}}`),
			1500*time.Millisecond,
		)

		data, err := json.Marshal(result)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"result": [{"x":1}],
			"message": null,
			"affected_rows": null,
			"plan": {"Plan":{"Node Type":"Result"}},
			"executionTime": 1.5
		}`, string(data))
	})

	t.Run("empty rows render as an empty array", func(t *testing.T) {
		data, err := json.Marshal(NewRowsResult(nil, nil, 0))
		require.NoError(t, err)
		assert.JSONEq(t, `{"result": [], "message": null, "affected_rows": null, "plan": null, "executionTime": 0}`, string(data))
	})

	t.Run("affected variant", func(t *testing.T) {
		n := int64(3)
		data, err := json.Marshal(NewAffectedResult("OK", &n, nil, time.Second))
		require.NoError(t, err)
		assert.JSONEq(t, `{"result": null, "message": "OK", "affected_rows": 3, "plan": null, "executionTime": 1}`, string(data))
	})

	t.Run("status reply without a count", func(t *testing.T) {
		data, err := json.Marshal(NewAffectedResult("PONG", nil, nil, 0))
		require.NoError(t, err)
		assert.JSONEq(t, `{"result": null, "message": "PONG", "affected_rows": null, "plan": null, "executionTime": 0}`, string(data))
	})
}
