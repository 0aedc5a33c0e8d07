package mongodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/TFMV/quarry/pkg/models"
)

func TestInferBSONType(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{nil, "null"},
		{bson.NewObjectID(), "objectId"},
		{"x", "string"},
		{int32(1), "int"},
		{int64(1), "long"},
		{1.5, "double"},
		{true, "bool"},
		{bson.DateTime(0), "date"},
		{bson.A{1}, "array"},
		{bson.D{{Key: "a", Value: 1}}, "object"},
		{bson.Binary{Data: []byte{1}}, "binData"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, InferBSONType(tt.value))
		})
	}
}

func TestBSONTypeToSQL(t *testing.T) {
	assert.Equal(t, "text", BSONTypeToSQL("objectId"))
	assert.Equal(t, "bigint", BSONTypeToSQL("long"))
	assert.Equal(t, "jsonb", BSONTypeToSQL("object"))
	assert.Equal(t, "timestamptz", BSONTypeToSQL("date"))
	assert.Equal(t, "text", BSONTypeToSQL("minKey"))
}

func TestNormalizeBSONType(t *testing.T) {
	assert.Equal(t, "int", normalizeBSONType("int"))
	assert.Equal(t, "string", normalizeBSONType(bson.A{"null", "string"}))
	assert.Equal(t, "string", normalizeBSONType(nil))
}

func TestMergeFields(t *testing.T) {
	validator := []Field{
		{Name: "email", BSONType: "string", Required: true},
		{Name: "age", BSONType: "int"},
	}
	sampled := []Field{
		{Name: "_id", BSONType: "objectId", Required: true},
		{Name: "email", BSONType: "long"},
		{Name: "tags", BSONType: "array"},
	}

	columns := MergeFields(validator, sampled)
	require.Len(t, columns, 4)

	assert.Equal(t, models.ColumnInfo{Name: "_id", DeclaredType: "text", IsPrimaryKey: true}, columns[0])
	assert.Equal(t, models.ColumnInfo{Name: "email", DeclaredType: "text"}, columns[1], "validator type wins")
	assert.Equal(t, models.ColumnInfo{Name: "age", DeclaredType: "integer", IsNullable: true}, columns[2])
	assert.Equal(t, models.ColumnInfo{Name: "tags", DeclaredType: "jsonb", IsNullable: true}, columns[3])
}

func TestParseQuery(t *testing.T) {
	t.Run("find", func(t *testing.T) {
		q, err := ParseQuery(`{"collection":"users","filter":{"age":{"$gt":30}},"sort":{"age":-1},"limit":10}`)
		require.NoError(t, err)
		assert.Equal(t, "users", q.Collection)
		assert.False(t, q.IsAggregate())
		assert.Equal(t, int64(10), q.Limit)
		require.Len(t, q.Filter, 1)
		assert.Equal(t, "age", q.Filter[0].Key)
	})

	t.Run("aggregate", func(t *testing.T) {
		q, err := ParseQuery(`{"collection":"orders","pipeline":[{"$match":{"status":"paid"}},{"$limit":5}]}`)
		require.NoError(t, err)
		assert.True(t, q.IsAggregate())
		require.Len(t, q.Pipeline, 2)
		assert.Equal(t, "$limit", q.Pipeline[1][0].Key)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseQuery(`{"collection":`)
		require.Error(t, err)
	})
}
