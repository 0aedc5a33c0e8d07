package mongodb

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// SampleSize is how many documents are sampled per collection.
const SampleSize = 100

type metadataRepository struct {
	db     *mongo.Database
	logger zerolog.Logger
}

// NewMetadataRepository creates a collection reader.
func NewMetadataRepository(db *mongo.Database, logger zerolog.Logger) repositories.MetadataRepository {
	return &metadataRepository{
		db:     db,
		logger: logger.With().Str("repo", "metadata").Logger(),
	}
}

// ListTables lists the non-system collections by name.
func (r *metadataRepository) ListTables(ctx context.Context) ([]models.TableInfo, error) {
	names, err := r.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to list collections")
	}
	sort.Strings(names)

	tables := make([]models.TableInfo, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		tables = append(tables, models.TableInfo{Name: name, Type: models.TableTypeCollection})
	}
	return tables, nil
}

// TableSchema merges the $jsonSchema validator, which wins, with fields
// discovered in a $sample of documents. _id is the primary key.
func (r *metadataRepository) TableSchema(ctx context.Context, table string) (*models.TableSchema, error) {
	names, err := r.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: table}})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to look up collection")
	}
	if len(names) == 0 {
		e := errors.Newf(errors.CodeNotFound, "collection '%s' not found", table)
		e.Table = table
		return nil, e
	}

	validator, err := r.validatorFields(ctx, table)
	if err != nil {
		return nil, err
	}
	sampled, err := r.sampleFields(ctx, table)
	if err != nil {
		return nil, err
	}

	ts := &models.TableSchema{Name: table, Columns: MergeFields(validator, sampled)}
	ts.Normalize()
	return ts, nil
}

// Field is one discovered document field.
type Field struct {
	Name     string
	BSONType string
	Required bool
}

func (r *metadataRepository) validatorFields(ctx context.Context, collection string) ([]Field, error) {
	cursor, err := r.db.ListCollections(ctx, bson.D{{Key: "name", Value: collection}})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to read collection options")
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		return nil, cursor.Err()
	}

	var info struct {
		Options struct {
			Validator struct {
				JSONSchema struct {
					Properties bson.D   `bson:"properties"`
					Required   []string `bson:"required"`
				} `bson:"$jsonSchema"`
			} `bson:"validator"`
		} `bson:"options"`
	}
	if err := cursor.Decode(&info); err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to decode collection options")
	}

	required := make(map[string]bool)
	for _, name := range info.Options.Validator.JSONSchema.Required {
		required[name] = true
	}

	var fields []Field
	for _, prop := range info.Options.Validator.JSONSchema.Properties {
		var bsonType any
		if d, ok := prop.Value.(bson.D); ok {
			for _, e := range d {
				if e.Key == "bsonType" {
					bsonType = e.Value
				}
			}
		}
		fields = append(fields, Field{
			Name:     prop.Key,
			BSONType: normalizeBSONType(bsonType),
			Required: required[prop.Key],
		})
	}
	return fields, nil
}

func (r *metadataRepository) sampleFields(ctx context.Context, collection string) ([]Field, error) {
	cursor, err := r.db.Collection(collection).Aggregate(ctx, bson.A{
		bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: SampleSize}}}},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to sample collection")
	}
	defer cursor.Close(ctx)

	var fields []Field
	seen := make(map[string]bool)
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		for _, e := range doc {
			if seen[e.Key] {
				continue
			}
			seen[e.Key] = true
			fields = append(fields, Field{
				Name:     e.Key,
				BSONType: InferBSONType(e.Value),
				Required: e.Key == "_id",
			})
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to read sample")
	}
	return fields, nil
}

// MergeFields lists _id first, then validator fields, then sampled fields
// the validator does not declare.
func MergeFields(validator, sampled []Field) []models.ColumnInfo {
	var columns []models.ColumnInfo
	added := make(map[string]bool)

	add := func(f Field) {
		if added[f.Name] {
			return
		}
		added[f.Name] = true
		columns = append(columns, models.ColumnInfo{
			Name:         f.Name,
			DeclaredType: BSONTypeToSQL(f.BSONType),
			IsNullable:   !f.Required,
			IsPrimaryKey: f.Name == "_id",
		})
	}

	for _, group := range [][]Field{validator, sampled} {
		for _, f := range group {
			if f.Name == "_id" {
				add(f)
			}
		}
	}
	for _, group := range [][]Field{validator, sampled} {
		for _, f := range group {
			add(f)
		}
	}
	return columns
}

// InferBSONType names the BSON type of a decoded value.
func InferBSONType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bson.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int32:
		return "int"
	case int64, int:
		return "long"
	case float64, float32:
		return "double"
	case bson.Decimal128:
		return "decimal"
	case bool:
		return "bool"
	case bson.DateTime:
		return "date"
	case bson.A, []any:
		return "array"
	case bson.D, bson.M, map[string]any:
		return "object"
	case bson.Binary:
		return "binData"
	default:
		return "string"
	}
}

// BSONTypeToSQL maps a BSON type to a SQL-style spelling.
func BSONTypeToSQL(bsonType string) string {
	switch bsonType {
	case "objectId", "string", "null":
		return "text"
	case "int":
		return "integer"
	case "long":
		return "bigint"
	case "double":
		return "double precision"
	case "decimal":
		return "numeric"
	case "bool":
		return "boolean"
	case "date", "timestamp":
		return "timestamptz"
	case "array", "object":
		return "jsonb"
	case "binData":
		return "bytea"
	default:
		return "text"
	}
}

func normalizeBSONType(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bson.A:
		for _, e := range t {
			if s, ok := e.(string); ok && s != "null" {
				return s
			}
		}
	}
	return "string"
}
