package redis

import (
	"context"
	"sort"
	"strings"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

const (
	// SampleKeys caps how many keys ListTables inspects.
	SampleKeys = 1000
	scanCount  = 200
)

type metadataRepository struct {
	pool   *pool.RedisPool
	logger zerolog.Logger
}

// NewMetadataRepository creates a keyspace reader.
func NewMetadataRepository(p *pool.RedisPool, logger zerolog.Logger) repositories.MetadataRepository {
	return &metadataRepository{
		pool:   p,
		logger: logger.With().Str("repo", "metadata").Logger(),
	}
}

// ListTables samples keys with SCAN and reports each prefix before the
// first ':' as a keyspace.
func (r *metadataRepository) ListTables(ctx context.Context) ([]models.TableInfo, error) {
	conn, err := r.pool.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	prefixes := make(map[string]struct{})
	cursor := "0"
	seen := 0
	for {
		values, err := redis.Values(redis.DoContext(conn, ctx, "SCAN", cursor, "COUNT", scanCount))
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to scan keys")
		}
		var keys []string
		if _, err := redis.Scan(values, &cursor, &keys); err != nil {
			return nil, errors.Wrap(err, errors.CodeIntrospectionFailed, "failed to read scan reply")
		}
		for _, k := range keys {
			prefixes[KeyPrefix(k)] = struct{}{}
		}
		seen += len(keys)
		if cursor == "0" || seen >= SampleKeys {
			break
		}
	}

	tables := make([]models.TableInfo, 0, len(prefixes))
	for p := range prefixes {
		tables = append(tables, models.TableInfo{Name: p, Type: models.TableTypeKeyspace})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	r.logger.Debug().Int("sampled", seen).Int("keyspaces", len(tables)).Msg("Listed keyspaces")
	return tables, nil
}

// TableSchema returns the placeholder key/value layout; values have no
// fixed shape.
func (r *metadataRepository) TableSchema(_ context.Context, table string) (*models.TableSchema, error) {
	ts := &models.TableSchema{
		Name: table,
		Columns: []models.ColumnInfo{
			{Name: "key", DeclaredType: "text", IsPrimaryKey: true},
			{Name: "value", DeclaredType: "text", IsNullable: true},
		},
	}
	ts.Normalize()
	return ts, nil
}

// KeyPrefix returns the part of key before the first ':', or the whole key.
func KeyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
