// Package mongodb provides the document backend over the official driver.
package mongodb

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// Driver opens document backends.
type Driver struct{}

// NewDriver returns the document driver.
func NewDriver() repositories.Driver { return Driver{} }

// Kind returns models.KindMongoDB.
func (Driver) Kind() models.BackendKind { return models.KindMongoDB }

// Open connects the client and pings the primary. The database is the one
// named in the URI path.
func (Driver) Open(ctx context.Context, cfg models.BackendConfig, opts repositories.PoolOptions, logger zerolog.Logger) (repositories.Backend, error) {
	p, err := pool.NewMongo(ctx, pool.MongoConfig{
		URI:               cfg.ConnString,
		MaxConnections:    cfg.MaxConnections,
		ConnectionTimeout: opts.ConnectionTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Backend{
		pool:   p,
		meta:   NewMetadataRepository(p.Database(), logger),
		logger: logger,
	}, nil
}

// Backend is an opened document alias.
type Backend struct {
	pool   *pool.MongoPool
	meta   repositories.MetadataRepository
	logger zerolog.Logger
}

// Kind returns models.KindMongoDB.
func (b *Backend) Kind() models.BackendKind { return models.KindMongoDB }

// Metadata returns the collection reader.
func (b *Backend) Metadata() repositories.MetadataRepository { return b.meta }

// Stats returns pool statistics.
func (b *Backend) Stats() pool.PoolStats { return b.pool.Stats() }

// Acquire reserves one slot of the client's pool.
func (b *Backend) Acquire(ctx context.Context) (repositories.Session, error) {
	db, release, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{db: db, release: release}, nil
}

// Close disconnects the client.
func (b *Backend) Close() error { return b.pool.Close() }

// Session runs DocumentQuery forms.
type Session struct {
	db      *mongo.Database
	release func()
	once    sync.Once
}

// ParseQuery decodes a relaxed extended JSON DocumentQuery.
func ParseQuery(form string) (*models.DocumentQuery, error) {
	var q models.DocumentQuery
	if err := bson.UnmarshalExtJSON([]byte(form), false, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Explain runs the explain command at queryPlanner verbosity.
func (s *Session) Explain(ctx context.Context, planForm string) (json.RawMessage, error) {
	q, err := ParseQuery(planForm)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "malformed document query")
	}

	var inner bson.D
	if q.IsAggregate() {
		inner = bson.D{
			{Key: "aggregate", Value: q.Collection},
			{Key: "pipeline", Value: q.Pipeline},
			{Key: "cursor", Value: bson.D{}},
		}
	} else {
		inner = bson.D{{Key: "find", Value: q.Collection}}
		if q.Filter != nil {
			inner = append(inner, bson.E{Key: "filter", Value: q.Filter})
		}
		if q.Projection != nil {
			inner = append(inner, bson.E{Key: "projection", Value: q.Projection})
		}
		if q.Sort != nil {
			inner = append(inner, bson.E{Key: "sort", Value: q.Sort})
		}
		if q.Skip > 0 {
			inner = append(inner, bson.E{Key: "skip", Value: q.Skip})
		}
		if q.Limit > 0 {
			inner = append(inner, bson.E{Key: "limit", Value: q.Limit})
		}
	}

	raw, err := s.db.RunCommand(ctx, bson.D{
		{Key: "explain", Value: inner},
		{Key: "verbosity", Value: "queryPlanner"},
	}).Raw()
	if err != nil {
		return nil, err
	}
	out, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Fetch runs the find or aggregate and encodes each document as relaxed
// extended JSON.
func (s *Session) Fetch(ctx context.Context, dataForm string) (*models.Payload, error) {
	q, err := ParseQuery(dataForm)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "malformed document query")
	}
	coll := s.db.Collection(q.Collection)

	var cursor *mongo.Cursor
	if q.IsAggregate() {
		cursor, err = coll.Aggregate(ctx, q.Pipeline)
	} else {
		findOpts := options.Find()
		if q.Limit > 0 {
			findOpts.SetLimit(q.Limit)
		}
		if q.Skip > 0 {
			findOpts.SetSkip(q.Skip)
		}
		if q.Projection != nil {
			findOpts.SetProjection(q.Projection)
		}
		if q.Sort != nil {
			findOpts.SetSort(q.Sort)
		}
		filter := q.Filter
		if filter == nil {
			filter = bson.D{}
		}
		cursor, err = coll.Find(ctx, filter, findOpts)
	}
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	rows := []json.RawMessage{}
	for cursor.Next(ctx) {
		doc, err := bson.MarshalExtJSON(cursor.Current, false, false)
		if err != nil {
			return nil, err
		}
		rows = append(rows, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return &models.Payload{Rows: rows}, nil
}

// Release gives the slot back.
func (s *Session) Release() {
	s.once.Do(s.release)
}
