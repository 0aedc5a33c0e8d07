package pool

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"golang.org/x/sync/semaphore"

	pkgerrors "github.com/TFMV/quarry/pkg/errors"
)

// MongoConfig configures a document store client.
type MongoConfig struct {
	URI               string        `json:"uri"`
	Database          string        `json:"database"`
	MaxConnections    int           `json:"max_connections"`
	ConnectionTimeout time.Duration `json:"connection_timeout"`
}

// MongoPool wraps a mongo client whose checkouts are bounded by a weighted
// semaphore, so an acquire beyond capacity waits until the caller's context
// expires.
type MongoPool struct {
	client   *mongo.Client
	database string
	sem      *semaphore.Weighted
	max      int
	inUse    atomic.Int64
	waits    atomic.Int64
	waitDur  atomic.Int64
	logger   zerolog.Logger
}

// NewMongo connects and pings the primary.
func NewMongo(ctx context.Context, cfg MongoConfig, logger zerolog.Logger) (*MongoPool, error) {
	if cfg.URI == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "mongodb uri is required")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	if cfg.Database == "" {
		cfg.Database = DatabaseFromMongoURI(cfg.URI)
	}
	if cfg.Database == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "mongodb uri must name a database")
	}

	logger.Info().
		Str("uri", MaskDSN(cfg.URI)).
		Str("database", cfg.Database).
		Int("max_connections", cfg.MaxConnections).
		Msg("Creating mongodb client")

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("quarry").
		SetMaxPoolSize(uint64(cfg.MaxConnections)).
		SetConnectTimeout(cfg.ConnectionTimeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "failed to create mongodb client")
	}

	p := &MongoPool{
		client:   client,
		database: cfg.Database,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConnections)),
		max:      cfg.MaxConnections,
		logger:   logger,
	}

	checkCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	if err := p.HealthCheck(checkCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "initial health check failed")
	}
	return p, nil
}

// Acquire reserves one slot and returns the database handle together with
// the function that gives the slot back.
func (p *MongoPool) Acquire(ctx context.Context) (*mongo.Database, func(), error) {
	start := time.Now()
	p.waits.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waitDur.Add(int64(time.Since(start)))
	if err != nil {
		return nil, nil, err
	}
	p.inUse.Add(1)

	var released atomic.Bool
	release := func() {
		if released.CompareAndSwap(false, true) {
			p.inUse.Add(-1)
			p.sem.Release(1)
		}
	}
	return p.client.Database(p.database), release, nil
}

// Database returns the handle without reserving a slot. Introspection uses it.
func (p *MongoPool) Database() *mongo.Database {
	return p.client.Database(p.database)
}

// HealthCheck pings the primary.
func (p *MongoPool) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx, readpref.Primary())
}

// Stats returns pool statistics.
func (p *MongoPool) Stats() PoolStats {
	inUse := int(p.inUse.Load())
	return PoolStats{
		OpenConnections: p.max,
		InUse:           inUse,
		Idle:            p.max - inUse,
		WaitCount:       p.waits.Load(),
		WaitDuration:    time.Duration(p.waitDur.Load()),
	}
}

// Close disconnects the client.
func (p *MongoPool) Close() error {
	p.logger.Info().Msg("Closing mongodb client")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.client.Disconnect(ctx)
}

// DatabaseFromMongoURI returns the database named in the URI path.
func DatabaseFromMongoURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}
