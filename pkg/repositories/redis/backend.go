// Package redis provides the key-value backend over a redigo pool.
package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// Driver opens key-value backends.
type Driver struct{}

// NewDriver returns the key-value driver.
func NewDriver() repositories.Driver { return Driver{} }

// Kind returns models.KindRedis.
func (Driver) Kind() models.BackendKind { return models.KindRedis }

// Open creates the pool and verifies it with PING.
func (Driver) Open(ctx context.Context, cfg models.BackendConfig, opts repositories.PoolOptions, logger zerolog.Logger) (repositories.Backend, error) {
	p, err := pool.NewRedis(ctx, pool.RedisConfig{
		URL:               cfg.ConnString,
		MaxActive:         cfg.MaxConnections,
		MaxIdle:           opts.MaxIdleConnections,
		IdleTimeout:       opts.ConnMaxIdleTime,
		ConnectionTimeout: opts.ConnectionTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Backend{
		pool:   p,
		meta:   NewMetadataRepository(p, logger),
		logger: logger,
	}, nil
}

// Backend is an opened key-value alias.
type Backend struct {
	pool   *pool.RedisPool
	meta   repositories.MetadataRepository
	logger zerolog.Logger
}

// Kind returns models.KindRedis.
func (b *Backend) Kind() models.BackendKind { return models.KindRedis }

// Metadata returns the keyspace reader.
func (b *Backend) Metadata() repositories.MetadataRepository { return b.meta }

// Stats returns pool statistics.
func (b *Backend) Stats() pool.PoolStats { return b.pool.Stats() }

// Acquire checks out one connection.
func (b *Backend) Acquire(ctx context.Context) (repositories.Session, error) {
	conn, err := b.pool.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn}, nil
}

// Close closes the pool.
func (b *Backend) Close() error { return b.pool.Close() }

// Session runs commands on one pooled connection.
type Session struct {
	conn redis.Conn
	once sync.Once
}

// Explain returns no plan; key-value commands have none.
func (s *Session) Explain(context.Context, string) (json.RawMessage, error) {
	return nil, nil
}

// Fetch runs a KeyValueCommand data form. Array replies become one row per
// element, truncated to the limit; status replies such as OK become the
// message variant.
func (s *Session) Fetch(ctx context.Context, dataForm string) (*models.Payload, error) {
	var cmd models.KeyValueCommand
	if err := json.Unmarshal([]byte(dataForm), &cmd); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "malformed key-value command")
	}

	args := make([]interface{}, len(cmd.Args))
	for i, a := range cmd.Args {
		args[i] = a
	}

	reply, err := redis.DoContext(s.conn, ctx, cmd.Command, args...)
	if err != nil {
		return nil, err
	}
	return ReplyToPayload(reply, cmd.Limit)
}

// Release returns the connection to the pool.
func (s *Session) Release() {
	s.once.Do(func() {
		_ = s.conn.Close()
	})
}

// ReplyToPayload shapes a redigo reply.
func ReplyToPayload(reply interface{}, limit int) (*models.Payload, error) {
	switch r := reply.(type) {
	case redis.Error:
		return nil, r
	case string:
		return &models.Payload{Message: r}, nil
	case []interface{}:
		if limit > 0 && len(r) > limit {
			r = r[:limit]
		}
		rows := make([]json.RawMessage, 0, len(r))
		for _, v := range r {
			row, err := valueRow(v)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return &models.Payload{Rows: rows}, nil
	default:
		row, err := valueRow(r)
		if err != nil {
			return nil, err
		}
		return &models.Payload{Rows: []json.RawMessage{row}}, nil
	}
}

func valueRow(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(map[string]interface{}{"value": toJSONValue(v)})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func toJSONValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = toJSONValue(e)
		}
		return out
	case redis.Error:
		return x.Error()
	default:
		return x
	}
}
