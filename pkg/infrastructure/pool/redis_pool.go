package pool

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/quarry/pkg/errors"
)

// RedisConfig configures a key-value pool.
type RedisConfig struct {
	URL               string        `json:"url"`
	MaxActive         int           `json:"max_active"`
	MaxIdle           int           `json:"max_idle"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ConnectionTimeout time.Duration `json:"connection_timeout"`
}

// RedisPool is a bounded redigo pool. Checkouts beyond MaxActive wait until
// a connection is returned or the caller's context expires.
type RedisPool struct {
	pool   *redis.Pool
	logger zerolog.Logger
}

// NewRedis creates the pool and verifies it with a PING.
func NewRedis(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisPool, error) {
	if cfg.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "redis url is required")
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 10
	}
	if cfg.MaxIdle <= 0 || cfg.MaxIdle > cfg.MaxActive {
		cfg.MaxIdle = cfg.MaxActive
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}

	logger.Info().
		Str("url", MaskDSN(cfg.URL)).
		Int("max_active", cfg.MaxActive).
		Msg("Creating redis pool")

	url := cfg.URL
	p := &RedisPool{
		logger: logger,
		pool: &redis.Pool{
			MaxIdle:     cfg.MaxIdle,
			MaxActive:   cfg.MaxActive,
			IdleTimeout: cfg.IdleTimeout,
			Wait:        true,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialURLContext(ctx, url, redis.DialConnectTimeout(cfg.ConnectionTimeout))
			},
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
	}

	checkCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	if err := p.HealthCheck(checkCtx); err != nil {
		p.pool.Close()
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "initial health check failed")
	}
	return p, nil
}

// Conn checks out a connection. The caller must Close it.
func (p *RedisPool) Conn(ctx context.Context) (redis.Conn, error) {
	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "redis connection failed")
	}
	return conn, nil
}

// HealthCheck sends PING on a pooled connection.
func (p *RedisPool) HealthCheck(ctx context.Context) error {
	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	reply, err := redis.String(redis.DoContext(conn, ctx, "PING"))
	if err != nil {
		return err
	}
	if reply != "PONG" {
		return pkgerrors.Newf(pkgerrors.CodeConnectionFailed, "unexpected PING reply %q", reply)
	}
	return nil
}

// Stats returns pool statistics.
func (p *RedisPool) Stats() PoolStats {
	s := p.pool.Stats()
	return PoolStats{
		OpenConnections: s.ActiveCount,
		InUse:           s.ActiveCount - s.IdleCount,
		Idle:            s.IdleCount,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration,
	}
}

// Close closes the pool.
func (p *RedisPool) Close() error {
	p.logger.Info().Msg("Closing redis pool")
	return p.pool.Close()
}
