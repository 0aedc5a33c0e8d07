// Package cache provides the per-alias schema cache.
package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// SchemaLoader computes the schema of one alias.
type SchemaLoader func(ctx context.Context, alias string) (*models.DatabaseSchema, error)

// Entry is a cached schema and the time it was computed.
type Entry struct {
	Schema     *models.DatabaseSchema
	ComputedAt time.Time
}

// SchemaCache memoizes DatabaseSchema values per alias.
//
// Concurrent misses for one alias share a single computation; misses for
// different aliases never wait on each other. A computation that started
// before Invalidate returns its result to its callers but is not stored.
type SchemaCache struct {
	entries *expirable.LRU[string, *Entry]
	group   singleflight.Group
	loader  SchemaLoader
	config  *Config
	stats   *StatsCollector
	logger  zerolog.Logger

	mu          sync.Mutex
	generations map[string]uint64
}

// NewSchemaCache creates a cache backed by loader.
func NewSchemaCache(config *Config, loader SchemaLoader, logger zerolog.Logger) *SchemaCache {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()

	c := &SchemaCache{
		loader:      loader,
		config:      config,
		stats:       NewStatsCollector(),
		logger:      logger.With().Str("component", "schema_cache").Logger(),
		generations: make(map[string]uint64),
	}
	c.entries = expirable.NewLRU[string, *Entry](config.MaxEntries, c.onEvict, config.TTL)
	return c
}

func (c *SchemaCache) onEvict(alias string, _ *Entry) {
	if c.config.EnableStats {
		c.stats.RecordEviction()
	}
	c.logger.Debug().Str("alias", alias).Msg("schema cache entry evicted")
}

// Get returns the schema of alias, computing it on a miss.
//
// The computation is detached from ctx and bounded by the load timeout, so a
// caller that gives up does not fail the other callers sharing it.
func (c *SchemaCache) Get(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
	if entry, ok := c.entries.Get(alias); ok {
		c.recordHit()
		return entry.Schema, nil
	}
	c.recordMiss()

	ch := c.group.DoChan(alias, func() (interface{}, error) {
		return c.load(ctx, alias)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.DatabaseSchema), nil
	case <-ctx.Done():
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Timeout(errors.StageIntrospection, ctx.Err()).WithAlias(alias)
		}
		return nil, errors.Canceled(errors.StageIntrospection, ctx.Err()).WithAlias(alias)
	}
}

func (c *SchemaCache) load(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
	gen := c.generation(alias)

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.LoadTimeout)
	defer cancel()

	start := time.Now()
	schema, err := c.loader(loadCtx, alias)
	if c.config.EnableStats {
		c.stats.RecordLoad(err)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("alias", alias).Dur("duration", time.Since(start)).Msg("schema load failed")
		return nil, err
	}

	if stored := c.store(alias, gen, schema); !stored {
		c.logger.Debug().Str("alias", alias).Msg("schema invalidated during load, result not cached")
	}
	c.logger.Debug().
		Str("alias", alias).
		Int("tables", len(schema.Tables)).
		Dur("duration", time.Since(start)).
		Msg("schema loaded")
	return schema, nil
}

func (c *SchemaCache) generation(alias string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[alias]
}

func (c *SchemaCache) store(alias string, gen uint64, schema *models.DatabaseSchema) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[alias] != gen {
		return false
	}
	c.entries.Add(alias, &Entry{Schema: schema, ComputedAt: time.Now()})
	c.updateSize()
	return true
}

// Invalidate drops the entry for alias. The next Get recomputes it.
func (c *SchemaCache) Invalidate(alias string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[alias]++
	c.entries.Remove(alias)
	c.group.Forget(alias)
	c.updateSize()
	c.logger.Info().Str("alias", alias).Msg("schema cache invalidated")
}

// Peek returns the cached entry without computing or touching recency.
func (c *SchemaCache) Peek(alias string) (*Entry, bool) {
	return c.entries.Peek(alias)
}

// Len returns the number of live entries.
func (c *SchemaCache) Len() int {
	return c.entries.Len()
}

// Stats returns the cache statistics.
func (c *SchemaCache) Stats() Stats {
	return c.stats.GetStats()
}

// HitRate returns the fraction of Get calls served from the cache.
func (c *SchemaCache) HitRate() float64 {
	return c.stats.HitRate()
}

func (c *SchemaCache) recordHit() {
	if c.config.EnableStats {
		c.stats.RecordHit()
	}
}

func (c *SchemaCache) recordMiss() {
	if c.config.EnableStats {
		c.stats.RecordMiss()
	}
}

func (c *SchemaCache) updateSize() {
	if c.config.EnableStats {
		c.stats.UpdateSize(int64(c.entries.Len()))
	}
}
