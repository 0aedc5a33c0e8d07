package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// DefaultIntrospectionTimeout bounds one catalog read.
const DefaultIntrospectionTimeout = 60 * time.Second

// SchemaOptions configures the schema service.
type SchemaOptions struct {
	Cache                *cache.Config
	TableConcurrency     int
	IntrospectionTimeout time.Duration
	// AliasConcurrency bounds how many aliases AllSchemas loads at once.
	AliasConcurrency int
}

type schemaService struct {
	backends BackendProvider
	cache    *cache.SchemaCache
	opts     SchemaOptions
	logger   Logger
	// repoLogger is handed to the repository layer, which logs with zerolog.
	repoLogger zerolog.Logger
}

// NewSchemaService creates the schema service and its cache.
func NewSchemaService(backends BackendProvider, opts SchemaOptions, logger Logger, repoLogger zerolog.Logger) SchemaService {
	if opts.IntrospectionTimeout <= 0 {
		opts.IntrospectionTimeout = DefaultIntrospectionTimeout
	}
	if opts.TableConcurrency <= 0 {
		opts.TableConcurrency = repositories.DefaultTableConcurrency
	}
	if opts.AliasConcurrency <= 0 {
		opts.AliasConcurrency = 4
	}
	if logger == nil {
		logger = noopLogger{}
	}
	cacheCfg := cache.DefaultConfig()
	if opts.Cache != nil {
		c := *opts.Cache
		cacheCfg = &c
	}
	cacheCfg.LoadTimeout = opts.IntrospectionTimeout

	s := &schemaService{
		backends:   backends,
		opts:       opts,
		logger:     logger,
		repoLogger: repoLogger,
	}
	s.cache = cache.NewSchemaCache(cacheCfg, s.loadSchema, repoLogger)
	return s
}

func (s *schemaService) loadSchema(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
	backend, err := s.backends.GetOrCreatePool(ctx, alias)
	if err != nil {
		return nil, err
	}
	return repositories.LoadDatabaseSchema(ctx, alias, backend.Kind(), backend.Metadata(), s.opts.TableConcurrency, s.repoLogger)
}

func (s *schemaService) metadata(ctx context.Context, alias string) (repositories.MetadataRepository, error) {
	if _, err := s.backends.Lookup(alias); err != nil {
		return nil, err
	}
	backend, err := s.backends.GetOrCreatePool(ctx, alias)
	if err != nil {
		return nil, err
	}
	return backend.Metadata(), nil
}

// ListTables reads the relation list straight from the catalog.
func (s *schemaService) ListTables(ctx context.Context, alias string) ([]models.TableInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.IntrospectionTimeout)
	defer cancel()

	meta, err := s.metadata(ctx, alias)
	if err != nil {
		return nil, err
	}
	tables, err := meta.ListTables(ctx)
	if err != nil {
		return nil, repositories.AsIntrospectionError(alias, "", err)
	}
	return tables, nil
}

// TableSchema serves a table from a cached database schema when one is
// present, and reads the catalog otherwise.
func (s *schemaService) TableSchema(ctx context.Context, alias, table string) (*models.TableSchema, error) {
	if entry, ok := s.cache.Peek(alias); ok {
		for i := range entry.Schema.Tables {
			if entry.Schema.Tables[i].Name == table {
				t := entry.Schema.Tables[i]
				return &t, nil
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.IntrospectionTimeout)
	defer cancel()

	meta, err := s.metadata(ctx, alias)
	if err != nil {
		return nil, err
	}
	schema, err := meta.TableSchema(ctx, table)
	if err != nil {
		return nil, repositories.AsIntrospectionError(alias, table, err)
	}
	return schema, nil
}

// DatabaseSchema returns the cached schema of alias.
func (s *schemaService) DatabaseSchema(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
	if _, err := s.backends.Lookup(alias); err != nil {
		return nil, err
	}
	return s.cache.Get(ctx, alias)
}

// AllSchemas returns the schema of every reachable alias in configuration
// order. An alias that fails is logged and left out.
func (s *schemaService) AllSchemas(ctx context.Context) (*models.FullSchema, error) {
	backends := s.backends.List()
	results := make([]*models.DatabaseSchema, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.AliasConcurrency)
	for i, info := range backends {
		g.Go(func() error {
			schema, err := s.cache.Get(gctx, info.Alias)
			if err != nil {
				s.logger.Warn("Skipping database whose schema could not be loaded", "db", info.Alias, "error", err)
				return nil
			}
			results[i] = schema
			return nil
		})
	}
	_ = g.Wait()

	out := &models.FullSchema{Databases: make([]models.DatabaseSchema, 0, len(results))}
	for _, r := range results {
		if r != nil {
			out.Databases = append(out.Databases, *r)
		}
	}
	return out, nil
}

// Invalidate drops the cached schema of alias.
func (s *schemaService) Invalidate(alias string) error {
	if _, err := s.backends.Lookup(alias); err != nil {
		return err
	}
	s.cache.Invalidate(alias)
	return nil
}

// CacheStats returns the schema cache statistics.
func (s *schemaService) CacheStats() cache.Stats {
	return s.cache.Stats()
}
