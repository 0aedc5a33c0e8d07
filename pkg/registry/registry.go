// Package registry owns the connection pool of every configured alias.
package registry

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

const (
	// DefaultAcquireTimeout bounds pool creation plus one connection checkout.
	DefaultAcquireTimeout = 10 * time.Second
	// DefaultConnectTimeout bounds opening a pool for the first time.
	DefaultConnectTimeout = 30 * time.Second
)

// Options configures a Registry.
type Options struct {
	Pool           repositories.PoolOptions
	AcquireTimeout time.Duration
	ConnectTimeout time.Duration
	// PoolMetrics, when set, returns the collector attached to an alias' pool.
	PoolMetrics func(alias string) pool.MetricsCollector
}

// slot is the single creation attempt for an alias. done is closed once
// backend or err is set.
type slot struct {
	done    chan struct{}
	backend repositories.Backend
	err     error
}

// Registry maps aliases to backends. Pools are created at most once per
// alias, either eagerly by Connect or on first use.
type Registry struct {
	configs []models.BackendConfig
	byAlias map[string]models.BackendConfig
	kinds   map[string]models.BackendKind
	drivers map[models.BackendKind]repositories.Driver
	opts    Options
	logger  zerolog.Logger

	slots    sync.Map // alias -> *slot
	excluded sync.Map // alias -> error
	closed   atomic.Bool
}

// New validates configs against the available drivers.
func New(configs []models.BackendConfig, drivers map[models.BackendKind]repositories.Driver, opts Options, logger zerolog.Logger) (*Registry, error) {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	r := &Registry{
		byAlias: make(map[string]models.BackendConfig, len(configs)),
		kinds:   make(map[string]models.BackendKind, len(configs)),
		drivers: drivers,
		opts:    opts,
		logger:  logger.With().Str("component", "registry").Logger(),
	}

	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, errors.New(errors.CodeInvalidRequest, "database name is required")
		}
		if _, dup := r.byAlias[cfg.Name]; dup {
			return nil, errors.Newf(errors.CodeInvalidRequest, "duplicate database name '%s'", cfg.Name)
		}
		kind, err := cfg.Kind()
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeUnsupportedBackendKind, "database '%s': unsupported type '%s'", cfg.Name, cfg.Type).WithAlias(cfg.Name)
		}
		if _, ok := drivers[kind]; !ok {
			return nil, errors.Newf(errors.CodeUnsupportedBackendKind, "database '%s': no driver for type '%s'", cfg.Name, kind).WithAlias(cfg.Name)
		}
		r.configs = append(r.configs, cfg)
		r.byAlias[cfg.Name] = cfg
		r.kinds[cfg.Name] = kind
	}
	return r, nil
}

// Connect opens every configured alias concurrently. An alias that fails to
// connect is logged and excluded; it never aborts startup or affects the
// others. It returns the number of aliases connected.
func (r *Registry) Connect(ctx context.Context) int {
	var connected atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range r.configs {
		g.Go(func() error {
			if _, err := r.GetOrCreatePool(gctx, cfg.Name); err != nil {
				r.exclude(cfg.Name, err)
				return nil
			}
			connected.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info().
		Int("configured", len(r.configs)).
		Int32("connected", connected.Load()).
		Msg("Database connections established")
	return int(connected.Load())
}

// GetOrCreatePool returns the backend of alias, creating its pool if this is
// the first use. Concurrent first callers share one creation attempt.
func (r *Registry) GetOrCreatePool(ctx context.Context, alias string) (repositories.Backend, error) {
	if r.closed.Load() {
		return nil, errors.New(errors.CodeUnavailable, "registry is closed")
	}
	cfg, ok := r.byAlias[alias]
	if !ok || r.isExcluded(alias) {
		return nil, errors.UnknownBackend(alias)
	}

	fresh := &slot{done: make(chan struct{})}
	actual, loaded := r.slots.LoadOrStore(alias, fresh)
	s := actual.(*slot)
	if !loaded {
		go r.create(ctx, cfg, s)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Timeout(errors.StageAcquire, ctx.Err()).WithAlias(alias)
		}
		return nil, errors.Canceled(errors.StageAcquire, ctx.Err()).WithAlias(alias)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.backend, nil
}

// create opens the pool detached from the first caller's cancellation, so
// callers that joined later are not failed by it.
func (r *Registry) create(ctx context.Context, cfg models.BackendConfig, s *slot) {
	defer close(s.done)

	kind := r.kinds[cfg.Name]
	logger := r.logger.With().Str("db", cfg.Name).Str("kind", string(kind)).Logger()

	opts := r.opts.Pool
	if r.opts.PoolMetrics != nil {
		opts.Metrics = r.opts.PoolMetrics(cfg.Name)
	}

	openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.ConnectTimeout)
	defer cancel()

	start := time.Now()
	backend, err := r.drivers[kind].Open(openCtx, cfg, opts, logger)
	if err != nil {
		s.err = connectError(cfg.Name, err)
		// Let a later call try again unless Connect excludes the alias.
		r.slots.CompareAndDelete(cfg.Name, s)
		logger.Error().
			Err(err).
			Str("dsn", pool.MaskDSN(cfg.ConnString)).
			Msg("Failed to connect to database")
		return
	}
	s.backend = backend
	logger.Info().Dur("duration", time.Since(start)).Msg("Connected to database")
}

func connectError(alias string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(errors.StageAcquire, err).WithAlias(alias)
	}
	if gwErr, ok := errors.As(err); ok {
		if gwErr.Alias == "" {
			gwErr.Alias = alias
		}
		return gwErr
	}
	return errors.Wrapf(err, errors.CodeConnectionFailed, "failed to connect to database '%s'", alias).WithAlias(alias)
}

// Lookup returns the public description of a registered alias.
func (r *Registry) Lookup(alias string) (models.BackendInfo, error) {
	kind, ok := r.kinds[alias]
	if !ok || r.isExcluded(alias) {
		return models.BackendInfo{}, errors.UnknownBackend(alias)
	}
	return models.BackendInfo{Alias: alias, Kind: kind}, nil
}

// List returns every reachable alias in configuration order.
func (r *Registry) List() []models.BackendInfo {
	out := make([]models.BackendInfo, 0, len(r.configs))
	for _, cfg := range r.configs {
		if r.isExcluded(cfg.Name) {
			continue
		}
		out = append(out, models.BackendInfo{Alias: cfg.Name, Kind: r.kinds[cfg.Name]})
	}
	return out
}

// AcquireTimeout returns the pool acquire deadline for alias.
func (r *Registry) AcquireTimeout(alias string) time.Duration {
	if cfg, ok := r.byAlias[alias]; ok && cfg.AcquireTimeout > 0 {
		return cfg.AcquireTimeout
	}
	return r.opts.AcquireTimeout
}

// Excluded returns the aliases left out at startup or evicted, with the
// error that caused it.
func (r *Registry) Excluded() map[string]error {
	out := make(map[string]error)
	r.excluded.Range(func(k, v interface{}) bool {
		out[k.(string)] = v.(error)
		return true
	})
	return out
}

// Stats returns pool statistics for every connected alias.
func (r *Registry) Stats() map[string]pool.PoolStats {
	out := make(map[string]pool.PoolStats)
	r.slots.Range(func(k, v interface{}) bool {
		if b := readyBackend(v.(*slot)); b != nil {
			out[k.(string)] = b.Stats()
		}
		return true
	})
	return out
}

// Evict closes the pool of alias and excludes it from further use.
func (r *Registry) Evict(alias string, reason error) error {
	if _, ok := r.byAlias[alias]; !ok {
		return errors.UnknownBackend(alias)
	}
	if reason == nil {
		reason = errors.New(errors.CodeUnavailable, "evicted")
	}
	r.exclude(alias, reason)

	v, ok := r.slots.LoadAndDelete(alias)
	if !ok {
		return nil
	}
	s := v.(*slot)
	if b := readyBackend(s); b != nil {
		r.logger.Warn().Err(reason).Str("db", alias).Msg("Evicting database")
		return b.Close()
	}

	// Still connecting: close the pool once the attempt resolves.
	go func() {
		<-s.done
		if s.backend == nil {
			return
		}
		r.logger.Warn().Err(reason).Str("db", alias).Msg("Closing database evicted while connecting")
		if err := s.backend.Close(); err != nil {
			r.logger.Error().Err(err).Str("db", alias).Msg("Failed to close evicted database")
		}
	}()
	return nil
}

// Close closes every pool. The registry cannot be used afterwards.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	r.slots.Range(func(k, v interface{}) bool {
		r.slots.Delete(k)
		s := v.(*slot)
		<-s.done
		if s.backend != nil {
			if err := s.backend.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return true
	})
	return stderrors.Join(errs...)
}

func (r *Registry) exclude(alias string, err error) {
	r.excluded.Store(alias, err)
}

func (r *Registry) isExcluded(alias string) bool {
	_, ok := r.excluded.Load(alias)
	return ok
}

func readyBackend(s *slot) repositories.Backend {
	select {
	case <-s.done:
		return s.backend
	default:
		return nil
	}
}
