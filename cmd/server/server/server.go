// Package server wires the gateway's components behind an HTTP router.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/cmd/server/config"
	"github.com/TFMV/quarry/cmd/server/middleware"
	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/handlers"
	"github.com/TFMV/quarry/pkg/infrastructure/metrics"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/registry"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/sanitizer"
	"github.com/TFMV/quarry/pkg/services"
)

// Server owns the registry, the services and the HTTP listener.
type Server struct {
	config   *config.Config
	logger   zerolog.Logger
	metrics  metrics.Collector
	registry *registry.Registry
	gateway  *services.Gateway
	router   chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	stopStats  context.CancelFunc
}

// New builds every component from cfg. No connection is opened until Start.
func New(cfg *config.Config, drivers map[models.BackendKind]repositories.Driver, logger zerolog.Logger, collector metrics.Collector) (*Server, error) {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}

	reg, err := registry.New(cfg.Databases, drivers, registry.Options{
		Pool: repositories.PoolOptions{
			MaxIdleConnections: cfg.Pool.MaxIdleConnections,
			ConnMaxLifetime:    cfg.Pool.ConnMaxLifetime,
			ConnMaxIdleTime:    cfg.Pool.ConnMaxIdleTime,
			HealthCheckPeriod:  cfg.Pool.HealthCheckPeriod,
			ConnectionTimeout:  cfg.Timeouts.Connect,
			SlowQueryThreshold: cfg.Pool.SlowQueryThreshold,
		},
		AcquireTimeout: cfg.Timeouts.Acquire,
		ConnectTimeout: cfg.Timeouts.Connect,
		PoolMetrics: func(alias string) pool.MetricsCollector {
			return metrics.NewPoolCollector(collector, alias)
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend registry: %w", err)
	}

	serviceMetrics := &serviceMetricsAdapter{collector: collector}
	sanitizers := sanitizer.NewRegistry(sanitizer.Limits{Default: cfg.Limits.Default, Max: cfg.Limits.Max})

	queries := services.NewQueryService(
		reg,
		sanitizers,
		services.Timeouts{Plan: cfg.Timeouts.Plan, Data: cfg.Timeouts.Data},
		newLoggerAdapter(logger, "query_service"),
		serviceMetrics,
	)
	schemas := services.NewSchemaService(
		reg,
		services.SchemaOptions{
			Cache: cache.DefaultConfig().
				WithTTL(cfg.SchemaCache.TTL).
				WithMaxEntries(cfg.SchemaCache.MaxEntries),
			TableConcurrency:     cfg.SchemaCache.TableConcurrency,
			IntrospectionTimeout: cfg.Timeouts.Introspection,
			AliasConcurrency:     cfg.SchemaCache.AliasConcurrency,
		},
		newLoggerAdapter(logger, "schema_service"),
		logger.With().Str("component", "schema_cache").Logger(),
	)

	s := &Server{
		config:   cfg,
		logger:   logger,
		metrics:  collector,
		registry: reg,
		gateway:  services.NewGateway(reg, queries, schemas),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	h := handlers.New(s.gateway, newLoggerAdapter(s.logger, "http"), handlers.NewMetricsAdapter(s.metrics))

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(s.logger.With().Str("component", "http").Logger()).Handler)
	r.Use(middleware.NewRecoveryMiddleware(s.logger).Handler)
	r.Use(middleware.NewMetricsMiddleware(&middlewareMetricsAdapter{collector: s.metrics}).Handler)
	if len(s.config.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
		}).Handler)
	}

	r.Get("/health", h.Health)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(s.config.Auth, s.logger.With().Str("component", "auth").Logger()).Handler)
		h.Routes(r)
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Gateway returns the gateway facade.
func (s *Server) Gateway() *services.Gateway {
	return s.gateway
}

// Start opens every configured pool. Aliases that fail are logged and
// excluded; the server runs with the rest.
func (s *Server) Start(ctx context.Context) {
	ready := s.registry.Connect(ctx)
	for alias, err := range s.registry.Excluded() {
		s.logger.Warn().Err(err).Str("db", alias).Msg("Database excluded")
	}
	s.logger.Info().
		Int("configured", len(s.config.Databases)).
		Int("ready", ready).
		Msg("Databases connected")

	statsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.stopStats = cancel
	s.mu.Unlock()
	go s.reportPoolStats(statsCtx, s.config.Pool.HealthCheckPeriod)
}

// reportPoolStats publishes pool gauges until ctx is done.
func (s *Server) reportPoolStats(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for alias, st := range s.registry.Stats() {
				s.metrics.RecordGauge("pool_open_connections", float64(st.OpenConnections), "db", alias)
				s.metrics.RecordGauge("pool_idle_connections", float64(st.Idle), "db", alias)
			}
		}
	}
}

// ListenAndServe serves HTTP on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info().
		Str("address", s.config.Address).
		Bool("auth", s.config.Auth.Enabled).
		Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// every pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	stop := s.stopStats
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing pools: %w", err))
	}
	return stderrors.Join(errs...)
}
