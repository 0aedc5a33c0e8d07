// Package pool provides bounded connection pools for the supported backends.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/quarry/pkg/errors"
)

// Config represents SQL pool configuration.
type Config struct {
	Driver             string        `json:"driver"`
	DSN                string        `json:"dsn"`
	MaxOpenConnections int           `json:"max_open_connections"`
	MaxIdleConnections int           `json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `json:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `json:"health_check_period"`
	ConnectionTimeout  time.Duration `json:"connection_timeout"`

	EnableCircuitBreaker    bool          `json:"enable_circuit_breaker"`
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `json:"circuit_breaker_timeout"`
	EnableSlowQueryLogging  bool          `json:"enable_slow_query_logging"`
	SlowQueryThreshold      time.Duration `json:"slow_query_threshold"`
}

// ConnectionPool manages database/sql connections to one backend.
type ConnectionPool interface {
	// Get returns the shared handle.
	Get(ctx context.Context) (*sql.DB, error)
	// Conn checks out a single connection, waiting while the pool is at
	// capacity until ctx expires.
	Conn(ctx context.Context) (*sql.Conn, error)
	// Stats returns pool statistics.
	Stats() PoolStats
	// HealthCheck performs a health check on the pool.
	HealthCheck(ctx context.Context) error
	// QueryLogger returns the slow query logger.
	QueryLogger() *QueryLogger
	// Close closes the connection pool.
	Close() error
	// SetMetricsCollector sets the metrics collector.
	SetMetricsCollector(collector MetricsCollector)
}

// MetricsCollector receives pool level measurements.
type MetricsCollector interface {
	RecordConnectionAcquisition(duration time.Duration)
	UpdateActiveConnections(count int)
	IncrementCircuitBreakerTrip()
}

// PoolStats represents connection pool statistics.
type PoolStats struct {
	OpenConnections     int           `json:"open_connections"`
	InUse               int           `json:"in_use"`
	Idle                int           `json:"idle"`
	WaitCount           int64         `json:"wait_count"`
	WaitDuration        time.Duration `json:"wait_duration"`
	MaxIdleClosed       int64         `json:"max_idle_closed"`
	MaxLifetimeClosed   int64         `json:"max_lifetime_closed"`
	LastHealthCheck     time.Time     `json:"last_health_check"`
	HealthCheckStatus   string        `json:"health_check_status"`
	CircuitBreakerState string        `json:"circuit_breaker_state,omitempty"`
}

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops handing out connections after repeated connect
// failures, then lets one probe through once the timeout has passed.
type CircuitBreaker struct {
	state           atomic.Int32 // CircuitBreakerState
	failures        atomic.Int64
	lastFailureTime atomic.Int64 // unix nanoseconds
	threshold       int
	timeout         time.Duration
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
	}
}

// CanExecute checks if the circuit breaker allows execution.
func (cb *CircuitBreaker) CanExecute() bool {
	state := CircuitBreakerState(cb.state.Load())

	switch state {
	case CircuitBreakerClosed:
		return true
	case CircuitBreakerOpen:
		if time.Since(time.Unix(0, cb.lastFailureTime.Load())) > cb.timeout {
			if cb.state.CompareAndSwap(int32(CircuitBreakerOpen), int32(CircuitBreakerHalfOpen)) {
				return true
			}
		}
		return false
	case CircuitBreakerHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(int32(CircuitBreakerClosed))
}

// RecordFailure records a failed operation and reports whether it tripped
// the breaker open.
func (cb *CircuitBreaker) RecordFailure() bool {
	failures := cb.failures.Add(1)
	cb.lastFailureTime.Store(time.Now().UnixNano())

	if failures >= int64(cb.threshold) {
		prev := cb.state.Swap(int32(CircuitBreakerOpen))
		return CircuitBreakerState(prev) != CircuitBreakerOpen
	}
	return false
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// GetFailures returns the current failure count.
func (cb *CircuitBreaker) GetFailures() int64 {
	return cb.failures.Load()
}

// QueryLogger logs slow queries.
type QueryLogger struct {
	logger    zerolog.Logger
	threshold time.Duration
	enabled   bool
	slow      atomic.Int64
}

// NewQueryLogger creates a new query logger.
func NewQueryLogger(logger zerolog.Logger, threshold time.Duration, enabled bool) *QueryLogger {
	return &QueryLogger{
		logger:    logger,
		threshold: threshold,
		enabled:   enabled,
	}
}

// LogQuery logs query execution details.
func (ql *QueryLogger) LogQuery(query string, duration time.Duration, err error) {
	if ql == nil {
		return
	}
	slow := duration > ql.threshold
	if slow {
		ql.slow.Add(1)
	}
	if !ql.enabled {
		return
	}

	logEvent := ql.logger.Debug()
	if slow {
		logEvent = ql.logger.Warn().Bool("slow_query", true)
	}

	logEvent.
		Dur("duration", duration).
		Str("query", truncateQuery(query)).
		Bool("success", err == nil).
		Msg("Query executed")
}

// SlowQueries returns how many queries crossed the threshold.
func (ql *QueryLogger) SlowQueries() int64 {
	if ql == nil {
		return 0
	}
	return ql.slow.Load()
}

type connectionPool struct {
	db     *sql.DB
	config Config
	logger zerolog.Logger

	closed atomic.Bool

	lastHealthCheck atomic.Int64 // Unix timestamp
	healthStatus    atomic.Value // string

	ctx    context.Context
	cancel context.CancelFunc

	waitCount    atomic.Int64
	waitDuration atomic.Int64

	circuitBreaker   *CircuitBreaker
	queryLogger      *QueryLogger
	metricsCollector MetricsCollector
	mu               sync.RWMutex
}

// New opens a pool for cfg.Driver and verifies it with a health check bounded
// by cfg.ConnectionTimeout.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (ConnectionPool, error) {
	if cfg.Driver == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "pool driver is required")
	}

	if cfg.MaxOpenConnections <= 0 {
		cfg.MaxOpenConnections = 25
	}
	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = 5
	}
	if cfg.MaxIdleConnections > cfg.MaxOpenConnections {
		cfg.MaxIdleConnections = cfg.MaxOpenConnections
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 10 * time.Minute
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = 60 * time.Second
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 1 * time.Second
	}

	logger.Info().
		Str("driver", cfg.Driver).
		Str("dsn", MaskDSN(cfg.DSN)).
		Int("max_open", cfg.MaxOpenConnections).
		Int("max_idle", cfg.MaxIdleConnections).
		Dur("conn_lifetime", cfg.ConnMaxLifetime).
		Dur("conn_idle_time", cfg.ConnMaxIdleTime).
		Bool("circuit_breaker", cfg.EnableCircuitBreaker).
		Msg("Creating connection pool")

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	poolCtx, cancel := context.WithCancel(context.Background())

	p := &connectionPool{
		db:          db,
		config:      cfg,
		logger:      logger,
		ctx:         poolCtx,
		cancel:      cancel,
		queryLogger: NewQueryLogger(logger, cfg.SlowQueryThreshold, cfg.EnableSlowQueryLogging),
	}
	if cfg.EnableCircuitBreaker {
		p.circuitBreaker = NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
	}
	p.healthStatus.Store("unknown")

	connCtx, connCancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer connCancel()

	if err := p.HealthCheck(connCtx); err != nil {
		db.Close()
		cancel()
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "initial health check failed")
	}

	if cfg.HealthCheckPeriod > 0 {
		go p.healthCheckRoutine(poolCtx)
	}

	logger.Info().Msg("Connection pool created")

	return p, nil
}

// Get returns the shared handle after checking the pool is usable.
func (p *connectionPool) Get(ctx context.Context) (*sql.DB, error) {
	if err := p.admit(); err != nil {
		return nil, err
	}
	return p.db, nil
}

// Conn checks out one connection. database/sql blocks while MaxOpenConns
// connections are in use, so ctx bounds the wait.
func (p *connectionPool) Conn(ctx context.Context) (*sql.Conn, error) {
	if err := p.admit(); err != nil {
		return nil, err
	}

	start := time.Now()
	p.waitCount.Add(1)
	conn, err := p.db.Conn(ctx)
	duration := time.Since(start)
	p.waitDuration.Add(int64(duration))

	collector := p.collector()
	if collector != nil {
		collector.RecordConnectionAcquisition(duration)
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		p.logger.Error().Err(err).Msg("Failed to acquire connection")
		if p.circuitBreaker != nil && p.circuitBreaker.RecordFailure() && collector != nil {
			collector.IncrementCircuitBreakerTrip()
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "database connection failed")
	}

	if p.circuitBreaker != nil {
		p.circuitBreaker.RecordSuccess()
	}
	if collector != nil {
		collector.UpdateActiveConnections(p.db.Stats().InUse)
	}

	return conn, nil
}

func (p *connectionPool) admit() error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}
	if p.circuitBreaker != nil && !p.circuitBreaker.CanExecute() {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "circuit breaker is open")
	}
	return nil
}

func (p *connectionPool) collector() MetricsCollector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metricsCollector
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	dbStats := p.db.Stats()

	stats := PoolStats{
		OpenConnections:   dbStats.OpenConnections,
		InUse:             dbStats.InUse,
		Idle:              dbStats.Idle,
		WaitCount:         p.waitCount.Load(),
		WaitDuration:      time.Duration(p.waitDuration.Load()),
		MaxIdleClosed:     dbStats.MaxIdleClosed,
		MaxLifetimeClosed: dbStats.MaxLifetimeClosed,
		LastHealthCheck:   time.Unix(p.lastHealthCheck.Load(), 0),
		HealthCheckStatus: p.getHealthStatus(),
	}
	if p.circuitBreaker != nil {
		stats.CircuitBreakerState = p.circuitBreaker.GetState().String()
	}
	return stats
}

// QueryLogger returns the slow query logger.
func (p *connectionPool) QueryLogger() *QueryLogger {
	return p.queryLogger
}

// SetMetricsCollector sets the metrics collector.
func (p *connectionPool) SetMetricsCollector(collector MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metricsCollector = collector
}

// HealthCheck performs a health check on the pool.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}

	if err := p.db.PingContext(ctx); err != nil {
		p.updateHealthStatus("unhealthy", err.Error())
		return pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "health check ping failed")
	}

	var result int
	err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil || result != 1 {
		p.updateHealthStatus("unhealthy", "query test failed")
		if err == nil {
			err = fmt.Errorf("unexpected health check result %d", result)
		}
		return pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "health check query failed")
	}

	p.updateHealthStatus("healthy", "")
	return nil
}

// Close closes the connection pool.
func (p *connectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.logger.Info().Msg("Closing connection pool")
	p.cancel()

	if err := p.db.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to close database")
	}
	return nil
}

// healthCheckRoutine performs periodic health checks until ctx is cancelled.
func (p *connectionPool) healthCheckRoutine(ctx context.Context) {
	ticker := time.NewTicker(p.config.HealthCheckPeriod)
	defer ticker.Stop()

	p.logger.Debug().Dur("period", p.config.HealthCheckPeriod).Msg("Health check routine started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Msg("Health check routine stopped")
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.HealthCheck(probeCtx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error().Err(err).Msg("Periodic health check failed")
			}
			cancel()
		}
	}
}

func (p *connectionPool) updateHealthStatus(status, detail string) {
	p.lastHealthCheck.Store(time.Now().Unix())
	p.healthStatus.Store(status)

	if status == "unhealthy" && detail != "" {
		p.logger.Warn().
			Str("status", status).
			Str("detail", detail).
			Msg("Connection pool health status changed")
	}
}

func (p *connectionPool) getHealthStatus() string {
	if v := p.healthStatus.Load(); v != nil {
		return v.(string)
	}
	return "unknown"
}

// truncateQuery truncates long queries for logging.
func truncateQuery(query string) string {
	const maxLen = 100
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
