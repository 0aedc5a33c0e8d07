// Package services contains the gateway's business logic: query execution
// and schema access over the registered backends.
package services

import (
	"context"
	"time"

	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// QueryService runs untrusted queries against registered backends.
type QueryService interface {
	Execute(ctx context.Context, req *models.QueryRequest) (*models.QueryResult, error)
}

// SchemaService serves catalog information, cached per alias.
type SchemaService interface {
	ListTables(ctx context.Context, alias string) ([]models.TableInfo, error)
	TableSchema(ctx context.Context, alias, table string) (*models.TableSchema, error)
	DatabaseSchema(ctx context.Context, alias string) (*models.DatabaseSchema, error)
	AllSchemas(ctx context.Context) (*models.FullSchema, error)
	Invalidate(alias string) error
	CacheStats() cache.Stats
}

// BackendProvider resolves aliases to opened backends.
type BackendProvider interface {
	Lookup(alias string) (models.BackendInfo, error)
	List() []models.BackendInfo
	GetOrCreatePool(ctx context.Context, alias string) (repositories.Backend, error)
	AcquireTimeout(alias string) time.Duration
}

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines metrics collection interface. Labels are
// name/value pairs.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() time.Duration
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

type noopMetrics struct{}

func (noopMetrics) IncrementCounter(string, ...string)          {}
func (noopMetrics) RecordHistogram(string, float64, ...string) {}
func (noopMetrics) RecordGauge(string, float64, ...string)     {}
func (noopMetrics) StartTimer(string) Timer                    { return &noopTimer{start: time.Now()} }

type noopTimer struct{ start time.Time }

func (t *noopTimer) Stop() time.Duration { return time.Since(t.start) }
