// Package handlers exposes the gateway over HTTP/JSON.
package handlers

import (
	"context"

	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/models"
)

// Gateway is the set of operations the handlers serve.
type Gateway interface {
	ListBackends() []models.BackendInfo
	ListTables(ctx context.Context, alias string) ([]models.TableInfo, error)
	TableSchema(ctx context.Context, alias, table string) (*models.TableSchema, error)
	FullSchema(ctx context.Context, alias string) (*models.DatabaseSchema, error)
	AllSchemas(ctx context.Context) (*models.FullSchema, error)
	InvalidateSchema(alias string) error
	Execute(ctx context.Context, req *models.QueryRequest) (*models.QueryResult, error)
	CacheStats() cache.Stats
}

// Logger defines the logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines the metrics interface.
type MetricsCollector interface {
	IncrementCounter(name string, tags ...string)
	RecordHistogram(name string, value float64, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop()
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
