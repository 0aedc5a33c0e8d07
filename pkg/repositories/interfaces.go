// Package repositories defines the per-kind backend contracts: how a pool is
// opened, how a checked-out session runs the plan and data forms, and how a
// catalog is introspected.
package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
)

// Driver opens backends of one kind.
type Driver interface {
	// Kind returns the backend kind this driver serves.
	Kind() models.BackendKind
	// Open creates and verifies the pool for cfg.
	Open(ctx context.Context, cfg models.BackendConfig, opts PoolOptions, logger zerolog.Logger) (Backend, error)
}

// PoolOptions carries the pool settings shared by every alias.
type PoolOptions struct {
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	HealthCheckPeriod  time.Duration
	ConnectionTimeout  time.Duration
	SlowQueryThreshold time.Duration
	Metrics            pool.MetricsCollector
}

// Backend is an opened alias.
type Backend interface {
	// Kind returns the backend kind.
	Kind() models.BackendKind
	// Metadata returns the catalog reader for this backend.
	Metadata() MetadataRepository
	// Acquire checks out one connection, waiting while the pool is at
	// capacity until ctx expires.
	Acquire(ctx context.Context) (Session, error)
	// Stats returns pool statistics.
	Stats() pool.PoolStats
	// Close releases every pooled connection.
	Close() error
}

// Session is one checked-out connection.
type Session interface {
	// Explain runs a plan form and returns the plan document.
	Explain(ctx context.Context, planForm string) (json.RawMessage, error)
	// Fetch runs a data form.
	Fetch(ctx context.Context, dataForm string) (*models.Payload, error)
	// Release returns the connection to its pool. It is safe to call twice.
	Release()
}

// MetadataRepository reads a backend's catalog.
type MetadataRepository interface {
	// ListTables returns the user relations, ordered by qualified name.
	ListTables(ctx context.Context) ([]models.TableInfo, error)
	// TableSchema returns the columns of one relation in catalog order.
	TableSchema(ctx context.Context, table string) (*models.TableSchema, error)
}
