package services

import (
	"context"

	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/models"
)

// Gateway is the single entry point used by the HTTP layer.
type Gateway struct {
	backends BackendProvider
	queries  QueryService
	schemas  SchemaService
}

// NewGateway assembles a Gateway.
func NewGateway(backends BackendProvider, queries QueryService, schemas SchemaService) *Gateway {
	return &Gateway{backends: backends, queries: queries, schemas: schemas}
}

// ListBackends returns every reachable alias in configuration order.
func (g *Gateway) ListBackends() []models.BackendInfo {
	return g.backends.List()
}

// ListTables returns the relations of alias.
func (g *Gateway) ListTables(ctx context.Context, alias string) ([]models.TableInfo, error) {
	return g.schemas.ListTables(ctx, alias)
}

// TableSchema returns the columns of one relation.
func (g *Gateway) TableSchema(ctx context.Context, alias, table string) (*models.TableSchema, error) {
	return g.schemas.TableSchema(ctx, alias, table)
}

// FullSchema returns the (cached) schema of alias.
func (g *Gateway) FullSchema(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
	return g.schemas.DatabaseSchema(ctx, alias)
}

// AllSchemas returns the schema of every reachable alias.
func (g *Gateway) AllSchemas(ctx context.Context) (*models.FullSchema, error) {
	return g.schemas.AllSchemas(ctx)
}

// InvalidateSchema drops the cached schema of alias.
func (g *Gateway) InvalidateSchema(alias string) error {
	return g.schemas.Invalidate(alias)
}

// Execute runs one query.
func (g *Gateway) Execute(ctx context.Context, req *models.QueryRequest) (*models.QueryResult, error) {
	return g.queries.Execute(ctx, req)
}

// CacheStats returns the schema cache statistics.
func (g *Gateway) CacheStats() cache.Stats {
	return g.schemas.CacheStats()
}
