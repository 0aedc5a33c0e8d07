// Package duckdb provides the DuckDB and MotherDuck backend.
package duckdb

import (
	"context"
	"os"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/repositories/sqlbase"
)

// MotherDuckTokenEnv names the variable whose value is appended to
// MotherDuck DSNs that carry no token.
const MotherDuckTokenEnv = "MOTHERDUCK_TOKEN"

// Driver opens DuckDB backends.
type Driver struct{}

// NewDriver returns the DuckDB driver.
func NewDriver() repositories.Driver { return Driver{} }

// Kind returns models.KindDuckDB.
func (Driver) Kind() models.BackendKind { return models.KindDuckDB }

// Open opens a pool over a local file, an in-memory database or MotherDuck.
func (Driver) Open(ctx context.Context, cfg models.BackendConfig, opts repositories.PoolOptions, logger zerolog.Logger) (repositories.Backend, error) {
	dsn := pool.NormalizeDuckDBDSN(cfg.ConnString, os.Getenv(MotherDuckTokenEnv))

	p, err := sqlbase.OpenPool(ctx, "duckdb", dsn, cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	meta := NewMetadataRepository(p, logger)
	return sqlbase.NewBackend(models.KindDuckDB, p, meta, sqlbase.AggregatedJSON, nil, logger), nil
}
