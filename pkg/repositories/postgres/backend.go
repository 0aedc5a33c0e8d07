// Package postgres provides the PostgreSQL backend over pgx's database/sql driver.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/repositories/sqlbase"
)

// ApplicationName is reported to the server for every session.
const ApplicationName = "quarry"

// Driver opens PostgreSQL backends.
type Driver struct{}

// NewDriver returns the PostgreSQL driver.
func NewDriver() repositories.Driver { return Driver{} }

// Kind returns models.KindPostgres.
func (Driver) Kind() models.BackendKind { return models.KindPostgres }

// Open parses the connection string with pgx, registers the parsed config
// with the stdlib adapter and opens a pool over it.
func (Driver) Open(ctx context.Context, cfg models.BackendConfig, opts repositories.PoolOptions, logger zerolog.Logger) (repositories.Backend, error) {
	connConfig, err := ParseConnConfig(cfg.ConnString)
	if err != nil {
		return nil, err
	}

	name := stdlib.RegisterConnConfig(connConfig)
	p, err := sqlbase.OpenPool(ctx, "pgx", name, cfg, opts, logger)
	if err != nil {
		stdlib.UnregisterConnConfig(name)
		return nil, err
	}

	meta := NewMetadataRepository(p, logger)
	return sqlbase.NewBackend(models.KindPostgres, p, meta, sqlbase.AggregatedJSON, func() {
		stdlib.UnregisterConnConfig(name)
	}, logger), nil
}

// ParseConnConfig accepts a postgres:// URL or a keyword/value string.
func ParseConnConfig(connString string) (*pgx.ConnConfig, error) {
	connConfig, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "invalid postgres connection string")
	}
	if connConfig.RuntimeParams == nil {
		connConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := connConfig.RuntimeParams["application_name"]; !ok {
		connConfig.RuntimeParams["application_name"] = ApplicationName
	}
	return connConfig, nil
}
