// Package mysql provides the MySQL and MariaDB backend.
package mysql

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/repositories/sqlbase"
)

// Driver opens MySQL backends.
type Driver struct{}

// NewDriver returns the MySQL driver.
func NewDriver() repositories.Driver { return Driver{} }

// Kind returns models.KindMySQL.
func (Driver) Kind() models.BackendKind { return models.KindMySQL }

// Open opens a pool. MySQL has no row-to-JSON aggregate usable on arbitrary
// subqueries, so rows are fetched as a table and encoded by sqlbase.
func (Driver) Open(ctx context.Context, cfg models.BackendConfig, opts repositories.PoolOptions, logger zerolog.Logger) (repositories.Backend, error) {
	dsn, err := FormatDSN(cfg.ConnString)
	if err != nil {
		return nil, err
	}

	p, err := sqlbase.OpenPool(ctx, "mysql", dsn, cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	meta := NewMetadataRepository(p, logger)
	return sqlbase.NewBackend(models.KindMySQL, p, meta, sqlbase.Tabular, nil, logger), nil
}

// FormatDSN accepts either a mysql:// URL or a go-sql-driver DSN and returns
// the driver DSN.
func FormatDSN(connString string) (string, error) {
	var (
		cfg *mysql.Config
		err error
	)
	if strings.HasPrefix(connString, "mysql://") || strings.HasPrefix(connString, "mariadb://") {
		cfg, err = configFromURL(connString)
	} else {
		cfg, err = mysql.ParseDSN(connString)
	}
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidRequest, "invalid mysql connection string")
	}
	return cfg.FormatDSN(), nil
}

func configFromURL(raw string) (*mysql.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" && u.Hostname() != "" {
		cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")

	params := u.Query()
	for key := range params {
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[key] = params.Get(key)
	}
	return cfg, nil
}
