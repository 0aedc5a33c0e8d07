// Package drivers assembles the driver for every supported backend kind.
package drivers

import (
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/repositories/duckdb"
	"github.com/TFMV/quarry/pkg/repositories/mongodb"
	"github.com/TFMV/quarry/pkg/repositories/mysql"
	"github.com/TFMV/quarry/pkg/repositories/postgres"
	"github.com/TFMV/quarry/pkg/repositories/redis"
)

// Default returns one driver per kind in models.Kinds.
func Default() map[models.BackendKind]repositories.Driver {
	all := []repositories.Driver{
		postgres.NewDriver(),
		mysql.NewDriver(),
		duckdb.NewDriver(),
		redis.NewDriver(),
		mongodb.NewDriver(),
	}
	out := make(map[models.BackendKind]repositories.Driver, len(all))
	for _, d := range all {
		out[d.Kind()] = d
	}
	return out
}
