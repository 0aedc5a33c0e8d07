package repositories

import (
	"context"
	stderrors "errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// DefaultTableConcurrency bounds per-table catalog queries for one alias.
const DefaultTableConcurrency = 4

// LoadDatabaseSchema builds the full schema of one alias. Tables are read
// with at most concurrency queries in flight and keep the ListTables order.
// A table whose schema cannot be read is logged and left out.
func LoadDatabaseSchema(
	ctx context.Context,
	alias string,
	kind models.BackendKind,
	repo MetadataRepository,
	concurrency int,
	logger zerolog.Logger,
) (*models.DatabaseSchema, error) {
	if concurrency <= 0 {
		concurrency = DefaultTableConcurrency
	}

	tables, err := repo.ListTables(ctx)
	if err != nil {
		return nil, AsIntrospectionError(alias, "", err)
	}

	schemas := make([]*models.TableSchema, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, table := range tables {
		g.Go(func() error {
			schema, err := repo.TableSchema(gctx, table.Name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn().
					Err(err).
					Str("db", alias).
					Str("table", table.Name).
					Msg("Skipping table whose schema could not be read")
				return nil
			}
			schemas[i] = schema
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, AsIntrospectionError(alias, "", err)
	}

	out := &models.DatabaseSchema{
		Alias:  alias,
		Kind:   kind,
		Tables: make([]models.TableSchema, 0, len(tables)),
	}
	for _, s := range schemas {
		if s != nil {
			out.Tables = append(out.Tables, *s)
		}
	}
	return out, nil
}

// AsIntrospectionError keeps coded errors from the repository, turns an
// expired deadline into a stage timeout and wraps everything else.
func AsIntrospectionError(alias, table string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(errors.StageIntrospection, err).WithAlias(alias)
	}
	if ge, ok := errors.As(err); ok {
		if ge.Alias == "" {
			ge.Alias = alias
		}
		if ge.Table == "" {
			ge.Table = table
		}
		return ge
	}
	return errors.IntrospectionError(alias, table, err)
}
