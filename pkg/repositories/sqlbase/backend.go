// Package sqlbase holds the database/sql plumbing shared by the relational
// backends: session execution, row decoding and catalog reading.
package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// ResultMode says how a data form delivers its rows.
type ResultMode int

const (
	// AggregatedJSON data forms return one row, one column: a JSON array.
	AggregatedJSON ResultMode = iota
	// Tabular data forms return ordinary rows that are encoded here.
	Tabular
)

// Backend is a relational alias backed by a database/sql pool.
type Backend struct {
	kind    models.BackendKind
	pool    pool.ConnectionPool
	meta    repositories.MetadataRepository
	mode    ResultMode
	onClose func()
	logger  zerolog.Logger
}

// NewBackend wires a pool and its catalog reader. onClose, if set, runs after
// the pool is closed.
func NewBackend(kind models.BackendKind, p pool.ConnectionPool, meta repositories.MetadataRepository, mode ResultMode, onClose func(), logger zerolog.Logger) *Backend {
	return &Backend{
		kind:    kind,
		pool:    p,
		meta:    meta,
		mode:    mode,
		onClose: onClose,
		logger:  logger,
	}
}

// OpenPool builds the pool config from the alias settings and shared
// options, opens it and attaches the metrics collector.
func OpenPool(ctx context.Context, driverName, dsn string, cfg models.BackendConfig, opts repositories.PoolOptions, logger zerolog.Logger) (pool.ConnectionPool, error) {
	p, err := pool.New(ctx, pool.Config{
		Driver:                 driverName,
		DSN:                    dsn,
		MaxOpenConnections:     cfg.MaxConnections,
		MaxIdleConnections:     opts.MaxIdleConnections,
		ConnMaxLifetime:        opts.ConnMaxLifetime,
		ConnMaxIdleTime:        opts.ConnMaxIdleTime,
		HealthCheckPeriod:      opts.HealthCheckPeriod,
		ConnectionTimeout:      opts.ConnectionTimeout,
		EnableCircuitBreaker:   true,
		EnableSlowQueryLogging: opts.SlowQueryThreshold > 0,
		SlowQueryThreshold:     opts.SlowQueryThreshold,
	}, logger)
	if err != nil {
		return nil, err
	}
	if opts.Metrics != nil {
		p.SetMetricsCollector(opts.Metrics)
	}
	return p, nil
}

// Kind returns the backend kind.
func (b *Backend) Kind() models.BackendKind { return b.kind }

// Metadata returns the catalog reader.
func (b *Backend) Metadata() repositories.MetadataRepository { return b.meta }

// Stats returns pool statistics.
func (b *Backend) Stats() pool.PoolStats { return b.pool.Stats() }

// Pool exposes the underlying pool.
func (b *Backend) Pool() pool.ConnectionPool { return b.pool }

// Acquire checks out one connection.
func (b *Backend) Acquire(ctx context.Context) (repositories.Session, error) {
	conn, err := b.pool.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, mode: b.mode, queries: b.pool.QueryLogger()}, nil
}

// Close closes the pool.
func (b *Backend) Close() error {
	err := b.pool.Close()
	if b.onClose != nil {
		b.onClose()
	}
	return err
}

// Session runs forms on a single checked-out connection.
type Session struct {
	conn    *sql.Conn
	mode    ResultMode
	queries *pool.QueryLogger
	once    sync.Once
}

// Explain runs a plan form. The plan document is taken from the last column
// of the first row; text plans that are not JSON are returned as a JSON string.
// A single-statement plan wrapped in a one-element array is unwrapped.
func (s *Session) Explain(ctx context.Context, planForm string) (json.RawMessage, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx, planForm)
	if err != nil {
		s.queries.LogQuery(planForm, time.Since(start), err)
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var parts []string
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if last := values[len(values)-1]; last.Valid {
			parts = append(parts, last.String)
		}
	}
	if err := rows.Err(); err != nil {
		s.queries.LogQuery(planForm, time.Since(start), err)
		return nil, err
	}
	s.queries.LogQuery(planForm, time.Since(start), nil)

	if len(parts) == 0 {
		return nil, nil
	}
	doc := strings.TrimSpace(parts[0])
	if json.Valid([]byte(doc)) {
		return unwrapPlan(json.RawMessage(doc)), nil
	}
	return json.Marshal(strings.Join(parts, "\n"))
}

// unwrapPlan returns the only element of a one-element JSON array, nil for an
// empty array, and doc unchanged otherwise.
func unwrapPlan(doc json.RawMessage) json.RawMessage {
	if len(doc) == 0 || doc[0] != '[' {
		return doc
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(doc, &elems); err != nil {
		return doc
	}
	switch len(elems) {
	case 0:
		return nil
	case 1:
		return elems[0]
	default:
		return doc
	}
}

// Fetch runs a data form.
func (s *Session) Fetch(ctx context.Context, dataForm string) (*models.Payload, error) {
	start := time.Now()
	var (
		rows []json.RawMessage
		err  error
	)
	switch s.mode {
	case AggregatedJSON:
		rows, err = s.fetchAggregated(ctx, dataForm)
	default:
		rows, err = s.fetchTabular(ctx, dataForm)
	}
	s.queries.LogQuery(dataForm, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &models.Payload{Rows: rows}, nil
}

func (s *Session) fetchAggregated(ctx context.Context, dataForm string) ([]json.RawMessage, error) {
	var doc sql.NullString
	if err := s.conn.QueryRowContext(ctx, dataForm).Scan(&doc); err != nil {
		return nil, err
	}
	if !doc.Valid || doc.String == "" {
		return []json.RawMessage{}, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal([]byte(doc.String), &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return rows, nil
}

func (s *Session) fetchTabular(ctx context.Context, dataForm string) ([]json.RawMessage, error) {
	rows, err := s.conn.QueryContext(ctx, dataForm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return RowsToJSON(rows)
}

// Release returns the connection to the pool.
func (s *Session) Release() {
	s.once.Do(func() {
		_ = s.conn.Close()
	})
}
