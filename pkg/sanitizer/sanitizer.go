// Package sanitizer validates untrusted query text and rewrites it into the
// plan and data forms a backend session executes.
package sanitizer

import (
	"fmt"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// Sanitizer is the per-kind dialect contract. Implementations are pure and
// safe for concurrent use.
type Sanitizer interface {
	Kind() models.BackendKind
	Sanitize(raw string, requested *int) (*models.SanitizedQuery, error)
}

// Limits bounds the number of rows a query may return.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits returns the 500 / 5000 limits.
func DefaultLimits() Limits {
	return Limits{Default: models.DefaultLimit, Max: models.MaxLimit}
}

func (l Limits) normalized() Limits {
	if l.Max <= 0 || l.Max > models.MaxLimit {
		l.Max = models.MaxLimit
	}
	if l.Default <= 0 {
		l.Default = models.DefaultLimit
	}
	if l.Default > l.Max {
		l.Default = l.Max
	}
	return l
}

// Server returns the server-side cap for a request: requested clamped to
// [1, Max], or Default when requested is absent or non-positive.
func (l Limits) Server(requested *int) int {
	l = l.normalized()
	if requested == nil || *requested <= 0 {
		return l.Default
	}
	if *requested > l.Max {
		return l.Max
	}
	return *requested
}

// ServerLimit applies the default limits to requested.
func ServerLimit(requested *int) int {
	return DefaultLimits().Server(requested)
}

// effectiveLimit combines a literal LIMIT from the statement with the server
// cap. The result is never below 1.
func effectiveLimit(literal int64, hasLiteral bool, server int) int {
	if !hasLiteral || literal >= int64(server) {
		return server
	}
	if literal < 1 {
		return 1
	}
	return int(literal)
}

// New returns the sanitizer for kind.
func New(kind models.BackendKind, limits Limits) (Sanitizer, error) {
	limits = limits.normalized()
	switch kind {
	case models.KindPostgres:
		return &postgresDialect{kind: kind, limits: limits, dataTemplate: postgresDataTemplate}, nil
	case models.KindDuckDB:
		return &postgresDialect{kind: kind, limits: limits, dataTemplate: duckdbDataTemplate}, nil
	case models.KindMySQL:
		return &mysqlDialect{limits: limits}, nil
	case models.KindRedis:
		return &redisDialect{limits: limits}, nil
	case models.KindMongoDB:
		return &mongoDialect{limits: limits}, nil
	default:
		return nil, errors.Newf(errors.CodeUnsupportedBackendKind, "unsupported backend kind: %s", kind)
	}
}

// Registry holds one sanitizer per kind.
type Registry struct {
	dialects map[models.BackendKind]Sanitizer
}

// NewRegistry builds sanitizers for every supported kind.
func NewRegistry(limits Limits) *Registry {
	r := &Registry{dialects: make(map[models.BackendKind]Sanitizer)}
	for _, kind := range models.Kinds {
		if s, err := New(kind, limits); err == nil {
			r.dialects[kind] = s
		}
	}
	return r
}

// For returns the sanitizer for kind.
func (r *Registry) For(kind models.BackendKind) (Sanitizer, error) {
	s, ok := r.dialects[kind]
	if !ok {
		return nil, errors.Newf(errors.CodeUnsupportedBackendKind, "unsupported backend kind: %s", kind)
	}
	return s, nil
}

// Sanitize is a convenience for r.For(kind) followed by Sanitize.
func (r *Registry) Sanitize(kind models.BackendKind, raw string, requested *int) (*models.SanitizedQuery, error) {
	s, err := r.For(kind)
	if err != nil {
		return nil, err
	}
	return s.Sanitize(raw, requested)
}

func emptyStatement() error {
	return errors.SyntaxError(fmt.Errorf("empty statement"))
}
