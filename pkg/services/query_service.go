package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/sanitizer"
)

// Default stage deadlines.
const (
	DefaultPlanTimeout = 15 * time.Second
	DefaultDataTimeout = 60 * time.Second
)

// Timeouts bounds the execution stages. The acquire deadline is per alias
// and comes from the BackendProvider.
type Timeouts struct {
	Plan time.Duration
	Data time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Plan <= 0 {
		t.Plan = DefaultPlanTimeout
	}
	if t.Data <= 0 {
		t.Data = DefaultDataTimeout
	}
	return t
}

// queryService implements QueryService interface.
type queryService struct {
	backends   BackendProvider
	sanitizers *sanitizer.Registry
	timeouts   Timeouts
	logger     Logger
	metrics    MetricsCollector
}

// NewQueryService creates a new query service.
func NewQueryService(
	backends BackendProvider,
	sanitizers *sanitizer.Registry,
	timeouts Timeouts,
	logger Logger,
	metrics MetricsCollector,
) QueryService {
	if logger == nil {
		logger = noopLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &queryService{
		backends:   backends,
		sanitizers: sanitizers,
		timeouts:   timeouts.withDefaults(),
		logger:     logger,
		metrics:    metrics,
	}
}

// Execute validates, plans and runs one query. Sanitizer errors are returned
// before any connection is taken; nothing is retried.
//
// Each stage runs under its own deadline derived from a context that ignores
// the caller's cancellation, so a stage in flight finishes or times out on
// its own. Stages that have not started when the caller goes away are
// skipped with CANCELED.
func (s *queryService) Execute(ctx context.Context, req *models.QueryRequest) (*models.QueryResult, error) {
	timer := s.metrics.StartTimer("query_execution")
	defer timer.Stop()

	if req == nil || strings.TrimSpace(req.Alias) == "" {
		s.metrics.IncrementCounter("query_validation_errors")
		return nil, errors.New(errors.CodeInvalidRequest, "db_name is required")
	}

	info, err := s.backends.Lookup(req.Alias)
	if err != nil {
		return nil, err
	}
	labels := []string{"db", info.Alias, "kind", string(info.Kind)}

	result, err := s.execute(ctx, info, req)
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(errors.GetCode(err))
	}
	s.metrics.IncrementCounter("queries_total", append(labels, "outcome", outcome)...)
	if err != nil {
		s.logger.Warn("Query failed",
			"db", info.Alias,
			"code", errors.GetCode(err),
			"stage", string(errors.GetStage(err)),
			"error", err)
		return nil, err
	}

	s.metrics.RecordHistogram("query_duration_seconds", result.ElapsedSeconds(), labels...)
	s.logger.Debug("Query executed",
		"db", info.Alias,
		"kind", string(info.Kind),
		"elapsed", result.Elapsed,
		"rows", len(result.Rows))
	return result, nil
}

func (s *queryService) execute(ctx context.Context, info models.BackendInfo, req *models.QueryRequest) (*models.QueryResult, error) {
	dialect, err := s.sanitizers.For(info.Kind)
	if err != nil {
		return nil, err
	}
	query, err := dialect.Sanitize(req.Query, req.Limit)
	if err != nil {
		s.metrics.IncrementCounter("query_rejections_total", "code", strings.ToLower(errors.GetCode(err)))
		return nil, err
	}

	session, err := s.acquire(ctx, info.Alias)
	if err != nil {
		return nil, err
	}
	defer session.Release()

	start := time.Now()
	plan, err := s.plan(ctx, info.Alias, session, query)
	if err != nil {
		return nil, err
	}
	payload, err := s.fetch(ctx, session, query)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	if payload.Affected != nil || payload.Message != "" {
		return models.NewAffectedResult(payload.Message, payload.Affected, plan, elapsed), nil
	}
	return models.NewRowsResult(payload.Rows, plan, elapsed), nil
}

// acquire gets the alias' pool and checks out one connection under the
// acquire deadline.
func (s *queryService) acquire(ctx context.Context, alias string) (repositories.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(errors.StageAcquire, err).WithAlias(alias)
	}
	stageCtx, cancel := stageContext(ctx, s.backends.AcquireTimeout(alias))
	defer cancel()

	backend, err := s.backends.GetOrCreatePool(stageCtx, alias)
	if err != nil {
		return nil, err
	}
	session, err := backend.Acquire(stageCtx)
	if err != nil {
		if isDeadline(stageCtx, err) {
			return nil, errors.Timeout(errors.StageAcquire, err).WithAlias(alias)
		}
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "failed to acquire connection").WithAlias(alias)
	}
	return session, nil
}

// plan runs the plan form. Failures other than a deadline or a broken
// connection are logged and yield a nil plan.
func (s *queryService) plan(ctx context.Context, alias string, session repositories.Session, query *models.SanitizedQuery) (json.RawMessage, error) {
	if !query.HasPlan() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(errors.StagePlan, err)
	}
	stageCtx, cancel := stageContext(ctx, s.timeouts.Plan)
	defer cancel()

	plan, err := session.Explain(stageCtx, query.PlanForm)
	switch {
	case err == nil:
		return plan, nil
	case isDeadline(stageCtx, err):
		return nil, errors.Timeout(errors.StagePlan, err)
	case isBadConnection(err):
		return nil, errors.ExecutionError(errors.StagePlan, err)
	default:
		s.logger.Warn("Plan unavailable", "db", alias, "error", err)
		s.metrics.IncrementCounter("query_plan_failures_total", "db", alias)
		return nil, nil
	}
}

func (s *queryService) fetch(ctx context.Context, session repositories.Session, query *models.SanitizedQuery) (*models.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(errors.StageData, err)
	}
	stageCtx, cancel := stageContext(ctx, s.timeouts.Data)
	defer cancel()

	payload, err := session.Fetch(stageCtx, query.DataForm)
	if err != nil {
		if isDeadline(stageCtx, err) {
			return nil, errors.Timeout(errors.StageData, err)
		}
		return nil, errors.ExecutionError(errors.StageData, err)
	}
	if payload == nil {
		payload = &models.Payload{}
	}
	return payload, nil
}

func stageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func isDeadline(stageCtx context.Context, err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(stageCtx.Err(), context.DeadlineExceeded)
}

func isBadConnection(err error) bool {
	return stderrors.Is(err, driver.ErrBadConn) ||
		stderrors.Is(err, sql.ErrConnDone) ||
		stderrors.Is(err, net.ErrClosed) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.EPIPE)
}
