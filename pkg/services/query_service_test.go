package services

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/registry"
	"github.com/TFMV/quarry/pkg/repositories"
	"github.com/TFMV/quarry/pkg/repositories/duckdb"
	"github.com/TFMV/quarry/pkg/sanitizer"
)

type testLogger struct{ t *testing.T }

func (l testLogger) log(level, msg string, kv ...interface{}) { l.t.Logf("%s %s %v", level, msg, kv) }
func (l testLogger) Debug(msg string, kv ...interface{})      { l.log("DBG", msg, kv...) }
func (l testLogger) Info(msg string, kv ...interface{})       { l.log("INF", msg, kv...) }
func (l testLogger) Warn(msg string, kv ...interface{})       { l.log("WRN", msg, kv...) }
func (l testLogger) Error(msg string, kv ...interface{})      { l.log("ERR", msg, kv...) }

func newTestQueryService(t *testing.T, provider BackendProvider, timeouts Timeouts) QueryService {
	t.Helper()
	return NewQueryService(provider, sanitizer.NewRegistry(sanitizer.DefaultLimits()), timeouts, testLogger{t}, nil)
}

func request(alias, query string) *models.QueryRequest {
	return &models.QueryRequest{Alias: alias, Query: query}
}

func TestExecute_LiveDuckDB(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	reg, err := registry.New(
		[]models.BackendConfig{{Name: "local", Type: "duckdb", ConnString: ":memory:", MaxConnections: 2}},
		map[models.BackendKind]repositories.Driver{models.KindDuckDB: duckdb.NewDriver()},
		registry.Options{},
		logger,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	require.Equal(t, 1, reg.Connect(context.Background()))

	svc := newTestQueryService(t, reg, Timeouts{})

	result, err := svc.Execute(context.Background(), request("local", "SELECT 1 AS x"))
	require.NoError(t, err)
	assert.Equal(t, models.VariantRows, result.Variant)
	require.Len(t, result.Rows, 1)
	assert.JSONEq(t, `{"x":1}`, string(result.Rows[0]))
	assert.NotEmpty(t, result.Plan)
	assert.True(t, json.Valid(result.Plan))

	limit := 3
	result, err = svc.Execute(context.Background(), &models.QueryRequest{
		Alias: "local",
		Query: "SELECT * FROM range(100) t(i) LIMIT 50",
		Limit: &limit,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 3)

	_, err = svc.Execute(context.Background(), request("local", "CREATE TABLE t (a INTEGER)"))
	assert.Equal(t, errors.CodeWriteNotAllowed, errors.GetCode(err))
}

func TestExecute_Validation(t *testing.T) {
	provider := newFakeProvider()
	backend := provider.add("pg", &fakeBackend{kind: models.KindPostgres, session: &fakeSession{}})
	svc := newTestQueryService(t, provider, Timeouts{})

	tests := []struct {
		name string
		req  *models.QueryRequest
		code string
	}{
		{"missing alias", request("", "SELECT 1"), errors.CodeInvalidRequest},
		{"unknown alias", request("nope", "SELECT 1"), errors.CodeUnknownBackend},
		{"syntax error", request("pg", "SELEC 1"), errors.CodeSyntaxError},
		{"multiple statements", request("pg", "SELECT 1; SELECT 2"), errors.CodeMultipleStatements},
		{"write", request("pg", "DELETE FROM t"), errors.CodeWriteNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Execute(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
	assert.Equal(t, int32(0), backend.acquires.Load(), "rejected queries never take a connection")
}

func TestExecute_PlanFailureIsRecoverable(t *testing.T) {
	provider := newFakeProvider()
	session := &fakeSession{
		explain: func(context.Context, string) (json.RawMessage, error) {
			return nil, fmt.Errorf("permission denied for EXPLAIN")
		},
	}
	provider.add("pg", &fakeBackend{kind: models.KindPostgres, session: session})

	result, err := newTestQueryService(t, provider, Timeouts{}).Execute(context.Background(), request("pg", "SELECT 1"))
	require.NoError(t, err)
	assert.Nil(t, result.Plan)
	assert.Len(t, result.Rows, 1)
	assert.Equal(t, int32(1), session.released.Load())
}

func TestExecute_PlanBadConnectionIsFatal(t *testing.T) {
	provider := newFakeProvider()
	fetched := false
	session := &fakeSession{
		explain: func(context.Context, string) (json.RawMessage, error) {
			return nil, fmt.Errorf("explain: %w", driver.ErrBadConn)
		},
		fetch: func(context.Context, string) (*models.Payload, error) {
			fetched = true
			return &models.Payload{}, nil
		},
	}
	provider.add("pg", &fakeBackend{kind: models.KindPostgres, session: session})

	_, err := newTestQueryService(t, provider, Timeouts{}).Execute(context.Background(), request("pg", "SELECT 1"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeExecutionFailed, errors.GetCode(err))
	assert.Equal(t, errors.StagePlan, errors.GetStage(err))
	assert.False(t, fetched)
	assert.Equal(t, int32(1), session.released.Load())
}

func TestExecute_PlanTimeout(t *testing.T) {
	provider := newFakeProvider()
	session := &fakeSession{
		explain: func(ctx context.Context, _ string) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	provider.add("pg", &fakeBackend{kind: models.KindPostgres, session: session})

	svc := newTestQueryService(t, provider, Timeouts{Plan: 20 * time.Millisecond})
	_, err := svc.Execute(context.Background(), request("pg", "SELECT 1"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
	assert.Equal(t, errors.StagePlan, errors.GetStage(err))
}

func TestExecute_DataErrors(t *testing.T) {
	t.Run("backend message is passed through", func(t *testing.T) {
		provider := newFakeProvider()
		session := &fakeSession{
			fetch: func(context.Context, string) (*models.Payload, error) {
				return nil, fmt.Errorf(`relation "missing" does not exist`)
			},
		}
		provider.add("pg", &fakeBackend{kind: models.KindPostgres, session: session})

		_, err := newTestQueryService(t, provider, Timeouts{}).Execute(context.Background(), request("pg", "SELECT * FROM missing"))
		require.Error(t, err)
		assert.Equal(t, errors.CodeExecutionFailed, errors.GetCode(err))
		assert.Equal(t, errors.StageData, errors.GetStage(err))
		assert.Equal(t, `relation "missing" does not exist`, errors.GetMessage(err))
	})

	t.Run("deadline", func(t *testing.T) {
		provider := newFakeProvider()
		session := &fakeSession{
			fetch: func(ctx context.Context, _ string) (*models.Payload, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		provider.add("pg", &fakeBackend{kind: models.KindPostgres, session: session})

		svc := newTestQueryService(t, provider, Timeouts{Data: 20 * time.Millisecond})
		_, err := svc.Execute(context.Background(), request("pg", "SELECT 1"))
		require.Error(t, err)
		assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
		assert.Equal(t, errors.StageData, errors.GetStage(err))
		assert.Equal(t, 504, errors.HTTPStatus(err))
	})
}

func TestExecute_AcquireErrors(t *testing.T) {
	t.Run("pool exhausted", func(t *testing.T) {
		provider := newFakeProvider()
		provider.add("pg", &fakeBackend{kind: models.KindPostgres, acquireErr: context.DeadlineExceeded})

		_, err := newTestQueryService(t, provider, Timeouts{}).Execute(context.Background(), request("pg", "SELECT 1"))
		assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
		assert.Equal(t, errors.StageAcquire, errors.GetStage(err))
	})

	t.Run("connection refused", func(t *testing.T) {
		provider := newFakeProvider()
		provider.add("pg", &fakeBackend{kind: models.KindPostgres, acquireErr: fmt.Errorf("dial tcp: connection refused")})

		_, err := newTestQueryService(t, provider, Timeouts{}).Execute(context.Background(), request("pg", "SELECT 1"))
		assert.Equal(t, errors.CodeConnectionFailed, errors.GetCode(err))
	})
}

func TestExecute_CallerCancellation(t *testing.T) {
	t.Run("before any stage", func(t *testing.T) {
		provider := newFakeProvider()
		backend := provider.add("pg", &fakeBackend{kind: models.KindPostgres, session: &fakeSession{}})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestQueryService(t, provider, Timeouts{}).Execute(ctx, request("pg", "SELECT 1"))
		assert.Equal(t, errors.CodeCanceled, errors.GetCode(err))
		assert.Equal(t, errors.StageAcquire, errors.GetStage(err))
		assert.Equal(t, int32(0), backend.acquires.Load())
	})

	t.Run("during plan", func(t *testing.T) {
		provider := newFakeProvider()
		ctx, cancel := context.WithCancel(context.Background())
		planSawCancel := false
		fetched := false
		session := &fakeSession{
			explain: func(stageCtx context.Context, _ string) (json.RawMessage, error) {
				cancel()
				planSawCancel = stageCtx.Err() != nil
				return json.RawMessage(`{}`), nil
			},
			fetch: func(context.Context, string) (*models.Payload, error) {
				fetched = true
				return &models.Payload{}, nil
			},
		}
		provider.add("pg", &fakeBackend{kind: models.KindPostgres, session: session})

		_, err := newTestQueryService(t, provider, Timeouts{}).Execute(ctx, request("pg", "SELECT 1"))
		assert.Equal(t, errors.CodeCanceled, errors.GetCode(err))
		assert.Equal(t, errors.StageData, errors.GetStage(err))
		assert.False(t, planSawCancel, "the in-flight stage is not interrupted")
		assert.False(t, fetched, "stages not yet started are skipped")
		assert.Equal(t, int32(1), session.released.Load())
	})
}

func TestExecute_AffectedVariant(t *testing.T) {
	provider := newFakeProvider()
	session := &fakeSession{
		fetch: func(context.Context, string) (*models.Payload, error) {
			return &models.Payload{Message: "PONG"}, nil
		},
	}
	provider.add("cache", &fakeBackend{kind: models.KindRedis, session: session})

	result, err := newTestQueryService(t, provider, Timeouts{}).Execute(context.Background(), request("cache", "PING"))
	require.NoError(t, err)
	assert.Equal(t, models.VariantAffected, result.Variant)
	assert.Equal(t, "PONG", result.Message)
	assert.Nil(t, result.AffectedRows)
	assert.Nil(t, result.Plan, "key-value queries have no plan")
}

func TestExecute_ElapsedCoversPlanAndData(t *testing.T) {
	provider := newFakeProvider()
	session := &fakeSession{
		explain: func(context.Context, string) (json.RawMessage, error) {
			time.Sleep(15 * time.Millisecond)
			return json.RawMessage(`{}`), nil
		},
		fetch: func(context.Context, string) (*models.Payload, error) {
			time.Sleep(15 * time.Millisecond)
			return &models.Payload{}, nil
		},
	}
	provider.add("pg", &fakeBackend{kind: models.KindPostgres, session: session})

	result, err := newTestQueryService(t, provider, Timeouts{}).Execute(context.Background(), request("pg", "SELECT 1"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Elapsed, 30*time.Millisecond)
	assert.NotNil(t, result.Rows)
}
