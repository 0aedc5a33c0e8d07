package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// MockGateway is a mock implementation of Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ListBackends() []models.BackendInfo {
	return m.Called().Get(0).([]models.BackendInfo)
}

func (m *MockGateway) ListTables(ctx context.Context, alias string) ([]models.TableInfo, error) {
	args := m.Called(ctx, alias)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TableInfo), args.Error(1)
}

func (m *MockGateway) TableSchema(ctx context.Context, alias, table string) (*models.TableSchema, error) {
	args := m.Called(ctx, alias, table)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TableSchema), args.Error(1)
}

func (m *MockGateway) FullSchema(ctx context.Context, alias string) (*models.DatabaseSchema, error) {
	args := m.Called(ctx, alias)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DatabaseSchema), args.Error(1)
}

func (m *MockGateway) AllSchemas(ctx context.Context) (*models.FullSchema, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FullSchema), args.Error(1)
}

func (m *MockGateway) InvalidateSchema(alias string) error {
	return m.Called(alias).Error(0)
}

func (m *MockGateway) Execute(ctx context.Context, req *models.QueryRequest) (*models.QueryResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueryResult), args.Error(1)
}

func (m *MockGateway) CacheStats() cache.Stats {
	return m.Called().Get(0).(cache.Stats)
}

func newRouter(gw Gateway) http.Handler {
	h := New(gw, nil, nil)
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	h.Routes(r)
	return r
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestListDatabases(t *testing.T) {
	gw := new(MockGateway)
	gw.On("ListBackends").Return([]models.BackendInfo{
		{Alias: "analytics", Kind: models.KindDuckDB},
		{Alias: "app", Kind: models.KindPostgres},
	})

	rec := serve(t, newRouter(gw), http.MethodGet, "/api/databases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"databases":[{"name":"analytics","type":"duckdb"},{"name":"app","type":"postgres"}]}`,
		rec.Body.String())
}

func TestExecuteQuery(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setupMock  func(*MockGateway)
		wantStatus int
		wantBody   string
		wantCode   string
		wantStage  errors.Stage
	}{
		{
			name: "rows",
			body: `{"db_name":"app","query":"SELECT 1 AS x","limit":10}`,
			setupMock: func(m *MockGateway) {
				m.On("Execute", mock.Anything, mock.MatchedBy(func(req *models.QueryRequest) bool {
					return req.Alias == "app" && req.Limit != nil && *req.Limit == 10
				})).Return(models.NewRowsResult(
					[]json.RawMessage{json.RawMessage(`{"x":1}`)},
					json.RawMessage(`[{"Plan":{}}]`),
					1500*time.Millisecond,
				), nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"result":[{"x":1}],"message":null,"affected_rows":null,"plan":[{"Plan":{}}],"executionTime":1.5}`,
		},
		{
			name: "affected",
			body: `{"db_name":"cache","query":"PING"}`,
			setupMock: func(m *MockGateway) {
				m.On("Execute", mock.Anything, mock.Anything).
					Return(models.NewAffectedResult("PONG", nil, nil, 0), nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"result":null,"message":"PONG","affected_rows":null,"plan":null,"executionTime":0}`,
		},
		{
			name:       "malformed body",
			body:       `{"db_name":`,
			setupMock:  func(*MockGateway) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.CodeInvalidRequest,
		},
		{
			name:       "empty query",
			body:       `{"db_name":"app","query":"  "}`,
			setupMock:  func(*MockGateway) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.CodeInvalidRequest,
		},
		{
			name: "write rejected",
			body: `{"db_name":"app","query":"DROP TABLE users"}`,
			setupMock: func(m *MockGateway) {
				m.On("Execute", mock.Anything, mock.Anything).Return(nil, errors.WriteNotAllowed("DDL"))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.CodeWriteNotAllowed,
		},
		{
			name: "unknown database",
			body: `{"db_name":"nope","query":"SELECT 1"}`,
			setupMock: func(m *MockGateway) {
				m.On("Execute", mock.Anything, mock.Anything).Return(nil, errors.UnknownBackend("nope"))
			},
			wantStatus: http.StatusNotFound,
			wantCode:   errors.CodeUnknownBackend,
		},
		{
			name: "data timeout",
			body: `{"db_name":"app","query":"SELECT pg_sleep(100)"}`,
			setupMock: func(m *MockGateway) {
				m.On("Execute", mock.Anything, mock.Anything).
					Return(nil, errors.Timeout(errors.StageData, context.DeadlineExceeded))
			},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   errors.CodeTimeout,
			wantStage:  errors.StageData,
		},
		{
			name: "uncoded error",
			body: `{"db_name":"app","query":"SELECT 1"}`,
			setupMock: func(m *MockGateway) {
				m.On("Execute", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("secret internals"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   errors.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(MockGateway)
			tt.setupMock(gw)

			rec := serve(t, newRouter(gw), http.MethodPost, "/api/execute-query", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantCode != "" {
				body := decodeError(t, rec)
				assert.Equal(t, tt.wantCode, body.Code)
				assert.Equal(t, tt.wantStage, body.Stage)
				assert.NotContains(t, body.Message, "secret")
			}
			gw.AssertExpectations(t)
		})
	}
}

func TestSchemaRoutes(t *testing.T) {
	users := &models.TableSchema{Name: "public.users", Columns: []models.ColumnInfo{
		{Name: "id", DeclaredType: "integer", IsPrimaryKey: true, IsUnique: true},
	}}

	gw := new(MockGateway)
	gw.On("ListTables", mock.Anything, "app").
		Return([]models.TableInfo{{Name: "public.users", Type: models.TableTypeTable}}, nil)
	gw.On("TableSchema", mock.Anything, "app", "public.users").Return(users, nil)
	gw.On("TableSchema", mock.Anything, "app", "public.ghost").
		Return(nil, errors.Newf(errors.CodeNotFound, "table 'public.ghost' not found").WithAlias("app"))
	gw.On("FullSchema", mock.Anything, "app").
		Return(&models.DatabaseSchema{Alias: "app", Kind: models.KindPostgres, Tables: []models.TableSchema{*users}}, nil)
	gw.On("FullSchema", mock.Anything, "broken").
		Return(nil, errors.IntrospectionError("broken", "", fmt.Errorf("access denied")))
	gw.On("AllSchemas", mock.Anything).Return(&models.FullSchema{Databases: []models.DatabaseSchema{}}, nil)
	gw.On("InvalidateSchema", "app").Return(nil)
	gw.On("InvalidateSchema", "nope").Return(errors.UnknownBackend("nope"))
	router := newRouter(gw)

	t.Run("list tables", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/databases/app/tables", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"database":"app","tables":[{"name":"public.users","type":"table"}]}`, rec.Body.String())
	})

	t.Run("table schema", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/databases/app/tables/public.users/schema", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t,
			`{"name":"public.users","columns":[{"name":"id","type":"integer","is_nullable":false,"is_primary_key":true,"is_unique":true}]}`,
			rec.Body.String())
	})

	t.Run("missing table", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/databases/app/tables/public.ghost/schema", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, errors.CodeNotFound, body.Code)
		assert.Equal(t, "app", body.Alias)
	})

	t.Run("database schema", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/databases/app/schema", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var schema models.DatabaseSchema
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
		assert.Equal(t, models.KindPostgres, schema.Kind)
		assert.Len(t, schema.Tables, 1)
	})

	t.Run("introspection failure", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/databases/broken/schema", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, errors.CodeIntrospectionFailed, decodeError(t, rec).Code)
	})

	t.Run("all schemas", func(t *testing.T) {
		rec := serve(t, router, http.MethodGet, "/api/schema", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"databases":[]}`, rec.Body.String())
	})

	t.Run("refresh", func(t *testing.T) {
		rec := serve(t, router, http.MethodPost, "/api/databases/app/schema/refresh", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = serve(t, router, http.MethodPost, "/api/databases/nope/schema/refresh", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	gw.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	gw := new(MockGateway)
	gw.On("ListBackends").Return([]models.BackendInfo{{Alias: "app", Kind: models.KindPostgres}})
	gw.On("CacheStats").Return(cache.Stats{Hits: 3})

	rec := serve(t, newRouter(gw), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status      string      `json:"status"`
		Databases   int         `json:"databases"`
		SchemaCache cache.Stats `json:"schema_cache"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Databases)
	assert.Equal(t, uint64(3), body.SchemaCache.Hits)
}
