package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *GatewayError
		expected string
	}{
		{
			name: "error without cause",
			err: &GatewayError{
				Code:    CodeInvalidRequest,
				Message: "invalid input",
			},
			expected: "INVALID_REQUEST: invalid input",
		},
		{
			name: "error with cause",
			err: &GatewayError{
				Code:    CodeInvalidRequest,
				Message: "invalid input",
				Cause:   fmt.Errorf("underlying error"),
			},
			expected: "INVALID_REQUEST: invalid input (caused by: underlying error)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestGatewayError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &GatewayError{
		Code:    CodeInvalidRequest,
		Message: "invalid input",
		Cause:   cause,
	}

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, &GatewayError{Code: CodeInvalidRequest}))
}

func TestGatewayError_Is(t *testing.T) {
	err1 := UnknownBackend("main")
	err2 := UnknownBackend("analytics")
	err3 := WriteNotAllowed("DML")
	stdErr := fmt.Errorf("standard error")

	assert.True(t, err1.Is(err2), "errors with same code should match")
	assert.False(t, err1.Is(err3), "errors with different codes should not match")
	assert.False(t, err1.Is(stdErr), "gateway error should not match standard error")
	assert.True(t, errors.Is(fmt.Errorf("outer: %w", err3), ErrWriteNotAllowed))
}

func TestGatewayError_WithDetail(t *testing.T) {
	err := New(CodeInvalidRequest, "invalid input").
		WithDetail("field", "limit").
		WithDetail("value", -1)

	assert.Equal(t, "limit", err.Details["field"])
	assert.Equal(t, -1, err.Details["value"])

	details := map[string]interface{}{"field": "query"}
	err = err.WithDetails(details)
	assert.Equal(t, details, err.Details)
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(cause, CodeConnectionFailed, "wrapped message")

	assert.Equal(t, CodeConnectionFailed, err.Code)
	assert.Equal(t, "wrapped message", err.Message)
	assert.Equal(t, cause, err.Cause)

	assert.Nil(t, Wrap(nil, CodeInvalidRequest, "message"))
	assert.Nil(t, Wrapf(nil, CodeInvalidRequest, "message %d", 42))
	assert.Equal(t, "wrapped message 42", Wrapf(cause, CodeInvalidRequest, "wrapped message %d", 42).Message)
}

func TestConstructors(t *testing.T) {
	t.Run("syntax error keeps parser message", func(t *testing.T) {
		err := SyntaxError(fmt.Errorf("syntax error at position 7"))
		assert.Equal(t, CodeSyntaxError, err.Code)
		assert.Contains(t, err.Message, "syntax error at position 7")
	})

	t.Run("multiple statements records count", func(t *testing.T) {
		err := MultipleStatements(2)
		assert.Equal(t, CodeMultipleStatements, err.Code)
		assert.Equal(t, 2, err.Details["statements"])
	})

	t.Run("introspection error carries context", func(t *testing.T) {
		cause := fmt.Errorf("relation does not exist")
		err := IntrospectionError("main", "public.users", cause)
		assert.Equal(t, "main", err.Alias)
		assert.Equal(t, "public.users", err.Table)
		assert.ErrorIs(t, err, cause)

		noTable := IntrospectionError("main", "", cause)
		assert.Empty(t, noTable.Table)
		assert.Contains(t, noTable.Message, "'main'")
	})

	t.Run("timeout records stage", func(t *testing.T) {
		err := Timeout(StagePlan, context.DeadlineExceeded)
		assert.Equal(t, StagePlan, GetStage(err))
		assert.True(t, IsTimeout(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("execution error passes backend message verbatim", func(t *testing.T) {
		backendErr := fmt.Errorf(`ERROR: relation "missing" does not exist (SQLSTATE 42P01)`)
		err := ExecutionError(StageData, backendErr)
		assert.Equal(t, backendErr.Error(), err.Message)
	})
}

func TestIsHelpers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
		client   bool
		internal bool
	}{
		{name: "unknown backend", err: UnknownBackend("x"), notFound: true},
		{name: "not found", err: New(CodeNotFound, "table not found"), notFound: true},
		{name: "syntax", err: SyntaxError(nil), client: true},
		{name: "write", err: WriteNotAllowed("DDL"), client: true},
		{name: "internal", err: New(CodeInternal, "boom"), internal: true},
		{name: "standard error", err: fmt.Errorf("standard error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.client, IsClientError(tt.err))
			assert.Equal(t, tt.internal, IsInternal(tt.err))
		})
	}
}

func TestGetCodeAndMessage(t *testing.T) {
	assert.Equal(t, CodeUnknownBackend, GetCode(UnknownBackend("main")))
	assert.Equal(t, CodeInternal, GetCode(fmt.Errorf("standard error")))
	assert.Equal(t, "database 'main' not found", GetMessage(UnknownBackend("main")))
	assert.Equal(t, "standard error", GetMessage(fmt.Errorf("standard error")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{SyntaxError(nil), http.StatusBadRequest},
		{MultipleStatements(3), http.StatusBadRequest},
		{WriteNotAllowed("DML"), http.StatusBadRequest},
		{UnknownBackend("x"), http.StatusNotFound},
		{New(CodeUnauthorized, "missing token"), http.StatusUnauthorized},
		{IntrospectionError("x", "", nil), http.StatusBadGateway},
		{ExecutionError(StageData, fmt.Errorf("boom")), http.StatusBadGateway},
		{Timeout(StageAcquire, nil), http.StatusGatewayTimeout},
		{Canceled(StagePlan, context.Canceled), 499},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(GetCode(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Timeout(StagePlan, nil))
	ge, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeTimeout, ge.Code)

	_, ok = As(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestNewf(t *testing.T) {
	err := Newf(CodeNotFound, "table '%s' not found", "users")
	assert.Equal(t, "table 'users' not found", err.Message)
	assert.True(t, IsNotFound(err))
}
