// Package errors provides the coded error type shared by the gateway, its repositories and its HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeSyntaxError            = "SYNTAX_ERROR"
	CodeMultipleStatements     = "MULTIPLE_STATEMENTS_NOT_ALLOWED"
	CodeWriteNotAllowed        = "WRITE_NOT_ALLOWED"
	CodeUnknownBackend         = "UNKNOWN_BACKEND"
	CodeUnsupportedBackendKind = "UNSUPPORTED_BACKEND_KIND"
	CodeIntrospectionFailed    = "INTROSPECTION_FAILED"
	CodeTimeout                = "TIMEOUT"
	CodeExecutionFailed        = "EXECUTION_FAILED"
	CodeConnectionFailed       = "CONNECTION_FAILED"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeCanceled               = "CANCELED"
	CodeUnavailable            = "UNAVAILABLE"
	CodeInternal               = "INTERNAL_ERROR"
)

// Stage names a step of query execution or schema loading that has its own deadline.
type Stage string

const (
	StageAcquire       Stage = "pool_acquire"
	StagePlan          Stage = "plan"
	StageData          Stage = "data"
	StageIntrospection Stage = "introspection"
)

// GatewayError is the error type returned across package boundaries.
type GatewayError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Alias   string                 `json:"alias,omitempty"`
	Table   string                 `json:"table,omitempty"`
	Stage   Stage                  `json:"stage,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a GatewayError with the same code.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails replaces the error details.
func (e *GatewayError) WithDetails(details map[string]interface{}) *GatewayError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *GatewayError) WithDetail(key string, value interface{}) *GatewayError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithAlias attaches the backend alias the error refers to.
func (e *GatewayError) WithAlias(alias string) *GatewayError {
	e.Alias = alias
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrSyntax             = &GatewayError{Code: CodeSyntaxError, Message: "SQL syntax error"}
	ErrMultipleStatements = &GatewayError{Code: CodeMultipleStatements, Message: "only single statements are allowed"}
	ErrWriteNotAllowed    = &GatewayError{Code: CodeWriteNotAllowed, Message: "only read queries are allowed"}
	ErrUnknownBackend     = &GatewayError{Code: CodeUnknownBackend, Message: "unknown backend"}
	ErrIntrospection      = &GatewayError{Code: CodeIntrospectionFailed, Message: "schema introspection failed"}
	ErrTimeout            = &GatewayError{Code: CodeTimeout, Message: "deadline exceeded"}
	ErrExecution          = &GatewayError{Code: CodeExecutionFailed, Message: "query execution failed"}
)

// New creates a new GatewayError with the given code and message.
func New(code, message string) *GatewayError {
	return &GatewayError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new GatewayError with a formatted message.
func Newf(code, format string, args ...interface{}) *GatewayError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with a GatewayError.
func Wrap(err error, code, message string) *GatewayError {
	if err == nil {
		return nil
	}
	return &GatewayError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *GatewayError {
	if err == nil {
		return nil
	}
	return &GatewayError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// SyntaxError reports SQL text that could not be parsed.
func SyntaxError(cause error) *GatewayError {
	msg := "SQL parsing error"
	if cause != nil {
		msg = "SQL parsing error: " + cause.Error()
	}
	return &GatewayError{Code: CodeSyntaxError, Message: msg, Cause: cause}
}

// MultipleStatements reports input holding more than one statement.
func MultipleStatements(count int) *GatewayError {
	return New(CodeMultipleStatements, "only single statements are allowed").
		WithDetail("statements", count)
}

// WriteNotAllowed reports a statement that is not a read query. class is a
// short label such as DML or DDL.
func WriteNotAllowed(class string) *GatewayError {
	e := New(CodeWriteNotAllowed, "only SELECT-like queries are allowed")
	if class != "" {
		e.WithDetail("statement_class", class)
	}
	return e
}

// UnknownBackend reports an alias that is not registered.
func UnknownBackend(alias string) *GatewayError {
	return &GatewayError{
		Code:    CodeUnknownBackend,
		Message: fmt.Sprintf("database '%s' not found", alias),
		Alias:   alias,
	}
}

// IntrospectionError reports a failed catalog query. table may be empty.
func IntrospectionError(alias, table string, cause error) *GatewayError {
	msg := fmt.Sprintf("failed to introspect database '%s'", alias)
	if table != "" {
		msg = fmt.Sprintf("failed to introspect table '%s' in database '%s'", table, alias)
	}
	return &GatewayError{
		Code:    CodeIntrospectionFailed,
		Message: msg,
		Alias:   alias,
		Table:   table,
		Cause:   cause,
	}
}

// Timeout reports a stage that ran past its deadline.
func Timeout(stage Stage, cause error) *GatewayError {
	return &GatewayError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("%s stage timed out", stage),
		Stage:   stage,
		Cause:   cause,
	}
}

// ExecutionError passes the backend message through unchanged.
func ExecutionError(stage Stage, cause error) *GatewayError {
	msg := "query execution failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &GatewayError{
		Code:    CodeExecutionFailed,
		Message: msg,
		Stage:   stage,
		Cause:   cause,
	}
}

// Canceled reports a request abandoned by its caller before a stage began.
func Canceled(stage Stage, cause error) *GatewayError {
	return &GatewayError{
		Code:    CodeCanceled,
		Message: "request canceled before " + string(stage),
		Stage:   stage,
		Cause:   cause,
	}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound) || hasCode(err, CodeUnknownBackend)
}

// IsUnknownBackend checks if an error reports an unregistered alias.
func IsUnknownBackend(err error) bool {
	return hasCode(err, CodeUnknownBackend)
}

// IsInvalidRequest checks if an error is an invalid request error.
func IsInvalidRequest(err error) bool {
	return hasCode(err, CodeInvalidRequest)
}

// IsTimeout checks if an error is a stage timeout.
func IsTimeout(err error) bool {
	return hasCode(err, CodeTimeout)
}

// IsInternal checks if an error is an internal error.
func IsInternal(err error) bool {
	return hasCode(err, CodeInternal)
}

// IsClientError reports errors caused by the request itself. They are
// deterministic and must not be retried.
func IsClientError(err error) bool {
	switch GetCode(err) {
	case CodeSyntaxError, CodeMultipleStatements, CodeWriteNotAllowed, CodeInvalidRequest:
		return true
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	return err.Error()
}

// As returns the GatewayError in err's chain, if any.
func As(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// GetStage extracts the stage from an error, if any.
func GetStage(err error) Stage {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Stage
	}
	return ""
}

// HTTPStatus maps an error to the status code the HTTP layer responds with.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeSyntaxError, CodeMultipleStatements, CodeWriteNotAllowed, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeUnknownBackend, CodeNotFound:
		return http.StatusNotFound
	case CodeCanceled:
		return 499
	case CodeIntrospectionFailed, CodeExecutionFailed, CodeConnectionFailed:
		return http.StatusBadGateway
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnsupportedBackendKind:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func hasCode(err error, code string) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code == code
	}
	return false
}
