package models

import (
	"encoding/json"
	"time"
)

const (
	// DefaultLimit applies when a request carries no usable row limit.
	DefaultLimit = 500
	// MaxLimit is the hard cap on rows returned by one query.
	MaxLimit = 5000
)

// QueryRequest is one execute call.
type QueryRequest struct {
	Alias string `json:"db_name"`
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

// SanitizedQuery is a validated statement ready for execution.
type SanitizedQuery struct {
	EffectiveLimit int    `json:"effective_limit"`
	PlanForm       string `json:"plan_form,omitempty"`
	DataForm       string `json:"data_form"`
}

// HasPlan reports whether the backend can produce a plan for the query.
func (q *SanitizedQuery) HasPlan() bool {
	return q.PlanForm != ""
}

// Payload is what a backend session returns for a data form: either rows
// encoded as JSON objects, or a message with an optional affected-rows count
// for replies that carry no rows.
type Payload struct {
	Rows     []json.RawMessage
	Affected *int64
	Message  string
}

// ResultVariant tags which half of QueryResult is populated.
type ResultVariant string

const (
	VariantRows     ResultVariant = "rows"
	VariantAffected ResultVariant = "affected"
)

// QueryResult is the response of one execute call.
type QueryResult struct {
	Variant      ResultVariant
	Rows         []json.RawMessage
	Message      string
	AffectedRows *int64
	Plan         json.RawMessage
	Elapsed      time.Duration
}

// NewRowsResult builds the Rows variant.
func NewRowsResult(rows []json.RawMessage, plan json.RawMessage, elapsed time.Duration) *QueryResult {
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return &QueryResult{Variant: VariantRows, Rows: rows, Plan: plan, Elapsed: elapsed}
}

// NewAffectedResult builds the Affected variant.
func NewAffectedResult(message string, affected *int64, plan json.RawMessage, elapsed time.Duration) *QueryResult {
	return &QueryResult{Variant: VariantAffected, Message: message, AffectedRows: affected, Plan: plan, Elapsed: elapsed}
}

// ElapsedSeconds returns the execution time as fractional seconds.
func (r *QueryResult) ElapsedSeconds() float64 {
	return r.Elapsed.Seconds()
}

type queryResultJSON struct {
	Result        interface{}     `json:"result"`
	Message       *string         `json:"message"`
	AffectedRows  *int64          `json:"affected_rows"`
	Plan          json.RawMessage `json:"plan"`
	ExecutionTime float64         `json:"executionTime"`
}

// MarshalJSON renders the envelope consumed by the web client. Exactly one
// of result or message/affected_rows is non-null.
func (r *QueryResult) MarshalJSON() ([]byte, error) {
	out := queryResultJSON{ExecutionTime: r.ElapsedSeconds()}
	if len(r.Plan) > 0 {
		out.Plan = r.Plan
	} else {
		out.Plan = json.RawMessage("null")
	}
	switch r.Variant {
	case VariantAffected:
		msg := r.Message
		out.Message = &msg
		out.AffectedRows = r.AffectedRows
	default:
		rows := r.Rows
		if rows == nil {
			rows = []json.RawMessage{}
		}
		out.Result = rows
	}
	return json.Marshal(out)
}
