package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/TFMV/quarry/pkg/errors"
)

type errorBody struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Alias   string       `json:"alias,omitempty"`
	Table   string       `json:"table,omitempty"`
	Stage   errors.Stage `json:"stage,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status its code maps to. Errors without a
// code are reported as INTERNAL_ERROR and their text is not exposed.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: errors.CodeInternal, Message: "internal error"}
	if ge, ok := errors.As(err); ok {
		body = errorBody{
			Code:    ge.Code,
			Message: ge.Message,
			Alias:   ge.Alias,
			Table:   ge.Table,
			Stage:   ge.Stage,
		}
	}
	writeJSON(w, errors.HTTPStatus(err), errorEnvelope{Error: body})
}

// WriteError renders err as the JSON error envelope. Middleware uses it so
// every failure has the same shape.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err)
}
