package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// ExecuteQuery runs one read-only query and returns the result envelope.
func (h *Handler) ExecuteQuery(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_execute_query")
	defer timer.Stop()

	var req models.QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		h.metrics.IncrementCounter("handler_errors", "operation", "execute_query")
		writeError(w, errors.Wrap(err, errors.CodeInvalidRequest, "request body must be {db_name, query, limit?}"))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, errors.New(errors.CodeInvalidRequest, "query is required"))
		return
	}

	h.logger.Debug("Executing query",
		"db", req.Alias,
		"query", truncateQuery(req.Query))

	result, err := h.gateway.Execute(r.Context(), &req)
	if err != nil {
		h.failed(w, "execute_query", req.Alias, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// truncateQuery shortens a query for logging.
func truncateQuery(query string) string {
	const maxLen = 100
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
