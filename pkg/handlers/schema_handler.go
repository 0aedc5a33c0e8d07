package handlers

import (
	"net/http"
)

type databasesResponse struct {
	Databases interface{} `json:"databases"`
}

type tablesResponse struct {
	Database string      `json:"database"`
	Tables   interface{} `json:"tables"`
}

// ListDatabases returns every reachable alias with its kind.
func (h *Handler) ListDatabases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, databasesResponse{Databases: h.gateway.ListBackends()})
}

// ListTables returns the relations of one database.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_list_tables")
	defer timer.Stop()

	db, err := pathParam(r, "db")
	if err != nil {
		writeError(w, err)
		return
	}
	tables, err := h.gateway.ListTables(r.Context(), db)
	if err != nil {
		h.failed(w, "list_tables", db, err)
		return
	}
	writeJSON(w, http.StatusOK, tablesResponse{Database: db, Tables: tables})
}

// TableSchema returns the columns of one table.
func (h *Handler) TableSchema(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_table_schema")
	defer timer.Stop()

	db, err := pathParam(r, "db")
	if err != nil {
		writeError(w, err)
		return
	}
	table, err := pathParam(r, "table")
	if err != nil {
		writeError(w, err)
		return
	}
	schema, err := h.gateway.TableSchema(r.Context(), db, table)
	if err != nil {
		h.failed(w, "table_schema", db, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// DatabaseSchema returns the cached schema of one database.
func (h *Handler) DatabaseSchema(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_database_schema")
	defer timer.Stop()

	db, err := pathParam(r, "db")
	if err != nil {
		writeError(w, err)
		return
	}
	schema, err := h.gateway.FullSchema(r.Context(), db)
	if err != nil {
		h.failed(w, "database_schema", db, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// AllSchemas returns the schema of every reachable database.
func (h *Handler) AllSchemas(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_all_schemas")
	defer timer.Stop()

	schema, err := h.gateway.AllSchemas(r.Context())
	if err != nil {
		h.failed(w, "all_schemas", "", err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// RefreshSchema drops the cached schema of one database. The next read
// recomputes it.
func (h *Handler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	db, err := pathParam(r, "db")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.gateway.InvalidateSchema(db); err != nil {
		h.failed(w, "refresh_schema", db, err)
		return
	}
	h.logger.Info("Schema cache invalidated", "db", db)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) failed(w http.ResponseWriter, operation, db string, err error) {
	h.metrics.IncrementCounter("handler_errors", "operation", operation)
	h.logger.Warn("Request failed", "operation", operation, "db", db, "error", err)
	writeError(w, err)
}
