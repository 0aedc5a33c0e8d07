package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/TFMV/quarry/pkg/errors"
)

// maxRequestBody bounds the size of a query request body.
const maxRequestBody = 1 << 20

// Handler serves the gateway API.
type Handler struct {
	gateway Gateway
	logger  Logger
	metrics MetricsCollector
}

// New creates a Handler. A nil logger or metrics collector disables them.
func New(gateway Gateway, logger Logger, metrics MetricsCollector) *Handler {
	if logger == nil {
		logger = noopLogger{}
	}
	if metrics == nil {
		metrics = NewMetricsAdapter(nil)
	}
	return &Handler{gateway: gateway, logger: logger, metrics: metrics}
}

// Routes mounts the API routes on r. Authentication, when enabled, is
// applied by the caller around this group.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/databases", h.ListDatabases)
	r.Get("/api/databases/{db}/tables", h.ListTables)
	r.Get("/api/databases/{db}/tables/{table}/schema", h.TableSchema)
	r.Get("/api/databases/{db}/schema", h.DatabaseSchema)
	r.Post("/api/databases/{db}/schema/refresh", h.RefreshSchema)
	r.Get("/api/schema", h.AllSchemas)
	r.Post("/api/execute-query", h.ExecuteQuery)
}

type healthResponse struct {
	Status      string      `json:"status"`
	Databases   int         `json:"databases"`
	SchemaCache interface{} `json:"schema_cache"`
}

// Health reports liveness with the number of reachable databases.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Databases:   len(h.gateway.ListBackends()),
		SchemaCache: h.gateway.CacheStats(),
	})
}

// pathParam returns the unescaped URL parameter name.
func pathParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	v, err := url.PathUnescape(raw)
	if err != nil || v == "" {
		return "", errors.Newf(errors.CodeInvalidRequest, "invalid path parameter %s", name)
	}
	return v, nil
}
