package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/models"
	"github.com/metriq-io/semantic-engine/pkg/services"
)

// ListConnectionsResponse wraps connection summaries. Configs never appear:
// the Connection type does not serialize them.
type ListConnectionsResponse struct {
	Connections []*models.Connection `json:"connections"`
}

// TestConnectionResponse for a successful dial check.
type TestConnectionResponse struct {
	Message string `json:"message"`
}

// ListTablesResponse wraps a connection's visible user tables.
type ListTablesResponse struct {
	Tables []warehouse.Table `json:"tables"`
}

// ListTransformsResponse wraps transform summaries with output columns.
type ListTransformsResponse struct {
	Transforms []*models.Transform `json:"transforms"`
}

// SourcesHandler serves the read-only source pickers: connections, their
// tables, and transforms. The engine never writes these rows.
type SourcesHandler struct {
	connectionService services.ConnectionService
	catalogService    services.CatalogService
	logger            *zap.Logger
}

// NewSourcesHandler creates a new sources handler.
func NewSourcesHandler(
	connectionService services.ConnectionService,
	catalogService services.CatalogService,
	logger *zap.Logger,
) *SourcesHandler {
	return &SourcesHandler{
		connectionService: connectionService,
		catalogService:    catalogService,
		logger:            logger,
	}
}

// RegisterRoutes registers the sources handler's routes on the given mux.
func (h *SourcesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/connections", h.ListConnections)
	mux.HandleFunc("POST /api/connections/{cid}/test", h.TestConnection)
	mux.HandleFunc("GET /api/connections/{cid}/tables", h.ListTables)
	mux.HandleFunc("GET /api/transforms", h.ListTransforms)
}

// ListConnections handles GET /api/connections
// Returns connection summaries without configs.
func (h *SourcesHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connectionService.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list connections")
		return
	}

	if conns == nil {
		conns = make([]*models.Connection, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ListConnectionsResponse{Connections: conns}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// TestConnection handles POST /api/connections/{cid}/test
// Dials the warehouse with the stored credentials. An unreachable warehouse
// is reported as success=false with HTTP 200, like a failed preview.
func (h *SourcesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	connectionID, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.connectionService.TestConnection(r.Context(), connectionID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrCredentialsKeyMismatch) {
			writeServiceError(w, h.logger, err, "test connection",
				zap.String("connection_id", connectionID.String()))
			return
		}
		h.logger.Info("Connection test failed",
			zap.String("connection_id", connectionID.String()),
			zap.Error(err))
		if err := WriteJSON(w, http.StatusOK, ApiResponse{
			Success: false,
			Error:   &ApiError{Code: "connection_failed", Message: err.Error()},
		}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: TestConnectionResponse{Message: "Connection successful"}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListTables handles GET /api/connections/{cid}/tables
// Lists the user tables visible on a connection for the base-table picker.
func (h *SourcesHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	connectionID, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	conn, err := h.connectionService.Get(r.Context(), connectionID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list tables",
			zap.String("connection_id", connectionID.String()))
		return
	}

	tables, err := h.catalogService.ListTables(r.Context(), conn)
	if err != nil {
		writeServiceError(w, h.logger, err, "list tables",
			zap.String("connection_id", connectionID.String()))
		return
	}

	if tables == nil {
		tables = make([]warehouse.Table, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ListTablesResponse{Tables: tables}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListTransforms handles GET /api/transforms
// Lists transforms usable as virtual tables, including their output columns.
func (h *SourcesHandler) ListTransforms(w http.ResponseWriter, r *http.Request) {
	transforms, err := h.catalogService.ListTransforms(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list transforms")
		return
	}

	if transforms == nil {
		transforms = make([]*models.Transform, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ListTransformsResponse{Transforms: transforms}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
