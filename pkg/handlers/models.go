package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/models"
	"github.com/metriq-io/semantic-engine/pkg/services"
)

// SourceRefRequest is the wire form of a source reference. Exactly one arm
// is expected: schema+table, or transform_id.
type SourceRefRequest struct {
	Kind        string `json:"kind"`
	Schema      string `json:"schema"`
	Table       string `json:"table"`
	TransformID string `json:"transform_id"`
}

// toSourceRef converts the wire form into a domain reference. A malformed
// transform id is reported here; arm consistency is the service's job.
func (r SourceRefRequest) toSourceRef() (models.SourceRef, error) {
	ref := models.SourceRef{
		Kind:   models.SourceKind(r.Kind),
		Schema: r.Schema,
		Table:  r.Table,
	}
	if r.TransformID != "" {
		id, err := uuid.Parse(r.TransformID)
		if err != nil {
			return models.SourceRef{}, fmt.Errorf("invalid transform id %q", r.TransformID)
		}
		ref.TransformID = id
	}
	return ref, nil
}

// CreateModelRequest for POST /api/models.
type CreateModelRequest struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	ConnectionID string           `json:"connection_id"`
	Source       SourceRefRequest `json:"source"`
}

// UpdateModelRequest for PUT /api/models/{mid}. IsActive is a pointer so a
// missing field is distinguishable from an explicit deactivation.
type UpdateModelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

// AddMeasureRequest for POST /api/models/{mid}/measures.
type AddMeasureRequest struct {
	Name          string `json:"name"`
	ColumnName    string `json:"column_name"`
	Aggregation   string `json:"aggregation"`
	Description   string `json:"description"`
	DisplayFormat string `json:"display_format"`
}

// AddDimensionRequest for POST /api/models/{mid}/dimensions.
type AddDimensionRequest struct {
	Name          string `json:"name"`
	ColumnName    string `json:"column_name"`
	Description   string `json:"description"`
	DisplayFormat string `json:"display_format"`
}

// JoinConditionRequest is one equality condition of a join request.
type JoinConditionRequest struct {
	LeftColumn  string `json:"left_column"`
	RightColumn string `json:"right_column"`
}

// AddJoinRequest for POST /api/models/{mid}/joins. An empty alias asks the
// service to derive one from the target's name.
type AddJoinRequest struct {
	Target     SourceRefRequest       `json:"target"`
	Alias      string                 `json:"alias"`
	JoinType   string                 `json:"join_type"`
	Conditions []JoinConditionRequest `json:"conditions"`
}

// PreviewRequest for POST /api/models/{mid}/preview. IDs reference the
// model's own measures and dimensions; order controls output column order.
type PreviewRequest struct {
	MeasureIDs   []uuid.UUID `json:"measure_ids"`
	DimensionIDs []uuid.UUID `json:"dimension_ids"`
	Limit        int         `json:"limit"`
}

// ModelColumnResponse is one selectable column of a model's resolved
// namespace, qualified by the alias that provides it.
type ModelColumnResponse struct {
	SourceAlias string `json:"source_alias"`
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Nullable    bool   `json:"nullable"`
}

// ModelColumnsResponse wraps the namespace listing for the column pickers.
type ModelColumnsResponse struct {
	Columns  []ModelColumnResponse   `json:"columns"`
	Warnings []models.PreviewWarning `json:"warnings,omitempty"`
}

// ListModelsResponse wraps the model list for frontend compatibility.
type ListModelsResponse struct {
	Models []*models.SemanticModel `json:"models"`
}

// ModelsHandler handles semantic model HTTP requests.
type ModelsHandler struct {
	modelService   services.ModelService
	exportService  services.ExportService
	previewService services.PreviewService
	logger         *zap.Logger
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(
	modelService services.ModelService,
	exportService services.ExportService,
	previewService services.PreviewService,
	logger *zap.Logger,
) *ModelsHandler {
	return &ModelsHandler{
		modelService:   modelService,
		exportService:  exportService,
		previewService: previewService,
		logger:         logger,
	}
}

// RegisterRoutes registers the models handler's routes on the given mux.
func (h *ModelsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/models", h.Create)
	mux.HandleFunc("GET /api/models", h.List)
	mux.HandleFunc("GET /api/models/{mid}", h.Get)
	mux.HandleFunc("PUT /api/models/{mid}", h.Update)
	mux.HandleFunc("DELETE /api/models/{mid}", h.Delete)

	mux.HandleFunc("POST /api/models/{mid}/measures", h.AddMeasure)
	mux.HandleFunc("DELETE /api/models/{mid}/measures/{meid}", h.RemoveMeasure)
	mux.HandleFunc("POST /api/models/{mid}/dimensions", h.AddDimension)
	mux.HandleFunc("DELETE /api/models/{mid}/dimensions/{did}", h.RemoveDimension)
	mux.HandleFunc("POST /api/models/{mid}/joins", h.AddJoin)
	mux.HandleFunc("DELETE /api/models/{mid}/joins/{jid}", h.RemoveJoin)

	mux.HandleFunc("GET /api/models/{mid}/columns", h.Columns)
	mux.HandleFunc("GET /api/models/{mid}/export", h.Export)
	mux.HandleFunc("POST /api/models/{mid}/preview", h.Preview)
}

// Create handles POST /api/models
// Registers a new semantic model over a connection's table or transform.
func (h *ModelsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Model name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	connectionID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_connection_id", "Invalid connection ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	source, err := req.Source.toSourceRef()
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_transform_id", "Invalid transform ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	model, err := h.modelService.CreateModel(r.Context(), req.Name, req.Description, connectionID, source)
	if err != nil {
		writeServiceError(w, h.logger, err, "create model", zap.String("name", req.Name))
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/models
// Returns all models, optionally filtered by ?active=true|false.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	var activeOnly *bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_active_filter", "Active filter must be true or false"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		activeOnly = &v
	}

	list, err := h.modelService.ListModels(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, h.logger, err, "list models")
		return
	}

	if list == nil {
		list = make([]*models.SemanticModel, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ListModelsResponse{Models: list}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/models/{mid}
// Returns a single model with its measures, dimensions and joins.
func (h *ModelsHandler) Get(w http.ResponseWriter, r *http.Request) {
	modelID, ok := ParseModelID(w, r, h.logger)
	if !ok {
		return
	}

	model, err := h.modelService.GetModel(r.Context(), modelID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get model", zap.String("model_id", modelID.String()))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/models/{mid}
// Updates a model's name, description and active flag.
func (h *ModelsHandler) Update(w http.ResponseWriter, r *http.Request) {
	modelID, ok := ParseModelID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Model name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.IsActive == nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_is_active", "Active flag is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	model, err := h.modelService.UpdateModel(r.Context(), modelID, req.Name, req.Description, *req.IsActive)
	if err != nil {
		writeServiceError(w, h.logger, err, "update model", zap.String("model_id", modelID.String()))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/models/{mid}
func (h *ModelsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	modelID, ok := ParseModelID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.modelService.DeleteModel(r.Context(), modelID); err != nil {
		writeServiceError(w, h.logger, err, "delete model", zap.String("model_id", modelID.String()))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{
		"model_id": modelID.String(),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// AddMeasure handles POST /api/models/{mid}/measures
func (h *ModelsHandler) AddMeasure(w http.ResponseWriter, r *http.Request) {
	modelID, ok := ParseModelID(w, r, h.logger)
	if !ok {
		return
	}

	var req AddMeasureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Measure name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.ColumnName == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_column_name", "Measure column name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	aggregation := models.Aggregation(req.Aggregation)
	if !aggregation.Valid() {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_aggregation",
			"Aggregation must be one of sum, count, count_distinct, avg, min, max"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	model, err := h.modelService.AddMeasure(r.Context(), modelID, req.Name, req.ColumnName, aggregation, req.Description, req.DisplayFormat)
	if err != nil {
		writeServiceError(w, h.logger, err, "add measure",
			zap.String("model_id", modelID.String()),
			zap.String("name", req.Name))
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RemoveMeasure handles DELETE /api/models/{mid}/measures/{meid}
func (h *ModelsHandler) RemoveMeasure(w http.ResponseWriter, r *http.Request) {
	modelID, measureID, ok := ParseModelAndMeasureIDs(w, r, h.logger)
	if !ok {
		return
	}

	model, err := h.modelService.RemoveMeasure(r.Context(), modelID, measureID)
	if err != nil {
		writeServiceError(w, h.logger, err, "remove measure",
			zap.String("model_id", modelID.String()),
			zap.String("measure_id", measureID.String()))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// AddDimension handles POST /api/models/{mid}/dimensions
func (h *ModelsHandler) AddDimension(w http.ResponseWriter, r *http.Request) {
	modelID, ok := ParseModelID(w, r, h.logger)
	if !ok {
		return
	}

	var req AddDimensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Dimension name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.ColumnName == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_column_name", "Dimension column name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	model, err := h.modelService.AddDimension(r.Context(), modelID, req.Name, req.ColumnName, req.Description, req.DisplayFormat)
	if err != nil {
		writeServiceError(w, h.logger, err, "add dimension",
			zap.String("model_id", modelID.String()),
			zap.String("name", req.Name))
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RemoveDimension handles DELETE /api/models/{mid}/dimensions/{did}
func (h *ModelsHandler) RemoveDimension(w http.ResponseWriter, r *http.Request) {
	modelID, dimensionID, ok := ParseModelAndDimensionIDs(w, r, h.logger)
	if !ok {
		return
	}

	model, err := h.modelService.RemoveDimension(r.Context(), modelID, dimensionID)
	if err != nil {
		writeServiceError(w, h.logger, err, "remove dimension",
			zap.String("model_id", modelID.String()),
			zap.String("dimension_id", dimensionID.String()))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// AddJoin handles POST /api/models/{mid}/joins
// Joins are validated against the resolved plan before they are stored.
func (h *ModelsHandler) AddJoin(w http.ResponseWriter, r *http.Request) {
	modelID, ok := ParseModelID(w, r, h.logger)
	if !ok {
		return
	}

	var req AddJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	joinType := models.JoinType(req.JoinType)
	if !joinType.Valid() {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_join_type",
			"Join type must be one of left, inner, right, full"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	target, err := req.Target.toSourceRef()
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_transform_id", "Invalid transform ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	conditions := make([]models.JoinCondition, len(req.Conditions))
	for i, c := range req.Conditions {
		conditions[i] = models.JoinCondition{LeftColumn: c.LeftColumn, RightColumn: c.RightColumn}
	}

	model, err := h.modelService.AddJoin(r.Context(), modelID, target, req.Alias, joinType, conditions)
	if err != nil {
		writeServiceError(w, h.logger, err, "add join",
			zap.String("model_id", modelID.String()),
			zap.String("alias", req.Alias))
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RemoveJoin handles DELETE /api/models/{mid}/joins/{jid}
// Removal is rejected when a surviving join still references the removed
// join's alias.
func (h *ModelsHandler) RemoveJoin(w http.ResponseWriter, r *http.Request) {
	modelID, joinID, ok := ParseModelAndJoinIDs(w, r, h.logger)
	if !ok {
		return
	}

	model, err := h.modelService.RemoveJoin(r.Context(), modelID, joinID)
	if err != nil {
		writeServiceError(w, h.logger, err, "remove join",
			zap.String("model_id", modelID.String()),
			zap.String("join_id", joinID.String()))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: model}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Columns handles GET /api/models/{mid}/columns
// Returns the resolved merged namespace that drives the column pickers.
func (h *ModelsHandler) Columns(w http.ResponseWriter, r *http.Request) {
	modelID, ok := ParseModelID(w, r, h.logger)
	if !ok {
		return
	}

	cols, warnings, err := h.modelService.ModelColumns(r.Context(), modelID)
	if err != nil {
		writeServiceError(w, h.logger, err, "resolve model columns",
			zap.String("model_id", modelID.String()))
		return
	}

	data := ModelColumnsResponse{
		Columns:  make([]ModelColumnResponse, len(cols)),
		Warnings: warnings,
	}
	for i, col := range cols {
		data.Columns[i] = ModelColumnResponse{
			SourceAlias: col.Alias,
			Name:        col.Name,
			DataType:    col.DataType,
			Nullable:    col.Nullable,
		}
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Export handles GET /api/models/{mid}/export
// Returns the model definition as a YAML document, not the JSON envelope.
func (h *ModelsHandler) Export(w http.ResponseWriter, r *http.Request) {
	modelID, ok := ParseModelID(w, r, h.logger)
	if !ok {
		return
	}

	out, err := h.exportService.ExportModel(r.Context(), modelID)
	if err != nil {
		writeServiceError(w, h.logger, err, "export model",
			zap.String("model_id", modelID.String()))
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.logger.Error("Failed to write export response", zap.Error(err))
	}
}

// Preview handles POST /api/models/{mid}/preview
// Compiles and executes the selection. Warehouse-side failures are reported
// as success=false with HTTP 200 so the editor can render the reason inline.
func (h *ModelsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	modelID, ok := ParseModelID(w, r, h.logger)
	if !ok {
		return
	}

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.previewService.Preview(r.Context(), modelID, req.MeasureIDs, req.DimensionIDs, req.Limit)
	if err != nil {
		var execErr *apperrors.PreviewExecutionError
		if errors.As(err, &execErr) {
			if err := WriteJSON(w, http.StatusOK, ApiResponse{
				Success: false,
				Error:   &ApiError{Code: "preview_execution_failed", Message: execErr.Reason},
			}); err != nil {
				h.logger.Error("Failed to write response", zap.Error(err))
			}
			return
		}
		writeServiceError(w, h.logger, err, "run preview",
			zap.String("model_id", modelID.String()))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
