package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
	"github.com/metriq-io/semantic-engine/pkg/models"
	"github.com/metriq-io/semantic-engine/pkg/semantic"
)

// apiEnvelope mirrors ApiResponse with a raw Data payload so tests can
// decode the envelope first and the data second.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ApiError       `json:"error"`
}

// decodeEnvelope parses a response body into the envelope.
func decodeEnvelope(t *testing.T, body []byte) apiEnvelope {
	t.Helper()
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("failed to parse response envelope: %v", err)
	}
	return env
}

// decodeError parses a response body and requires a failed envelope.
func decodeError(t *testing.T, body []byte) ApiError {
	t.Helper()
	env := decodeEnvelope(t, body)
	if env.Success {
		t.Fatal("expected success=false envelope")
	}
	if env.Error == nil {
		t.Fatal("expected error payload, got none")
	}
	return *env.Error
}

// testModel builds a populated model for canned responses.
func testModel(id uuid.UUID) *models.SemanticModel {
	now := time.Now()
	return &models.SemanticModel{
		ID:           id,
		Name:         "orders analysis",
		ConnectionID: uuid.New(),
		Source:       models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "orders"},
		IsActive:     true,
		Version:      1,
		Measures:     []models.Measure{},
		Dimensions:   []models.Dimension{},
		Joins:        []models.Join{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// mockModelService is a configurable mock for model handler tests.
type mockModelService struct {
	model    *models.SemanticModel
	list     []*models.SemanticModel
	columns  []semantic.ColumnRef
	warnings []models.PreviewWarning
	err      error
}

func (m *mockModelService) CreateModel(ctx context.Context, name, description string, connectionID uuid.UUID, source models.SourceRef) (*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.model != nil {
		return m.model, nil
	}
	model := testModel(uuid.New())
	model.Name = name
	model.Description = description
	model.ConnectionID = connectionID
	model.Source = source
	return model, nil
}

func (m *mockModelService) GetModel(ctx context.Context, id uuid.UUID) (*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.model != nil {
		return m.model, nil
	}
	return testModel(id), nil
}

func (m *mockModelService) ListModels(ctx context.Context, activeOnly *bool) ([]*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.list, nil
}

func (m *mockModelService) UpdateModel(ctx context.Context, id uuid.UUID, name, description string, isActive bool) (*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.model != nil {
		return m.model, nil
	}
	model := testModel(id)
	model.Name = name
	model.Description = description
	model.IsActive = isActive
	model.Version = 2
	return model, nil
}

func (m *mockModelService) DeleteModel(ctx context.Context, id uuid.UUID) error {
	return m.err
}

func (m *mockModelService) AddMeasure(ctx context.Context, modelID uuid.UUID, name, columnName string, aggregation models.Aggregation, description, displayFormat string) (*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.model != nil {
		return m.model, nil
	}
	model := testModel(modelID)
	model.Measures = []models.Measure{{
		ID:          uuid.New(),
		Name:        name,
		ColumnName:  columnName,
		Aggregation: aggregation,
		Expression:  models.DeriveExpression(columnName, aggregation),
	}}
	model.Version = 2
	return model, nil
}

func (m *mockModelService) RemoveMeasure(ctx context.Context, modelID, measureID uuid.UUID) (*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.model != nil {
		return m.model, nil
	}
	return testModel(modelID), nil
}

func (m *mockModelService) AddDimension(ctx context.Context, modelID uuid.UUID, name, columnName, description, displayFormat string) (*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.model != nil {
		return m.model, nil
	}
	model := testModel(modelID)
	model.Dimensions = []models.Dimension{{
		ID:         uuid.New(),
		Name:       name,
		ColumnName: columnName,
	}}
	model.Version = 2
	return model, nil
}

func (m *mockModelService) RemoveDimension(ctx context.Context, modelID, dimensionID uuid.UUID) (*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.model != nil {
		return m.model, nil
	}
	return testModel(modelID), nil
}

func (m *mockModelService) AddJoin(ctx context.Context, modelID uuid.UUID, target models.SourceRef, alias string, joinType models.JoinType, conditions []models.JoinCondition) (*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.model != nil {
		return m.model, nil
	}
	model := testModel(modelID)
	model.Joins = []models.Join{{
		ID:         uuid.New(),
		Target:     target,
		Alias:      alias,
		JoinType:   joinType,
		Conditions: conditions,
	}}
	model.Version = 2
	return model, nil
}

func (m *mockModelService) RemoveJoin(ctx context.Context, modelID, joinID uuid.UUID) (*models.SemanticModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.model != nil {
		return m.model, nil
	}
	return testModel(modelID), nil
}

func (m *mockModelService) ModelColumns(ctx context.Context, modelID uuid.UUID) ([]semantic.ColumnRef, []models.PreviewWarning, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.columns, m.warnings, nil
}

// mockExportService is a configurable mock for export handler tests.
type mockExportService struct {
	out []byte
	err error
}

func (m *mockExportService) ExportModel(ctx context.Context, modelID uuid.UUID) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.out != nil {
		return m.out, nil
	}
	return []byte("model:\n  name: orders analysis\n"), nil
}

// mockPreviewService is a configurable mock for preview handler tests.
type mockPreviewService struct {
	result *models.PreviewResult
	err    error
}

func (m *mockPreviewService) Preview(ctx context.Context, modelID uuid.UUID, measureIDs, dimensionIDs []uuid.UUID, limit int) (*models.PreviewResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &models.PreviewResult{
		Columns:      []models.PreviewColumn{},
		Rows:         []map[string]any{},
		SQLGenerated: "SELECT 1",
	}, nil
}

// mockHandlerConnectionService is a configurable mock for source picker tests.
type mockHandlerConnectionService struct {
	conn  *models.Connection
	conns []*models.Connection
	err   error
}

func (m *mockHandlerConnectionService) Get(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.conn != nil {
		return m.conn, nil
	}
	return &models.Connection{
		ID:             id,
		Name:           "warehouse",
		ConnectionType: "postgres",
		Config:         map[string]any{"host": "localhost"},
		Status:         "ready",
	}, nil
}

func (m *mockHandlerConnectionService) List(ctx context.Context) ([]*models.Connection, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.conns, nil
}

func (m *mockHandlerConnectionService) TestConnection(ctx context.Context, id uuid.UUID) error {
	return m.err
}

// mockHandlerCatalogService is a configurable mock for source picker tests.
type mockHandlerCatalogService struct {
	relation   semantic.Relation
	columns    []semantic.Column
	alias      string
	tables     []warehouse.Table
	transforms []*models.Transform
	err        error
}

func (m *mockHandlerCatalogService) SourceColumns(ctx context.Context, conn *models.Connection, source models.SourceRef) (semantic.Relation, []semantic.Column, error) {
	if m.err != nil {
		return semantic.Relation{}, nil, m.err
	}
	return m.relation, m.columns, nil
}

func (m *mockHandlerCatalogService) DefaultAlias(ctx context.Context, source models.SourceRef) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.alias, nil
}

func (m *mockHandlerCatalogService) ListTables(ctx context.Context, conn *models.Connection) ([]warehouse.Table, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tables, nil
}

func (m *mockHandlerCatalogService) ListTransforms(ctx context.Context) ([]*models.Transform, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.transforms, nil
}
