package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/models"
	"github.com/metriq-io/semantic-engine/pkg/repositories"
	"github.com/metriq-io/semantic-engine/pkg/semantic"
	"github.com/metriq-io/semantic-engine/pkg/sql"
)

// ModelService is the semantic model registry: authoritative CRUD and
// invariant enforcement for models and their measures, dimensions and joins.
// All definition mutations validate against the resolved column namespace
// before anything is written, so a failed call leaves the model unchanged.
// Mutating calls return the full updated model.
type ModelService interface {
	CreateModel(ctx context.Context, name, description string, connectionID uuid.UUID, source models.SourceRef) (*models.SemanticModel, error)
	GetModel(ctx context.Context, id uuid.UUID) (*models.SemanticModel, error)
	ListModels(ctx context.Context, activeOnly *bool) ([]*models.SemanticModel, error)
	UpdateModel(ctx context.Context, id uuid.UUID, name, description string, isActive bool) (*models.SemanticModel, error)
	DeleteModel(ctx context.Context, id uuid.UUID) error

	AddMeasure(ctx context.Context, modelID uuid.UUID, name, columnName string, aggregation models.Aggregation, description, displayFormat string) (*models.SemanticModel, error)
	RemoveMeasure(ctx context.Context, modelID, measureID uuid.UUID) (*models.SemanticModel, error)
	AddDimension(ctx context.Context, modelID uuid.UUID, name, columnName, description, displayFormat string) (*models.SemanticModel, error)
	RemoveDimension(ctx context.Context, modelID, dimensionID uuid.UUID) (*models.SemanticModel, error)
	AddJoin(ctx context.Context, modelID uuid.UUID, target models.SourceRef, alias string, joinType models.JoinType, conditions []models.JoinCondition) (*models.SemanticModel, error)
	RemoveJoin(ctx context.Context, modelID, joinID uuid.UUID) (*models.SemanticModel, error)

	// ModelColumns returns the resolved merged column namespace of a model,
	// plus any resolution warnings.
	ModelColumns(ctx context.Context, modelID uuid.UUID) ([]semantic.ColumnRef, []models.PreviewWarning, error)
}

type modelService struct {
	repo        repositories.ModelRepository
	connections ConnectionService
	catalog     CatalogService
	resolver    ResolverService
	logger      *zap.Logger
}

// NewModelService creates a new model service.
func NewModelService(
	repo repositories.ModelRepository,
	connections ConnectionService,
	catalog CatalogService,
	resolver ResolverService,
	logger *zap.Logger,
) ModelService {
	return &modelService{
		repo:        repo,
		connections: connections,
		catalog:     catalog,
		resolver:    resolver,
		logger:      logger,
	}
}

// CreateModel creates a model with empty definition collections. The source
// is immutable after creation.
func (s *modelService) CreateModel(ctx context.Context, name, description string, connectionID uuid.UUID, source models.SourceRef) (*models.SemanticModel, error) {
	if name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if err := screenIdentifiers(
		sql.Identifier{Field: "name", Value: name},
		sql.Identifier{Field: "schema", Value: source.Schema},
		sql.Identifier{Field: "table", Value: source.Table},
	); err != nil {
		return nil, err
	}
	if err := source.Validate(); err != nil {
		return nil, err
	}

	// The connection must exist before a model can reference it. The config
	// decrypts as a side effect, surfacing key mismatches at creation time
	// instead of on the first preview.
	if _, err := s.connections.Get(ctx, connectionID); err != nil {
		return nil, err
	}

	model := &models.SemanticModel{
		Name:         name,
		Description:  description,
		ConnectionID: connectionID,
		Source:       source,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, model); err != nil {
		return nil, err
	}

	s.logger.Info("Created semantic model",
		zap.String("model_id", model.ID.String()),
		zap.String("name", model.Name),
		zap.String("source_kind", string(source.Kind)))
	return model, nil
}

// GetModel retrieves a model with all children.
func (s *modelService) GetModel(ctx context.Context, id uuid.UUID) (*models.SemanticModel, error) {
	return s.repo.GetByID(ctx, id)
}

// ListModels retrieves all models, optionally filtered by active state.
func (s *modelService) ListModels(ctx context.Context, activeOnly *bool) ([]*models.SemanticModel, error) {
	return s.repo.List(ctx, activeOnly)
}

// UpdateModel modifies the mutable model fields. The source has no update
// path.
func (s *modelService) UpdateModel(ctx context.Context, id uuid.UUID, name, description string, isActive bool) (*models.SemanticModel, error) {
	if name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if err := screenIdentifiers(sql.Identifier{Field: "name", Value: name}); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, id, name, description, isActive); err != nil {
		return nil, err
	}

	s.logger.Info("Updated semantic model",
		zap.String("model_id", id.String()),
		zap.String("name", name),
		zap.Bool("is_active", isActive))
	return s.repo.GetByID(ctx, id)
}

// DeleteModel removes a model and all its children.
func (s *modelService) DeleteModel(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted semantic model", zap.String("model_id", id.String()))
	return nil
}

// AddMeasure validates and appends a measure, returning the updated model.
func (s *modelService) AddMeasure(ctx context.Context, modelID uuid.UUID, name, columnName string, aggregation models.Aggregation, description, displayFormat string) (*models.SemanticModel, error) {
	model, err := s.repo.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}

	if name == "" {
		return nil, fmt.Errorf("measure name is required")
	}
	if columnName == "" {
		return nil, fmt.Errorf("measure column name is required")
	}
	if !aggregation.Valid() {
		return nil, fmt.Errorf("unsupported aggregation %q", aggregation)
	}
	if err := screenIdentifiers(
		sql.Identifier{Field: "name", Value: name},
		sql.Identifier{Field: "column_name", Value: columnName},
	); err != nil {
		return nil, err
	}
	if model.HasMeasureName(name) {
		return nil, fmt.Errorf("a measure named %q already exists on this model: %w", name, apperrors.ErrDuplicateName)
	}
	if err := s.resolveColumn(ctx, model, "measure", name, columnName); err != nil {
		return nil, err
	}

	measure := &models.Measure{
		ModelID:       modelID,
		Name:          name,
		ColumnName:    columnName,
		Aggregation:   aggregation,
		Expression:    models.DeriveExpression(columnName, aggregation),
		Description:   description,
		DisplayFormat: displayFormat,
	}
	if err := s.repo.AddMeasure(ctx, measure); err != nil {
		return nil, err
	}

	s.logger.Info("Added measure",
		zap.String("model_id", modelID.String()),
		zap.String("name", name),
		zap.String("aggregation", string(aggregation)))
	return s.repo.GetByID(ctx, modelID)
}

// RemoveMeasure deletes a measure, returning the updated model.
func (s *modelService) RemoveMeasure(ctx context.Context, modelID, measureID uuid.UUID) (*models.SemanticModel, error) {
	model, err := s.repo.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if model.MeasureByID(measureID) == nil {
		return nil, fmt.Errorf("measure %s: %w", measureID, apperrors.ErrNotFound)
	}

	if err := s.repo.RemoveMeasure(ctx, modelID, measureID); err != nil {
		return nil, err
	}

	s.logger.Info("Removed measure",
		zap.String("model_id", modelID.String()),
		zap.String("measure_id", measureID.String()))
	return s.repo.GetByID(ctx, modelID)
}

// AddDimension validates and appends a dimension, returning the updated model.
func (s *modelService) AddDimension(ctx context.Context, modelID uuid.UUID, name, columnName, description, displayFormat string) (*models.SemanticModel, error) {
	model, err := s.repo.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}

	if name == "" {
		return nil, fmt.Errorf("dimension name is required")
	}
	if columnName == "" {
		return nil, fmt.Errorf("dimension column name is required")
	}
	if err := screenIdentifiers(
		sql.Identifier{Field: "name", Value: name},
		sql.Identifier{Field: "column_name", Value: columnName},
	); err != nil {
		return nil, err
	}
	if model.HasDimensionName(name) {
		return nil, fmt.Errorf("a dimension named %q already exists on this model: %w", name, apperrors.ErrDuplicateName)
	}
	if err := s.resolveColumn(ctx, model, "dimension", name, columnName); err != nil {
		return nil, err
	}

	dimension := &models.Dimension{
		ModelID:       modelID,
		Name:          name,
		ColumnName:    columnName,
		Description:   description,
		DisplayFormat: displayFormat,
	}
	if err := s.repo.AddDimension(ctx, dimension); err != nil {
		return nil, err
	}

	s.logger.Info("Added dimension",
		zap.String("model_id", modelID.String()),
		zap.String("name", name))
	return s.repo.GetByID(ctx, modelID)
}

// RemoveDimension deletes a dimension, returning the updated model.
func (s *modelService) RemoveDimension(ctx context.Context, modelID, dimensionID uuid.UUID) (*models.SemanticModel, error) {
	model, err := s.repo.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if model.DimensionByID(dimensionID) == nil {
		return nil, fmt.Errorf("dimension %s: %w", dimensionID, apperrors.ErrNotFound)
	}

	if err := s.repo.RemoveDimension(ctx, modelID, dimensionID); err != nil {
		return nil, err
	}

	s.logger.Info("Removed dimension",
		zap.String("model_id", modelID.String()),
		zap.String("dimension_id", dimensionID.String()))
	return s.repo.GetByID(ctx, modelID)
}

// AddJoin validates and appends a join, returning the updated model. An empty
// alias defaults to the singularized target name. On any validation failure
// the model is unchanged.
func (s *modelService) AddJoin(ctx context.Context, modelID uuid.UUID, target models.SourceRef, alias string, joinType models.JoinType, conditions []models.JoinCondition) (*models.SemanticModel, error) {
	model, err := s.repo.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}

	if !joinType.Valid() {
		return nil, fmt.Errorf("unsupported join type %q", joinType)
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	idents := []sql.Identifier{
		{Field: "alias", Value: alias},
		{Field: "schema", Value: target.Schema},
		{Field: "table", Value: target.Table},
	}
	for _, c := range conditions {
		idents = append(idents,
			sql.Identifier{Field: "left_column", Value: c.LeftColumn},
			sql.Identifier{Field: "right_column", Value: c.RightColumn},
		)
	}
	if err := screenIdentifiers(idents...); err != nil {
		return nil, err
	}

	if alias == "" {
		alias, err = s.catalog.DefaultAlias(ctx, target)
		if err != nil {
			return nil, err
		}
	}
	if alias == semantic.BaseAlias {
		return nil, fmt.Errorf("join alias %q is reserved for the base relation: %w", semantic.BaseAlias, apperrors.ErrCyclicOrDuplicateAlias)
	}
	if model.HasJoinAlias(alias) {
		return nil, fmt.Errorf("join alias %q is already used on this model: %w", alias, apperrors.ErrCyclicOrDuplicateAlias)
	}

	conn, err := s.connections.Get(ctx, model.ConnectionID)
	if err != nil {
		return nil, err
	}
	candidate := models.Join{
		ModelID:    modelID,
		Target:     target,
		Alias:      alias,
		JoinType:   joinType,
		Conditions: conditions,
	}
	if err := s.resolver.ValidateJoin(ctx, conn, model, candidate); err != nil {
		return nil, err
	}

	if err := s.repo.AddJoin(ctx, &candidate); err != nil {
		return nil, err
	}

	s.logger.Info("Added join",
		zap.String("model_id", modelID.String()),
		zap.String("alias", alias),
		zap.String("join_type", string(joinType)))
	return s.repo.GetByID(ctx, modelID)
}

// RemoveJoin deletes a join after checking that the surviving joins still
// resolve, returning the updated model.
func (s *modelService) RemoveJoin(ctx context.Context, modelID, joinID uuid.UUID) (*models.SemanticModel, error) {
	model, err := s.repo.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if model.JoinByID(joinID) == nil {
		return nil, fmt.Errorf("join %s: %w", joinID, apperrors.ErrNotFound)
	}

	conn, err := s.connections.Get(ctx, model.ConnectionID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.ValidateRemoval(ctx, conn, model, joinID); err != nil {
		return nil, err
	}

	if err := s.repo.RemoveJoin(ctx, modelID, joinID); err != nil {
		return nil, err
	}

	s.logger.Info("Removed join",
		zap.String("model_id", modelID.String()),
		zap.String("join_id", joinID.String()))
	return s.repo.GetByID(ctx, modelID)
}

// ModelColumns returns the resolved merged column namespace of a model.
func (s *modelService) ModelColumns(ctx context.Context, modelID uuid.UUID) ([]semantic.ColumnRef, []models.PreviewWarning, error) {
	model, err := s.repo.GetByID(ctx, modelID)
	if err != nil {
		return nil, nil, err
	}
	conn, err := s.connections.Get(ctx, model.ConnectionID)
	if err != nil {
		return nil, nil, err
	}
	plan, err := s.resolver.Resolve(ctx, conn, model)
	if err != nil {
		return nil, nil, err
	}
	return plan.Namespace.Columns(), plan.Warnings, nil
}

// resolveColumn checks that a measure or dimension column exists in the
// model's merged namespace.
func (s *modelService) resolveColumn(ctx context.Context, model *models.SemanticModel, kind, name, columnName string) error {
	conn, err := s.connections.Get(ctx, model.ConnectionID)
	if err != nil {
		return err
	}
	plan, err := s.resolver.Resolve(ctx, conn, model)
	if err != nil {
		return err
	}
	if _, _, ok := plan.Namespace.Resolve(columnName); !ok {
		return fmt.Errorf("%s %q: column %q is not provided by the base source or any join: %w",
			kind, name, columnName, apperrors.ErrUnknownColumn)
	}
	return nil
}

// screenIdentifiers rejects user-supplied names that fingerprint as SQL
// injection payloads before they enter the registry.
func screenIdentifiers(idents ...sql.Identifier) error {
	if res := sql.CheckIdentifiers(idents...); res != nil {
		return fmt.Errorf("%s %q matches a SQL injection fingerprint (%s): %w",
			res.Field, res.Value, res.Fingerprint, apperrors.ErrUnsafeIdentifier)
	}
	return nil
}

// Ensure modelService implements ModelService at compile time.
var _ ModelService = (*modelService)(nil)
