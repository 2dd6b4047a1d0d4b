package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/config"
	"github.com/metriq-io/semantic-engine/pkg/models"
	"github.com/metriq-io/semantic-engine/pkg/repositories"
	"github.com/metriq-io/semantic-engine/pkg/semantic"
)

// PreviewService compiles and executes bounded previews of a model selection.
// A preview is a pure function of (model snapshot, measure ids, dimension
// ids, limit): the same inputs compile to byte-identical SQL, which makes the
// compiled statement cacheable per model version. Execution is a single
// attempt; runner failures are reported, never retried.
type PreviewService interface {
	// Preview runs the selection against the model's warehouse connection
	// and returns shaped rows.
	Preview(ctx context.Context, modelID uuid.UUID, measureIDs, dimensionIDs []uuid.UUID, limit int) (*models.PreviewResult, error)
}

type previewService struct {
	modelRepo      repositories.ModelRepository
	connections    ConnectionService
	resolver       ResolverService
	adapterFactory warehouse.AdapterFactory
	cache          *compileCache
	cfg            *config.PreviewConfig
	logger         *zap.Logger
}

// NewPreviewService creates a new preview service.
func NewPreviewService(
	modelRepo repositories.ModelRepository,
	connections ConnectionService,
	resolver ResolverService,
	adapterFactory warehouse.AdapterFactory,
	cfg *config.PreviewConfig,
	logger *zap.Logger,
) PreviewService {
	return &previewService{
		modelRepo:      modelRepo,
		connections:    connections,
		resolver:       resolver,
		adapterFactory: adapterFactory,
		cache:          newCompileCache(cfg.CacheSize),
		cfg:            cfg,
		logger:         logger,
	}
}

// Preview runs the selection against the model's warehouse connection.
func (s *previewService) Preview(ctx context.Context, modelID uuid.UUID, measureIDs, dimensionIDs []uuid.UUID, limit int) (*models.PreviewResult, error) {
	model, err := s.modelRepo.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}

	if len(measureIDs) == 0 && len(dimensionIDs) == 0 {
		return nil, fmt.Errorf("select at least one measure or dimension: %w", apperrors.ErrEmptySelection)
	}
	sel, err := buildSelection(model, measureIDs, dimensionIDs)
	if err != nil {
		return nil, err
	}

	// Clamp the row bound before it becomes part of the statement.
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > warehouse.MaxQueryLimit {
		limit = warehouse.MaxQueryLimit
	}

	conn, err := s.connections.Get(ctx, model.ConnectionID)
	if err != nil {
		return nil, err
	}
	dialect, err := semantic.DialectFor(conn.ConnectionType)
	if err != nil {
		return nil, err
	}

	key := compileCacheKey(model.ID, model.Version, dialect.Name, measureIDs, dimensionIDs, limit)
	q, ok := s.cache.get(key)
	if !ok {
		plan, err := s.resolver.Resolve(ctx, conn, model)
		if err != nil {
			return nil, err
		}
		q, err = semantic.Compile(dialect, plan, sel, limit)
		if err != nil {
			return nil, err
		}
		// Plan warnings (join-time ambiguities) precede selection warnings.
		if len(plan.Warnings) > 0 {
			q.Warnings = append(append([]models.PreviewWarning{}, plan.Warnings...), q.Warnings...)
		}
		s.cache.put(key, q)
	}

	runner, err := s.adapterFactory.NewQueryRunner(ctx, conn.ConnectionType, conn.Config, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create query runner: %w", err)
	}
	defer runner.Close()

	qctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	start := time.Now()
	res, err := runner.Query(qctx, q.SQL, limit)
	elapsed := time.Since(start)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || qctx.Err() == context.DeadlineExceeded {
			reason = "timeout"
		}
		s.logger.Warn("Preview execution failed",
			zap.String("model_id", modelID.String()),
			zap.String("reason", reason),
			zap.Int64("duration_ms", elapsed.Milliseconds()))
		return nil, apperrors.NewPreviewExecutionError(reason)
	}

	// The cached query is shared; overlay runner-reported measure types on a
	// copy. Dimension types come from the catalog at compile time.
	cols := make([]models.PreviewColumn, len(q.Columns))
	copy(cols, q.Columns)
	for i := range cols {
		if cols[i].Type == "" && i < len(res.Columns) {
			cols[i].Type = res.Columns[i].Type
		}
	}

	result := &models.PreviewResult{
		Columns:         cols,
		Rows:            res.Rows,
		TotalRows:       len(res.Rows),
		SQLGenerated:    q.SQL,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Warnings:        q.Warnings,
	}

	s.logger.Info("Executed preview",
		zap.String("model_id", modelID.String()),
		zap.Int("total_rows", result.TotalRows),
		zap.Int64("duration_ms", result.ExecutionTimeMs))
	return result, nil
}

// buildSelection maps selected ids to the model's children, preserving caller
// order. Ids that are not part of the model fail the preview.
func buildSelection(model *models.SemanticModel, measureIDs, dimensionIDs []uuid.UUID) (semantic.Selection, error) {
	sel := semantic.Selection{
		Measures:   make([]models.Measure, 0, len(measureIDs)),
		Dimensions: make([]models.Dimension, 0, len(dimensionIDs)),
	}
	for _, id := range measureIDs {
		m := model.MeasureByID(id)
		if m == nil {
			return semantic.Selection{}, fmt.Errorf("measure %s is not part of model %q: %w", id, model.Name, apperrors.ErrNotFound)
		}
		sel.Measures = append(sel.Measures, *m)
	}
	for _, id := range dimensionIDs {
		d := model.DimensionByID(id)
		if d == nil {
			return semantic.Selection{}, fmt.Errorf("dimension %s is not part of model %q: %w", id, model.Name, apperrors.ErrNotFound)
		}
		sel.Dimensions = append(sel.Dimensions, *d)
	}
	return sel, nil
}

// Ensure previewService implements PreviewService at compile time.
var _ PreviewService = (*previewService)(nil)
