package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/models"
	"github.com/metriq-io/semantic-engine/pkg/semantic"
)

// ResolverService turns a model into a validated join plan by fetching the
// column namespace of every involved relation through the catalog. Provider
// errors surface as-is and are never retried.
type ResolverService interface {
	// Resolve builds the join plan for a model's current joins.
	Resolve(ctx context.Context, conn *models.Connection, model *models.SemanticModel) (*semantic.JoinPlan, error)

	// ValidateJoin checks a candidate join against the model's existing
	// plan without persisting anything.
	ValidateJoin(ctx context.Context, conn *models.Connection, model *models.SemanticModel, candidate models.Join) error

	// ValidateRemoval checks that the plan formed by the surviving joins
	// still resolves once the given join is removed.
	ValidateRemoval(ctx context.Context, conn *models.Connection, model *models.SemanticModel, removeID uuid.UUID) error
}

type resolverService struct {
	catalog CatalogService
	logger  *zap.Logger
}

// NewResolverService creates a new resolver service.
func NewResolverService(catalog CatalogService, logger *zap.Logger) ResolverService {
	return &resolverService{
		catalog: catalog,
		logger:  logger,
	}
}

// Resolve builds the join plan for a model's current joins.
func (s *resolverService) Resolve(ctx context.Context, conn *models.Connection, model *models.SemanticModel) (*semantic.JoinPlan, error) {
	fetcher := newColumnFetcher(s.catalog, conn)
	in, err := s.planInput(ctx, fetcher, model, model.Joins)
	if err != nil {
		return nil, err
	}
	return semantic.BuildPlan(in)
}

// ValidateJoin checks a candidate join against the model's existing plan.
func (s *resolverService) ValidateJoin(ctx context.Context, conn *models.Connection, model *models.SemanticModel, candidate models.Join) error {
	fetcher := newColumnFetcher(s.catalog, conn)
	in, err := s.planInput(ctx, fetcher, model, model.Joins)
	if err != nil {
		return err
	}

	rel, cols, err := fetcher.fetch(ctx, candidate.Target)
	if err != nil {
		return err
	}
	return semantic.ValidateJoin(in, semantic.JoinInput{
		Alias:      candidate.Alias,
		Relation:   rel,
		JoinType:   candidate.JoinType,
		Conditions: candidate.Conditions,
		Columns:    cols,
	})
}

// ValidateRemoval checks the plan formed by the surviving joins.
func (s *resolverService) ValidateRemoval(ctx context.Context, conn *models.Connection, model *models.SemanticModel, removeID uuid.UUID) error {
	var removed *models.Join
	remaining := make([]models.Join, 0, len(model.Joins))
	for i := range model.Joins {
		if model.Joins[i].ID == removeID {
			removed = &model.Joins[i]
			continue
		}
		remaining = append(remaining, model.Joins[i])
	}
	if removed == nil {
		return fmt.Errorf("join %s: %w", removeID, apperrors.ErrNotFound)
	}

	fetcher := newColumnFetcher(s.catalog, conn)
	in, err := s.planInput(ctx, fetcher, model, remaining)
	if err != nil {
		return err
	}
	if _, err := semantic.BuildPlan(in); err != nil {
		return fmt.Errorf("cannot remove join %q: %v: %w", removed.Alias, err, apperrors.ErrUnresolvedLeftColumn)
	}
	return nil
}

// planInput assembles the planner input by resolving the base source and the
// given joins through the shared fetcher.
func (s *resolverService) planInput(ctx context.Context, fetcher *columnFetcher, model *models.SemanticModel, joins []models.Join) (semantic.PlanInput, error) {
	baseRel, baseCols, err := fetcher.fetch(ctx, model.Source)
	if err != nil {
		return semantic.PlanInput{}, err
	}

	in := semantic.PlanInput{
		Base:        baseRel,
		BaseColumns: baseCols,
		Joins:       make([]semantic.JoinInput, 0, len(joins)),
	}
	for _, j := range joins {
		rel, cols, err := fetcher.fetch(ctx, j.Target)
		if err != nil {
			return semantic.PlanInput{}, err
		}
		in.Joins = append(in.Joins, semantic.JoinInput{
			Alias:      j.Alias,
			Relation:   rel,
			JoinType:   j.JoinType,
			Conditions: j.Conditions,
			Columns:    cols,
		})
	}
	return in, nil
}

// columnFetcher memoizes catalog lookups within a single resolution so that a
// relation referenced more than once is fetched once. Fetchers are per-call
// and never shared across requests.
type columnFetcher struct {
	catalog CatalogService
	conn    *models.Connection
	cache   map[string]fetchedSource
}

type fetchedSource struct {
	relation semantic.Relation
	columns  []semantic.Column
}

func newColumnFetcher(catalog CatalogService, conn *models.Connection) *columnFetcher {
	return &columnFetcher{
		catalog: catalog,
		conn:    conn,
		cache:   make(map[string]fetchedSource),
	}
}

func (f *columnFetcher) fetch(ctx context.Context, source models.SourceRef) (semantic.Relation, []semantic.Column, error) {
	key := sourceKey(source)
	if hit, ok := f.cache[key]; ok {
		return hit.relation, hit.columns, nil
	}

	rel, cols, err := f.catalog.SourceColumns(ctx, f.conn, source)
	if err != nil {
		return semantic.Relation{}, nil, err
	}
	f.cache[key] = fetchedSource{relation: rel, columns: cols}
	return rel, cols, nil
}

func sourceKey(source models.SourceRef) string {
	if source.Kind == models.SourceKindTransform {
		return "transform:" + source.TransformID.String()
	}
	return "table:" + source.Schema + "." + source.Table
}

// Ensure resolverService implements ResolverService at compile time.
var _ ResolverService = (*resolverService)(nil)
