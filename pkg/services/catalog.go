package services

import (
	"context"
	"fmt"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/models"
	"github.com/metriq-io/semantic-engine/pkg/repositories"
	"github.com/metriq-io/semantic-engine/pkg/semantic"
)

// CatalogService resolves source references against warehouse catalogs and
// the transform store. Table sources are read live from information_schema;
// transform sources come from the transform runtime's recorded output
// metadata, so a transform behaves like a virtual table without a dial.
type CatalogService interface {
	// SourceColumns resolves a source reference to its concrete relation
	// and ordered column list. A reference that does not resolve to a
	// visible relation (missing table, transform that is not ready) is a
	// validation error.
	SourceColumns(ctx context.Context, conn *models.Connection, source models.SourceRef) (semantic.Relation, []semantic.Column, error)

	// DefaultAlias derives a join alias from the source's table or
	// transform name, e.g. "customers" -> "customer".
	DefaultAlias(ctx context.Context, source models.SourceRef) (string, error)

	// ListTables lists the user tables visible on a connection.
	ListTables(ctx context.Context, conn *models.Connection) ([]warehouse.Table, error)

	// ListTransforms lists the transforms available as virtual tables.
	ListTransforms(ctx context.Context) ([]*models.Transform, error)
}

type catalogService struct {
	transformRepo  repositories.TransformRepository
	adapterFactory warehouse.AdapterFactory
	logger         *zap.Logger
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(
	transformRepo repositories.TransformRepository,
	adapterFactory warehouse.AdapterFactory,
	logger *zap.Logger,
) CatalogService {
	return &catalogService{
		transformRepo:  transformRepo,
		adapterFactory: adapterFactory,
		logger:         logger,
	}
}

// SourceColumns resolves a source reference to its relation and columns.
func (s *catalogService) SourceColumns(ctx context.Context, conn *models.Connection, source models.SourceRef) (semantic.Relation, []semantic.Column, error) {
	if err := source.Validate(); err != nil {
		return semantic.Relation{}, nil, err
	}

	switch source.Kind {
	case models.SourceKindTable:
		return s.tableColumns(ctx, conn, source)
	case models.SourceKindTransform:
		return s.transformColumns(ctx, source)
	default:
		return semantic.Relation{}, nil, fmt.Errorf("%w: unknown source kind %q", apperrors.ErrInvalidSource, source.Kind)
	}
}

func (s *catalogService) tableColumns(ctx context.Context, conn *models.Connection, source models.SourceRef) (semantic.Relation, []semantic.Column, error) {
	reader, err := s.adapterFactory.NewSchemaReader(ctx, conn.ConnectionType, conn.Config, conn.ID)
	if err != nil {
		return semantic.Relation{}, nil, fmt.Errorf("failed to create schema reader: %w", err)
	}
	defer reader.Close()

	cols, err := reader.ListColumns(ctx, source.Schema, source.Table)
	if err != nil {
		return semantic.Relation{}, nil, fmt.Errorf("failed to list columns of %s: %w", source.Table, err)
	}
	if len(cols) == 0 {
		return semantic.Relation{}, nil, fmt.Errorf("table %q has no visible columns on connection %q: %w",
			source.Table, conn.Name, apperrors.ErrInvalidSource)
	}

	rel := semantic.Relation{Schema: source.Schema, Name: source.Table}
	out := make([]semantic.Column, 0, len(cols))
	for _, c := range cols {
		out = append(out, semantic.Column{
			Name:     c.Name,
			DataType: c.DataType,
			Nullable: c.IsNullable,
		})
	}
	return rel, out, nil
}

func (s *catalogService) transformColumns(ctx context.Context, source models.SourceRef) (semantic.Relation, []semantic.Column, error) {
	tf, err := s.transformRepo.GetByID(ctx, source.TransformID)
	if err != nil {
		return semantic.Relation{}, nil, err
	}
	if tf.Status != "ready" {
		return semantic.Relation{}, nil, fmt.Errorf("transform %q is %s, not ready: %w", tf.Name, tf.Status, apperrors.ErrInvalidSource)
	}
	if len(tf.Columns) == 0 {
		return semantic.Relation{}, nil, fmt.Errorf("transform %q has no output columns: %w", tf.Name, apperrors.ErrInvalidSource)
	}

	rel := semantic.Relation{Schema: tf.OutputSchema, Name: tf.OutputTable}
	out := make([]semantic.Column, 0, len(tf.Columns))
	for _, c := range tf.Columns {
		// Nullability is not tracked by the transform runtime.
		out = append(out, semantic.Column{
			Name:     c.Name,
			DataType: c.Type,
			Nullable: true,
		})
	}
	return rel, out, nil
}

// DefaultAlias derives a join alias by singularizing the source name.
func (s *catalogService) DefaultAlias(ctx context.Context, source models.SourceRef) (string, error) {
	switch source.Kind {
	case models.SourceKindTable:
		return inflection.Singular(source.Table), nil
	case models.SourceKindTransform:
		tf, err := s.transformRepo.GetByID(ctx, source.TransformID)
		if err != nil {
			return "", err
		}
		return inflection.Singular(tf.Name), nil
	default:
		return "", fmt.Errorf("%w: unknown source kind %q", apperrors.ErrInvalidSource, source.Kind)
	}
}

// ListTables lists the user tables visible on a connection.
func (s *catalogService) ListTables(ctx context.Context, conn *models.Connection) ([]warehouse.Table, error) {
	reader, err := s.adapterFactory.NewSchemaReader(ctx, conn.ConnectionType, conn.Config, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema reader: %w", err)
	}
	defer reader.Close()

	tables, err := reader.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	s.logger.Debug("Listed warehouse tables",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("count", len(tables)))
	return tables, nil
}

// ListTransforms lists the transforms available as virtual tables.
func (s *catalogService) ListTransforms(ctx context.Context) ([]*models.Transform, error) {
	return s.transformRepo.List(ctx)
}

// Ensure catalogService implements CatalogService at compile time.
var _ CatalogService = (*catalogService)(nil)
