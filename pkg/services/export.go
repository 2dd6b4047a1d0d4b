package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/metriq-io/semantic-engine/pkg/models"
	"github.com/metriq-io/semantic-engine/pkg/repositories"
)

// ExportService renders a model definition as a YAML document so definitions
// can be reviewed and versioned outside the UI. The export is deterministic:
// children appear in position order and ids render as plain strings.
type ExportService interface {
	// ExportModel renders the model's definition as YAML.
	ExportModel(ctx context.Context, modelID uuid.UUID) ([]byte, error)
}

type exportService struct {
	repo   repositories.ModelRepository
	logger *zap.Logger
}

// NewExportService creates a new export service.
func NewExportService(repo repositories.ModelRepository, logger *zap.Logger) ExportService {
	return &exportService{
		repo:   repo,
		logger: logger,
	}
}

// Document types for the YAML export. Persistence ids and timestamps are
// deliberately absent from children: the export describes the definition,
// not the storage rows.

type exportDocument struct {
	Model exportModel `yaml:"model"`
}

type exportModel struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description,omitempty"`
	ConnectionID string            `yaml:"connection_id"`
	Source       exportSource      `yaml:"source"`
	Measures     []exportMeasure   `yaml:"measures"`
	Dimensions   []exportDimension `yaml:"dimensions"`
	Joins        []exportJoin      `yaml:"joins"`
}

type exportSource struct {
	Kind        string `yaml:"kind"`
	Schema      string `yaml:"schema,omitempty"`
	Table       string `yaml:"table,omitempty"`
	TransformID string `yaml:"transform_id,omitempty"`
}

type exportMeasure struct {
	Name          string `yaml:"name"`
	Column        string `yaml:"column"`
	Aggregation   string `yaml:"aggregation"`
	Expression    string `yaml:"expression,omitempty"`
	Description   string `yaml:"description,omitempty"`
	DisplayFormat string `yaml:"display_format,omitempty"`
}

type exportDimension struct {
	Name          string `yaml:"name"`
	Column        string `yaml:"column"`
	Description   string `yaml:"description,omitempty"`
	DisplayFormat string `yaml:"display_format,omitempty"`
}

type exportJoin struct {
	Alias      string            `yaml:"alias"`
	Type       string            `yaml:"type"`
	Target     exportSource      `yaml:"target"`
	Conditions []exportCondition `yaml:"conditions"`
}

type exportCondition struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

// ExportModel renders the model's definition as YAML.
func (s *exportService) ExportModel(ctx context.Context, modelID uuid.UUID) ([]byte, error) {
	model, err := s.repo.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}

	doc := exportDocument{
		Model: exportModel{
			ID:           model.ID.String(),
			Name:         model.Name,
			Description:  model.Description,
			ConnectionID: model.ConnectionID.String(),
			Source:       exportSourceRef(model.Source),
			Measures:     make([]exportMeasure, 0, len(model.Measures)),
			Dimensions:   make([]exportDimension, 0, len(model.Dimensions)),
			Joins:        make([]exportJoin, 0, len(model.Joins)),
		},
	}
	for _, m := range model.Measures {
		doc.Model.Measures = append(doc.Model.Measures, exportMeasure{
			Name:          m.Name,
			Column:        m.ColumnName,
			Aggregation:   string(m.Aggregation),
			Expression:    m.Expression,
			Description:   m.Description,
			DisplayFormat: m.DisplayFormat,
		})
	}
	for _, d := range model.Dimensions {
		doc.Model.Dimensions = append(doc.Model.Dimensions, exportDimension{
			Name:          d.Name,
			Column:        d.ColumnName,
			Description:   d.Description,
			DisplayFormat: d.DisplayFormat,
		})
	}
	for _, j := range model.Joins {
		join := exportJoin{
			Alias:      j.Alias,
			Type:       string(j.JoinType),
			Target:     exportSourceRef(j.Target),
			Conditions: make([]exportCondition, 0, len(j.Conditions)),
		}
		for _, c := range j.Conditions {
			join.Conditions = append(join.Conditions, exportCondition{
				Left:  c.LeftColumn,
				Right: c.RightColumn,
			})
		}
		doc.Model.Joins = append(doc.Model.Joins, join)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model export: %w", err)
	}

	s.logger.Debug("Exported model definition",
		zap.String("model_id", modelID.String()),
		zap.Int("bytes", len(out)))
	return out, nil
}

func exportSourceRef(src models.SourceRef) exportSource {
	out := exportSource{
		Kind:   string(src.Kind),
		Schema: src.Schema,
		Table:  src.Table,
	}
	if src.TransformID != uuid.Nil {
		out.TransformID = src.TransformID.String()
	}
	return out
}

// Ensure exportService implements ExportService at compile time.
var _ ExportService = (*exportService)(nil)
