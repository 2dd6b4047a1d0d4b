package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
)

// SourceKind discriminates between the two relation kinds a model or join
// can point at: a raw table or an externally materialized transform.
type SourceKind string

const (
	SourceKindTable     SourceKind = "table"
	SourceKindTransform SourceKind = "transform"
)

// SourceRef is a tagged reference to a base or join-target relation.
// Exactly one arm is populated: Schema/Table for SourceKindTable,
// TransformID for SourceKindTransform.
type SourceRef struct {
	Kind        SourceKind `json:"kind"`
	Schema      string     `json:"schema,omitempty"`
	Table       string     `json:"table,omitempty"`
	TransformID uuid.UUID  `json:"transform_id,omitempty"`
}

// Validate checks that exactly one arm matches the declared kind.
func (s SourceRef) Validate() error {
	switch s.Kind {
	case SourceKindTable:
		if s.Table == "" {
			return fmt.Errorf("%w: table source requires a table name", apperrors.ErrInvalidSource)
		}
		if s.TransformID != uuid.Nil {
			return fmt.Errorf("%w: table source must not reference a transform", apperrors.ErrInvalidSource)
		}
	case SourceKindTransform:
		if s.TransformID == uuid.Nil {
			return fmt.Errorf("%w: transform source requires a transform id", apperrors.ErrInvalidSource)
		}
		if s.Table != "" || s.Schema != "" {
			return fmt.Errorf("%w: transform source must not reference a table", apperrors.ErrInvalidSource)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", apperrors.ErrInvalidSource, s.Kind)
	}
	return nil
}

// Aggregation enumerates the supported measure aggregation functions.
type Aggregation string

const (
	AggSum           Aggregation = "sum"
	AggCount         Aggregation = "count"
	AggCountDistinct Aggregation = "count_distinct"
	AggAvg           Aggregation = "avg"
	AggMin           Aggregation = "min"
	AggMax           Aggregation = "max"
)

// Valid reports whether a is a known aggregation.
func (a Aggregation) Valid() bool {
	switch a {
	case AggSum, AggCount, AggCountDistinct, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

// JoinType enumerates the supported SQL join types.
type JoinType string

const (
	JoinLeft  JoinType = "left"
	JoinInner JoinType = "inner"
	JoinRight JoinType = "right"
	JoinFull  JoinType = "full"
)

// Valid reports whether j is a known join type.
func (j JoinType) Valid() bool {
	switch j {
	case JoinLeft, JoinInner, JoinRight, JoinFull:
		return true
	}
	return false
}

// SemanticModel is the aggregate root of the semantic layer: a base source
// plus the measures, dimensions and joins defined over it. Source is
// immutable after creation. Version increments on every mutating registry
// call and keys the compiled-SQL cache.
type SemanticModel struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	ConnectionID uuid.UUID   `json:"connection_id"`
	Source       SourceRef   `json:"source"`
	IsActive     bool        `json:"is_active"`
	Version      int64       `json:"version"`
	Measures     []Measure   `json:"measures"`
	Dimensions   []Dimension `json:"dimensions"`
	Joins        []Join      `json:"joins"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// MeasureByID returns the measure with the given id, or nil.
func (m *SemanticModel) MeasureByID(id uuid.UUID) *Measure {
	for i := range m.Measures {
		if m.Measures[i].ID == id {
			return &m.Measures[i]
		}
	}
	return nil
}

// DimensionByID returns the dimension with the given id, or nil.
func (m *SemanticModel) DimensionByID(id uuid.UUID) *Dimension {
	for i := range m.Dimensions {
		if m.Dimensions[i].ID == id {
			return &m.Dimensions[i]
		}
	}
	return nil
}

// JoinByID returns the join with the given id, or nil.
func (m *SemanticModel) JoinByID(id uuid.UUID) *Join {
	for i := range m.Joins {
		if m.Joins[i].ID == id {
			return &m.Joins[i]
		}
	}
	return nil
}

// HasMeasureName reports whether a measure with the given name exists
// (case-sensitive).
func (m *SemanticModel) HasMeasureName(name string) bool {
	for i := range m.Measures {
		if m.Measures[i].Name == name {
			return true
		}
	}
	return false
}

// HasDimensionName reports whether a dimension with the given name exists
// (case-sensitive).
func (m *SemanticModel) HasDimensionName(name string) bool {
	for i := range m.Dimensions {
		if m.Dimensions[i].Name == name {
			return true
		}
	}
	return false
}

// HasJoinAlias reports whether alias is already taken by a join.
func (m *SemanticModel) HasJoinAlias(alias string) bool {
	for i := range m.Joins {
		if m.Joins[i].Alias == alias {
			return true
		}
	}
	return false
}

// Measure is a named aggregated expression over a column.
// Expression is derived from ColumnName + Aggregation at creation time and
// stored for display; it is never parsed back.
type Measure struct {
	ID            uuid.UUID   `json:"id"`
	ModelID       uuid.UUID   `json:"model_id"`
	Name          string      `json:"name"`
	ColumnName    string      `json:"column_name"`
	Aggregation   Aggregation `json:"aggregation"`
	Expression    string      `json:"expression"`
	Description   string      `json:"description,omitempty"`
	DisplayFormat string      `json:"display_format,omitempty"`
	Position      int         `json:"position"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Dimension is a named grouping/projection column.
type Dimension struct {
	ID            uuid.UUID `json:"id"`
	ModelID       uuid.UUID `json:"model_id"`
	Name          string    `json:"name"`
	ColumnName    string    `json:"column_name"`
	Description   string    `json:"description,omitempty"`
	DisplayFormat string    `json:"display_format,omitempty"`
	Position      int       `json:"position"`
	CreatedAt     time.Time `json:"created_at"`
}

// JoinCondition is one equality pair of a join's ON clause. LeftColumn is a
// bare column name resolved against the base source or an already-included
// alias; RightColumn belongs to the join's target relation.
type JoinCondition struct {
	LeftColumn  string `json:"left_column"`
	RightColumn string `json:"right_column"`
}

// Join attaches a target relation to the model under a unique alias.
// Joins are ordered: each join's left columns must resolve against aliases
// introduced earlier (or the base source), so insertion order is dependency
// order.
type Join struct {
	ID         uuid.UUID       `json:"id"`
	ModelID    uuid.UUID       `json:"model_id"`
	Target     SourceRef       `json:"target"`
	Alias      string          `json:"alias"`
	JoinType   JoinType        `json:"join_type"`
	Conditions []JoinCondition `json:"conditions"`
	Position   int             `json:"position"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DeriveExpression renders the display expression for a measure, e.g.
// "SUM(amount)" or "COUNT(DISTINCT customer_id)". The rendering is
// deterministic and dialect-neutral; the compiler produces its own quoted
// form independently.
func DeriveExpression(column string, agg Aggregation) string {
	switch agg {
	case AggSum:
		return fmt.Sprintf("SUM(%s)", column)
	case AggCount:
		return fmt.Sprintf("COUNT(%s)", column)
	case AggCountDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", column)
	case AggAvg:
		return fmt.Sprintf("AVG(%s)", column)
	case AggMin:
		return fmt.Sprintf("MIN(%s)", column)
	case AggMax:
		return fmt.Sprintf("MAX(%s)", column)
	default:
		return ""
	}
}
