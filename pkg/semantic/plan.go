package semantic

import (
	"fmt"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/models"
)

// BaseAlias is the fixed alias of a model's base relation. Join aliases may
// never collide with it.
const BaseAlias = "base"

// WarnAmbiguousColumn is the warning code emitted when a bare column name
// matches more than one relation in the namespace.
const WarnAmbiguousColumn = "ambiguous_column"

// Relation identifies a concrete joinable relation after source resolution.
// Transform sources are resolved to their output schema and table before a
// plan is built, so the planner only ever sees physical relations.
type Relation struct {
	Schema string
	Name   string
}

// Column describes one relation column as reported by the schema catalog.
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// PlanInput carries everything the planner needs: the base relation with its
// columns and the model's joins in creation order, each already resolved to a
// concrete relation with its columns.
type PlanInput struct {
	Base        Relation
	BaseColumns []Column
	Joins       []JoinInput
}

// JoinInput is one join of the model, in creation order.
type JoinInput struct {
	Alias      string
	Relation   Relation
	JoinType   models.JoinType
	Conditions []models.JoinCondition
	Columns    []Column
}

// ResolvedCondition is a join condition whose left column has been bound to
// the owning alias in the plan prefix.
type ResolvedCondition struct {
	LeftAlias   string
	LeftColumn  string
	RightColumn string
}

// PlanEntry is one resolved join step.
type PlanEntry struct {
	Alias      string
	Relation   Relation
	JoinType   models.JoinType
	Conditions []ResolvedCondition
}

// JoinPlan is the ordered, validated join traversal for a model, plus the
// merged column namespace visible to measures and dimensions.
type JoinPlan struct {
	Base      Relation
	Entries   []PlanEntry
	Namespace *Namespace
	Warnings  []models.PreviewWarning
}

// BuildPlan walks the joins in creation order, binding each condition's left
// column to the first relation already in the plan that owns it. The merged
// namespace grows as joins attach, so later joins can reference columns
// introduced by earlier ones. Aliases must be unique and distinct from the
// base alias; a left column that no prior relation owns makes the plan
// unresolvable.
func BuildPlan(in PlanInput) (*JoinPlan, error) {
	ns := newNamespace()
	ns.add(BaseAlias, in.BaseColumns)

	plan := &JoinPlan{
		Base:    in.Base,
		Entries: make([]PlanEntry, 0, len(in.Joins)),
	}
	seen := map[string]struct{}{BaseAlias: {}}

	for _, j := range in.Joins {
		if _, dup := seen[j.Alias]; dup {
			return nil, fmt.Errorf("join alias %q is already bound in the plan: %w", j.Alias, apperrors.ErrCyclicOrDuplicateAlias)
		}
		if len(j.Conditions) == 0 {
			return nil, fmt.Errorf("join %q has no conditions: %w", j.Alias, apperrors.ErrUnresolvedJoinPlan)
		}

		entry := PlanEntry{
			Alias:      j.Alias,
			Relation:   j.Relation,
			JoinType:   j.JoinType,
			Conditions: make([]ResolvedCondition, 0, len(j.Conditions)),
		}
		for _, c := range j.Conditions {
			ref, candidates, ok := ns.Resolve(c.LeftColumn)
			if !ok {
				return nil, fmt.Errorf("join %q: left column %q is not provided by any relation in the plan prefix: %w",
					j.Alias, c.LeftColumn, apperrors.ErrUnresolvedJoinPlan)
			}
			if candidates > 1 {
				plan.Warnings = append(plan.Warnings, models.PreviewWarning{
					Code:    WarnAmbiguousColumn,
					Message: fmt.Sprintf("join %q: column %q matches %d relations; using %q", j.Alias, c.LeftColumn, candidates, ref.Alias),
				})
			}
			if !columnExists(j.Columns, c.RightColumn) {
				return nil, fmt.Errorf("join %q: right column %q is not a column of the join target: %w",
					j.Alias, c.RightColumn, apperrors.ErrUnresolvedJoinPlan)
			}
			entry.Conditions = append(entry.Conditions, ResolvedCondition{
				LeftAlias:   ref.Alias,
				LeftColumn:  c.LeftColumn,
				RightColumn: c.RightColumn,
			})
		}

		seen[j.Alias] = struct{}{}
		ns.add(j.Alias, j.Columns)
		plan.Entries = append(plan.Entries, entry)
	}

	plan.Namespace = ns
	return plan, nil
}

// ValidateJoin checks a candidate join against the plan formed by the
// existing joins, mapping failures to the registry's validation errors. The
// existing joins must themselves resolve; a broken prefix fails the
// validation outright rather than being silently skipped.
func ValidateJoin(in PlanInput, candidate JoinInput) error {
	if candidate.Alias == BaseAlias {
		return fmt.Errorf("join alias %q is reserved for the base relation: %w", BaseAlias, apperrors.ErrCyclicOrDuplicateAlias)
	}
	for _, j := range in.Joins {
		if j.Alias == candidate.Alias {
			return fmt.Errorf("join alias %q is already used by another join: %w", candidate.Alias, apperrors.ErrCyclicOrDuplicateAlias)
		}
	}
	if len(candidate.Conditions) == 0 {
		return fmt.Errorf("a join requires at least one condition: %w", apperrors.ErrInvalidSource)
	}

	plan, err := BuildPlan(in)
	if err != nil {
		return err
	}
	for _, c := range candidate.Conditions {
		if c.LeftColumn == "" || c.RightColumn == "" {
			return fmt.Errorf("join conditions require both a left and a right column: %w", apperrors.ErrInvalidSource)
		}
		if _, _, ok := plan.Namespace.Resolve(c.LeftColumn); !ok {
			return fmt.Errorf("left column %q is not provided by the base relation or any existing join: %w",
				c.LeftColumn, apperrors.ErrUnresolvedLeftColumn)
		}
		if !columnExists(candidate.Columns, c.RightColumn) {
			return fmt.Errorf("column %q does not exist on the join target: %w", c.RightColumn, apperrors.ErrUnknownColumn)
		}
	}
	return nil
}

func columnExists(cols []Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}
