// Package semantic turns a semantic model selection into a single preview SQL
// statement. It owns join plan resolution (ordered traversal, merged column
// namespace), dialect-aware identifier quoting, and deterministic clause
// assembly. Everything in this package is pure: no I/O, no logging, no shared
// mutable state, so compilation can run concurrently per request.
package semantic

import (
	"fmt"
	"strings"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/models"
)

// Selection is the caller's chosen subset of a model, in caller order. The
// compiler preserves this order in both the projection and the output column
// list: dimensions first, then measures.
type Selection struct {
	Measures   []models.Measure
	Dimensions []models.Dimension
}

// Query is a compiled preview statement. SQL is a single line with clauses
// separated by single spaces; compiling the same plan and selection twice
// yields byte-identical text. Measure column types are left empty and filled
// in from the runner's result metadata after execution.
type Query struct {
	SQL      string
	Columns  []models.PreviewColumn
	Warnings []models.PreviewWarning
}

// Compile renders one SELECT statement for a resolved plan and selection.
// limit > 0 renders the dialect's row bound into the statement; the warehouse
// adapter additionally enforces its own hard cap when executing.
//
// An empty selection fails with EmptySelection before any SQL is assembled.
// Selected columns missing from the plan's namespace fail with UnknownColumn;
// bare names owned by several relations resolve to the first in plan order
// and add an ambiguity warning instead of failing.
func Compile(d *Dialect, plan *JoinPlan, sel Selection, limit int) (*Query, error) {
	if len(sel.Measures) == 0 && len(sel.Dimensions) == 0 {
		return nil, fmt.Errorf("select at least one measure or dimension: %w", apperrors.ErrEmptySelection)
	}

	q := &Query{
		Columns: make([]models.PreviewColumn, 0, len(sel.Dimensions)+len(sel.Measures)),
	}

	selectList := make([]string, 0, len(sel.Dimensions)+len(sel.Measures))
	groupRefs := make([]string, 0, len(sel.Dimensions))

	for _, dim := range sel.Dimensions {
		ref, candidates, ok := plan.Namespace.Resolve(dim.ColumnName)
		if !ok {
			return nil, fmt.Errorf("dimension %q references unknown column %q: %w", dim.Name, dim.ColumnName, apperrors.ErrUnknownColumn)
		}
		if candidates > 1 {
			q.Warnings = append(q.Warnings, ambiguityWarning("dimension", dim.Name, dim.ColumnName, candidates, ref.Alias))
		}
		qref := d.QualifiedRef(ref.Alias, dim.ColumnName)
		selectList = append(selectList, qref+" AS "+d.QuoteIfNeeded(dim.Name))
		groupRefs = append(groupRefs, qref)
		q.Columns = append(q.Columns, models.PreviewColumn{
			Name: dim.Name,
			Role: models.ColumnRoleDimension,
			Type: ref.DataType,
		})
	}

	for _, m := range sel.Measures {
		ref, candidates, ok := plan.Namespace.Resolve(m.ColumnName)
		if !ok {
			return nil, fmt.Errorf("measure %q references unknown column %q: %w", m.Name, m.ColumnName, apperrors.ErrUnknownColumn)
		}
		if candidates > 1 {
			q.Warnings = append(q.Warnings, ambiguityWarning("measure", m.Name, m.ColumnName, candidates, ref.Alias))
		}
		expr := models.DeriveExpression(d.QualifiedRef(ref.Alias, m.ColumnName), m.Aggregation)
		if expr == "" {
			return nil, fmt.Errorf("measure %q has unsupported aggregation %q: %w", m.Name, m.Aggregation, apperrors.ErrUnresolvedJoinPlan)
		}
		selectList = append(selectList, expr+" AS "+d.QuoteIfNeeded(m.Name))
		q.Columns = append(q.Columns, models.PreviewColumn{
			Name: m.Name,
			Role: models.ColumnRoleMeasure,
		})
	}

	parts := make([]string, 0, 4+len(plan.Entries))
	parts = append(parts,
		d.SelectKeyword(limit),
		strings.Join(selectList, ", "),
		"FROM "+d.RelationRef(plan.Base)+" AS "+BaseAlias,
	)
	for _, e := range plan.Entries {
		clause, err := joinClause(d, e)
		if err != nil {
			return nil, err
		}
		parts = append(parts, clause)
	}
	if len(sel.Measures) > 0 && len(sel.Dimensions) > 0 {
		parts = append(parts, "GROUP BY "+strings.Join(groupRefs, ", "))
	}
	if suffix := d.LimitClause(limit); suffix != "" {
		parts = append(parts, suffix)
	}

	q.SQL = strings.Join(parts, " ")
	return q, nil
}

func joinClause(d *Dialect, e PlanEntry) (string, error) {
	kw, ok := joinKeywords[e.JoinType]
	if !ok {
		return "", fmt.Errorf("join %q has unsupported join type %q: %w", e.Alias, e.JoinType, apperrors.ErrUnresolvedJoinPlan)
	}
	conds := make([]string, 0, len(e.Conditions))
	for _, c := range e.Conditions {
		conds = append(conds, d.QualifiedRef(c.LeftAlias, c.LeftColumn)+" = "+d.QualifiedRef(e.Alias, c.RightColumn))
	}
	return kw + " " + d.RelationRef(e.Relation) + " AS " + d.QuoteIfNeeded(e.Alias) + " ON " + strings.Join(conds, " AND "), nil
}

var joinKeywords = map[models.JoinType]string{
	models.JoinLeft:  "LEFT JOIN",
	models.JoinInner: "INNER JOIN",
	models.JoinRight: "RIGHT JOIN",
	models.JoinFull:  "FULL JOIN",
}

func ambiguityWarning(kind, name, column string, candidates int, chosen string) models.PreviewWarning {
	return models.PreviewWarning{
		Code:    WarnAmbiguousColumn,
		Message: fmt.Sprintf("%s %q: column %q matches %d relations; using %q", kind, name, column, candidates, chosen),
	}
}
