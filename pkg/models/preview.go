package models

// Roles a preview output column can have.
const (
	ColumnRoleDimension = "dimension"
	ColumnRoleMeasure   = "measure"
)

// PreviewColumn describes one projected output column of a preview, in the
// fixed dimensions-then-measures order the compiler guarantees.
type PreviewColumn struct {
	Name string `json:"name"`
	Role string `json:"role"` // ColumnRoleDimension or ColumnRoleMeasure
	Type string `json:"type,omitempty"`
}

// PreviewWarning is a non-fatal resolution diagnostic, e.g. an ambiguous
// bare column name resolved by first match.
type PreviewWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PreviewResult is the shaped response of a preview execution.
// TotalRows counts the rows actually returned after the server-side LIMIT
// clamp; it is not the source relation's cardinality.
type PreviewResult struct {
	Columns         []PreviewColumn  `json:"columns"`
	Rows            []map[string]any `json:"rows"`
	TotalRows       int              `json:"total_rows"`
	SQLGenerated    string           `json:"sql_generated"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	Warnings        []PreviewWarning `json:"warnings,omitempty"`
}
