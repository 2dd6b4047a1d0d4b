package semantic

import (
	"fmt"
	"regexp"
	"strings"
)

// LimitStyle selects where a dialect renders the row bound of a query.
type LimitStyle int

const (
	// LimitSuffix renders a trailing "LIMIT n" clause (Postgres).
	LimitSuffix LimitStyle = iota
	// LimitTop renders "TOP (n)" directly after the SELECT keyword (SQL Server).
	LimitTop
)

// Dialect configures identifier quoting and row-bound placement for a target
// warehouse. Dialects are immutable value configurations; the compiler holds a
// pointer to one for the duration of a single compilation.
type Dialect struct {
	Name          string
	Quote         string // opening identifier quote
	QuoteEnd      string // closing identifier quote
	Escape        string // replacement for QuoteEnd occurrences inside an identifier
	DefaultSchema string // schema omitted from rendered relations
	LimitStyle    LimitStyle
}

// Postgres quotes with double quotes and bounds rows with a trailing LIMIT.
var Postgres = &Dialect{
	Name:          "postgres",
	Quote:         `"`,
	QuoteEnd:      `"`,
	Escape:        `""`,
	DefaultSchema: "public",
	LimitStyle:    LimitSuffix,
}

// SQLServer quotes with brackets and bounds rows with TOP (n).
var SQLServer = &Dialect{
	Name:          "sqlserver",
	Quote:         "[",
	QuoteEnd:      "]",
	Escape:        "]]",
	DefaultSchema: "dbo",
	LimitStyle:    LimitTop,
}

// DialectFor maps a connection type to its SQL dialect.
func DialectFor(connectionType string) (*Dialect, error) {
	switch connectionType {
	case "postgres":
		return Postgres, nil
	case "mssql", "sqlserver":
		return SQLServer, nil
	default:
		return nil, fmt.Errorf("no SQL dialect for connection type %q", connectionType)
	}
}

// plainIdent matches identifiers that every supported dialect accepts unquoted.
var plainIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedWords holds lowercase keywords that must be quoted even when they
// match plainIdent. The set is the union across supported dialects so a name
// renders identically everywhere.
var reservedWords = map[string]struct{}{
	"all": {}, "alter": {}, "and": {}, "any": {}, "as": {}, "asc": {},
	"between": {}, "by": {}, "case": {}, "check": {}, "column": {},
	"constraint": {}, "create": {}, "cross": {}, "default": {}, "delete": {},
	"desc": {}, "distinct": {}, "drop": {}, "else": {}, "end": {},
	"exists": {}, "fetch": {}, "foreign": {}, "from": {}, "full": {},
	"grant": {}, "group": {}, "having": {}, "in": {}, "index": {},
	"inner": {}, "insert": {}, "into": {}, "is": {}, "join": {}, "key": {},
	"left": {}, "like": {}, "limit": {}, "not": {}, "null": {}, "offset": {},
	"on": {}, "or": {}, "order": {}, "outer": {}, "over": {}, "partition": {},
	"primary": {}, "references": {}, "right": {}, "select": {}, "set": {},
	"some": {}, "table": {}, "then": {}, "top": {}, "union": {}, "update": {},
	"user": {}, "values": {}, "when": {}, "where": {}, "window": {}, "with": {},
}

// QuoteIdentifier always quotes, escaping closing-quote characters inside the
// name (e.g. " -> "" for Postgres, ] -> ]] for SQL Server).
func (d *Dialect) QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, d.QuoteEnd, d.Escape)
	return d.Quote + escaped + d.QuoteEnd
}

// QuoteIfNeeded leaves plain lowercase identifiers bare and quotes everything
// else (mixed case, spaces, symbols, reserved words). Bare-when-possible keeps
// generated SQL readable while guaranteeing that no user-supplied name can
// alter statement structure.
func (d *Dialect) QuoteIfNeeded(name string) string {
	if plainIdent.MatchString(name) {
		if _, reserved := reservedWords[name]; !reserved {
			return name
		}
	}
	return d.QuoteIdentifier(name)
}

// QualifiedRef renders alias.column with each part quoted if needed.
func (d *Dialect) QualifiedRef(alias, column string) string {
	return d.QuoteIfNeeded(alias) + "." + d.QuoteIfNeeded(column)
}

// RelationRef renders a relation, omitting the dialect's default schema so
// that common single-schema models read naturally.
func (d *Dialect) RelationRef(r Relation) string {
	if r.Schema == "" || r.Schema == d.DefaultSchema {
		return d.QuoteIfNeeded(r.Name)
	}
	return d.QuoteIfNeeded(r.Schema) + "." + d.QuoteIfNeeded(r.Name)
}

// SelectKeyword returns the opening SELECT keyword for a query capped at
// limit rows. Dialects with LimitTop render the bound here; others return a
// bare SELECT and rely on LimitClause.
func (d *Dialect) SelectKeyword(limit int) string {
	if d.LimitStyle == LimitTop && limit > 0 {
		return fmt.Sprintf("SELECT TOP (%d)", limit)
	}
	return "SELECT"
}

// LimitClause returns the trailing row-bound clause, or "" when the dialect
// renders the bound inside the SELECT keyword or no bound was requested.
func (d *Dialect) LimitClause(limit int) string {
	if d.LimitStyle == LimitSuffix && limit > 0 {
		return fmt.Sprintf("LIMIT %d", limit)
	}
	return ""
}
