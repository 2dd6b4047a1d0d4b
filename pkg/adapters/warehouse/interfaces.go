package warehouse

import "context"

// ConnectionTester verifies warehouse connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the warehouse is reachable with valid
	// credentials and connected to the expected database.
	TestConnection(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// SchemaReader reads catalog metadata from a warehouse. It backs source
// validation and the merged column namespace of join plans.
type SchemaReader interface {
	// ListTables returns all user tables, excluding system schemas.
	ListTables(ctx context.Context) ([]Table, error)

	// ListColumns returns the columns of one table in ordinal position
	// order. An empty result means the table does not exist or is not
	// visible to the configured role.
	ListColumns(ctx context.Context, schemaName, tableName string) ([]Column, error)

	// Close releases the connection.
	Close() error
}

// MaxQueryLimit is the hard cap on rows returned by QueryRunner.Query.
// This protects against unbounded previews that could exhaust the server.
const MaxQueryLimit = 1000

// QueryRunner executes read-only SQL against a warehouse.
// Each implementation owns its connection and must be closed when done.
type QueryRunner interface {
	// Query runs a SELECT statement and returns bounded results.
	// The statement is ALWAYS wrapped with a dialect-specific limit:
	//   - PostgreSQL: SELECT * FROM (query) AS _limited LIMIT n
	//   - SQL Server: SELECT TOP (n) * FROM (query) AS _limited
	//
	// Limit behavior:
	//   - limit <= 0: uses MaxQueryLimit
	//   - limit > MaxQueryLimit: capped to MaxQueryLimit
	//   - otherwise: uses the specified limit
	Query(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error)

	// Close releases the connection.
	Close() error
}

// Table identifies a warehouse table.
type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// Column describes a catalog column.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
}

// ColumnInfo describes a result column with a warehouse-neutral type name.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult holds the rows returned by a bounded query.
type QueryResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}
