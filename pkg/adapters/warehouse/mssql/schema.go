package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
)

// SchemaReader reads SQL Server catalog metadata.
type SchemaReader struct {
	config *Config
	db     *sql.DB
	closer *Adapter
}

// NewSchemaReader creates a SQL Server schema reader. Connection handling is
// shared with Adapter, including the unmanaged fallback when connMgr is nil.
func NewSchemaReader(ctx context.Context, cfg *Config, connMgr *warehouse.ConnectionManager, connectionID uuid.UUID) (*SchemaReader, error) {
	adapter, err := NewAdapter(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}

	return &SchemaReader{
		config: cfg,
		db:     adapter.DB(),
		closer: adapter,
	}, nil
}

// ListTables returns all user tables, excluding system objects.
func (r *SchemaReader) ListTables(ctx context.Context) ([]warehouse.Table, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name
	FROM sys.tables t
	WHERE t.is_ms_shipped = 0
	ORDER BY table_schema, table_name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []warehouse.Table
	for rows.Next() {
		var t warehouse.Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}

	return tables, nil
}

// ListColumns returns the columns of one table in ordinal position order.
// An empty schema name defaults to dbo.
func (r *SchemaReader) ListColumns(ctx context.Context, schemaName, tableName string) ([]warehouse.Column, error) {
	if schemaName == "" {
		schemaName = "dbo"
	}

	const query = `
	SET NOCOUNT ON;
	SELECT
	    c.name AS column_name,
	    tp.name AS data_type,
	    CASE WHEN c.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
	ORDER BY c.column_id
	`

	rows, err := r.db.QueryContext(ctx, query,
		sql.Named("schema", schemaName),
		sql.Named("table", tableName),
	)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []warehouse.Column
	for rows.Next() {
		var c warehouse.Column
		var nullable int
		if err := rows.Scan(&c.Name, &c.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		c.IsNullable = nullable == 1
		columns = append(columns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	return columns, nil
}

// Close releases the reader (but NOT the DB if managed).
func (r *SchemaReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Ensure SchemaReader implements warehouse.SchemaReader at compile time.
var _ warehouse.SchemaReader = (*SchemaReader)(nil)
