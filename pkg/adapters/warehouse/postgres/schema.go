package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
)

// SchemaReader reads PostgreSQL catalog metadata.
type SchemaReader struct {
	pool         *pgxpool.Pool
	connMgr      *warehouse.ConnectionManager
	connectionID uuid.UUID
	ownedPool    bool
}

// NewSchemaReader creates a PostgreSQL schema reader using the connection
// manager. If connMgr is nil, creates an unmanaged pool (for tests).
func NewSchemaReader(ctx context.Context, cfg *Config, connMgr *warehouse.ConnectionManager, connectionID uuid.UUID) (*SchemaReader, error) {
	connStr := cfg.ConnString()

	if connMgr == nil {
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		return &SchemaReader{
			pool:      pool,
			ownedPool: true,
		}, nil
	}

	conn, err := connMgr.GetOrCreate(ctx, "postgres", connectionID, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}

	pool, err := warehouse.PostgresPool(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to extract postgres pool: %w", err)
	}

	return &SchemaReader{
		pool:         pool,
		connMgr:      connMgr,
		connectionID: connectionID,
		ownedPool:    false,
	}, nil
}

// ListTables returns all user tables, excluding system schemas.
func (r *SchemaReader) ListTables(ctx context.Context) ([]warehouse.Table, error) {
	const query = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY table_schema, table_name
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []warehouse.Table
	for rows.Next() {
		var t warehouse.Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	return tables, nil
}

// ListColumns returns the columns of one table in ordinal position order.
// An empty schema name defaults to the public schema.
func (r *SchemaReader) ListColumns(ctx context.Context, schemaName, tableName string) ([]warehouse.Column, error) {
	if schemaName == "" {
		schemaName = "public"
	}

	const query = `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := r.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []warehouse.Column
	for rows.Next() {
		var c warehouse.Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.IsNullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	return columns, nil
}

// Close releases the reader (but NOT the pool if managed).
func (r *SchemaReader) Close() error {
	if r.ownedPool && r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// Ensure SchemaReader implements warehouse.SchemaReader at compile time.
var _ warehouse.SchemaReader = (*SchemaReader)(nil)
