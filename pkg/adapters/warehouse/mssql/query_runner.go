package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
)

// QueryRunner executes read-only SQL against SQL Server.
type QueryRunner struct {
	config *Config
	db     *sql.DB
	closer *Adapter
}

// NewQueryRunner creates a SQL Server query runner. Connection handling is
// shared with Adapter, including the unmanaged fallback when connMgr is nil.
func NewQueryRunner(ctx context.Context, cfg *Config, connMgr *warehouse.ConnectionManager, connectionID uuid.UUID) (*QueryRunner, error) {
	adapter, err := NewAdapter(ctx, cfg, connMgr, connectionID)
	if err != nil {
		return nil, err
	}

	return &QueryRunner{
		config: cfg,
		db:     adapter.DB(),
		closer: adapter,
	}, nil
}

// Query runs a SELECT statement wrapped in a hard row bound using SQL
// Server's TOP clause. The statement is always wrapped, so a missing or
// oversized limit can never return an unbounded result set.
func (r *QueryRunner) Query(ctx context.Context, sqlQuery string, limit int) (*warehouse.QueryResult, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 || effectiveLimit > warehouse.MaxQueryLimit {
		effectiveLimit = warehouse.MaxQueryLimit
	}
	wrapped := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", effectiveLimit, sqlQuery)

	rows, err := r.db.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]warehouse.ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		columns[i] = warehouse.ColumnInfo{
			Name: colName,
			Type: mapSQLServerType(columnTypes[i].DatabaseTypeName()),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any)
		for i, col := range columnNames {
			val := values[i]

			// The driver returns text columns as []byte.
			if b, ok := val.([]byte); ok {
				if isStringType(columnTypes[i].DatabaseTypeName()) {
					val = string(b)
				}
			}

			rowMap[col] = val
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &warehouse.QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Close releases the runner (but NOT the DB if managed).
func (r *QueryRunner) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Ensure QueryRunner implements warehouse.QueryRunner at compile time.
var _ warehouse.QueryRunner = (*QueryRunner)(nil)
