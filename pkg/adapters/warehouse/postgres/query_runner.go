package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
)

// QueryRunner executes read-only SQL against PostgreSQL.
type QueryRunner struct {
	pool         *pgxpool.Pool
	connMgr      *warehouse.ConnectionManager
	connectionID uuid.UUID
	ownedPool    bool
}

// NewQueryRunner creates a PostgreSQL query runner using the connection
// manager. If connMgr is nil, creates an unmanaged pool (for tests).
func NewQueryRunner(ctx context.Context, cfg *Config, connMgr *warehouse.ConnectionManager, connectionID uuid.UUID) (*QueryRunner, error) {
	connStr := cfg.ConnString()

	if connMgr == nil {
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		return &QueryRunner{
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

	return &QueryRunner{
		pool:         pool,
		connMgr:      connMgr,
		connectionID: connectionID,
		ownedPool:    false,
	}, nil
}

// Query runs a SELECT statement wrapped in a hard row bound.
// The statement is always wrapped, so a missing or oversized limit can
// never return an unbounded result set.
func (r *QueryRunner) Query(ctx context.Context, sqlQuery string, limit int) (*warehouse.QueryResult, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 || effectiveLimit > warehouse.MaxQueryLimit {
		effectiveLimit = warehouse.MaxQueryLimit
	}

	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, effectiveLimit)

	rows, err := r.pool.Query(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]warehouse.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = warehouse.ColumnInfo{
			Name: string(fd.Name),
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any)
		for i, col := range columns {
			rowMap[col.Name] = values[i]
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

// Close releases the runner (but NOT the pool if managed).
func (r *QueryRunner) Close() error {
	if r.ownedPool && r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// pgTypeNameFromOID maps PostgreSQL type OIDs to warehouse-neutral type
// names. Covers the common types; unknown types return "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1083:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1186:
		return "INTERVAL"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	// Array types
	case 1000:
		return "BOOL[]"
	case 1005:
		return "INT2[]"
	case 1007:
		return "INT4[]"
	case 1016:
		return "INT8[]"
	case 1009:
		return "TEXT[]"
	case 1015:
		return "VARCHAR[]"
	case 1021:
		return "FLOAT4[]"
	case 1022:
		return "FLOAT8[]"
	case 2951:
		return "UUID[]"
	case 3807:
		return "JSONB[]"
	default:
		return "UNKNOWN"
	}
}

// Ensure QueryRunner implements warehouse.QueryRunner at compile time.
var _ warehouse.QueryRunner = (*QueryRunner)(nil)
