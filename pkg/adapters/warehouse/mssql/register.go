//go:build mssql || all_adapters

package mssql

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
)

func init() {
	warehouse.Register(warehouse.AdapterRegistration{
		Info: warehouse.AdapterInfo{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2017+ and Azure SQL Database",
		},
		Dial: func(ctx context.Context, connString string, pool warehouse.PoolConfig) (warehouse.Conn, error) {
			db, err := sql.Open("sqlserver", connString)
			if err != nil {
				return nil, err
			}
			db.SetMaxOpenConns(int(pool.MaxConns))
			db.SetMaxIdleConns(int(pool.MinConns))
			db.SetConnMaxIdleTime(pool.IdleTTL)

			// sql.Open is lazy; ping so credential failures surface here
			// and go through the manager's dial retry.
			if err := db.PingContext(ctx); err != nil {
				db.Close()
				return nil, err
			}
			return &warehouse.SQLConn{DB: db}, nil
		},
		TesterFactory: func(ctx context.Context, config map[string]any, mgr *warehouse.ConnectionManager, connectionID uuid.UUID) (warehouse.ConnectionTester, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewAdapter(ctx, cfg, mgr, connectionID)
		},
		SchemaReaderFactory: func(ctx context.Context, config map[string]any, mgr *warehouse.ConnectionManager, connectionID uuid.UUID) (warehouse.SchemaReader, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewSchemaReader(ctx, cfg, mgr, connectionID)
		},
		QueryRunnerFactory: func(ctx context.Context, config map[string]any, mgr *warehouse.ConnectionManager, connectionID uuid.UUID) (warehouse.QueryRunner, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewQueryRunner(ctx, cfg, mgr, connectionID)
		},
	})
}
