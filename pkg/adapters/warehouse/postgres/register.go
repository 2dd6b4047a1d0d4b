//go:build postgres || all_adapters

package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
)

func init() {
	warehouse.Register(warehouse.AdapterRegistration{
		Info: warehouse.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		Dial: func(ctx context.Context, connString string, pool warehouse.PoolConfig) (warehouse.Conn, error) {
			poolCfg, err := pgxpool.ParseConfig(connString)
			if err != nil {
				return nil, err
			}
			poolCfg.MaxConns = pool.MaxConns
			poolCfg.MinConns = pool.MinConns
			poolCfg.MaxConnIdleTime = pool.IdleTTL
			return pgxpool.NewWithConfig(ctx, poolCfg)
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
