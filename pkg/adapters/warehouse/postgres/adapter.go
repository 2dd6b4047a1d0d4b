package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
)

// Adapter provides PostgreSQL connectivity checks.
type Adapter struct {
	config       *Config
	pool         *pgxpool.Pool
	connMgr      *warehouse.ConnectionManager
	connectionID uuid.UUID
	ownedPool    bool // true if we created the pool (no manager available)
}

// NewAdapter creates a PostgreSQL adapter using the connection manager.
// If connMgr is nil, creates an unmanaged pool (for tests or one-off checks).
func NewAdapter(ctx context.Context, cfg *Config, connMgr *warehouse.ConnectionManager, connectionID uuid.UUID) (*Adapter, error) {
	connStr := cfg.ConnString()

	if connMgr == nil {
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		return &Adapter{
			config:    cfg,
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

	return &Adapter{
		config:       cfg,
		pool:         pool,
		connMgr:      connMgr,
		connectionID: connectionID,
		ownedPool:    false,
	}, nil
}

// TestConnection verifies the database is reachable with valid credentials.
// It checks:
// 1. Server connectivity (ping)
// 2. Database access (simple query)
// 3. Correct database name (to prevent connecting to wrong/default database)
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := a.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	var currentDB string
	if err := a.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}

	// Case-insensitive to match SQL Server behavior and tolerate common
	// configuration differences.
	if !strings.EqualFold(currentDB, a.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}

	return nil
}

// Close releases the adapter (but NOT the pool if managed).
func (a *Adapter) Close() error {
	if a.ownedPool && a.pool != nil {
		a.pool.Close()
	}
	// Managed pools are closed by the connection manager TTL.
	return nil
}

// Ensure Adapter implements ConnectionTester at compile time.
var _ warehouse.ConnectionTester = (*Adapter)(nil)
