package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
)

// Adapter provides SQL Server connectivity checks.
type Adapter struct {
	config       *Config
	db           *sql.DB
	connMgr      *warehouse.ConnectionManager
	connectionID uuid.UUID
	ownedDB      bool // true if we opened the DB (no manager available)
}

// NewAdapter creates a SQL Server adapter using the connection manager.
// If connMgr is nil, opens an unmanaged connection (for tests or one-off
// checks).
func NewAdapter(ctx context.Context, cfg *Config, connMgr *warehouse.ConnectionManager, connectionID uuid.UUID) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if connMgr == nil {
		db, err := sql.Open("sqlserver", cfg.ConnString())
		if err != nil {
			return nil, fmt.Errorf("open sql server connection: %w", err)
		}

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("connection test failed: %w", err)
		}

		return &Adapter{
			config:  cfg,
			db:      db,
			ownedDB: true,
		}, nil
	}

	conn, err := connMgr.GetOrCreate(ctx, "mssql", connectionID, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}

	db, err := warehouse.SQLServerDB(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to extract sql server connection: %w", err)
	}

	return &Adapter{
		config:       cfg,
		db:           db,
		connMgr:      connMgr,
		connectionID: connectionID,
		ownedDB:      false,
	}, nil
}

// TestConnection verifies the database is reachable with valid credentials.
// It checks:
// 1. Server connectivity (ping)
// 2. Database access (simple query)
// 3. Correct database name (to prevent connecting to wrong/default database)
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	var currentDB string
	if err := a.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}

	// SQL Server database names are case-insensitive.
	if !strings.EqualFold(currentDB, a.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}

	return nil
}

// Close releases the adapter (but NOT the DB if managed).
func (a *Adapter) Close() error {
	if a.ownedDB && a.db != nil {
		return a.db.Close()
	}
	// Managed connections are closed by the connection manager TTL.
	return nil
}

// DB returns the underlying *sql.DB for the schema reader and query runner.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Ensure Adapter implements ConnectionTester at compile time.
var _ warehouse.ConnectionTester = (*Adapter)(nil)
