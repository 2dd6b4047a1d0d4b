package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/logging"
	"github.com/metriq-io/semantic-engine/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxPools             = 50
	DefaultPoolMaxConns         = 10
	DefaultPoolMinConns         = 1
)

// Conn is a managed warehouse connection. pgx pools satisfy it directly;
// database/sql connections are wrapped in SQLConn.
type Conn interface {
	Ping(ctx context.Context) error
	Close()
}

// SQLConn adapts a database/sql DB to the Conn interface.
type SQLConn struct {
	DB *sql.DB
}

func (c *SQLConn) Ping(ctx context.Context) error { return c.DB.PingContext(ctx) }
func (c *SQLConn) Close()                         { _ = c.DB.Close() }

var _ Conn = (*pgxpool.Pool)(nil)
var _ Conn = (*SQLConn)(nil)

// PostgresPool extracts the pgx pool from a managed connection.
func PostgresPool(c Conn) (*pgxpool.Pool, error) {
	pool, ok := c.(*pgxpool.Pool)
	if !ok {
		return nil, fmt.Errorf("managed connection is not a postgres pool (%T)", c)
	}
	return pool, nil
}

// SQLServerDB extracts the database/sql handle from a managed connection.
func SQLServerDB(c Conn) (*sql.DB, error) {
	wrapper, ok := c.(*SQLConn)
	if !ok {
		return nil, fmt.Errorf("managed connection is not a sql server connection (%T)", c)
	}
	return wrapper.DB, nil
}

// PoolConfig carries per-connection pool tuning into adapter dialers.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
	IdleTTL  time.Duration
}

// ConnectionManagerConfig holds configuration for the connection manager.
type ConnectionManagerConfig struct {
	TTLMinutes   int
	MaxPools     int
	PoolMaxConns int32
	PoolMinConns int32
}

// ConnectionManager caches warehouse connections per (type, connection id)
// with TTL-based expiry and automatic cleanup. Dialing is delegated to the
// registered adapter for the connection type, so driver imports stay behind
// the adapter build tags.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*managedConn // key: "{connType}:{connectionID}"
	ttl         time.Duration
	maxPools    int
	poolCfg     PoolConfig
	stopped     bool
	stopChan    chan struct{}
	logger      *zap.Logger
}

type managedConn struct {
	conn     Conn
	lastUsed time.Time
	mu       sync.Mutex // Per-connection mutex to serialize health checks
}

// NewConnectionManager creates a connection manager with the given
// configuration. Starts a background cleanup goroutine that runs until
// Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = DefaultMaxPools
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	manager := &ConnectionManager{
		connections: make(map[string]*managedConn),
		ttl:         ttl,
		maxPools:    cfg.MaxPools,
		poolCfg: PoolConfig{
			MaxConns: cfg.PoolMaxConns,
			MinConns: cfg.PoolMinConns,
			IdleTTL:  ttl,
		},
		stopChan: make(chan struct{}),
		logger:   logger,
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// GetOrCreate returns a healthy managed connection for the given warehouse
// connection, dialing a new one if none is cached or the cached one fails its
// health check.
func (m *ConnectionManager) GetOrCreate(ctx context.Context, connType string, connectionID uuid.UUID, connString string) (Conn, error) {
	key := connType + ":" + connectionID.String()

	// Fast path: reuse an existing connection after a health check.
	m.mu.RLock()
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.conn.Ping(healthCtx)
		})
		if err != nil {
			m.logger.Warn("warehouse connection unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock() // Unlock before removeConnection takes the manager lock
			m.removeConnection(key)
			return m.dialNew(ctx, key, connType, connString)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.conn, nil
	}

	return m.dialNew(ctx, key, connType, connString)
}

// dialNew dials a connection through the registered adapter with retry.
// Caller must NOT hold any locks.
func (m *ConnectionManager) dialNew(ctx context.Context, key, connType, connString string) (Conn, error) {
	reg, ok := Lookup(connType)
	if !ok {
		return nil, fmt.Errorf("unsupported connection type: %s (not compiled in)", connType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.conn, nil
	}

	if len(m.connections) >= m.maxPools {
		m.logger.Warn("connection manager reached pool limit",
			zap.Int("current", len(m.connections)),
			zap.Int("max", m.maxPools),
		)
		return nil, fmt.Errorf("connection manager has reached its pool limit (%d)", m.maxPools)
	}

	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (Conn, error) {
		return reg.Dial(ctx, connString, m.poolCfg)
	})
	if err != nil {
		m.logger.Error("failed to dial warehouse after retries",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to dial %s after retries: %w", key, err)
	}

	m.connections[key] = &managedConn{
		conn:     conn,
		lastUsed: time.Now(),
	}

	m.logger.Info("dialed new warehouse connection",
		zap.String("key", key),
		zap.Int("totalConnections", len(m.connections)),
	)

	return conn, nil
}

// removeConnection removes a connection from the cache and closes it.
// Caller must NOT hold m.mu.
func (m *ConnectionManager) removeConnection(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists && managed != nil {
		if managed.conn != nil {
			managed.conn.Close()
		}
		delete(m.connections, key)
		m.logger.Debug("removed warehouse connection", zap.String("key", key))
	}
}

// cleanupExpiredConnections runs periodically until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes connections that haven't been used within the TTL.
// Lock ordering: manager lock before connection lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	expiredKeys := []string{}

	for key, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idle := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idle > m.ttl {
			expiredKeys = append(expiredKeys, key)
			m.logger.Debug("marking warehouse connection for cleanup",
				zap.String("key", key),
				zap.Duration("idleTime", idle),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, key := range expiredKeys {
		if managed, exists := m.connections[key]; exists && managed != nil {
			if managed.conn != nil {
				managed.conn.Close()
			}
			delete(m.connections, key)
		}
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired warehouse connections",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes all managed connections and stops the cleanup goroutine.
// Idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.connections {
		if managed != nil && managed.conn != nil {
			managed.conn.Close()
		}
	}

	m.connections = make(map[string]*managedConn)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalConnections:  len(m.connections),
		MaxPools:          m.maxPools,
		TTLMinutes:        int(m.ttl.Minutes()),
		ConnectionsByType: make(map[string]int),
		OldestIdleSeconds: 0,
	}

	for key, managed := range m.connections {
		// Key format: "{connType}:{connectionID}"
		for i := 0; i < len(key); i++ {
			if key[i] == ':' {
				stats.ConnectionsByType[key[:i]]++
				break
			}
		}

		if managed != nil {
			managed.mu.Lock()
			idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
			managed.mu.Unlock()
			if idleSeconds > stats.OldestIdleSeconds {
				stats.OldestIdleSeconds = idleSeconds
			}
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections  int            `json:"total_connections"`
	MaxPools          int            `json:"max_pools"`
	TTLMinutes        int            `json:"ttl_minutes"`
	ConnectionsByType map[string]int `json:"connections_by_type"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
}
