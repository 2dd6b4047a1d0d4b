package warehouse

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// AdapterInfo describes a registered warehouse adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "mssql"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
}

// AdapterRegistration bundles the factories for one warehouse type. Dial is
// used by the ConnectionManager to open a managed connection; the remaining
// factories build the capability views the engine consumes.
type AdapterRegistration struct {
	Info                AdapterInfo
	Dial                func(ctx context.Context, connString string, pool PoolConfig) (Conn, error)
	TesterFactory       func(ctx context.Context, config map[string]any, mgr *ConnectionManager, connectionID uuid.UUID) (ConnectionTester, error)
	SchemaReaderFactory func(ctx context.Context, config map[string]any, mgr *ConnectionManager, connectionID uuid.UUID) (SchemaReader, error)
	QueryRunnerFactory  func(ctx context.Context, config map[string]any, mgr *ConnectionManager, connectionID uuid.UUID) (QueryRunner, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// Lookup returns the registration for a warehouse type.
func Lookup(connType string) (AdapterRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[connType]
	return reg, ok
}

// RegisteredAdapters returns info for all compiled-in adapters, used to tell
// callers which connection types this build supports.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(connType string) bool {
	_, ok := Lookup(connType)
	return ok
}
