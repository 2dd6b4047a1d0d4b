package warehouse

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AdapterFactory creates adapters from the registry.
type AdapterFactory interface {
	// NewConnectionTester creates a connection tester for the given connection type.
	NewConnectionTester(ctx context.Context, connType string, config map[string]any, connectionID uuid.UUID) (ConnectionTester, error)

	// NewSchemaReader creates a schema reader for the given connection type.
	NewSchemaReader(ctx context.Context, connType string, config map[string]any, connectionID uuid.UUID) (SchemaReader, error)

	// NewQueryRunner creates a query runner for the given connection type.
	NewQueryRunner(ctx context.Context, connType string, config map[string]any, connectionID uuid.UUID) (QueryRunner, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	connMgr *ConnectionManager
}

// NewAdapterFactory returns a factory that uses the global registry.
func NewAdapterFactory(connMgr *ConnectionManager) AdapterFactory {
	return &registryFactory{
		connMgr: connMgr,
	}
}

func (f *registryFactory) NewConnectionTester(ctx context.Context, connType string, config map[string]any, connectionID uuid.UUID) (ConnectionTester, error) {
	reg, ok := Lookup(connType)
	if !ok || reg.TesterFactory == nil {
		return nil, fmt.Errorf("unsupported connection type: %s (not compiled in)", connType)
	}
	return reg.TesterFactory(ctx, config, f.connMgr, connectionID)
}

func (f *registryFactory) NewSchemaReader(ctx context.Context, connType string, config map[string]any, connectionID uuid.UUID) (SchemaReader, error) {
	reg, ok := Lookup(connType)
	if !ok || reg.SchemaReaderFactory == nil {
		return nil, fmt.Errorf("schema discovery not supported for type: %s", connType)
	}
	return reg.SchemaReaderFactory(ctx, config, f.connMgr, connectionID)
}

func (f *registryFactory) NewQueryRunner(ctx context.Context, connType string, config map[string]any, connectionID uuid.UUID) (QueryRunner, error) {
	reg, ok := Lookup(connType)
	if !ok || reg.QueryRunnerFactory == nil {
		return nil, fmt.Errorf("query execution not supported for type: %s", connType)
	}
	return reg.QueryRunnerFactory(ctx, config, f.connMgr, connectionID)
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements AdapterFactory at compile time.
var _ AdapterFactory = (*registryFactory)(nil)
