package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/database"
	"github.com/metriq-io/semantic-engine/pkg/models"
)

// ConnectionRepository reads warehouse connections from the shared store.
// The connection subsystem owns the write paths; the engine only resolves
// connection ids to dialing configuration. Config is returned encrypted -
// decryption is handled by the service layer.
type ConnectionRepository interface {
	// GetByID retrieves a connection by ID. Returns the model and the
	// encrypted config.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error)

	// List retrieves all connections ordered by name. Encrypted configs are
	// not loaded; listings never need dialing credentials.
	List(ctx context.Context) ([]*models.Connection, error)
}

// connectionRepository implements ConnectionRepository using PostgreSQL.
type connectionRepository struct {
	db *database.DB
}

// NewConnectionRepository creates a new connection repository.
func NewConnectionRepository(db *database.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

// GetByID retrieves a connection by ID.
func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error) {
	query := `
		SELECT id, name, connection_type, config, status, created_at, updated_at
		FROM connections
		WHERE id = $1`

	var conn models.Connection
	var encryptedConfig string
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&conn.ID,
		&conn.Name,
		&conn.ConnectionType,
		&encryptedConfig,
		&conn.Status,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("connection %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to get connection: %w", err)
	}

	return &conn, encryptedConfig, nil
}

// List retrieves all connections ordered by name.
func (r *connectionRepository) List(ctx context.Context) ([]*models.Connection, error) {
	query := `
		SELECT id, name, connection_type, status, created_at, updated_at
		FROM connections
		ORDER BY name`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		var conn models.Connection
		if err := rows.Scan(
			&conn.ID,
			&conn.Name,
			&conn.ConnectionType,
			&conn.Status,
			&conn.CreatedAt,
			&conn.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, &conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connections: %w", err)
	}

	return connections, nil
}

// Ensure connectionRepository implements ConnectionRepository at compile time.
var _ ConnectionRepository = (*connectionRepository)(nil)
