package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/database"
	"github.com/metriq-io/semantic-engine/pkg/models"
)

// TransformRepository reads transforms from the shared store. The transform
// runtime owns the write paths; the engine reads output metadata to treat
// transforms as virtual tables.
type TransformRepository interface {
	// GetByID retrieves a transform by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transform, error)

	// List retrieves all transforms ordered by name.
	List(ctx context.Context) ([]*models.Transform, error)
}

// transformRepository implements TransformRepository using PostgreSQL.
type transformRepository struct {
	db *database.DB
}

// NewTransformRepository creates a new transform repository.
func NewTransformRepository(db *database.DB) TransformRepository {
	return &transformRepository{db: db}
}

// GetByID retrieves a transform by ID.
func (r *transformRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transform, error) {
	query := `
		SELECT id, name, output_schema, output_table, columns, status, created_at, updated_at
		FROM transforms
		WHERE id = $1`

	var tf models.Transform
	var columnsJSON []byte
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&tf.ID,
		&tf.Name,
		&tf.OutputSchema,
		&tf.OutputTable,
		&columnsJSON,
		&tf.Status,
		&tf.CreatedAt,
		&tf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transform %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transform: %w", err)
	}

	if err := json.Unmarshal(columnsJSON, &tf.Columns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transform columns: %w", err)
	}

	return &tf, nil
}

// List retrieves all transforms ordered by name.
func (r *transformRepository) List(ctx context.Context) ([]*models.Transform, error) {
	query := `
		SELECT id, name, output_schema, output_table, columns, status, created_at, updated_at
		FROM transforms
		ORDER BY name`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list transforms: %w", err)
	}
	defer rows.Close()

	var transforms []*models.Transform
	for rows.Next() {
		var tf models.Transform
		var columnsJSON []byte
		if err := rows.Scan(
			&tf.ID,
			&tf.Name,
			&tf.OutputSchema,
			&tf.OutputTable,
			&columnsJSON,
			&tf.Status,
			&tf.CreatedAt,
			&tf.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transform: %w", err)
		}
		if err := json.Unmarshal(columnsJSON, &tf.Columns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transform columns: %w", err)
		}
		transforms = append(transforms, &tf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transforms: %w", err)
	}

	return transforms, nil
}

// Ensure transformRepository implements TransformRepository at compile time.
var _ TransformRepository = (*transformRepository)(nil)
