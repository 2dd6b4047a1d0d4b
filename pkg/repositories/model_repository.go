package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/database"
	"github.com/metriq-io/semantic-engine/pkg/models"
)

// ModelRepository is the registry's system of record. Reads return the full
// aggregate (model plus measures, dimensions and joins in position order);
// every child write bumps the model's version in the same transaction so the
// compiled-SQL cache can key on (model_id, version).
type ModelRepository interface {
	// Create inserts a new model with empty definition collections.
	Create(ctx context.Context, m *models.SemanticModel) error

	// GetByID retrieves a model with all children in position order.
	GetByID(ctx context.Context, id uuid.UUID) (*models.SemanticModel, error)

	// List retrieves all models with their children. activeOnly restricts
	// the result to active models when non-nil and true, inactive when
	// non-nil and false.
	List(ctx context.Context, activeOnly *bool) ([]*models.SemanticModel, error)

	// Update modifies the mutable model fields. The source is immutable
	// after creation and has no update path.
	Update(ctx context.Context, id uuid.UUID, name, description string, isActive bool) error

	// Delete removes a model; children cascade at the database level.
	Delete(ctx context.Context, id uuid.UUID) error

	// AddMeasure appends a measure at the next position.
	AddMeasure(ctx context.Context, measure *models.Measure) error

	// RemoveMeasure deletes one measure of a model.
	RemoveMeasure(ctx context.Context, modelID, measureID uuid.UUID) error

	// AddDimension appends a dimension at the next position.
	AddDimension(ctx context.Context, dimension *models.Dimension) error

	// RemoveDimension deletes one dimension of a model.
	RemoveDimension(ctx context.Context, modelID, dimensionID uuid.UUID) error

	// AddJoin appends a join at the next position.
	AddJoin(ctx context.Context, join *models.Join) error

	// RemoveJoin deletes one join of a model.
	RemoveJoin(ctx context.Context, modelID, joinID uuid.UUID) error
}

// modelRepository implements ModelRepository using PostgreSQL.
type modelRepository struct {
	db *database.DB
}

// NewModelRepository creates a new model repository.
func NewModelRepository(db *database.DB) ModelRepository {
	return &modelRepository{db: db}
}

// Create inserts a new model with empty definition collections.
func (r *modelRepository) Create(ctx context.Context, m *models.SemanticModel) error {
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Version = 1

	query := `
		INSERT INTO semantic_models (name, description, connection_id, source_kind, source_schema, source_table, source_transform_id, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.Pool.QueryRow(ctx, query,
		m.Name,
		m.Description,
		m.ConnectionID,
		m.Source.Kind,
		m.Source.Schema,
		m.Source.Table,
		nullableUUID(m.Source.TransformID),
		m.IsActive,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	).Scan(&m.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("a model named %q already exists: %w", m.Name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create model: %w", err)
	}

	if m.Measures == nil {
		m.Measures = []models.Measure{}
	}
	if m.Dimensions == nil {
		m.Dimensions = []models.Dimension{}
	}
	if m.Joins == nil {
		m.Joins = []models.Join{}
	}
	return nil
}

// GetByID retrieves a model with all children in position order.
func (r *modelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SemanticModel, error) {
	query := `
		SELECT id, name, description, connection_id, source_kind, source_schema, source_table, source_transform_id, is_active, version, created_at, updated_at
		FROM semantic_models
		WHERE id = $1`

	m, err := scanModel(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("model %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	if err := r.loadChildren(ctx, []*models.SemanticModel{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// List retrieves all models with their children.
func (r *modelRepository) List(ctx context.Context, activeOnly *bool) ([]*models.SemanticModel, error) {
	query := `
		SELECT id, name, description, connection_id, source_kind, source_schema, source_table, source_transform_id, is_active, version, created_at, updated_at
		FROM semantic_models`
	args := []any{}
	if activeOnly != nil {
		query += ` WHERE is_active = $1`
		args = append(args, *activeOnly)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var list []*models.SemanticModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating models: %w", err)
	}

	if err := r.loadChildren(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// Update modifies the mutable model fields and bumps the version.
func (r *modelRepository) Update(ctx context.Context, id uuid.UUID, name, description string, isActive bool) error {
	query := `
		UPDATE semantic_models
		SET name = $2, description = $3, is_active = $4, version = version + 1, updated_at = $5
		WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id, name, description, isActive, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("a model named %q already exists: %w", name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to update model: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("model %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// Delete removes a model; children cascade at the database level.
func (r *modelRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM semantic_models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("model %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// AddMeasure appends a measure at the next position.
func (r *modelRepository) AddMeasure(ctx context.Context, measure *models.Measure) error {
	measure.CreatedAt = time.Now()

	return r.childWrite(ctx, measure.ModelID, func(tx pgx.Tx) error {
		query := `
			INSERT INTO semantic_measures (model_id, name, column_name, aggregation, expression, description, display_format, position, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7,
				(SELECT COALESCE(MAX(position) + 1, 0) FROM semantic_measures WHERE model_id = $1),
				$8)
			RETURNING id, position`

		err := tx.QueryRow(ctx, query,
			measure.ModelID,
			measure.Name,
			measure.ColumnName,
			measure.Aggregation,
			measure.Expression,
			measure.Description,
			measure.DisplayFormat,
			measure.CreatedAt,
		).Scan(&measure.ID, &measure.Position)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("measure %q already exists on this model: %w", measure.Name, apperrors.ErrDuplicateName)
			}
			return fmt.Errorf("failed to add measure: %w", err)
		}
		return nil
	})
}

// RemoveMeasure deletes one measure of a model.
func (r *modelRepository) RemoveMeasure(ctx context.Context, modelID, measureID uuid.UUID) error {
	return r.childWrite(ctx, modelID, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM semantic_measures WHERE model_id = $1 AND id = $2`, modelID, measureID)
		if err != nil {
			return fmt.Errorf("failed to remove measure: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("measure %s: %w", measureID, apperrors.ErrNotFound)
		}
		return nil
	})
}

// AddDimension appends a dimension at the next position.
func (r *modelRepository) AddDimension(ctx context.Context, dimension *models.Dimension) error {
	dimension.CreatedAt = time.Now()

	return r.childWrite(ctx, dimension.ModelID, func(tx pgx.Tx) error {
		query := `
			INSERT INTO semantic_dimensions (model_id, name, column_name, description, display_format, position, created_at)
			VALUES ($1, $2, $3, $4, $5,
				(SELECT COALESCE(MAX(position) + 1, 0) FROM semantic_dimensions WHERE model_id = $1),
				$6)
			RETURNING id, position`

		err := tx.QueryRow(ctx, query,
			dimension.ModelID,
			dimension.Name,
			dimension.ColumnName,
			dimension.Description,
			dimension.DisplayFormat,
			dimension.CreatedAt,
		).Scan(&dimension.ID, &dimension.Position)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("dimension %q already exists on this model: %w", dimension.Name, apperrors.ErrDuplicateName)
			}
			return fmt.Errorf("failed to add dimension: %w", err)
		}
		return nil
	})
}

// RemoveDimension deletes one dimension of a model.
func (r *modelRepository) RemoveDimension(ctx context.Context, modelID, dimensionID uuid.UUID) error {
	return r.childWrite(ctx, modelID, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM semantic_dimensions WHERE model_id = $1 AND id = $2`, modelID, dimensionID)
		if err != nil {
			return fmt.Errorf("failed to remove dimension: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("dimension %s: %w", dimensionID, apperrors.ErrNotFound)
		}
		return nil
	})
}

// AddJoin appends a join at the next position.
func (r *modelRepository) AddJoin(ctx context.Context, join *models.Join) error {
	join.CreatedAt = time.Now()

	conditionsJSON, err := json.Marshal(join.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal join conditions: %w", err)
	}

	return r.childWrite(ctx, join.ModelID, func(tx pgx.Tx) error {
		query := `
			INSERT INTO semantic_joins (model_id, target_kind, target_schema, target_table, target_transform_id, alias, join_type, conditions, position, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
				(SELECT COALESCE(MAX(position) + 1, 0) FROM semantic_joins WHERE model_id = $1),
				$9)
			RETURNING id, position`

		err := tx.QueryRow(ctx, query,
			join.ModelID,
			join.Target.Kind,
			join.Target.Schema,
			join.Target.Table,
			nullableUUID(join.Target.TransformID),
			join.Alias,
			join.JoinType,
			conditionsJSON,
			join.CreatedAt,
		).Scan(&join.ID, &join.Position)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("alias %q is already used by another join: %w", join.Alias, apperrors.ErrCyclicOrDuplicateAlias)
			}
			return fmt.Errorf("failed to add join: %w", err)
		}
		return nil
	})
}

// RemoveJoin deletes one join of a model.
func (r *modelRepository) RemoveJoin(ctx context.Context, modelID, joinID uuid.UUID) error {
	return r.childWrite(ctx, modelID, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM semantic_joins WHERE model_id = $1 AND id = $2`, modelID, joinID)
		if err != nil {
			return fmt.Errorf("failed to remove join: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("join %s: %w", joinID, apperrors.ErrNotFound)
		}
		return nil
	})
}

// childWrite runs fn and the model's version bump in one transaction, so a
// definition change and its cache-invalidating version are atomic.
func (r *modelRepository) childWrite(ctx context.Context, modelID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	result, err := tx.Exec(ctx, `UPDATE semantic_models SET version = version + 1, updated_at = $2 WHERE id = $1`, modelID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to bump model version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("model %s: %w", modelID, apperrors.ErrNotFound)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// loadChildren fills the definition collections of the given models with
// three queries total, preserving position order.
func (r *modelRepository) loadChildren(ctx context.Context, list []*models.SemanticModel) error {
	if len(list) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*models.SemanticModel, len(list))
	ids := make([]uuid.UUID, 0, len(list))
	for _, m := range list {
		m.Measures = []models.Measure{}
		m.Dimensions = []models.Dimension{}
		m.Joins = []models.Join{}
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	if err := r.loadMeasures(ctx, ids, byID); err != nil {
		return err
	}
	if err := r.loadDimensions(ctx, ids, byID); err != nil {
		return err
	}
	return r.loadJoins(ctx, ids, byID)
}

func (r *modelRepository) loadMeasures(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*models.SemanticModel) error {
	query := `
		SELECT id, model_id, name, column_name, aggregation, expression, description, display_format, position, created_at
		FROM semantic_measures
		WHERE model_id = ANY($1)
		ORDER BY model_id, position`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to load measures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mes models.Measure
		if err := rows.Scan(
			&mes.ID,
			&mes.ModelID,
			&mes.Name,
			&mes.ColumnName,
			&mes.Aggregation,
			&mes.Expression,
			&mes.Description,
			&mes.DisplayFormat,
			&mes.Position,
			&mes.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan measure: %w", err)
		}
		if m, ok := byID[mes.ModelID]; ok {
			m.Measures = append(m.Measures, mes)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating measures: %w", err)
	}
	return nil
}

func (r *modelRepository) loadDimensions(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*models.SemanticModel) error {
	query := `
		SELECT id, model_id, name, column_name, description, display_format, position, created_at
		FROM semantic_dimensions
		WHERE model_id = ANY($1)
		ORDER BY model_id, position`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to load dimensions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dim models.Dimension
		if err := rows.Scan(
			&dim.ID,
			&dim.ModelID,
			&dim.Name,
			&dim.ColumnName,
			&dim.Description,
			&dim.DisplayFormat,
			&dim.Position,
			&dim.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan dimension: %w", err)
		}
		if m, ok := byID[dim.ModelID]; ok {
			m.Dimensions = append(m.Dimensions, dim)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating dimensions: %w", err)
	}
	return nil
}

func (r *modelRepository) loadJoins(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*models.SemanticModel) error {
	query := `
		SELECT id, model_id, target_kind, target_schema, target_table, target_transform_id, alias, join_type, conditions, position, created_at
		FROM semantic_joins
		WHERE model_id = ANY($1)
		ORDER BY model_id, position`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to load joins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var j models.Join
		var transformID *uuid.UUID
		var conditionsJSON []byte
		if err := rows.Scan(
			&j.ID,
			&j.ModelID,
			&j.Target.Kind,
			&j.Target.Schema,
			&j.Target.Table,
			&transformID,
			&j.Alias,
			&j.JoinType,
			&conditionsJSON,
			&j.Position,
			&j.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan join: %w", err)
		}
		if transformID != nil {
			j.Target.TransformID = *transformID
		}
		if err := json.Unmarshal(conditionsJSON, &j.Conditions); err != nil {
			return fmt.Errorf("failed to unmarshal join conditions: %w", err)
		}
		if m, ok := byID[j.ModelID]; ok {
			m.Joins = append(m.Joins, j)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating joins: %w", err)
	}
	return nil
}

// scanModel reads one semantic_models row from either a pgx.Row or pgx.Rows.
func scanModel(row pgx.Row) (*models.SemanticModel, error) {
	var m models.SemanticModel
	var transformID *uuid.UUID
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Description,
		&m.ConnectionID,
		&m.Source.Kind,
		&m.Source.Schema,
		&m.Source.Table,
		&transformID,
		&m.IsActive,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if transformID != nil {
		m.Source.TransformID = *transformID
	}
	return &m, nil
}

// nullableUUID maps the zero UUID to NULL for optional foreign keys.
func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// Ensure modelRepository implements ModelRepository at compile time.
var _ ModelRepository = (*modelRepository)(nil)
