//go:build integration

package migrations_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metriq-io/semantic-engine/pkg/testhelpers"
)

// Test_002_SemanticModels verifies migration 002 creates the registry tables
// with the version counter and source shape constraints.
func Test_002_SemanticModels(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()

	var versionType string
	var versionDefault string
	err := engineDB.DB.Pool.QueryRow(ctx, `
		SELECT data_type, column_default
		FROM information_schema.columns
		WHERE table_name = 'semantic_models'
		AND column_name = 'version'
	`).Scan(&versionType, &versionDefault)
	require.NoError(t, err, "Failed to query column information")
	assert.Equal(t, "bigint", versionType, "version should be BIGINT")
	assert.Contains(t, versionDefault, "1", "version should default to 1")

	var conditionsType string
	err = engineDB.DB.Pool.QueryRow(ctx, `
		SELECT data_type
		FROM information_schema.columns
		WHERE table_name = 'semantic_joins'
		AND column_name = 'conditions'
	`).Scan(&conditionsType)
	require.NoError(t, err, "Failed to query column information")
	assert.Equal(t, "jsonb", conditionsType, "conditions should be JSONB type")

	// The active-model partial index backs the list filter
	var indexExists bool
	err = engineDB.DB.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE tablename = 'semantic_models'
			AND indexname = 'idx_semantic_models_active'
		)
	`).Scan(&indexExists)
	require.NoError(t, err, "Failed to query index information")
	assert.True(t, indexExists, "idx_semantic_models_active index should exist")
}

// Test_002_SemanticModels_Constraints exercises the source shape checks, the
// per-model name/alias uniqueness, and the cascade delete.
func Test_002_SemanticModels_Constraints(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()
	connectionID := uuid.New()
	modelID := uuid.New()

	defer func() {
		_, _ = engineDB.DB.Pool.Exec(ctx, "DELETE FROM semantic_models WHERE id = $1", modelID)
	}()

	_, err := engineDB.DB.Pool.Exec(ctx, `
		INSERT INTO semantic_models (id, name, connection_id, source_kind, source_schema, source_table)
		VALUES ($1, 'orders-model', $2, 'table', 'public', 'orders')
	`, modelID, connectionID)
	require.NoError(t, err, "Failed to insert model")

	// A table source may not also carry a transform id
	_, err = engineDB.DB.Pool.Exec(ctx, `
		INSERT INTO semantic_models (name, connection_id, source_kind, source_table, source_transform_id)
		VALUES ('broken-model', $1, 'table', 'orders', $2)
	`, connectionID, uuid.New())
	assert.Error(t, err, "Mixed source arms should violate the shape check")

	var measureID uuid.UUID
	err = engineDB.DB.Pool.QueryRow(ctx, `
		INSERT INTO semantic_measures (model_id, name, column_name, aggregation, expression, position)
		VALUES ($1, 'Total', 'amount', 'sum', 'SUM(amount)', 0)
		RETURNING id
	`, modelID).Scan(&measureID)
	require.NoError(t, err, "Failed to insert measure")

	// Measure names are unique per model (case-sensitive)
	_, err = engineDB.DB.Pool.Exec(ctx, `
		INSERT INTO semantic_measures (model_id, name, column_name, aggregation, expression, position)
		VALUES ($1, 'Total', 'amount', 'avg', 'AVG(amount)', 1)
	`, modelID)
	assert.Error(t, err, "Duplicate measure name within a model should be rejected")

	_, err = engineDB.DB.Pool.Exec(ctx, `
		INSERT INTO semantic_joins (model_id, target_kind, target_schema, target_table, alias, join_type, conditions, position)
		VALUES ($1, 'table', 'public', 'customers', 'customer', 'left',
			$2::jsonb, 0)
	`, modelID, `[{"left_column": "customer_id", "right_column": "id"}]`)
	require.NoError(t, err, "Failed to insert join")

	// The base alias is reserved
	_, err = engineDB.DB.Pool.Exec(ctx, `
		INSERT INTO semantic_joins (model_id, target_kind, target_table, alias, join_type, position)
		VALUES ($1, 'table', 'payments', 'base', 'left', 1)
	`, modelID)
	assert.Error(t, err, "base alias should be rejected by the check constraint")

	// Deleting the model cascades to children
	_, err = engineDB.DB.Pool.Exec(ctx, "DELETE FROM semantic_models WHERE id = $1", modelID)
	require.NoError(t, err, "Failed to delete model")

	var childCount int
	err = engineDB.DB.Pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM semantic_measures WHERE model_id = $1)
		     + (SELECT COUNT(*) FROM semantic_joins WHERE model_id = $1)
	`, modelID).Scan(&childCount)
	require.NoError(t, err)
	assert.Equal(t, 0, childCount, "Children should cascade with the model")
}
