//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/testhelpers"
)

func TestTransformRepository_GetByID(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewTransformRepository(engineDB.DB)
	ctx := context.Background()

	transformID := uuid.New()
	defer func() {
		_, _ = engineDB.DB.Pool.Exec(ctx, "DELETE FROM transforms WHERE id = $1", transformID)
	}()

	_, err := engineDB.DB.Pool.Exec(ctx, `
		INSERT INTO transforms (id, name, output_schema, output_table, columns, status)
		VALUES ($1, 'repo_monthly_revenue', 'analytics', 'monthly_revenue_v3',
			$2::jsonb, 'ready')
	`, transformID, `[{"name": "month", "type": "date"}, {"name": "revenue", "type": "numeric"}]`)
	if err != nil {
		t.Fatalf("failed to insert transform: %v", err)
	}

	tf, err := repo.GetByID(ctx, transformID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if tf.OutputSchema != "analytics" || tf.OutputTable != "monthly_revenue_v3" {
		t.Errorf("unexpected output relation: %s.%s", tf.OutputSchema, tf.OutputTable)
	}
	if len(tf.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(tf.Columns))
	}
	// Column order comes from the JSONB array, not name sorting
	if tf.Columns[0].Name != "month" || tf.Columns[1].Name != "revenue" {
		t.Errorf("column order not preserved: %+v", tf.Columns)
	}
}

func TestTransformRepository_GetByID_NotFound(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewTransformRepository(engineDB.DB)

	_, err := repo.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
