package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/models"
)

// modelServiceFixture wires a ModelService over in-memory mocks with a real
// catalog and resolver, so registry validations run against the same plan
// logic production uses.
type modelServiceFixture struct {
	repo       *mockModelRepo
	conns      *mockConnectionService
	reader     *mockSchemaReader
	transforms *mockTransformRepo
	svc        ModelService
}

func newModelServiceFixture() *modelServiceFixture {
	reader := newMockSchemaReader()
	reader.setColumns("public", "orders", "id", "customer_id", "amount", "created_at", "status")
	reader.setColumns("public", "customers", "id", "name", "region_id")
	reader.setColumns("public", "regions", "id", "name")

	factory := &mockAdapterFactory{reader: reader}
	transforms := newMockTransformRepo()
	catalog := NewCatalogService(transforms, factory, zap.NewNop())
	resolver := NewResolverService(catalog, zap.NewNop())
	repo := newMockModelRepo()
	conns := &mockConnectionService{conn: testConnection()}

	return &modelServiceFixture{
		repo:       repo,
		conns:      conns,
		reader:     reader,
		transforms: transforms,
		svc:        NewModelService(repo, conns, catalog, resolver, zap.NewNop()),
	}
}

func (f *modelServiceFixture) createModel(t *testing.T) *models.SemanticModel {
	t.Helper()

	model, err := f.svc.CreateModel(context.Background(), "orders analysis", "", f.conns.conn.ID, models.SourceRef{
		Kind:   models.SourceKindTable,
		Schema: "public",
		Table:  "orders",
	})
	require.NoError(t, err)
	return model
}

func TestModelService_CreateModel(t *testing.T) {
	f := newModelServiceFixture()

	model := f.createModel(t)
	assert.NotEqual(t, uuid.Nil, model.ID)
	assert.Equal(t, int64(1), model.Version)
	assert.True(t, model.IsActive)
	assert.Empty(t, model.Measures)
	assert.Empty(t, model.Dimensions)
	assert.Empty(t, model.Joins)
}

func TestModelService_CreateModel_BlankName(t *testing.T) {
	f := newModelServiceFixture()

	_, err := f.svc.CreateModel(context.Background(), "", "", f.conns.conn.ID, models.SourceRef{
		Kind:  models.SourceKindTable,
		Table: "orders",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestModelService_CreateModel_InvalidSource(t *testing.T) {
	f := newModelServiceFixture()

	// Both arms populated under the table kind.
	_, err := f.svc.CreateModel(context.Background(), "m", "", f.conns.conn.ID, models.SourceRef{
		Kind:        models.SourceKindTable,
		Table:       "orders",
		TransformID: uuid.New(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSource)

	// Transform kind without a transform id.
	_, err = f.svc.CreateModel(context.Background(), "m", "", f.conns.conn.ID, models.SourceRef{
		Kind: models.SourceKindTransform,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSource)
}

func TestModelService_CreateModel_UnknownConnection(t *testing.T) {
	f := newModelServiceFixture()

	_, err := f.svc.CreateModel(context.Background(), "m", "", uuid.New(), models.SourceRef{
		Kind:  models.SourceKindTable,
		Table: "orders",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestModelService_CreateModel_UnsafeName(t *testing.T) {
	f := newModelServiceFixture()

	_, err := f.svc.CreateModel(context.Background(), "x'; DROP TABLE semantic_models--", "", f.conns.conn.ID, models.SourceRef{
		Kind:  models.SourceKindTable,
		Table: "orders",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnsafeIdentifier)
}

func TestModelService_CreateModel_DuplicateName(t *testing.T) {
	f := newModelServiceFixture()
	f.createModel(t)

	_, err := f.svc.CreateModel(context.Background(), "orders analysis", "", f.conns.conn.ID, models.SourceRef{
		Kind:  models.SourceKindTable,
		Table: "orders",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestModelService_AddMeasure(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	updated, err := f.svc.AddMeasure(context.Background(), model.ID, "Total Revenue", "amount", models.AggSum, "", "currency")
	require.NoError(t, err)
	require.Len(t, updated.Measures, 1)
	m := updated.Measures[0]
	assert.Equal(t, "Total Revenue", m.Name)
	assert.Equal(t, "SUM(amount)", m.Expression)
	assert.Equal(t, 0, m.Position)
	assert.Equal(t, "currency", m.DisplayFormat)
	assert.Equal(t, int64(2), updated.Version)
}

func TestModelService_AddMeasure_CountDistinct(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	updated, err := f.svc.AddMeasure(context.Background(), model.ID, "Unique Customers", "customer_id", models.AggCountDistinct, "", "")
	require.NoError(t, err)
	assert.Equal(t, "COUNT(DISTINCT customer_id)", updated.Measures[0].Expression)
}

func TestModelService_AddMeasure_DuplicateName(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddMeasure(context.Background(), model.ID, "Revenue", "amount", models.AggSum, "", "")
	require.NoError(t, err)

	_, err = f.svc.AddMeasure(context.Background(), model.ID, "Revenue", "amount", models.AggAvg, "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateName)

	// Name comparison is case-sensitive.
	_, err = f.svc.AddMeasure(context.Background(), model.ID, "revenue", "amount", models.AggAvg, "", "")
	require.NoError(t, err)
}

func TestModelService_AddMeasure_UnknownColumn(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddMeasure(context.Background(), model.ID, "Margin", "profit", models.AggSum, "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownColumn)

	// A failed add leaves the model untouched.
	current, err := f.repo.GetByID(context.Background(), model.ID)
	require.NoError(t, err)
	assert.Empty(t, current.Measures)
	assert.Equal(t, int64(1), current.Version)
}

func TestModelService_AddMeasure_InvalidAggregation(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddMeasure(context.Background(), model.ID, "Revenue", "amount", models.Aggregation("median"), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported aggregation")
}

func TestModelService_AddMeasure_UnsafeColumn(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddMeasure(context.Background(), model.ID, "Revenue", "amount'; DELETE FROM orders--", models.AggSum, "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnsafeIdentifier)
}

func TestModelService_AddMeasure_JoinedColumn(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "customers"},
		"customer", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "id"}})
	require.NoError(t, err)

	// region_id lives on the joined relation, not the base.
	updated, err := f.svc.AddDimension(context.Background(), model.ID, "Region", "region_id", "", "")
	require.NoError(t, err)
	assert.Len(t, updated.Dimensions, 1)
}

func TestModelService_RemoveMeasure(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	updated, err := f.svc.AddMeasure(context.Background(), model.ID, "Revenue", "amount", models.AggSum, "", "")
	require.NoError(t, err)

	updated, err = f.svc.RemoveMeasure(context.Background(), model.ID, updated.Measures[0].ID)
	require.NoError(t, err)
	assert.Empty(t, updated.Measures)
	assert.Equal(t, int64(3), updated.Version)
}

func TestModelService_RemoveMeasure_NotFound(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.RemoveMeasure(context.Background(), model.ID, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestModelService_AddDimension_DuplicateName(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddDimension(context.Background(), model.ID, "Status", "status", "", "")
	require.NoError(t, err)

	_, err = f.svc.AddDimension(context.Background(), model.ID, "Status", "created_at", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateName)
}

func TestModelService_AddJoin(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	updated, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "customers"},
		"customer", models.JoinInner,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "id"}})
	require.NoError(t, err)
	require.Len(t, updated.Joins, 1)
	assert.Equal(t, "customer", updated.Joins[0].Alias)
	assert.Equal(t, models.JoinInner, updated.Joins[0].JoinType)
	assert.Equal(t, int64(2), updated.Version)
}

func TestModelService_AddJoin_DefaultAlias(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	updated, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "customers"},
		"", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "id"}})
	require.NoError(t, err)
	assert.Equal(t, "customer", updated.Joins[0].Alias)
}

func TestModelService_AddJoin_BaseAliasReserved(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "customers"},
		"base", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "id"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCyclicOrDuplicateAlias)
}

func TestModelService_AddJoin_DuplicateAlias(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "customers"},
		"customer", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "id"}})
	require.NoError(t, err)

	_, err = f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "regions"},
		"customer", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "region_id", RightColumn: "id"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCyclicOrDuplicateAlias)
}

func TestModelService_AddJoin_UnresolvedLeftColumn(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "regions"},
		"region", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "region_id", RightColumn: "id"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnresolvedLeftColumn)

	// The model is unchanged after the failed add.
	current, err := f.repo.GetByID(context.Background(), model.ID)
	require.NoError(t, err)
	assert.Empty(t, current.Joins)
	assert.Equal(t, int64(1), current.Version)
}

func TestModelService_AddJoin_UnknownRightColumn(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "customers"},
		"customer", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "zip"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownColumn)
}

func TestModelService_AddJoin_MissingTargetTable(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "warehouses"},
		"warehouse", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "id"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSource)
}

func TestModelService_RemoveJoin(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	updated, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "customers"},
		"customer", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "id"}})
	require.NoError(t, err)

	updated, err = f.svc.RemoveJoin(context.Background(), model.ID, updated.Joins[0].ID)
	require.NoError(t, err)
	assert.Empty(t, updated.Joins)
}

func TestModelService_RemoveJoin_BreaksDependent(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	updated, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "customers"},
		"customer", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "id"}})
	require.NoError(t, err)
	customerJoinID := updated.Joins[0].ID

	_, err = f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "regions"},
		"region", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "region_id", RightColumn: "id"}})
	require.NoError(t, err)

	_, err = f.svc.RemoveJoin(context.Background(), model.ID, customerJoinID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnresolvedLeftColumn)

	// Both joins survive the rejected removal.
	current, err := f.repo.GetByID(context.Background(), model.ID)
	require.NoError(t, err)
	assert.Len(t, current.Joins, 2)
}

func TestModelService_RemoveJoin_NotFound(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.RemoveJoin(context.Background(), model.ID, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestModelService_ModelColumns(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.AddJoin(context.Background(), model.ID,
		models.SourceRef{Kind: models.SourceKindTable, Schema: "public", Table: "customers"},
		"customer", models.JoinLeft,
		[]models.JoinCondition{{LeftColumn: "customer_id", RightColumn: "id"}})
	require.NoError(t, err)

	cols, warnings, err := f.svc.ModelColumns(context.Background(), model.ID)
	require.NoError(t, err)
	assert.Len(t, cols, 5+3)
	assert.Equal(t, "base", cols[0].Alias)
	assert.Equal(t, "customer", cols[5].Alias)
	assert.Empty(t, warnings)
}

func TestModelService_UpdateModel(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	updated, err := f.svc.UpdateModel(context.Background(), model.ID, "renamed", "now with a description", false)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "now with a description", updated.Description)
	assert.False(t, updated.IsActive)
	assert.Equal(t, int64(2), updated.Version)
}

func TestModelService_DeleteModel(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	err := f.svc.DeleteModel(context.Background(), model.ID)
	require.NoError(t, err)

	_, err = f.svc.GetModel(context.Background(), model.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestModelService_ListModels_ActiveFilter(t *testing.T) {
	f := newModelServiceFixture()
	model := f.createModel(t)

	_, err := f.svc.UpdateModel(context.Background(), model.ID, model.Name, "", false)
	require.NoError(t, err)

	active := true
	listed, err := f.svc.ListModels(context.Background(), &active)
	require.NoError(t, err)
	assert.Empty(t, listed)

	listed, err = f.svc.ListModels(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
