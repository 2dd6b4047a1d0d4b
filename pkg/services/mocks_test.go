package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/metriq-io/semantic-engine/pkg/adapters/warehouse"
	"github.com/metriq-io/semantic-engine/pkg/apperrors"
	"github.com/metriq-io/semantic-engine/pkg/models"
)

// mockModelRepo implements repositories.ModelRepository in memory, mirroring
// the real repository's behavior: reads return fresh copies, every write
// bumps the model version, missing rows map to NotFound.
type mockModelRepo struct {
	models map[uuid.UUID]*models.SemanticModel

	createErr error
	getErr    error
	listErr   error
	updateErr error
	deleteErr error
	childErr  error // injected into every child write
}

func newMockModelRepo() *mockModelRepo {
	return &mockModelRepo{models: make(map[uuid.UUID]*models.SemanticModel)}
}

func cloneModel(m *models.SemanticModel) *models.SemanticModel {
	out := *m
	out.Measures = append([]models.Measure{}, m.Measures...)
	out.Dimensions = append([]models.Dimension{}, m.Dimensions...)
	out.Joins = append([]models.Join{}, m.Joins...)
	return &out
}

func (r *mockModelRepo) Create(_ context.Context, m *models.SemanticModel) error {
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.models {
		if existing.Name == m.Name {
			return fmt.Errorf("a model named %q already exists: %w", m.Name, apperrors.ErrConflict)
		}
	}
	m.ID = uuid.New()
	m.Version = 1
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Measures = []models.Measure{}
	m.Dimensions = []models.Dimension{}
	m.Joins = []models.Join{}
	r.models[m.ID] = cloneModel(m)
	return nil
}

func (r *mockModelRepo) GetByID(_ context.Context, id uuid.UUID) (*models.SemanticModel, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("model %s: %w", id, apperrors.ErrNotFound)
	}
	return cloneModel(m), nil
}

func (r *mockModelRepo) List(_ context.Context, activeOnly *bool) ([]*models.SemanticModel, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]*models.SemanticModel, 0, len(r.models))
	for _, m := range r.models {
		if activeOnly != nil && m.IsActive != *activeOnly {
			continue
		}
		out = append(out, cloneModel(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *mockModelRepo) Update(_ context.Context, id uuid.UUID, name, description string, isActive bool) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	m, ok := r.models[id]
	if !ok {
		return fmt.Errorf("model %s: %w", id, apperrors.ErrNotFound)
	}
	m.Name = name
	m.Description = description
	m.IsActive = isActive
	m.Version++
	m.UpdatedAt = time.Now()
	return nil
}

func (r *mockModelRepo) Delete(_ context.Context, id uuid.UUID) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.models[id]; !ok {
		return fmt.Errorf("model %s: %w", id, apperrors.ErrNotFound)
	}
	delete(r.models, id)
	return nil
}

func (r *mockModelRepo) AddMeasure(_ context.Context, measure *models.Measure) error {
	if r.childErr != nil {
		return r.childErr
	}
	m, ok := r.models[measure.ModelID]
	if !ok {
		return fmt.Errorf("model %s: %w", measure.ModelID, apperrors.ErrNotFound)
	}
	measure.ID = uuid.New()
	measure.Position = len(m.Measures)
	measure.CreatedAt = time.Now()
	m.Measures = append(m.Measures, *measure)
	m.Version++
	return nil
}

func (r *mockModelRepo) RemoveMeasure(_ context.Context, modelID, measureID uuid.UUID) error {
	if r.childErr != nil {
		return r.childErr
	}
	m, ok := r.models[modelID]
	if !ok {
		return fmt.Errorf("model %s: %w", modelID, apperrors.ErrNotFound)
	}
	for i := range m.Measures {
		if m.Measures[i].ID == measureID {
			m.Measures = append(m.Measures[:i], m.Measures[i+1:]...)
			m.Version++
			return nil
		}
	}
	return fmt.Errorf("measure %s: %w", measureID, apperrors.ErrNotFound)
}

func (r *mockModelRepo) AddDimension(_ context.Context, dimension *models.Dimension) error {
	if r.childErr != nil {
		return r.childErr
	}
	m, ok := r.models[dimension.ModelID]
	if !ok {
		return fmt.Errorf("model %s: %w", dimension.ModelID, apperrors.ErrNotFound)
	}
	dimension.ID = uuid.New()
	dimension.Position = len(m.Dimensions)
	dimension.CreatedAt = time.Now()
	m.Dimensions = append(m.Dimensions, *dimension)
	m.Version++
	return nil
}

func (r *mockModelRepo) RemoveDimension(_ context.Context, modelID, dimensionID uuid.UUID) error {
	if r.childErr != nil {
		return r.childErr
	}
	m, ok := r.models[modelID]
	if !ok {
		return fmt.Errorf("model %s: %w", modelID, apperrors.ErrNotFound)
	}
	for i := range m.Dimensions {
		if m.Dimensions[i].ID == dimensionID {
			m.Dimensions = append(m.Dimensions[:i], m.Dimensions[i+1:]...)
			m.Version++
			return nil
		}
	}
	return fmt.Errorf("dimension %s: %w", dimensionID, apperrors.ErrNotFound)
}

func (r *mockModelRepo) AddJoin(_ context.Context, join *models.Join) error {
	if r.childErr != nil {
		return r.childErr
	}
	m, ok := r.models[join.ModelID]
	if !ok {
		return fmt.Errorf("model %s: %w", join.ModelID, apperrors.ErrNotFound)
	}
	for i := range m.Joins {
		if m.Joins[i].Alias == join.Alias {
			return fmt.Errorf("join alias %q is already used on model %s: %w", join.Alias, join.ModelID, apperrors.ErrCyclicOrDuplicateAlias)
		}
	}
	join.ID = uuid.New()
	join.Position = len(m.Joins)
	join.CreatedAt = time.Now()
	m.Joins = append(m.Joins, *join)
	m.Version++
	return nil
}

func (r *mockModelRepo) RemoveJoin(_ context.Context, modelID, joinID uuid.UUID) error {
	if r.childErr != nil {
		return r.childErr
	}
	m, ok := r.models[modelID]
	if !ok {
		return fmt.Errorf("model %s: %w", modelID, apperrors.ErrNotFound)
	}
	for i := range m.Joins {
		if m.Joins[i].ID == joinID {
			m.Joins = append(m.Joins[:i], m.Joins[i+1:]...)
			m.Version++
			return nil
		}
	}
	return fmt.Errorf("join %s: %w", joinID, apperrors.ErrNotFound)
}

// mockConnectionRepo implements repositories.ConnectionRepository.
type mockConnectionRepo struct {
	conns     map[uuid.UUID]*models.Connection
	encrypted map[uuid.UUID]string

	getErr  error
	listErr error
}

func newMockConnectionRepo() *mockConnectionRepo {
	return &mockConnectionRepo{
		conns:     make(map[uuid.UUID]*models.Connection),
		encrypted: make(map[uuid.UUID]string),
	}
}

func (r *mockConnectionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Connection, string, error) {
	if r.getErr != nil {
		return nil, "", r.getErr
	}
	c, ok := r.conns[id]
	if !ok {
		return nil, "", fmt.Errorf("connection %s: %w", id, apperrors.ErrNotFound)
	}
	out := *c
	return &out, r.encrypted[id], nil
}

func (r *mockConnectionRepo) List(_ context.Context) ([]*models.Connection, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]*models.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		cc := *c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// mockTransformRepo implements repositories.TransformRepository.
type mockTransformRepo struct {
	transforms map[uuid.UUID]*models.Transform

	getErr  error
	listErr error
}

func newMockTransformRepo() *mockTransformRepo {
	return &mockTransformRepo{transforms: make(map[uuid.UUID]*models.Transform)}
}

func (r *mockTransformRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Transform, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	tf, ok := r.transforms[id]
	if !ok {
		return nil, fmt.Errorf("transform %s: %w", id, apperrors.ErrNotFound)
	}
	out := *tf
	return &out, nil
}

func (r *mockTransformRepo) List(_ context.Context) ([]*models.Transform, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]*models.Transform, 0, len(r.transforms))
	for _, tf := range r.transforms {
		cp := *tf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// mockConnectionService implements ConnectionService without crypto, for
// tests that only need a resolvable connection.
type mockConnectionService struct {
	conn *models.Connection

	getErr  error
	testErr error
}

func (s *mockConnectionService) Get(_ context.Context, id uuid.UUID) (*models.Connection, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.conn == nil || s.conn.ID != id {
		return nil, fmt.Errorf("connection %s: %w", id, apperrors.ErrNotFound)
	}
	out := *s.conn
	return &out, nil
}

func (s *mockConnectionService) List(_ context.Context) ([]*models.Connection, error) {
	if s.conn == nil {
		return nil, nil
	}
	out := *s.conn
	return []*models.Connection{&out}, nil
}

func (s *mockConnectionService) TestConnection(_ context.Context, _ uuid.UUID) error {
	return s.testErr
}

// mockSchemaReader implements warehouse.SchemaReader over a fixed column map
// keyed by "schema.table". A missing key reads as an empty column list, the
// same shape information_schema gives for an unknown table.
type mockSchemaReader struct {
	tables  []warehouse.Table
	columns map[string][]warehouse.Column
	calls   map[string]int

	listTablesErr  error
	listColumnsErr error
	closed         int
}

func newMockSchemaReader() *mockSchemaReader {
	return &mockSchemaReader{
		columns: make(map[string][]warehouse.Column),
		calls:   make(map[string]int),
	}
}

func colKey(schema, table string) string {
	return schema + "." + table
}

func (m *mockSchemaReader) setColumns(schema, table string, names ...string) {
	cols := make([]warehouse.Column, 0, len(names))
	for _, n := range names {
		cols = append(cols, warehouse.Column{Name: n, DataType: "text", IsNullable: true})
	}
	m.columns[colKey(schema, table)] = cols
}

func (m *mockSchemaReader) ListTables(_ context.Context) ([]warehouse.Table, error) {
	if m.listTablesErr != nil {
		return nil, m.listTablesErr
	}
	return m.tables, nil
}

func (m *mockSchemaReader) ListColumns(_ context.Context, schemaName, tableName string) ([]warehouse.Column, error) {
	if m.listColumnsErr != nil {
		return nil, m.listColumnsErr
	}
	key := colKey(schemaName, tableName)
	m.calls[key]++
	return m.columns[key], nil
}

func (m *mockSchemaReader) Close() error {
	m.closed++
	return nil
}

// mockQueryRunner implements warehouse.QueryRunner, recording the last
// statement and limit it was asked to run.
type mockQueryRunner struct {
	result *warehouse.QueryResult
	err    error

	lastSQL   string
	lastLimit int
	queries   int
	closed    int
}

func (m *mockQueryRunner) Query(_ context.Context, sqlQuery string, limit int) (*warehouse.QueryResult, error) {
	m.queries++
	m.lastSQL = sqlQuery
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &warehouse.QueryResult{Columns: []warehouse.ColumnInfo{}, Rows: []map[string]any{}}, nil
}

func (m *mockQueryRunner) Close() error {
	m.closed++
	return nil
}

// mockConnectionTester implements warehouse.ConnectionTester.
type mockConnectionTester struct {
	err    error
	closed int
}

func (m *mockConnectionTester) TestConnection(_ context.Context) error {
	return m.err
}

func (m *mockConnectionTester) Close() error {
	m.closed++
	return nil
}

// mockAdapterFactory hands out the fixed mock adapters above.
type mockAdapterFactory struct {
	tester warehouse.ConnectionTester
	reader *mockSchemaReader
	runner *mockQueryRunner

	testerErr error
	readerErr error
	runnerErr error
}

func (f *mockAdapterFactory) NewConnectionTester(_ context.Context, _ string, _ map[string]any, _ uuid.UUID) (warehouse.ConnectionTester, error) {
	if f.testerErr != nil {
		return nil, f.testerErr
	}
	return f.tester, nil
}

func (f *mockAdapterFactory) NewSchemaReader(_ context.Context, _ string, _ map[string]any, _ uuid.UUID) (warehouse.SchemaReader, error) {
	if f.readerErr != nil {
		return nil, f.readerErr
	}
	return f.reader, nil
}

func (f *mockAdapterFactory) NewQueryRunner(_ context.Context, _ string, _ map[string]any, _ uuid.UUID) (warehouse.QueryRunner, error) {
	if f.runnerErr != nil {
		return nil, f.runnerErr
	}
	return f.runner, nil
}

func (f *mockAdapterFactory) ListTypes() []warehouse.AdapterInfo {
	return nil
}
