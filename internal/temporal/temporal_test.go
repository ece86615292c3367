package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/registry"
	"data-intelligence/internal/schema"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mockSource(t *testing.T, d adapter.Dialect) (*registry.Registry, registry.Handle, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	r := registry.New(registry.WithConnector(func(ctx context.Context, cfg adapter.ConnConfig) (adapter.Driver, error) {
		return adapter.NewSQLDriver(db, d), nil
	}))
	h, err := r.Open(context.Background(), adapter.ConnConfig{
		DBType: string(d), Host: "db", Port: 5432, Database: "shop", Username: "u",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return r, h, mock
}

func usersAndProducts() *schema.Schema {
	return &schema.Schema{Tables: []*schema.Table{
		{Name: "products", SchemaName: "public", RowCount: 200, Columns: []schema.Column{
			{Name: "id", Type: "integer"}, {Name: "title", Type: "text"},
		}},
		{Name: "users", SchemaName: "public", RowCount: 5000, Columns: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "updated_date", Type: "text"},
			{Name: "created_at", Type: "timestamp with time zone"},
		}},
	}}
}

func TestBirthFallback(t *testing.T) {
	r, h, mock := mockSource(t, adapter.DialectPostgres)
	birth := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT MIN("created_at") AS birth FROM "public"."users"`).
		WillReturnRows(sqlmock.NewRows([]string{"birth"}).AddRow(birth))

	a, err := NewAnalyzer(r, func() time.Time { return fixedNow }, nil).
		Analyze(context.Background(), h, usersAndProducts())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, a.TableEvolution, 2)
	products, users := a.TableEvolution[0], a.TableEvolution[1]
	assert.True(t, products.IsFallback)
	assert.Equal(t, fixedNow.Add(-FallbackAge), products.BirthDate)
	assert.Empty(t, products.TimestampColumn)

	assert.False(t, users.IsFallback)
	assert.True(t, birth.Equal(users.BirthDate))
	assert.Equal(t, "created_at", users.TimestampColumn)
	assert.InDelta(t, 5000.0/float64(wholeDays(fixedNow.Sub(birth))), users.GrowthVelocity, 1e-9)

	assert.True(t, birth.Add(-WindowPadding).Equal(a.StartDate))
	assert.True(t, birth.Equal(a.RealBirthDate))
	assert.Equal(t, fixedNow, a.EndDate)
	assert.Equal(t, wholeDays(fixedNow.Sub(a.StartDate)), a.TotalDays)

	require.Len(t, a.Milestones, 2)
	assert.Equal(t, "users", a.Milestones[0].Table)
	assert.Equal(t, "table_creation", a.Milestones[0].Type)
	assert.Equal(t, "conn_1", a.ConnectionID)
}

func TestBirthQueryFailureFallsBack(t *testing.T) {
	r, h, mock := mockSource(t, adapter.DialectPostgres)
	mock.ExpectQuery(`SELECT MIN("created_at") AS birth FROM "public"."users"`).
		WillReturnError(errors.New("permission denied"))

	a, err := NewAnalyzer(r, func() time.Time { return fixedNow }, nil).
		Analyze(context.Background(), h, usersAndProducts())
	require.NoError(t, err)
	for _, te := range a.TableEvolution {
		assert.True(t, te.IsFallback, te.TableName)
	}
	assert.Equal(t, 365, a.TotalDays-30)
}

func TestIntegerYearColumn(t *testing.T) {
	r, h, mock := mockSource(t, adapter.DialectMySQL)
	mock.ExpectQuery("SELECT MIN(`year`) AS birth FROM `seasons`").
		WillReturnRows(sqlmock.NewRows([]string{"birth"}).AddRow(int64(2019)))

	s := &schema.Schema{Tables: []*schema.Table{
		{Name: "seasons", RowCount: 10, Columns: []schema.Column{{Name: "year", Type: "int"}}},
	}}
	a, err := NewAnalyzer(r, func() time.Time { return fixedNow }, nil).Analyze(context.Background(), h, s)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 1, 1, 0, 0, 0, 0, time.Local), a.TableEvolution[0].BirthDate)
}

func TestAnalyzeEmptyDatabase(t *testing.T) {
	r, h, _ := mockSource(t, adapter.DialectPostgres)
	a, err := NewAnalyzer(r, func() time.Time { return fixedNow }, nil).
		Analyze(context.Background(), h, &schema.Schema{Tables: []*schema.Table{}})
	require.NoError(t, err)
	assert.Empty(t, a.TableEvolution)
	assert.Equal(t, fixedNow.Add(-WindowPadding), a.StartDate)
	assert.Equal(t, 30, a.TotalDays)

	snap := SnapshotAt(a, fixedNow)
	assert.Empty(t, snap.Tables)
	assert.Equal(t, GlobalMetrics{}, snap.GlobalMetrics)
}

func TestAnalyzeUnknownHandle(t *testing.T) {
	r := registry.New()
	_, err := NewAnalyzer(r, nil, nil).Analyze(context.Background(), 42, usersAndProducts())
	assert.ErrorIs(t, err, registry.ErrUnknownHandle)
}

func TestChooseBirthColumn(t *testing.T) {
	cases := []struct {
		name    string
		columns []schema.Column
		want    BirthColumn
		ok      bool
	}{
		{"typed column wins within priority", []schema.Column{
			{Name: "created_at_text", Type: "varchar"}, {Name: "created_at", Type: "timestamp"},
		}, BirthColumn{Name: "created_at"}, true},
		{"higher priority typed column", []schema.Column{
			{Name: "event_date", Type: "date"}, {Name: "registered_at", Type: "datetime"},
		}, BirthColumn{Name: "registered_at"}, true},
		{"untyped match as last resort", []schema.Column{
			{Name: "dob", Type: "varchar"},
		}, BirthColumn{Name: "dob"}, true},
		{"integer year", []schema.Column{{Name: "year", Type: "smallint"}}, BirthColumn{Name: "year", Year: true}, true},
		{"no candidate", []schema.Column{{Name: "id", Type: "int"}}, BirthColumn{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ChooseBirthColumn(&schema.Table{Columns: tc.columns})
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestImportanceFor(t *testing.T) {
	assert.Equal(t, ImportanceCritical, ImportanceFor(1_000_000))
	assert.Equal(t, ImportanceHigh, ImportanceFor(999_999))
	assert.Equal(t, ImportanceMedium, ImportanceFor(10_000))
	assert.Equal(t, ImportanceLow, ImportanceFor(9_999))
	assert.Equal(t, 3.0, ImportanceCritical.Weight())
	assert.Equal(t, 0.8, ImportanceLow.Weight())
}

func sampleAnalysis() *Analysis {
	end := fixedNow
	births := map[string]time.Time{
		"users":    end.AddDate(-2, 0, 0),
		"orders":   end.AddDate(-1, 0, 0),
		"payments": end.AddDate(0, 0, -10),
	}
	sizes := map[string]int64{"users": 50_000, "orders": 2_000_000, "payments": 0}
	a := &Analysis{EndDate: end}
	for _, name := range []string{"users", "orders", "payments"} {
		a.TableEvolution = append(a.TableEvolution, TableEvolution{
			TableName: name, BirthDate: births[name], CurrentSize: sizes[name], Importance: ImportanceFor(sizes[name]),
		})
		a.Milestones = append(a.Milestones, Milestone{Date: births[name], Type: "table_creation", Table: name})
	}
	a.RealBirthDate = births["users"]
	a.StartDate = a.RealBirthDate.Add(-WindowPadding)
	a.TotalDays = wholeDays(end.Sub(a.StartDate))
	return a
}

func TestSnapshotAtEndMatchesCurrentSizes(t *testing.T) {
	a := sampleAnalysis()
	snap := SnapshotAt(a, a.EndDate)
	require.Len(t, snap.Tables, 3)

	var sum, want int64
	for _, ts := range snap.Tables {
		sum += ts.RowCount
	}
	for _, te := range a.TableEvolution {
		want += te.CurrentSize
	}
	assert.Equal(t, want, sum)
	assert.Equal(t, want, snap.GlobalMetrics.DataDensity)
	assert.Len(t, snap.Milestones, 3)

	for _, ts := range snap.Tables {
		switch ts.Name {
		case "payments":
			assert.True(t, ts.IsNew)
			assert.Equal(t, int64(0), ts.RowCount)
			assert.Equal(t, 0.0, ts.RelativeSize)
		case "users":
			assert.False(t, ts.IsNew)
			assert.Equal(t, minAgeFactor, ts.AgeFactor)
			assert.Equal(t, 1.0, ts.RelativeSize)
		}
		assert.LessOrEqual(t, ts.Vitality, 100.0)
	}
}

func TestSnapshotSkipsUnbornTables(t *testing.T) {
	a := sampleAnalysis()
	snap := SnapshotAt(a, a.EndDate.AddDate(0, -6, 0))
	require.Len(t, snap.Tables, 2)
	assert.Len(t, snap.Milestones, 2)
	for _, ts := range snap.Tables {
		assert.NotEqual(t, "payments", ts.Name)
		assert.GreaterOrEqual(t, ts.RowCount, int64(1))
	}
	assert.Empty(t, SnapshotAt(a, a.StartDate).Tables)
}

func TestKeyframesOrderedAndDensityMonotone(t *testing.T) {
	a := sampleAnalysis()
	frames := Keyframes(a, 50)
	require.Len(t, frames, 51)
	assert.Equal(t, a.StartDate, frames[0].Timestamp)
	assert.Equal(t, a.EndDate, frames[50].Timestamp)
	for i := 1; i < len(frames); i++ {
		assert.True(t, frames[i].Timestamp.After(frames[i-1].Timestamp), "frame %d", i)
		assert.LessOrEqual(t, frames[i-1].GlobalMetrics.DataDensity, frames[i].GlobalMetrics.DataDensity, "frame %d", i)
	}
}

func TestSnapshotNilAnalysis(t *testing.T) {
	snap := SnapshotAt(nil, fixedNow)
	assert.NotNil(t, snap.Tables)
	assert.Empty(t, Keyframes(nil, 10))
}
