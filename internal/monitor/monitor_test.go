package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/cluster"
	"data-intelligence/internal/neural"
	"data-intelligence/internal/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCore struct{ ticks int }

func (c *countingCore) Tick() neural.Status { c.ticks++; return neural.StatusActiveScanning }

func (c *countingCore) AIStats() neural.AIStats {
	return neural.AIStats{PatternsLearned: c.ticks, TopHubs: []string{}}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*Monitor, sqlmock.Sqlmock, *clock, *countingCore, *cluster.LiveAdapter) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r := registry.New(registry.WithConnector(func(ctx context.Context, cfg adapter.ConnConfig) (adapter.Driver, error) {
		return adapter.NewSQLDriver(db, adapter.DialectPostgres), nil
	}))
	h, err := r.Open(context.Background(), adapter.ConnConfig{
		DBType: "postgresql", Host: "db", Port: 5432, Database: "bank", Username: "u",
	})
	require.NoError(t, err)

	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	core := &countingCore{}
	live := cluster.NewLiveAdapter(map[string]float64{"transactions": 0.5})
	m := New(r, h, WithClock(c.now), WithCore(core), WithLiveAdapter(live))
	return m, mock, c, core, live
}

func expectCounts(mock sqlmock.Sqlmock, counts map[string]int64) {
	q, _ := adapter.Catalog(adapter.DialectPostgres)
	rows := sqlmock.NewRows([]string{"table_name", "row_count"})
	for _, name := range []string{"accounts", "fraud_alerts", "failed_payments", "transactions"} {
		if n, ok := counts[name]; ok {
			rows.AddRow(name, n)
		}
	}
	mock.ExpectQuery(q.RowCounts).WillReturnRows(rows)
}

func TestFirstTickSeedsBaseline(t *testing.T) {
	m, mock, _, core, _ := setup(t)
	expectCounts(mock, map[string]int64{"accounts": 100, "transactions": 900})

	rep := m.Tick(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0.0, rep.Data.TPS)
	assert.Equal(t, int64(1000), rep.Data.TotalRows)
	assert.Equal(t, Health{Score: 100, State: StateHealthy}, rep.Health)
	assert.Equal(t, 1, core.ticks)
	require.NotNil(t, rep.AIStats)
	assert.NotNil(t, rep.Anomalies)
	assert.NotNil(t, rep.Data.HotTables)
}

func TestTPSAndDerivedMetrics(t *testing.T) {
	m, mock, c, _, live := setup(t)
	expectCounts(mock, map[string]int64{"accounts": 100, "fraud_alerts": 2, "failed_payments": 5, "transactions": 900})
	m.Tick(context.Background())

	c.advance(10 * time.Second)
	expectCounts(mock, map[string]int64{"accounts": 90, "fraud_alerts": 4, "failed_payments": 8, "transactions": 1900})
	rep := m.Tick(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())

	// 总量 1007 → 2002
	assert.InDelta(t, 99.5, rep.Data.TPS, 1e-9)
	assert.Equal(t, int64(2002), rep.Data.TotalRows)
	assert.Equal(t, 2.0, rep.Data.FraudAlerts)
	assert.Equal(t, 3.0, rep.Data.FailedTransactions)
	assert.InDelta(t, 1005.0/3, rep.Data.AverageAmount, 1e-9)
	assert.Equal(t, 3, rep.Data.ActiveTables)
	assert.Equal(t, "transactions", rep.Data.HotTables[0])
	assert.Greater(t, live.Gravity("transactions"), 0.5)
	assert.Equal(t, 0.0, live.EMA("accounts"))
}

func TestMetricFetchErrorKeepsLastTotal(t *testing.T) {
	m, mock, c, core, _ := setup(t)
	expectCounts(mock, map[string]int64{"accounts": 500})
	m.Tick(context.Background())

	c.advance(time.Second)
	q, _ := adapter.Catalog(adapter.DialectPostgres)
	mock.ExpectQuery(q.RowCounts).WillReturnError(errors.New("connection reset"))
	rep := m.Tick(context.Background())

	assert.Equal(t, int64(500), rep.Data.TotalRows)
	assert.Equal(t, 0.0, rep.Data.TPS)
	assert.True(t, rep.Data.Stale)
	assert.Equal(t, 2, core.ticks)
}

func TestAnomalyLeavesHealthToLoad(t *testing.T) {
	m, mock, c, _, _ := setup(t)
	total := int64(1000)
	expectCounts(mock, map[string]int64{"transactions": total})
	m.Tick(context.Background())

	for i := 0; i < 10; i++ {
		c.advance(time.Second)
		total += 100
		expectCounts(mock, map[string]int64{"transactions": total})
		rep := m.Tick(context.Background())
		assert.Empty(t, rep.Anomalies)
	}

	c.advance(time.Second)
	total += 6000
	expectCounts(mock, map[string]int64{"transactions": total})
	rep := m.Tick(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())

	require.NotEmpty(t, rep.Anomalies)
	assert.InDelta(t, 6000, rep.Data.TPS, 1e-9)
	assert.Equal(t, Health{Score: 90, State: StateHealthy}, rep.Health)
	assert.Len(t, m.Detector().Recent(), len(rep.Anomalies))
}

func TestScore(t *testing.T) {
	assert.Equal(t, Health{Score: 100, State: StateHealthy}, Score(0))
	assert.Equal(t, Health{Score: 100, State: StateHealthy}, Score(StressTPS))
	assert.Equal(t, Health{Score: 90, State: StateHealthy}, Score(6000))
}
