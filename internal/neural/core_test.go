package neural

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"data-intelligence/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func bankSchema() *schema.Schema {
	cols := func(names ...string) []schema.Column {
		out := make([]schema.Column, len(names))
		for i, n := range names {
			out[i] = schema.Column{Name: n, Type: "integer"}
		}
		return out
	}
	fk := func(col, ref string) schema.ForeignKey {
		return schema.ForeignKey{Column: col, ReferencedTable: ref, ReferencedColumn: "id"}
	}
	s := &schema.Schema{Tables: []*schema.Table{
		{Name: "customers", Columns: cols("id", "name", "email"), RowCount: 5000},
		{Name: "accounts", Columns: cols("id", "customer_id", "balance"), RowCount: 8000,
			ForeignKeys: []schema.ForeignKey{fk("customer_id", "customers")}},
		{Name: "transactions", Columns: cols("id", "account_id", "customer_id", "amount", "ts"), RowCount: 2_000_000,
			ForeignKeys: []schema.ForeignKey{fk("account_id", "accounts"), fk("customer_id", "customers")}},
		{Name: "branches", Columns: cols("id", "city"), RowCount: 40},
		{Name: "fraud_alerts", Columns: cols("id", "transaction_id"), RowCount: 120,
			ForeignKeys: []schema.ForeignKey{fk("transaction_id", "transactions")}},
	}}
	s.Sort()
	return s
}

func TestIdleBeforeInstall(t *testing.T) {
	c := NewCore(WithClock(clock))
	assert.Equal(t, StatusIdle, c.Status())
	assert.Equal(t, StatusIdle, c.Tick())
	assert.Equal(t, 1.0, c.GrowthFactor())
}

func TestScanCompletesAfterOneHeartbeatPerTable(t *testing.T) {
	s := bankSchema()
	c := NewCore(WithClock(clock))
	c.Install(s)
	assert.Equal(t, StatusActiveScanning, c.Status())

	for i := 0; i < s.Len(); i++ {
		st := c.Tick()
		if i%2 == 0 {
			assert.Equal(t, StatusAnalyzingRelationships, st)
		} else {
			assert.Equal(t, StatusComputingGravity, st)
		}
	}
	assert.Equal(t, s.TableNames(), c.Analyzed())

	before := c.Gravities()
	assert.Equal(t, StatusIdleOptimized, c.Tick())
	assert.Equal(t, before, c.Gravities())
	assert.Equal(t, 1, c.Metrics().Cycles)
	assert.Equal(t, 1.0, c.Metrics().ScanProgress)
}

func TestInvariants(t *testing.T) {
	s := bankSchema()
	c := NewCore(WithClock(clock))
	c.Install(s)

	growth := c.GrowthFactor()
	for i := 0; i < s.Len(); i++ {
		c.Tick()
		g := c.GrowthFactor()
		assert.GreaterOrEqual(t, g, growth)
		growth = g
	}
	for _, name := range s.TableNames() {
		h, ok := c.HubScore(name)
		require.True(t, ok)
		assert.GreaterOrEqual(t, h, 0.0)
		assert.LessOrEqual(t, h, 1.0)
		g, _ := c.Gravity(name)
		assert.GreaterOrEqual(t, g, 1.0)
		assert.LessOrEqual(t, g, 5.0+1e-9)
	}

	// patterns = 4 个外键，signal_load = 15 列
	m := c.Metrics()
	assert.Equal(t, 4, m.Patterns)
	assert.Equal(t, 15, m.SignalLoad)
	assert.InDelta(t, 1+math.Log10(4+1.5), m.GrowthFactor, 1e-12)
}

func TestHubScoreAndDegrees(t *testing.T) {
	c := NewCore(WithClock(clock))
	c.Install(bankSchema())
	for i := 0; i < 5; i++ {
		c.Tick()
	}
	in, out := c.Degrees("customers")
	assert.Equal(t, 2, in)
	assert.Equal(t, 0, out)
	h, _ := c.HubScore("customers")
	assert.InDelta(t, 0.3, h, 1e-12)

	in, out = c.Degrees("transactions")
	assert.Equal(t, 1, in)
	assert.Equal(t, 2, out)
	h, _ = c.HubScore("transactions")
	assert.InDelta(t, 0.25, h, 1e-12)

	assert.Equal(t, []string{"customers", "transactions", "accounts"}, c.AIStats().TopHubs)
}

func TestGravityFormula(t *testing.T) {
	base := BaseGravity(1, 0, 0)
	assert.InDelta(t, 1+4/(1+math.Exp(3)), base, 1e-12)
	assert.InDelta(t, 1+4*0.5, BaseGravity(1000, 12, 0.3), 1e-9)

	assert.InDelta(t, base, DecayedGravity(base, 0), 1e-12)
	// 24 小时后 decay = 0.5
	assert.InDelta(t, 3.0*0.4+3.0*0.6*0.5, DecayedGravity(3.0, 24*time.Hour), 1e-12)
	assert.Equal(t, 1.0, DecayedGravity(1.1, 1000*time.Hour))

	ts := SynthesizeLastInteraction(fixedNow, 1)
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), ts)
	assert.Equal(t, fixedNow, SynthesizeLastInteraction(fixedNow, 1e15))
}

func TestSeededInteractionsDriveDecay(t *testing.T) {
	s := &schema.Schema{Tables: []*schema.Table{{Name: "hot", RowCount: 10}}}
	c := NewCore(WithClock(clock))
	c.Install(s)
	c.SeedInteractions(map[string]time.Time{"hot": fixedNow})
	c.Tick()
	g, _ := c.Gravity("hot")
	assert.InDelta(t, BaseGravity(10, 0, 0), g, 1e-12)

	calls := 0
	c2 := NewCore(WithClock(clock), WithLastInteraction(func(string) (time.Time, bool) {
		calls++
		return fixedNow.Add(-48 * time.Hour), true
	}))
	c2.Install(s)
	c2.Tick()
	g2, _ := c2.Gravity("hot")
	assert.Equal(t, 1, calls)
	assert.Less(t, g2, g)
}

func TestRetrainingKeepsGravity(t *testing.T) {
	s := bankSchema()
	c := NewCore(WithClock(clock))
	c.Install(s)
	for i := 0; i <= s.Len(); i++ {
		c.Tick()
	}
	gravity := c.Gravities()

	assert.Equal(t, StatusRecalculating, c.TriggerRetraining())
	assert.Equal(t, StatusActiveScanning, c.Status())
	assert.Empty(t, c.Analyzed())
	assert.Equal(t, 1.0, c.GrowthFactor())
	assert.Equal(t, gravity, c.Gravities())

	c.Tick()
	assert.Len(t, c.Analyzed(), 1)
}

func TestInstallResets(t *testing.T) {
	c := NewCore(WithClock(clock))
	c.Install(bankSchema())
	c.Tick()
	c.Install(&schema.Schema{})
	assert.Empty(t, c.Gravities())
	assert.Equal(t, StatusIdleOptimized, c.Tick())
}

type chanSaver chan Snapshot

func (c chanSaver) Save(ctx context.Context, s Snapshot) error {
	c <- s
	return nil
}

func TestSnapshotOnCycleCompletion(t *testing.T) {
	s := bankSchema()
	saved := make(chanSaver, 1)
	c := NewCore(WithClock(clock), WithSnapshotSaver(saved, "conn_1"))
	c.Install(s)
	for i := 0; i < s.Len(); i++ {
		c.Tick()
	}
	select {
	case snap := <-saved:
		assert.Equal(t, "conn_1", snap.ConnectionID)
		assert.Equal(t, fixedNow, snap.SnapshotAt)
		assert.Len(t, snap.NeuralData.Gravity, s.Len())
		assert.Equal(t, 5, snap.CoreMetrics.TablesAnalyzed)
	case <-time.After(time.Second):
		t.Fatal("快照未保存")
	}
}

func TestPredictLinks(t *testing.T) {
	got := PredictLinks("users", []string{"users", "user_profiles", "superusers", "orders", "user_profiles", "s", ""})
	require.Len(t, got, 2)
	assert.Equal(t, "user_profiles", got[0].Target)
	assert.Equal(t, "superusers", got[1].Target)
	for _, p := range got {
		assert.Equal(t, RelationshipSemanticInference, p.Relationship)
		assert.Equal(t, 0.75, p.Confidence)
		assert.NotEmpty(t, p.Reasoning)
	}

	// 词根长度不超过 3 时不预测
	assert.Empty(t, PredictLinks("logs", []string{"log_entries", "logs_archive"}))
}

func TestPredictLinksNoSelfOrDuplicates(t *testing.T) {
	names := make([]string, 0, 20)
	for i := 0; i < 10; i++ {
		names = append(names, fmt.Sprintf("account_%d", i%5))
	}
	names = append(names, "accounts")
	got := PredictLinks("accounts", names)
	seen := map[string]bool{}
	for _, p := range got {
		assert.NotEqual(t, "accounts", p.Target)
		assert.False(t, seen[p.Target])
		seen[p.Target] = true
	}
	assert.Len(t, got, 5)
}
