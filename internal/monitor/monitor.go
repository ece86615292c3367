package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/anomaly"
	"data-intelligence/internal/cluster"
	"data-intelligence/internal/neural"
	"data-intelligence/internal/registry"

	"go.uber.org/zap"
)

const (
	// StressTPS 超过该速率扣 10 分
	StressTPS = 5000.0
	// minInterval Δt 下限，避免除零
	minInterval = 1e-3

	penaltyStress = 10
)

// ErrMetricFetch 目录行数读取失败
var ErrMetricFetch = errors.New("读取实时指标失败")

// State 健康状态
type State string

const (
	StateHealthy   State = "healthy"
	StateStressed  State = "stressed"
	StateAnomalous State = "anomalous"
)

// StateFor ≥80 健康，≥50 承压，否则异常
func StateFor(score int) State {
	switch {
	case score >= 80:
		return StateHealthy
	case score >= 50:
		return StateStressed
	}
	return StateAnomalous
}

// Health 健康评分
type Health struct {
	Score int   `json:"score"`
	State State `json:"state"`
}

// Data 一次采样的指标
type Data struct {
	TPS                float64  `json:"tps"`
	TotalRows          int64    `json:"total_rows"`
	FraudAlerts        float64  `json:"fraud_alerts"`
	FailedTransactions float64  `json:"failed_transactions"`
	AverageAmount      float64  `json:"average_amount"`
	ActiveTables       int      `json:"active_tables"`
	HotTables          []string `json:"hot_tables"`
	Stale              bool     `json:"stale,omitempty"`
}

// Report 每次 Tick 的输出
type Report struct {
	Timestamp time.Time         `json:"timestamp"`
	Data      Data              `json:"data"`
	Health    Health            `json:"health"`
	Anomalies []anomaly.Anomaly `json:"anomalies"`
	AIStats   *neural.AIStats   `json:"ai_stats,omitempty"`
}

// Source 行数来源，由连接注册表实现
type Source interface {
	Dialect(h registry.Handle) (adapter.Dialect, error)
	Query(ctx context.Context, h registry.Handle, query string, args ...any) ([]adapter.Row, error)
	Do(ctx context.Context, h registry.Handle, fn func(context.Context, adapter.Driver) error, label string) error
}

// Core 心跳目标
type Core interface {
	Tick() neural.Status
	AIStats() neural.AIStats
}

// Monitor 单连接的实时监控，Tick 串行执行
type Monitor struct {
	src      Source
	h        registry.Handle
	core     Core
	detector *anomaly.Detector
	live     *cluster.LiveAdapter
	now      func() time.Time
	logger   *zap.SugaredLogger

	mu          sync.Mutex
	initialized bool
	lastTotal   int64
	lastCheck   time.Time
	lastCounts  map[string]int64
}

// Option 监控选项
type Option func(*Monitor)

// WithCore 每次 Tick 发送心跳
func WithCore(c Core) Option {
	return func(m *Monitor) { m.core = c }
}

// WithDetector 异常检测器
func WithDetector(d *anomaly.Detector) Option {
	return func(m *Monitor) {
		if d != nil {
			m.detector = d
		}
	}
}

// WithLiveAdapter 每表增长写入实时引力
func WithLiveAdapter(l *cluster.LiveAdapter) Option {
	return func(m *Monitor) { m.live = l }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New 创建监控
func New(src Source, h registry.Handle, opts ...Option) *Monitor {
	m := &Monitor{
		src:        src,
		h:          h,
		detector:   anomaly.NewDetector(),
		now:        time.Now,
		logger:     zap.NewNop().Sugar(),
		lastCounts: map[string]int64{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Detector 当前检测器
func (m *Monitor) Detector() *anomaly.Detector { return m.detector }

// Tick 采样一次：首轮只建立基线，之后计算 TPS、发送心跳并做异常检测。
// 读取失败时沿用上次总行数，TPS 记 0
func (m *Monitor) Tick(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rep := Report{Timestamp: now, Anomalies: []anomaly.Anomaly{}}

	counts, err := m.fetch(ctx)
	switch {
	case err != nil:
		m.logger.Warnw("实时指标读取失败，沿用上次数据", "handle", m.h.String(), "error", err)
		rep.Data = Data{TotalRows: m.lastTotal, Stale: true}
	case !m.initialized:
		m.initialized = true
		m.lastCheck = now
		m.lastCounts = counts
		m.lastTotal = sum(counts)
		rep.Data = Data{TotalRows: m.lastTotal}
	default:
		rep.Data = m.diff(counts, now)
		rep.Anomalies = m.detect(rep.Data)
	}
	if rep.Data.HotTables == nil {
		rep.Data.HotTables = []string{}
	}

	if m.core != nil {
		m.core.Tick()
		stats := m.core.AIStats()
		rep.AIStats = &stats
	}
	rep.Health = Score(rep.Data.TPS)
	return rep
}

// diff 计算本轮与上一轮的差值并更新基线
func (m *Monitor) diff(counts map[string]int64, now time.Time) Data {
	total := sum(counts)
	dt := max(minInterval, now.Sub(m.lastCheck).Seconds())
	d := Data{
		TotalRows: total,
		TPS:       float64(max(0, total-m.lastTotal)) / dt,
	}

	var grown, growth float64
	for table, n := range counts {
		delta := float64(max(0, n-m.lastCounts[table]))
		if delta > 0 {
			d.ActiveTables++
			grown++
			growth += delta
		}
		name := strings.ToLower(table)
		switch {
		case strings.Contains(name, "fraud") || strings.Contains(name, "alert"):
			d.FraudAlerts += delta
		case containsAny(name, "fail", "error", "reject", "declin"):
			d.FailedTransactions += delta
		}
		if m.live != nil {
			m.live.Observe(table, cluster.Activity{TPS: delta / dt, RowGrowth: delta})
		}
	}
	if grown > 0 {
		d.AverageAmount = growth / grown
	}
	if m.live != nil {
		d.HotTables = m.live.HotTables()
	}

	m.lastTotal = total
	m.lastCheck = now
	m.lastCounts = counts
	return d
}

func (m *Monitor) detect(d Data) []anomaly.Anomaly {
	found := m.detector.Detect(map[string]float64{
		anomaly.MetricTransactionRate:    d.TPS,
		anomaly.MetricFraudAlerts:        d.FraudAlerts,
		anomaly.MetricFailedTransactions: d.FailedTransactions,
		anomaly.MetricAverageAmount:      d.AverageAmount,
	})
	if found == nil {
		return []anomaly.Anomaly{}
	}
	return found
}

// Score 从 100 起扣分，仅高负载 −10；异常单独放在 Report.Anomalies
func Score(tps float64) Health {
	score := 100
	if tps > StressTPS {
		score -= penaltyStress
	}
	return Health{Score: score, State: StateFor(score)}
}

// fetch 一条目录查询取每表行数；文档库走 RowCounter
func (m *Monitor) fetch(ctx context.Context) (map[string]int64, error) {
	d, err := m.src.Dialect(m.h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricFetch, err)
	}
	if d == adapter.DialectMongo {
		var counts map[string]int64
		err := m.src.Do(ctx, m.h, func(ctx context.Context, drv adapter.Driver) error {
			rc, ok := drv.(adapter.RowCounter)
			if !ok {
				return adapter.ErrUnsupportedQuery
			}
			var err error
			counts, err = rc.RowCounts(ctx)
			return err
		}, "row_counts")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMetricFetch, err)
		}
		return counts, nil
	}

	q, err := adapter.Catalog(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricFetch, err)
	}
	rows, err := m.src.Query(ctx, m.h, q.RowCounts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricFetch, err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.String("table_name")] += max(0, r.Int64("row_count"))
	}
	return counts, nil
}

func sum(counts map[string]int64) int64 {
	var n int64
	for _, v := range counts {
		n += v
	}
	return n
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
