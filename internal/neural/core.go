package neural

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"data-intelligence/internal/schema"

	"go.uber.org/zap"
)

// Signal 外部驱动信号
type Signal string

const (
	SignalHeartbeat    Signal = "heartbeat"
	SignalManualRecalc Signal = "manual_recalc"
)

// Status 扫描状态
type Status string

const (
	StatusIdle                   Status = "IDLE"
	StatusActiveScanning         Status = "ACTIVE_SCANNING"
	StatusAnalyzingRelationships Status = "ANALYZING_RELATIONSHIPS"
	StatusComputingGravity       Status = "COMPUTING_GRAVITY"
	StatusRecalculating          Status = "RECALCULATING"
	StatusIdleOptimized          Status = "IDLE (Optimized)"
)

const (
	sigmoidOffset    = 3.0
	hubNormalizer    = 10.0
	decayWindowHours = 24.0
	snapshotTimeout  = 10 * time.Second
)

// SnapshotSaver 扫描周期完成时持久化快照
type SnapshotSaver interface {
	Save(ctx context.Context, snap Snapshot) error
}

// Option 核心选项
type Option func(*Core)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLastInteraction 注入最近活动时间来源
func WithLastInteraction(fn func(table string) (time.Time, bool)) Option {
	return func(c *Core) { c.lastInteraction = fn }
}

// WithSnapshotSaver 启用快照持久化
func WithSnapshotSaver(s SnapshotSaver, connectionID string) Option {
	return func(c *Core) {
		c.saver = s
		c.connectionID = connectionID
	}
}

// WithLogger 日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Core) {
		if l != nil {
			c.logger = l
		}
	}
}

// Core 单个连接的增量结构分析器。
// 每次信号只推进一张表；同一连接的信号由调用方串行发出。
type Core struct {
	mu sync.RWMutex

	tables    []*schema.Table
	inDegree  map[string]int
	outDegree map[string]int

	gravity      map[string]float64
	hubScore     map[string]float64
	analyzed     map[string]bool
	interactions map[string]time.Time

	cursor       int
	patterns     int
	signalLoad   int
	growthFactor float64
	cycles       int
	status       Status

	now             func() time.Time
	lastInteraction func(table string) (time.Time, bool)
	saver           SnapshotSaver
	connectionID    string
	logger          *zap.SugaredLogger
}

// NewCore 创建核心，安装结构前状态为 IDLE
func NewCore(opts ...Option) *Core {
	c := &Core{
		inDegree:     map[string]int{},
		outDegree:    map[string]int{},
		gravity:      map[string]float64{},
		hubScore:     map[string]float64{},
		analyzed:     map[string]bool{},
		interactions: map[string]time.Time{},
		growthFactor: 1,
		status:       StatusIdle,
		now:          time.Now,
		logger:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Install 安装新结构：重算出入度并重置全部统计
func (c *Core) Install(s *schema.Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tables = nil
	if s != nil {
		c.tables = append(c.tables, s.Tables...)
	}
	c.inDegree = make(map[string]int, len(c.tables))
	c.outDegree = make(map[string]int, len(c.tables))
	for _, t := range c.tables {
		c.outDegree[t.Name] += len(t.ForeignKeys)
		for _, fk := range t.ForeignKeys {
			c.inDegree[fk.ReferencedTable]++
		}
	}
	c.gravity = make(map[string]float64, len(c.tables))
	c.hubScore = make(map[string]float64, len(c.tables))
	c.resetScan()
	c.cycles = 0
	c.status = StatusActiveScanning
	c.logger.Infow("神经核心安装结构", "connection", c.connectionID, "tables", len(c.tables))
}

// SeedInteractions 写入各表最近活动时间（来自数据库统计视图）
func (c *Core) SeedInteractions(m map[string]time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range m {
		c.interactions[k] = v
	}
}

func (c *Core) resetScan() {
	c.analyzed = make(map[string]bool, len(c.tables))
	c.cursor = 0
	c.patterns = 0
	c.signalLoad = 0
	c.growthFactor = 1
}

// Tick 心跳
func (c *Core) Tick() Status { return c.ProcessSignal(SignalHeartbeat) }

// TriggerRetraining 手动重算
func (c *Core) TriggerRetraining() Status { return c.ProcessSignal(SignalManualRecalc) }

// ProcessSignal 推进一步扫描
func (c *Core) ProcessSignal(sig Signal) Status {
	c.mu.Lock()
	if c.tables == nil && c.status == StatusIdle {
		c.mu.Unlock()
		return StatusIdle
	}

	if sig == SignalManualRecalc {
		// 保留已有引力值，清空扫描进度
		c.resetScan()
		c.status = StatusActiveScanning
		c.mu.Unlock()
		c.logger.Infow("神经核心重新训练", "connection", c.connectionID)
		return StatusRecalculating
	}

	n := len(c.tables)
	if len(c.analyzed) == n {
		c.status = StatusIdleOptimized
		c.mu.Unlock()
		return StatusIdleOptimized
	}

	idx := c.cursor % n
	t := c.tables[idx]
	if c.analyzed[t.Name] {
		c.cursor++
		st := c.status
		c.mu.Unlock()
		return st
	}

	c.analyze(t)
	c.analyzed[t.Name] = true
	if idx%2 == 0 {
		c.status = StatusAnalyzingRelationships
	} else {
		c.status = StatusComputingGravity
	}
	c.cursor++
	st := c.status

	var snap *Snapshot
	if len(c.analyzed) == n {
		c.cycles++
		if c.saver != nil {
			s := c.snapshotLocked()
			snap = &s
		}
	}
	c.mu.Unlock()

	if snap != nil {
		go c.persist(*snap)
	}
	return st
}

// analyze 单表分析：hub 得分、加权 sigmoid 引力与时间衰减
func (c *Core) analyze(t *schema.Table) {
	c.patterns += len(t.ForeignKeys)
	c.signalLoad += len(t.Columns)

	in, out := c.inDegree[t.Name], c.outDegree[t.Name]
	structural := 1.5*float64(in) + 0.5*float64(out)
	hub := math.Min(1, structural/hubNormalizer)
	c.hubScore[t.Name] = hub

	base := BaseGravity(t.RowCount, len(t.Columns), hub)

	now := c.now()
	last, ok := c.lookupInteraction(t.Name)
	if !ok {
		last = SynthesizeLastInteraction(now, t.RowCount)
	}
	c.gravity[t.Name] = DecayedGravity(base, now.Sub(last))
	c.growthFactor = GrowthFactor(c.patterns, c.signalLoad)
}

func (c *Core) lookupInteraction(table string) (time.Time, bool) {
	if ts, ok := c.interactions[table]; ok {
		return ts, true
	}
	if c.lastInteraction != nil {
		return c.lastInteraction(table)
	}
	return time.Time{}, false
}

// BaseGravity 1 + 4·sigmoid(0.3·log10(rows) + 5·hub + 0.05·cols − 3)
func BaseGravity(rows int64, cols int, hub float64) float64 {
	rowFactor := 0.3 * math.Log10(math.Max(1, float64(rows)))
	colFactor := 0.05 * float64(cols)
	raw := rowFactor + 5.0*hub + colFactor
	sigmoid := 1 / (1 + math.Exp(-(raw - sigmoidOffset)))
	return 1.0 + 4.0*sigmoid
}

// DecayedGravity 0.4·base + 0.6·base·decay，下限 1
func DecayedGravity(base float64, since time.Duration) float64 {
	hours := math.Max(0, since.Hours())
	decay := 1 / (1 + hours/decayWindowHours)
	return math.Max(1.0, 0.4*base+0.6*base*decay)
}

// SynthesizeLastInteraction 没有活动时间时按行数模拟：now − max(0, 30 − ln(rows)) 天
func SynthesizeLastInteraction(now time.Time, rows int64) time.Time {
	days := math.Max(0, 30-math.Log(math.Max(1, float64(rows))))
	return now.Add(-time.Duration(days * 24 * float64(time.Hour)))
}

// GrowthFactor 1 + log10(max(1, patterns + 0.1·signal_load))
func GrowthFactor(patterns, signalLoad int) float64 {
	return 1 + math.Log10(math.Max(1, float64(patterns)+0.1*float64(signalLoad)))
}

// Status 当前状态
func (c *Core) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Gravity 表的引力；未分析的表返回 false
func (c *Core) Gravity(table string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.gravity[table]
	return g, ok
}

// HubScore 表的 hub 得分
func (c *Core) HubScore(table string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hubScore[table]
	return h, ok
}

// Degrees 入度、出度
func (c *Core) Degrees(table string) (in, out int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inDegree[table], c.outDegree[table]
}

// GrowthFactor 当前成长因子
func (c *Core) GrowthFactor() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.growthFactor
}

// Analyzed 已分析的表名，排序
func (c *Core) Analyzed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.analyzed))
	for t := range c.analyzed {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Gravities 引力副本
func (c *Core) Gravities() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.gravity)
}

// Metrics 核心指标
type Metrics struct {
	Status         Status  `json:"status"`
	TablesAnalyzed int     `json:"tables_analyzed"`
	TotalTables    int     `json:"total_tables"`
	ScanProgress   float64 `json:"scan_progress"`
	ScanCursor     int     `json:"scan_cursor"`
	Patterns       int     `json:"patterns"`
	SignalLoad     int     `json:"signal_load"`
	GrowthFactor   float64 `json:"growth_factor"`
	Cycles         int     `json:"cycles"`
}

// Metrics 指标快照
func (c *Core) Metrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metricsLocked()
}

func (c *Core) metricsLocked() Metrics {
	m := Metrics{
		Status:         c.status,
		TablesAnalyzed: len(c.analyzed),
		TotalTables:    len(c.tables),
		ScanCursor:     c.cursor,
		Patterns:       c.patterns,
		SignalLoad:     c.signalLoad,
		GrowthFactor:   c.growthFactor,
		Cycles:         c.cycles,
	}
	if m.TotalTables > 0 {
		m.ScanProgress = float64(m.TablesAnalyzed) / float64(m.TotalTables)
	}
	return m
}

// AIStats 面向前端的智能统计
type AIStats struct {
	PatternsLearned int      `json:"patterns_learned"`
	NeuralLoad      int      `json:"neural_load"`
	GrowthFactor    float64  `json:"growth_factor"`
	AvgGravity      float64  `json:"avg_gravity"`
	TopHubs         []string `json:"top_hubs"`
	Status          Status   `json:"status"`
}

// AIStats 统计摘要，TopHubs 取 hub 得分前三
func (c *Core) AIStats() AIStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := AIStats{
		PatternsLearned: c.patterns,
		NeuralLoad:      c.signalLoad,
		GrowthFactor:    c.growthFactor,
		Status:          c.status,
		TopHubs:         []string{},
	}
	if len(c.gravity) > 0 {
		var sum float64
		for _, g := range c.gravity {
			sum += g
		}
		s.AvgGravity = sum / float64(len(c.gravity))
	}
	hubs := make([]string, 0, len(c.hubScore))
	for t, h := range c.hubScore {
		if h > 0 {
			hubs = append(hubs, t)
		}
	}
	sort.Slice(hubs, func(i, j int) bool {
		if c.hubScore[hubs[i]] != c.hubScore[hubs[j]] {
			return c.hubScore[hubs[i]] > c.hubScore[hubs[j]]
		}
		return hubs[i] < hubs[j]
	})
	if len(hubs) > 3 {
		hubs = hubs[:3]
	}
	s.TopHubs = append(s.TopHubs, hubs...)
	return s
}

// Snapshot 一次完整扫描后的状态
type Snapshot struct {
	ConnectionID string     `json:"connection_id"`
	SnapshotAt   time.Time  `json:"snapshot_at"`
	NeuralData   NeuralData `json:"neural_data"`
	CoreMetrics  Metrics    `json:"core_metrics"`
}

// NeuralData 快照中的逐表数据
type NeuralData struct {
	Gravity   map[string]float64 `json:"gravity"`
	HubScore  map[string]float64 `json:"hub_score"`
	InDegree  map[string]int     `json:"in_degree"`
	OutDegree map[string]int     `json:"out_degree"`
}

func (c *Core) snapshotLocked() Snapshot {
	in := make(map[string]int, len(c.inDegree))
	for k, v := range c.inDegree {
		in[k] = v
	}
	out := make(map[string]int, len(c.outDegree))
	for k, v := range c.outDegree {
		out[k] = v
	}
	return Snapshot{
		ConnectionID: c.connectionID,
		SnapshotAt:   c.now(),
		NeuralData: NeuralData{
			Gravity:   copyMap(c.gravity),
			HubScore:  copyMap(c.hubScore),
			InDegree:  in,
			OutDegree: out,
		},
		CoreMetrics: c.metricsLocked(),
	}
}

// persist 后台保存，失败只记录日志
func (c *Core) persist(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := c.saver.Save(ctx, snap); err != nil {
		c.logger.Warnw("神经快照保存失败", "connection", c.connectionID, "error", err)
		return
	}
	c.logger.Debugw("神经快照已保存", "connection", c.connectionID, "tables", len(snap.NeuralData.Gravity))
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
