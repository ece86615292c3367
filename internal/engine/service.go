package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/anomaly"
	"data-intelligence/internal/classify"
	"data-intelligence/internal/cluster"
	"data-intelligence/internal/graph"
	"data-intelligence/internal/introspect"
	"data-intelligence/internal/monitor"
	"data-intelligence/internal/neural"
	"data-intelligence/internal/registry"
	"data-intelligence/internal/schema"
	"data-intelligence/internal/temporal"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// MinKeyframes 关键帧数量下限
	MinKeyframes = 10
	// MaxKeyframes 关键帧数量上限
	MaxKeyframes = 200
	// DefaultRecordSample 记录引力默认采样行数
	DefaultRecordSample = 500
	// DefaultRecordClusters 记录引力默认簇数
	DefaultRecordClusters = 3

	backgroundTimeout = 2 * time.Minute
	introspectTimeout = time.Minute
)

// ErrInvalidArgument 调用参数不合法
var ErrInvalidArgument = errors.New("参数不合法")

// Service 对外的会话服务。每个连接句柄拥有独立的 Session
type Service struct {
	reg      *registry.Registry
	intro    *introspect.Introspector
	temporal *temporal.Analyzer
	refiner  classify.Refiner

	defaultMethod cluster.Method
	thresholds    anomaly.Thresholds
	persist       bool
	seed          uint64
	now           func() time.Time
	logger        *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[registry.Handle]*Session
	group    singleflight.Group
	bg       sync.WaitGroup
}

// Option 服务选项
type Option func(*Service)

// WithRefiner 启用 LLM 分类细化
func WithRefiner(r classify.Refiner) Option {
	return func(s *Service) { s.refiner = r }
}

// WithDefaultMethod 新连接的默认聚类方法
func WithDefaultMethod(m cluster.Method) Option {
	return func(s *Service) { s.defaultMethod = m }
}

// WithThresholds 异常检测参数
func WithThresholds(t anomaly.Thresholds) Option {
	return func(s *Service) { s.thresholds = t }
}

// WithSnapshotPersistence 扫描周期完成时写入 evolution.neural_snapshots
func WithSnapshotPersistence(on bool) Option {
	return func(s *Service) { s.persist = on }
}

// WithSeed 布局抖动种子
func WithSeed(seed uint64) Option {
	return func(s *Service) { s.seed = seed }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService 创建服务
func NewService(reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		reg:           reg,
		defaultMethod: cluster.MethodHeuristic,
		thresholds:    anomaly.DefaultThresholds(),
		seed:          uint64(time.Now().UnixNano()),
		now:           time.Now,
		logger:        zap.NewNop().Sugar(),
		sessions:      make(map[registry.Handle]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.intro = introspect.New(reg, classify.NewHeuristic(), s.logger)
	s.temporal = temporal.NewAnalyzer(reg, s.now, s.logger)
	return s
}

// Registry 底层连接注册表
func (s *Service) Registry() *registry.Registry { return s.reg }

// OpenConnection 建立连接并创建会话
func (s *Service) OpenConnection(ctx context.Context, cfg adapter.ConnConfig) (registry.Handle, error) {
	h, err := s.reg.Open(ctx, cfg)
	if err != nil {
		return 0, err
	}

	coreOpts := []neural.Option{neural.WithClock(s.now), neural.WithLogger(s.logger)}
	if s.persist {
		coreOpts = append(coreOpts, neural.WithSnapshotSaver(neural.NewSnapshotStore(s.reg, h, s.logger), h.String()))
	}
	sess := &Session{
		Handle:    h,
		Database:  cfg.Database,
		core:      neural.NewCore(coreOpts...),
		live:      cluster.NewLiveAdapter(nil),
		detector:  anomaly.NewDetector(anomaly.WithThresholds(s.thresholds), anomaly.WithClock(s.now), anomaly.WithLogger(s.logger)),
		assembler: graph.NewAssembler(s.seed),
	}
	method := s.defaultMethod
	sess.method.Store(&method)
	sess.monitor = monitor.New(s.reg, h,
		monitor.WithCore(sess.core),
		monitor.WithDetector(sess.detector),
		monitor.WithLiveAdapter(sess.live),
		monitor.WithClock(s.now),
		monitor.WithLogger(s.logger))

	s.mu.Lock()
	s.sessions[h] = sess
	s.mu.Unlock()
	return h, nil
}

// Session 按句柄取会话
func (s *Service) Session(h registry.Handle) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownHandle, h)
	}
	return sess, nil
}

// Connections 已打开的连接
func (s *Service) Connections() []registry.Info { return s.reg.List() }

// GetSchema 返回缓存的结构；首次调用时采集，并发调用只采集一次
func (s *Service) GetSchema(ctx context.Context, h registry.Handle) (*schema.Schema, error) {
	sess, err := s.Session(h)
	if err != nil {
		return nil, err
	}
	if sc := sess.Schema(); sc != nil {
		return sc, nil
	}
	// 共享的采集不随某个调用方取消，各调用方只放弃等待
	ch := s.group.DoChan(h.String(), func() (any, error) {
		if sc := sess.Schema(); sc != nil {
			return sc, nil
		}
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), introspectTimeout)
		defer cancel()
		s.bg.Add(1)
		sc, err := s.intro.Introspect(ictx, h, sess.Database)
		if err != nil {
			s.bg.Done()
			return nil, err
		}
		sess.install(sc, func(sc *schema.Schema) *cluster.Map { return s.recluster(sess, sc) })
		s.afterIntrospect(sess, sc)
		return sc, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*schema.Schema), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReloadSchema 丢弃缓存重新采集
func (s *Service) ReloadSchema(ctx context.Context, h registry.Handle) (*schema.Schema, error) {
	sess, err := s.Session(h)
	if err != nil {
		return nil, err
	}
	sess.schema.Store(nil)
	s.group.Forget(h.String())
	return s.GetSchema(ctx, h)
}

// afterIntrospect 后台写入最近活动时间并做 LLM 细化，不阻塞调用方。
// 调用方已为其计入 s.bg
func (s *Service) afterIntrospect(sess *Session, sc *schema.Schema) {
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if seen, err := s.intro.LastInteractions(ctx, sess.Handle); err != nil {
			s.logger.Warnw("读取表活动时间失败", "handle", sess.Handle.String(), "error", err)
		} else if len(seen) > 0 {
			sess.core.SeedInteractions(seen)
		}

		if s.refiner == nil {
			return
		}
		refined, n, err := classify.Refine(ctx, sc, s.refiner)
		if err != nil {
			s.logger.Warnw("LLM 分类细化失败，保留启发式结果", "handle", sess.Handle.String(), "error", err)
			return
		}
		if n > 0 && sess.schema.CompareAndSwap(sc, refined) {
			s.logger.Infow("LLM 分类细化完成", "handle", sess.Handle.String(), "changed", n)
		}
	}()
}

// Wait 等待后台任务结束
func (s *Service) Wait() { s.bg.Wait() }

// recluster 按会话当前方法聚类
func (s *Service) recluster(sess *Session, sc *schema.Schema) *cluster.Map {
	e, err := cluster.New(sess.Method(), s.logger)
	if err != nil {
		s.logger.Warnw("聚类方法无效", "handle", sess.Handle.String(), "error", err)
		return nil
	}
	return cluster.Run(e, sc, s.logger)
}

// SetClusterMethod 切换聚类方法，已采集时立即重新聚类
func (s *Service) SetClusterMethod(h registry.Handle, method string) (cluster.Method, error) {
	sess, err := s.Session(h)
	if err != nil {
		return "", err
	}
	m, err := cluster.ParseMethod(method)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	sess.method.Store(&m)
	if sc := sess.Schema(); sc != nil {
		sess.storeClusters(s.recluster(sess, sc))
	}
	s.logger.Infow("聚类方法已切换", "handle", h.String(), "method", m)
	return m, nil
}

// GetGraph 组装当前图；尚未采集结构时只返回 hub 节点
func (s *Service) GetGraph(h registry.Handle) (*graph.Payload, error) {
	sess, err := s.Session(h)
	if err != nil {
		return nil, err
	}
	sc := sess.Schema()
	if sc == nil {
		sc = &schema.Schema{Tables: []*schema.Table{}}
	}
	p := sess.assembler.Assemble(sc, sess.Clusters(), sess.core)
	p.NeuralCore = &graph.NeuralState{
		Status:  sess.core.Status(),
		Metrics: sess.core.Metrics(),
		AIStats: sess.core.AIStats(),
	}
	return p, nil
}

// GetMetrics 采样一次实时指标并推进神经核心
func (s *Service) GetMetrics(ctx context.Context, h registry.Handle) (monitor.Report, error) {
	sess, err := s.Session(h)
	if err != nil {
		return monitor.Report{}, err
	}
	sess.tickMu.Lock()
	defer sess.tickMu.Unlock()
	return sess.monitor.Tick(ctx), nil
}

// Anomalies 最近的异常
func (s *Service) Anomalies(h registry.Handle) ([]anomaly.Anomaly, error) {
	sess, err := s.Session(h)
	if err != nil {
		return nil, err
	}
	return sess.detector.Recent(), nil
}

// SetThresholds 调整异常检测参数
func (s *Service) SetThresholds(h registry.Handle, t anomaly.Thresholds) error {
	sess, err := s.Session(h)
	if err != nil {
		return err
	}
	sess.detector.SetThresholds(t)
	return nil
}

// AnalyzeEvolution 时间演化分析，结果按结构缓存
func (s *Service) AnalyzeEvolution(ctx context.Context, h registry.Handle) (*temporal.Analysis, error) {
	sess, err := s.Session(h)
	if err != nil {
		return nil, err
	}
	if a := sess.evolution.Load(); a != nil {
		return a, nil
	}
	sc, err := s.GetSchema(ctx, h)
	if err != nil {
		return nil, err
	}
	a, err := s.temporal.Analyze(ctx, h, sc)
	if err != nil {
		return nil, err
	}
	sess.evolution.Store(a)
	return a, nil
}

// GetSnapshot 重建某一时刻的状态。时间格式为 RFC3339 或 2006-01-02
func (s *Service) GetSnapshot(ctx context.Context, h registry.Handle, iso string) (temporal.Snapshot, error) {
	t, err := ParseTimestamp(iso)
	if err != nil {
		return temporal.Snapshot{}, err
	}
	a, err := s.AnalyzeEvolution(ctx, h)
	if err != nil {
		return temporal.Snapshot{}, err
	}
	return temporal.SnapshotAt(a, t), nil
}

// GetKeyframes 生成 steps+1 个回放关键帧，steps ∈ [10, 200]
func (s *Service) GetKeyframes(ctx context.Context, h registry.Handle, steps int) ([]temporal.Snapshot, error) {
	if steps < MinKeyframes || steps > MaxKeyframes {
		return nil, fmt.Errorf("%w: steps 须在 [%d, %d] 之间，实际 %d", ErrInvalidArgument, MinKeyframes, MaxKeyframes, steps)
	}
	a, err := s.AnalyzeEvolution(ctx, h)
	if err != nil {
		return nil, err
	}
	return temporal.Keyframes(a, steps), nil
}

// StartEvolution 开始演化回放
func (s *Service) StartEvolution(ctx context.Context, h registry.Handle, steps int) (Playback, error) {
	sess, err := s.Session(h)
	if err != nil {
		return Playback{}, err
	}
	frames, err := s.GetKeyframes(ctx, h, steps)
	if err != nil {
		return Playback{}, err
	}
	p := &Playback{Active: true, StartedAt: s.now(), Steps: steps, Frames: frames}
	sess.playback.Store(p)
	return *p, nil
}

// StopEvolution 停止演化回放
func (s *Service) StopEvolution(h registry.Handle) (Playback, error) {
	sess, err := s.Session(h)
	if err != nil {
		return Playback{}, err
	}
	prev := sess.Playback()
	sess.playback.Store(&Playback{Steps: prev.Steps})
	return sess.Playback(), nil
}

// RecalculateGravity 触发神经核心重算
func (s *Service) RecalculateGravity(h registry.Handle) (neural.Status, error) {
	sess, err := s.Session(h)
	if err != nil {
		return "", err
	}
	sess.tickMu.Lock()
	defer sess.tickMu.Unlock()
	st := sess.core.TriggerRetraining()
	s.logger.Infow("神经核心重算", "handle", h.String())
	return st, nil
}

// RecordGravity 采样表中数值列，计算每条记录的引力
func (s *Service) RecordGravity(ctx context.Context, h registry.Handle, table string, limit int) ([]neural.RecordScore, error) {
	sc, err := s.GetSchema(ctx, h)
	if err != nil {
		return nil, err
	}
	t := sc.Lookup(table)
	if t == nil {
		return nil, fmt.Errorf("%w: 表 %s 不存在", ErrInvalidArgument, table)
	}
	if len(t.NumericColumns) == 0 {
		return nil, neural.ErrNoNumericData
	}
	if limit <= 0 {
		limit = DefaultRecordSample
	}
	d, err := s.reg.Dialect(h)
	if err != nil {
		return nil, err
	}

	var rows []adapter.Row
	if d == adapter.DialectMongo {
		err = s.reg.Do(ctx, h, func(ctx context.Context, drv adapter.Driver) error {
			sampler, ok := drv.(adapter.DocumentSampler)
			if !ok {
				return adapter.ErrUnsupportedQuery
			}
			var err error
			rows, err = sampler.Sample(ctx, t.Name, limit)
			return err
		}, "record sample")
	} else {
		rows, err = s.reg.Query(ctx, h, sampleQuery(d, t, limit))
	}
	if err != nil {
		return nil, err
	}

	data := make([][]float64, 0, len(rows))
	for _, r := range rows {
		vec := make([]float64, len(t.NumericColumns))
		for j, c := range t.NumericColumns {
			vec[j], _ = adapter.AsFloat64(r[c])
		}
		data = append(data, vec)
	}
	return neural.RecordGravity(data, DefaultRecordClusters, neural.RecordSeed)
}

// sampleQuery 取前 limit 行数值列
func sampleQuery(d adapter.Dialect, t *schema.Table, limit int) string {
	cols := make([]string, len(t.NumericColumns))
	for i, c := range t.NumericColumns {
		cols[i] = adapter.QuoteIdent(d, c)
	}
	from := adapter.QualifiedName(d, t.SchemaName, t.Name)
	if d == adapter.DialectSQLServer {
		return fmt.Sprintf("SELECT TOP %d %s FROM %s", limit, strings.Join(cols, ", "), from)
	}
	return fmt.Sprintf("SELECT %s FROM %s LIMIT %d", strings.Join(cols, ", "), from, limit)
}

// Gravities 每表当前引力：神经核心优先，其次 PageRank 实时引力
func (s *Service) Gravities(h registry.Handle) (map[string]float64, error) {
	sess, err := s.Session(h)
	if err != nil {
		return nil, err
	}
	out := sess.core.Gravities()
	if sc := sess.Schema(); sc != nil {
		for _, t := range sc.Tables {
			if _, ok := out[t.Name]; !ok {
				if g := sess.live.Gravity(t.Name); g > 0 {
					out[t.Name] = g
				}
			}
		}
	}
	return out, nil
}

// CloseConnection 关闭连接并丢弃会话
func (s *Service) CloseConnection(h registry.Handle) error {
	s.mu.Lock()
	_, ok := s.sessions[h]
	delete(s.sessions, h)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownHandle, h)
	}
	s.group.Forget(h.String())
	return s.reg.Close(h)
}

// Close 关闭全部连接
func (s *Service) Close() error {
	s.mu.Lock()
	n := len(s.sessions)
	s.sessions = make(map[registry.Handle]*Session)
	s.mu.Unlock()
	s.logger.Infow("关闭全部会话", "sessions", n)
	return s.reg.CloseAll()
}

// ParseTimestamp 解析 RFC3339 或日期；无时区按本地时区
func ParseTimestamp(iso string) (time.Time, error) {
	if t, ok := adapter.AsTime(strings.TrimSpace(iso)); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: 无法解析时间 %q", ErrInvalidArgument, iso)
}
