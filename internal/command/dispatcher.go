// Package command 把语音代理发出的 action + parameters 指令映射为核心操作或前端指令
package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"data-intelligence/internal/anomaly"
	"data-intelligence/internal/cluster"
	"data-intelligence/internal/engine"
	"data-intelligence/internal/neural"
	"data-intelligence/internal/registry"
	"data-intelligence/internal/schema"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 支持的动作
const (
	ActionHighlight          = "graph.highlight"
	ActionZoomCluster        = "graph.zoom_cluster"
	ActionStartFlow          = "graph.start_flow"
	ActionStopFlow           = "graph.stop_flow"
	ActionRecalculateGravity = "graph.recalculate_gravity"
	ActionResetView          = "graph.reset_view"
	ActionAnomaly            = "analytics.anomaly"
	ActionCluster            = "analytics.cluster"
	ActionShowSchema         = "ui.show_schema"
	ActionStartEvolution     = "graph.start_evolution"
	ActionStopEvolution      = "graph.stop_evolution"
)

// aliases 语音代理使用的短名
var aliases = map[string]string{
	"recalculate_gravity": ActionRecalculateGravity,
	"apply_clustering":    ActionCluster,
	"start_evolution":     ActionStartEvolution,
	"stop_evolution":      ActionStopEvolution,
}

// DefaultEvolutionSteps 未指定步数时的回放关键帧数
const DefaultEvolutionSteps = 50

var (
	ErrUnknownAction = errors.New("未知指令")
	ErrBadParameter  = errors.New("指令参数不合法")
)

// Command 一条指令
type Command struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Result 指令执行结果，失败时 Error 非空
type Result struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Success   bool           `json:"success"`
	Directive map[string]any `json:"directive,omitempty"`
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Backend 调度器依赖的核心操作
type Backend interface {
	GetSchema(ctx context.Context, h registry.Handle) (*schema.Schema, error)
	Session(h registry.Handle) (*engine.Session, error)
	RecalculateGravity(h registry.Handle) (neural.Status, error)
	SetClusterMethod(h registry.Handle, method string) (cluster.Method, error)
	StartEvolution(ctx context.Context, h registry.Handle, steps int) (engine.Playback, error)
	StopEvolution(h registry.Handle) (engine.Playback, error)
	Anomalies(h registry.Handle) ([]anomaly.Anomaly, error)
}

type handlerFunc func(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error)

// Dispatcher 指令调度器
type Dispatcher struct {
	backend  Backend
	handlers map[string]handlerFunc
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// Option 调度器选项
type Option func(*Dispatcher)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger 设置日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher 创建调度器
func NewDispatcher(b Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend: b,
		now:     time.Now,
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers = map[string]handlerFunc{
		ActionHighlight:          d.highlight,
		ActionZoomCluster:        d.zoomCluster,
		ActionStartFlow:          flow(true),
		ActionStopFlow:           flow(false),
		ActionRecalculateGravity: d.recalculate,
		ActionResetView:          resetView,
		ActionAnomaly:            d.anomalies,
		ActionCluster:            d.applyClustering,
		ActionShowSchema:         d.showSchema,
		ActionStartEvolution:     d.startEvolution,
		ActionStopEvolution:      d.stopEvolution,
	}
	return d
}

// Actions 已注册的动作，按字母序
func (d *Dispatcher) Actions() []string {
	out := make([]string, 0, len(d.handlers))
	for a := range d.handlers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Dispatch 执行一条指令，任何错误都体现在 Result 中
func (d *Dispatcher) Dispatch(ctx context.Context, h registry.Handle, cmd Command) Result {
	action := strings.TrimSpace(cmd.Action)
	if canonical, ok := aliases[action]; ok {
		action = canonical
	}
	res := Result{
		ID:        uuid.NewString(),
		Action:    action,
		Timestamp: d.now(),
	}

	fn, ok := d.handlers[action]
	if !ok {
		res.Error = fmt.Sprintf("%v: %q", ErrUnknownAction, cmd.Action)
		d.logger.Warnw("拒绝未知指令", "action", cmd.Action, "conn", h)
		return res
	}

	directive, data, err := fn(ctx, h, cmd.Parameters)
	if err != nil {
		res.Error = err.Error()
		d.logger.Warnw("指令执行失败", "action", action, "conn", h, "error", err)
		return res
	}
	res.Success = true
	res.Directive = directive
	res.Data = data
	d.logger.Debugw("指令完成", "action", action, "conn", h, "id", res.ID)
	return res
}

func (d *Dispatcher) highlight(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
	spoken := stringParam(params, "table", "target", "name")
	if spoken == "" {
		return nil, nil, fmt.Errorf("%w: 缺少 table", ErrBadParameter)
	}
	s, err := d.backend.GetSchema(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	table, kind, ok := Resolve(spoken, s.TableNames())
	if !ok {
		return nil, nil, fmt.Errorf("%w: 没有与 %q 匹配的表", ErrBadParameter, spoken)
	}
	return map[string]any{"highlight": table, "match": string(kind)}, nil, nil
}

func (d *Dispatcher) zoomCluster(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
	want := stringParam(params, "cluster", "cluster_id", "target")
	if want == "" {
		return nil, nil, fmt.Errorf("%w: 缺少 cluster", ErrBadParameter)
	}
	sess, err := d.backend.Session(h)
	if err != nil {
		return nil, nil, err
	}
	cm := sess.Clusters()
	if cm == nil {
		return nil, nil, fmt.Errorf("%w: 聚类已关闭", ErrBadParameter)
	}
	label, ok := resolveCluster(want, cm)
	if !ok {
		return nil, nil, fmt.Errorf("%w: 没有与 %q 匹配的簇", ErrBadParameter, want)
	}
	return map[string]any{"zoom_cluster": label, "members": cm.Members(label)}, nil, nil
}

// resolveCluster 依次按标签、表名前缀、成员表名匹配聚类
func resolveCluster(want string, cm *cluster.Map) (string, bool) {
	if cm.Index(want) >= 0 {
		return want, true
	}
	n := normalize(want)
	for _, label := range cm.Labels {
		if normalize(label) == n {
			return label, true
		}
	}
	if label, ok := cm.Cluster(want); ok {
		return label, true
	}
	tables := make([]string, 0, len(cm.Assignments))
	for t := range cm.Assignments {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	if t, _, ok := Resolve(want, tables); ok {
		return cm.Cluster(t)
	}
	return "", false
}

func flow(on bool) handlerFunc {
	return func(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
		directive := map[string]any{"flow": on}
		if speed, ok := floatParam(params, "speed"); ok && on {
			directive["speed"] = math.Max(0.1, math.Min(10, speed))
		}
		return directive, nil, nil
	}
}

func resetView(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
	return map[string]any{"reset_view": true}, nil, nil
}

func (d *Dispatcher) recalculate(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
	st, err := d.backend.RecalculateGravity(h)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"refresh_graph": true}, map[string]any{"status": st}, nil
}

func (d *Dispatcher) anomalies(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
	list, err := d.backend.Anomalies(h)
	if err != nil {
		return nil, nil, err
	}
	if n, ok := intParam(params, "limit"); ok && n > 0 && n < len(list) {
		list = list[len(list)-n:]
	}
	return map[string]any{"show_anomalies": true}, list, nil
}

func (d *Dispatcher) applyClustering(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
	method := stringParam(params, "method", "algorithm")
	if method == "" {
		method = string(cluster.MethodNetwork)
	}
	m, err := d.backend.SetClusterMethod(h, method)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"refresh_graph": true}, map[string]any{"method": m}, nil
}

// SchemaSummary ui.show_schema 返回的摘要
type SchemaSummary struct {
	Database    string         `json:"database"`
	Tables      int            `json:"tables"`
	ForeignKeys int            `json:"foreign_keys"`
	Method      cluster.Method `json:"method"`
	Clusters    map[string]int `json:"clusters,omitempty"`
	Largest     []string       `json:"largest"`
}

func (d *Dispatcher) showSchema(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
	s, err := d.backend.GetSchema(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	sess, err := d.backend.Session(h)
	if err != nil {
		return nil, nil, err
	}
	sum := SchemaSummary{
		Database:    s.Database,
		Tables:      s.Len(),
		ForeignKeys: s.TotalForeignKeys(),
		Method:      sess.Method(),
		Largest:     largest(s, 5),
	}
	if cm := sess.Clusters(); cm != nil {
		sum.Clusters = cm.Sizes()
	}
	return map[string]any{"show_panel": "schema"}, sum, nil
}

func largest(s *schema.Schema, n int) []string {
	tables := append([]*schema.Table(nil), s.Tables...)
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].RowCount > tables[j].RowCount })
	out := make([]string, 0, n)
	for i := 0; i < len(tables) && i < n; i++ {
		out = append(out, tables[i].Name)
	}
	return out
}

// EvolutionInfo 回放启动后的概要
type EvolutionInfo struct {
	Active bool      `json:"active"`
	Steps  int       `json:"steps"`
	Frames int       `json:"frames"`
	Start  time.Time `json:"start,omitempty"`
	End    time.Time `json:"end,omitempty"`
}

func (d *Dispatcher) startEvolution(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
	steps := DefaultEvolutionSteps
	if n, ok := intParam(params, "steps"); ok {
		steps = n
	}
	p, err := d.backend.StartEvolution(ctx, h, steps)
	if err != nil {
		return nil, nil, err
	}
	info := EvolutionInfo{Active: p.Active, Steps: p.Steps, Frames: len(p.Frames)}
	if len(p.Frames) > 0 {
		info.Start = p.Frames[0].Timestamp
		info.End = p.Frames[len(p.Frames)-1].Timestamp
	}
	return map[string]any{"evolution": "play"}, info, nil
}

func (d *Dispatcher) stopEvolution(ctx context.Context, h registry.Handle, params map[string]any) (map[string]any, any, error) {
	p, err := d.backend.StopEvolution(h)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"evolution": "stop"}, EvolutionInfo{Active: p.Active, Steps: p.Steps}, nil
}

// stringParam 取第一个非空的字符串参数
func stringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// intParam JSON 解码后的数字为 float64
func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
