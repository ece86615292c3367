package anomaly

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// 监控指标名
const (
	MetricTransactionRate    = "transaction_rate"
	MetricFraudAlerts        = "fraud_alerts"
	MetricFailedTransactions = "failed_transactions"
	MetricAverageAmount      = "average_amount"
)

// Severity 严重程度
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Direction 偏离方向
type Direction string

const (
	DirectionSpike Direction = "spike"
	DirectionDrop  Direction = "drop"
)

// Thresholds 检测参数
type Thresholds struct {
	Window     int     `json:"window" yaml:"window"`
	MinSamples int     `json:"min_samples" yaml:"min_samples"`
	ZThreshold float64 `json:"z_threshold" yaml:"z_threshold"`
	CriticalZ  float64 `json:"critical_z" yaml:"critical_z"`
	Retain     int     `json:"retain" yaml:"retain"`
}

// DefaultThresholds 窗口 100、最少 10 个样本、z>3 告警、z>5 严重、保留 50 条
func DefaultThresholds() Thresholds {
	return Thresholds{Window: 100, MinSamples: 10, ZThreshold: 3, CriticalZ: 5, Retain: 50}
}

// normalize 非法值回落到默认值
func (t Thresholds) normalize() Thresholds {
	d := DefaultThresholds()
	if t.Window <= 0 {
		t.Window = d.Window
	}
	if t.MinSamples <= 0 {
		t.MinSamples = d.MinSamples
	}
	if t.ZThreshold <= 0 {
		t.ZThreshold = d.ZThreshold
	}
	if t.CriticalZ < t.ZThreshold {
		t.CriticalZ = max(d.CriticalZ, t.ZThreshold)
	}
	if t.Retain <= 0 {
		t.Retain = d.Retain
	}
	return t
}

// Anomaly 一条可解释的异常记录
type Anomaly struct {
	ID          string    `json:"id"`
	Metric      string    `json:"metric"`
	Current     float64   `json:"current"`
	Expected    float64   `json:"expected"`
	Deviation   float64   `json:"deviation"`
	ZScore      float64   `json:"z_score"`
	Severity    Severity  `json:"severity"`
	Direction   Direction `json:"direction"`
	Explanation string    `json:"explanation"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Detector 单连接的 Z-score 检测器，并发安全
type Detector struct {
	mu      sync.Mutex
	th      Thresholds
	history map[string][]float64
	recent  []Anomaly
	now     func() time.Time
	logger  *zap.SugaredLogger
}

// Option 检测器选项
type Option func(*Detector)

// WithThresholds 初始参数
func WithThresholds(t Thresholds) Option {
	return func(d *Detector) { d.th = t.normalize() }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDetector 创建检测器
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		th:      DefaultThresholds(),
		history: make(map[string][]float64),
		now:     time.Now,
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetThresholds 调整检测参数，已有历史按新窗口截断
func (d *Detector) SetThresholds(t Thresholds) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.th = t.normalize()
	for k, h := range d.history {
		d.history[k] = trim(h, d.th.Window)
	}
	d.recent = trimAnomalies(d.recent, d.th.Retain)
}

// Thresholds 当前参数
func (d *Detector) Thresholds() Thresholds {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.th
}

// Detect 用追加前的历史计算 μ 与总体 σ，再把当前值写入历史。
// 历史不足 MinSamples 时不判定。返回结果按指标名排序
func (d *Detector) Detect(values map[string]float64) []Anomaly {
	metrics := make([]string, 0, len(values))
	for k := range values {
		metrics = append(metrics, k)
	}
	sort.Strings(metrics)

	d.mu.Lock()
	defer d.mu.Unlock()

	var found []Anomaly
	now := d.now()
	for _, metric := range metrics {
		x := values[metric]
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		h := d.history[metric]
		if len(h) >= d.th.MinSamples {
			if a, ok := d.score(metric, x, h, now); ok {
				found = append(found, a)
			}
		}
		d.history[metric] = trim(append(h, x), d.th.Window)
	}

	if len(found) > 0 {
		d.recent = trimAnomalies(append(d.recent, found...), d.th.Retain)
		for _, a := range found {
			d.logger.Infow("检测到异常", "metric", a.Metric, "z", a.ZScore, "severity", a.Severity)
		}
	}
	return found
}

func (d *Detector) score(metric string, x float64, h []float64, now time.Time) (Anomaly, bool) {
	mu, sigma := stat.PopMeanStdDev(h, nil)
	if sigma == 0 {
		sigma = 0.1 * math.Abs(mu)
		if sigma == 0 {
			sigma = 1
		}
	}
	z := math.Abs((x - mu) / sigma)
	if z <= d.th.ZThreshold {
		return Anomaly{}, false
	}
	a := Anomaly{
		ID:         uuid.NewString(),
		Metric:     metric,
		Current:    x,
		Expected:   mu,
		Deviation:  x - mu,
		ZScore:     z,
		Severity:   SeverityWarning,
		Direction:  DirectionSpike,
		DetectedAt: now,
	}
	if z > d.th.CriticalZ {
		a.Severity = SeverityCritical
	}
	if x < mu {
		a.Direction = DirectionDrop
	}
	a.Explanation = Explain(a)
	return a, true
}

// Recent 最近的异常，最旧在前
func (d *Detector) Recent() []Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Anomaly{}, d.recent...)
}

// Samples 某指标当前历史长度
func (d *Detector) Samples(metric string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history[metric])
}

// Reset 清空历史与异常
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = make(map[string][]float64)
	d.recent = nil
}

func trim(h []float64, window int) []float64 {
	if len(h) <= window {
		return h
	}
	return append([]float64(nil), h[len(h)-window:]...)
}

func trimAnomalies(as []Anomaly, retain int) []Anomaly {
	if len(as) <= retain {
		return as
	}
	return append([]Anomaly(nil), as[len(as)-retain:]...)
}
