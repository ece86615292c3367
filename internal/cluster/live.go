package cluster

import (
	"math"
	"sort"
	"sync"
)

const (
	// EMAAlpha 活跃度指数滑动平均系数
	EMAAlpha = 0.3
	// hotFraction 热点表取前 10%
	hotFraction = 0.1
)

// Activity 单张表一个采样周期的活跃度
type Activity struct {
	TPS        float64 `json:"tps"`
	RowGrowth  float64 `json:"row_growth"`
	QueryCount float64 `json:"query_count"`
}

// normalized 归一化到 [0,1)
func (a Activity) normalized() float64 {
	sat := func(v, half float64) float64 {
		v = math.Max(0, v)
		return v / (v + half)
	}
	return 0.5*sat(a.TPS, 100) + 0.3*sat(a.RowGrowth, 1000) + 0.2*sat(a.QueryCount, 100)
}

// LiveAdapter 把 PageRank 基础引力与实时活跃度结合：g = base·(1+EMA)
type LiveAdapter struct {
	mu   sync.RWMutex
	base map[string]float64
	ema  map[string]float64
}

// NewLiveAdapter 创建实时引力适配器
func NewLiveAdapter(base map[string]float64) *LiveAdapter {
	l := &LiveAdapter{ema: make(map[string]float64)}
	l.SetBase(base)
	return l
}

// SetBase 重新聚类后替换基础引力，保留已有 EMA
func (l *LiveAdapter) SetBase(base map[string]float64) {
	cp := make(map[string]float64, len(base))
	for k, v := range base {
		cp[k] = v
	}
	l.mu.Lock()
	l.base = cp
	l.mu.Unlock()
}

// Observe 记录一次活跃度采样
func (l *LiveAdapter) Observe(table string, a Activity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ema[table] = EMAAlpha*a.normalized() + (1-EMAAlpha)*l.ema[table]
}

// EMA 表当前的活跃度滑动平均
func (l *LiveAdapter) EMA(table string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ema[table]
}

// Gravity 最终引力
func (l *LiveAdapter) Gravity(table string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.base[table] * (1 + l.ema[table])
}

// HotTables 活跃度位于前 10% 的表，按 EMA 降序
func (l *LiveAdapter) HotTables() []string {
	l.mu.RLock()
	type scored struct {
		name string
		ema  float64
	}
	all := make([]scored, 0, len(l.ema))
	for t, v := range l.ema {
		if v > 0 {
			all = append(all, scored{t, v})
		}
	}
	l.mu.RUnlock()
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ema != all[j].ema {
			return all[i].ema > all[j].ema
		}
		return all[i].name < all[j].name
	})
	n := int(math.Ceil(float64(len(all)) * hotFraction))
	out := make([]string, n)
	for i := range out {
		out[i] = all[i].name
	}
	return out
}
