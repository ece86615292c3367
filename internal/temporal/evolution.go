package temporal

import (
	"math"
	"time"
)

const (
	// NewTableDays 出生不超过 30 天的表标记为新表
	NewTableDays = 30
	// AgeDecayDays age_factor 在约半年内衰减到下限
	AgeDecayDays   = 180.0
	minAgeFactor   = 0.2
	progressExpo   = 1.2
	maxVitality    = 100.0
	vitalityPerLog = 20.0
)

// TableSnapshot 某一时刻单表的重建状态
type TableSnapshot struct {
	Name         string     `json:"name"`
	RowCount     int64      `json:"row_count"`
	IsNew        bool       `json:"is_new"`
	AgeFactor    float64    `json:"age_factor"`
	RelativeSize float64    `json:"relative_size"`
	Vitality     float64    `json:"vitality"`
	NodeGlow     float64    `json:"node_glow"`
	Importance   Importance `json:"importance"`
}

// GlobalMetrics 快照汇总
type GlobalMetrics struct {
	AvgVitality       float64 `json:"avg_vitality"`
	DataDensity       int64   `json:"data_density"`
	IntelligenceScore float64 `json:"intelligence_score"`
}

// Snapshot 一个插值时刻
type Snapshot struct {
	Timestamp     time.Time       `json:"timestamp"`
	Tables        []TableSnapshot `json:"tables"`
	Milestones    []Milestone     `json:"milestones"`
	GlobalMetrics GlobalMetrics   `json:"global_metrics"`
}

// SnapshotAt 按出生时间与当前规模插值重建 t 时刻的数据库状态
func SnapshotAt(a *Analysis, t time.Time) Snapshot {
	snap := Snapshot{
		Timestamp:  t,
		Tables:     []TableSnapshot{},
		Milestones: []Milestone{},
	}
	if a == nil {
		return snap
	}

	var vitality, glow float64
	for _, te := range a.TableEvolution {
		if te.BirthDate.After(t) {
			continue
		}
		daysActive := wholeDays(t.Sub(te.BirthDate))
		totalDays := max(1, wholeDays(a.EndDate.Sub(te.BirthDate)))
		progress := math.Pow(math.Min(1, float64(daysActive)/float64(totalDays)), progressExpo)
		if !t.Before(a.EndDate) {
			progress = 1
		}

		estimated := estimateRows(te.CurrentSize, progress)
		ageFactor := math.Max(minAgeFactor, 1-float64(daysActive)/AgeDecayDays)
		w := te.Importance.Weight()
		nTerm := math.Log10(float64(estimated) + 1)

		ts := TableSnapshot{
			Name:       te.TableName,
			RowCount:   estimated,
			IsNew:      daysActive <= NewTableDays,
			AgeFactor:  ageFactor,
			Vitality:   math.Min(maxVitality, vitalityPerLog*nTerm+5*w),
			NodeGlow:   0.8*nTerm*ageFactor + 0.6*w,
			Importance: te.Importance,
		}
		if te.CurrentSize > 0 {
			ts.RelativeSize = math.Max(0, math.Min(1, float64(estimated)/float64(te.CurrentSize)))
		}
		snap.Tables = append(snap.Tables, ts)
		vitality += ts.Vitality
		glow += ts.NodeGlow
		snap.GlobalMetrics.DataDensity += estimated
	}
	if n := float64(len(snap.Tables)); n > 0 {
		snap.GlobalMetrics.AvgVitality = vitality / n
		snap.GlobalMetrics.IntelligenceScore = glow / n
	}

	for _, m := range a.Milestones {
		if !m.Date.After(t) {
			snap.Milestones = append(snap.Milestones, m)
		}
	}
	return snap
}

// estimateRows clamp(1, cur, cur·progress)；空表保持 0
func estimateRows(current int64, progress float64) int64 {
	if current <= 0 {
		return 0
	}
	est := int64(math.Round(float64(current) * progress))
	return max(1, min(current, est))
}

// Keyframes 在 [start, end] 上等距生成 k+1 个快照，严格按时间递增
func Keyframes(a *Analysis, k int) []Snapshot {
	if a == nil || k <= 0 {
		return []Snapshot{}
	}
	span := a.EndDate.Sub(a.StartDate)
	if span <= 0 {
		span = day
	}
	frames := make([]Snapshot, 0, k+1)
	for i := 0; i <= k; i++ {
		t := a.StartDate.Add(time.Duration(float64(span) * float64(i) / float64(k)))
		if i == k {
			t = a.StartDate.Add(span)
		}
		frames = append(frames, SnapshotAt(a, t))
	}
	return frames
}
