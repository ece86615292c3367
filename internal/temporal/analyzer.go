package temporal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/registry"
	"data-intelligence/internal/schema"

	"go.uber.org/zap"
)

const (
	day = 24 * time.Hour
	// FallbackAge 找不到出生时间时按一年前处理
	FallbackAge = 365 * day
	// WindowPadding 时间窗口在最早出生日前再留 30 天
	WindowPadding = 30 * day
)

// ErrTemporalUnavailable 整体时间分析不可用
var ErrTemporalUnavailable = errors.New("时间演化分析不可用")

// Importance 里程碑重要性
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceMedium   Importance = "medium"
	ImportanceLow      Importance = "low"
)

// ImportanceFor 行数阈值 10^6 / 10^5 / 10^4
func ImportanceFor(rows int64) Importance {
	switch {
	case rows >= 1_000_000:
		return ImportanceCritical
	case rows >= 100_000:
		return ImportanceHigh
	case rows >= 10_000:
		return ImportanceMedium
	}
	return ImportanceLow
}

// Weight 重要性权重
func (i Importance) Weight() float64 {
	switch i {
	case ImportanceCritical:
		return 3.0
	case ImportanceHigh:
		return 2.2
	case ImportanceMedium:
		return 1.5
	}
	return 0.8
}

// TableEvolution 单表的时间画像
type TableEvolution struct {
	TableName       string     `json:"table_name"`
	BirthDate       time.Time  `json:"birth_date"`
	TimestampColumn string     `json:"timestamp_column,omitempty"`
	GrowthVelocity  float64    `json:"growth_velocity"`
	CurrentSize     int64      `json:"current_size"`
	Importance      Importance `json:"importance"`
	IsFallback      bool       `json:"is_fallback"`
}

// Milestone 时间线上的事件
type Milestone struct {
	Date        time.Time  `json:"date"`
	Type        string     `json:"type"`
	Table       string     `json:"table"`
	Description string     `json:"description"`
	Importance  Importance `json:"importance"`
}

// Analysis 演化分析结果
type Analysis struct {
	ConnectionID   string           `json:"connection_id"`
	StartDate      time.Time        `json:"start_date"`
	EndDate        time.Time        `json:"end_date"`
	RealBirthDate  time.Time        `json:"real_birth_date"`
	TotalDays      int              `json:"total_days"`
	TableEvolution []TableEvolution `json:"table_evolution"`
	Milestones     []Milestone      `json:"milestones"`
}

// Source 查询来源，由连接注册表实现
type Source interface {
	Dialect(h registry.Handle) (adapter.Dialect, error)
	Query(ctx context.Context, h registry.Handle, query string, args ...any) ([]adapter.Row, error)
}

// Analyzer 时间分析器
type Analyzer struct {
	src    Source
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewAnalyzer 创建时间分析器；now 为 nil 时使用 time.Now
func NewAnalyzer(src Source, now func() time.Time, logger *zap.SugaredLogger) *Analyzer {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Analyzer{src: src, now: now, logger: logger}
}

// Analyze 为每张表找出生时间并计算增长速度、里程碑和时间窗口。
// 单表失败退化为 now−365d；整体失败返回 ErrTemporalUnavailable。
func (a *Analyzer) Analyze(ctx context.Context, h registry.Handle, s *schema.Schema) (*Analysis, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: 尚未获取结构", ErrTemporalUnavailable)
	}
	d, err := a.src.Dialect(h)
	if err != nil {
		return nil, err
	}

	now := a.now()
	out := &Analysis{
		ConnectionID:   h.String(),
		EndDate:        now,
		TableEvolution: make([]TableEvolution, 0, s.Len()),
		Milestones:     make([]Milestone, 0, s.Len()),
	}

	for _, t := range s.Tables {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTemporalUnavailable, err)
		}
		te := TableEvolution{
			TableName:   t.Name,
			CurrentSize: t.RowCount,
			Importance:  ImportanceFor(t.RowCount),
		}
		birth, col, ok := a.birthDate(ctx, h, d, t)
		if ok {
			te.BirthDate = birth
			te.TimestampColumn = col
		} else {
			te.BirthDate = now.Add(-FallbackAge)
			te.IsFallback = true
		}
		ageDays := max(1, wholeDays(now.Sub(te.BirthDate)))
		te.GrowthVelocity = float64(t.RowCount) / float64(ageDays)
		out.TableEvolution = append(out.TableEvolution, te)

		out.Milestones = append(out.Milestones, Milestone{
			Date:        te.BirthDate,
			Type:        "table_creation",
			Table:       t.Name,
			Description: fmt.Sprintf("表 %s 诞生", t.Name),
			Importance:  te.Importance,
		})
	}

	sort.SliceStable(out.Milestones, func(i, j int) bool {
		return out.Milestones[i].Date.Before(out.Milestones[j].Date)
	})

	out.RealBirthDate = now
	if len(out.Milestones) > 0 {
		out.RealBirthDate = out.Milestones[0].Date
	}
	out.StartDate = out.RealBirthDate.Add(-WindowPadding)
	out.TotalDays = max(1, wholeDays(out.EndDate.Sub(out.StartDate)))

	a.logger.Infow("时间演化分析完成", "handle", h.String(), "tables", len(out.TableEvolution),
		"start", out.StartDate.Format(time.DateOnly), "total_days", out.TotalDays)
	return out, nil
}

// birthDate 单条 MIN 查询取出生时间
func (a *Analyzer) birthDate(ctx context.Context, h registry.Handle, d adapter.Dialect, t *schema.Table) (time.Time, string, bool) {
	col, ok := ChooseBirthColumn(t)
	if !ok || d == adapter.DialectMongo {
		return time.Time{}, "", false
	}
	q := fmt.Sprintf("SELECT MIN(%s) AS birth FROM %s",
		adapter.QuoteIdent(d, col.Name), adapter.QualifiedName(d, t.SchemaName, t.Name))
	rows, err := a.src.Query(ctx, h, q)
	if err != nil {
		a.logger.Warnw("出生时间查询失败，使用默认值", "table", t.Name, "column", col.Name, "error", err)
		return time.Time{}, "", false
	}
	if len(rows) == 0 {
		return time.Time{}, "", false
	}
	ts, ok := parseBirth(rows[0]["birth"], col.Year)
	if !ok {
		return time.Time{}, "", false
	}
	return ts, col.Name, true
}

// parseBirth 解析驱动返回的时间值；整数按年份处理
func parseBirth(v any, yearColumn bool) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	if yearColumn {
		if y, ok := adapter.AsInt64(v); ok && y > 0 {
			return time.Date(int(y), time.January, 1, 0, 0, 0, 0, time.Local), true
		}
		return time.Time{}, false
	}
	if ts, ok := adapter.AsTime(v); ok {
		return ts, true
	}
	switch v.(type) {
	case int64, int32, int:
		if y, _ := adapter.AsInt64(v); y >= 1000 && y <= 9999 {
			return time.Date(int(y), time.January, 1, 0, 0, 0, 0, time.Local), true
		}
	}
	return time.Time{}, false
}

func wholeDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}
