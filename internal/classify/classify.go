package classify

import (
	"math"
	"strings"

	"data-intelligence/internal/schema"
)

var (
	// factNameWords 事实表名称关键词
	factNameWords = []string{"fact", "journal", "ledger", "transaction", "event", "log", "history", "payment", "alert", "fraud"}
	// dimNameWords 维度表名称关键词
	dimNameWords = []string{"dim", "master", "ref", "type", "status", "category", "user", "customer", "account", "product", "branch"}
	// entityWords 业务实体关键词，按顺序取第一个命中
	entityWords = []string{"customer", "account", "transaction", "branch", "employee", "product", "loan", "card", "fraud", "audit"}
)

const (
	// EntityOther 未命中任何业务实体
	EntityOther = "other"

	MinImportance = 1
	MaxImportance = 20
)

// Heuristic 结构启发式分类器，不依赖外部服务
type Heuristic struct{}

// NewHeuristic 创建启发式分类器
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Classify 为每张表填充 TableType、BusinessEntity、ImportanceScore
func (h *Heuristic) Classify(s *schema.Schema) {
	if s.Len() == 0 {
		return
	}
	mean := s.MeanRowCount()
	incoming := s.IncomingForeignKeys()
	for _, t := range s.Tables {
		t.TableType = tableType(t, mean, incoming[t.Name])
		t.BusinessEntity = BusinessEntity(t.Name)
		t.ImportanceScore = Importance(t)
	}
}

func tableType(t *schema.Table, mean float64, incoming int) schema.TableType {
	dense := float64(t.RowCount) > 1.5*mean
	name := strings.ToLower(t.Name)
	outFKs := len(t.ForeignKeys)

	fact := 0
	if dense {
		fact += 3
	}
	if outFKs >= 2 {
		fact += 4
	}
	if containsAny(name, factNameWords) {
		fact += 5
	}
	if t.HasColumnContaining("amount", "total") {
		fact += 3
	}

	dim := 0
	if !dense && t.RowCount > 0 {
		dim += 2
	}
	if incoming >= 2 {
		dim += 5
	}
	if containsAny(name, dimNameWords) {
		dim += 5
	}
	if outFKs <= 1 {
		dim += 3
	}

	switch {
	case fact == 0 && dim == 0:
		return schema.TableTypeUnknown
	case fact > dim:
		return schema.TableTypeFact
	default:
		return schema.TableTypeDimension
	}
}

// BusinessEntity 按关键词表推断业务实体
func BusinessEntity(name string) string {
	lower := strings.ToLower(name)
	for _, w := range entityWords {
		if strings.Contains(lower, w) {
			return w
		}
	}
	return EntityOther
}

// RowBucket 行数的对数分档：<100 为 1，>=100000 为 5
func RowBucket(rows int64) int {
	b := int(math.Floor(math.Log10(math.Max(1, float64(rows)))))
	return min(5, max(1, b))
}

// Importance 重要性评分，范围 [1, 20]
func Importance(t *schema.Table) int {
	score := RowBucket(t.RowCount)
	score += min(10, 2*len(t.ForeignKeys))
	if len(t.NumericColumns) > 0 {
		score += 3
	}
	if t.TableType == schema.TableTypeFact {
		score += 5
	}
	return min(MaxImportance, max(MinImportance, score))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
