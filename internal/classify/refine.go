package classify

import (
	"context"
	"fmt"
	"strings"

	"data-intelligence/internal/schema"
)

// Classification 外部分类结果
type Classification struct {
	TableType      string `json:"table_type"`
	BusinessEntity string `json:"business_entity"`
}

// Refiner 可选的后台精化器（例如大模型）
type Refiner interface {
	Refine(ctx context.Context, s *schema.Schema) (map[string]Classification, error)
}

// Refine 在结构副本上应用精化结果并返回副本。
// 类型、实体仅在合法时替换；重要性只升不降。
func Refine(ctx context.Context, s *schema.Schema, r Refiner) (*schema.Schema, int, error) {
	if r == nil || s.Len() == 0 {
		return s, 0, nil
	}
	result, err := r.Refine(ctx, s)
	if err != nil {
		return s, 0, fmt.Errorf("表分类精化失败: %w", err)
	}
	out := s.Clone()
	return out, Apply(out, result), nil
}

// Apply 把分类结果写入结构，返回实际变更的表数
func Apply(s *schema.Schema, result map[string]Classification) int {
	changed := 0
	for _, t := range s.Tables {
		c, ok := result[t.Name]
		if !ok {
			continue
		}
		before := *t
		if tt := schema.TableType(strings.ToLower(strings.TrimSpace(c.TableType))); validType(tt) {
			t.TableType = tt
		}
		if e := strings.ToLower(strings.TrimSpace(c.BusinessEntity)); e != "" {
			t.BusinessEntity = e
		}
		t.ImportanceScore = max(t.ImportanceScore, Importance(t))
		if before.TableType != t.TableType || before.BusinessEntity != t.BusinessEntity ||
			before.ImportanceScore != t.ImportanceScore {
			changed++
		}
	}
	return changed
}

func validType(t schema.TableType) bool {
	switch t {
	case schema.TableTypeFact, schema.TableTypeDimension, schema.TableTypeUnknown:
		return true
	}
	return false
}
