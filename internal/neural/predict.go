package neural

import (
	"fmt"
	"strings"
)

const (
	// RelationshipSemanticInference 词根包含关系推断出的链接
	RelationshipSemanticInference = "semantic_inference"

	predictedConfidence = 0.75
	minRootLength       = 3
)

// Prediction 预测的潜在关联
type Prediction struct {
	Target       string  `json:"target"`
	Relationship string  `json:"relationship"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// PredictLinks 基于表名词根的纯词法链接预测，不返回自环和重复目标
func (c *Core) PredictLinks(table string, candidates []string) []Prediction {
	return PredictLinks(table, candidates)
}

// PredictLinks 见 Core.PredictLinks
func PredictLinks(table string, candidates []string) []Prediction {
	a := root(table)
	if len(a) <= minRootLength {
		return nil
	}
	var out []Prediction
	seen := map[string]bool{table: true}
	for _, cand := range candidates {
		if seen[cand] {
			continue
		}
		b := root(cand)
		if b == "" || !(strings.Contains(b, a) || strings.Contains(a, b)) {
			continue
		}
		seen[cand] = true
		out = append(out, Prediction{
			Target:       cand,
			Relationship: RelationshipSemanticInference,
			Confidence:   predictedConfidence,
			Reasoning:    fmt.Sprintf("表名词根 '%s' 与 '%s' 存在包含关系", a, b),
		})
	}
	return out
}

// root 小写并去掉一个结尾的 s
func root(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "s")
}
