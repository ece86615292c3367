package command

import (
	"math"
	"sort"
	"strings"

	"github.com/go-openapi/inflect"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// MatchKind 表名匹配方式
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchInflected MatchKind = "inflected"
	MatchFuzzy     MatchKind = "fuzzy"
)

// minSimilarity 模糊匹配的最低相似度
const minSimilarity = 0.7

// normalize 统一为小写下划线形式，"Order Items"、"OrderItems" → "order_items"
func normalize(name string) string {
	n := strings.TrimSpace(name)
	if strings.ToUpper(n) == n {
		n = strings.ToLower(n)
	}
	n = inflect.Underscore(strings.ReplaceAll(n, ".", "_"))
	return strings.Trim(n, "_")
}

// Similarity 名称相似度：相同为 1，包含为 0.8，否则为 Levenshtein 相似度（低于 0.7 记 0）
func Similarity(a, b string) float64 {
	n1, n2 := normalize(a), normalize(b)
	if n1 == "" || n2 == "" {
		return 0
	}
	if n1 == n2 {
		return 1.0
	}
	if strings.Contains(n1, n2) || strings.Contains(n2, n1) {
		return 0.8
	}
	maxLen := math.Max(float64(len([]rune(n1))), float64(len([]rune(n2))))
	distance := levenshtein.DistanceForStrings([]rune(n1), []rune(n2), levenshtein.DefaultOptionsWithSub)
	sim := 1.0 - float64(distance)/maxLen
	if sim > minSimilarity {
		return sim
	}
	return 0
}

// Resolve 把口语化的表名解析为结构中的表：精确 → 单复数 → 模糊
func Resolve(spoken string, tables []string) (string, MatchKind, bool) {
	want := normalize(spoken)
	if want == "" {
		return "", "", false
	}
	for _, t := range tables {
		if normalize(t) == want {
			return t, MatchExact, true
		}
	}

	singular := inflect.Singularize(want)
	for _, t := range tables {
		n := normalize(t)
		if inflect.Singularize(n) == singular || n == inflect.Pluralize(want) {
			return t, MatchInflected, true
		}
	}

	type candidate struct {
		name  string
		score float64
	}
	var best []candidate
	for _, t := range tables {
		if s := Similarity(want, t); s > 0 {
			best = append(best, candidate{t, s})
		}
	}
	if len(best) == 0 {
		return "", "", false
	}
	sort.Slice(best, func(i, j int) bool {
		if best[i].score != best[j].score {
			return best[i].score > best[j].score
		}
		return best[i].name < best[j].name
	})
	return best[0].name, MatchFuzzy, true
}
