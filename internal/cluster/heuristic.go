package cluster

import (
	"sort"
	"strings"

	"data-intelligence/internal/schema"
)

// Heuristic 按表名第一个下划线前缀分组，至少两张表才成簇
type Heuristic struct{}

// Method 方法标识
func (h *Heuristic) Method() Method { return MethodHeuristic }

// Cluster 前缀聚类
func (h *Heuristic) Cluster(s *schema.Schema) (*Map, error) {
	groups := make(map[string][]string)
	for _, t := range s.Tables {
		p := Prefix(t.Name)
		groups[p] = append(groups[p], t.Name)
	}

	m := &Map{Method: MethodHeuristic, Assignments: make(map[string]string, s.Len())}
	labels := make(map[string]bool)
	for p, members := range groups {
		label := p
		if len(members) < 2 || p == "" {
			label = DefaultLabel
		}
		labels[label] = true
		for _, t := range members {
			m.Assignments[t] = label
		}
	}
	for l := range labels {
		m.Labels = append(m.Labels, l)
	}
	sort.Strings(m.Labels)
	return m, nil
}

// Prefix 表名第一个下划线之前的部分
func Prefix(name string) string {
	p, _, _ := strings.Cut(name, "_")
	return p
}
