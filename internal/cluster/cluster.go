package cluster

import (
	"errors"
	"fmt"
	"sort"

	"data-intelligence/internal/schema"

	"go.uber.org/zap"
)

// Method 聚类方法
type Method string

const (
	MethodHeuristic Method = "heuristic"
	MethodNetwork   Method = "networkx"
	MethodNone      Method = "none"
)

const (
	// DefaultLabel 启发式聚类的兜底簇
	DefaultLabel = "default"
)

// ErrUnknownMethod 不支持的聚类方法
var ErrUnknownMethod = errors.New("不支持的聚类方法")

// ParseMethod 解析方法名，空串视为 heuristic
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodHeuristic:
		return MethodHeuristic, nil
	case MethodNetwork, "network", "louvain":
		return MethodNetwork, nil
	case MethodNone:
		return MethodNone, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownMethod, s)
}

// Map 表到簇的映射，覆盖结构中每一张表
type Map struct {
	Method      Method             `json:"method"`
	Assignments map[string]string  `json:"assignments"`
	Labels      []string           `json:"labels"`
	BaseGravity map[string]float64 `json:"base_gravity,omitempty"`
}

// Cluster 表所在的簇
func (m *Map) Cluster(table string) (string, bool) {
	if m == nil {
		return "", false
	}
	c, ok := m.Assignments[table]
	return c, ok
}

// Index 簇在 Labels 中的位置，不存在返回 -1
func (m *Map) Index(label string) int {
	if m == nil {
		return -1
	}
	for i, l := range m.Labels {
		if l == label {
			return i
		}
	}
	return -1
}

// Members 簇成员，按表名排序
func (m *Map) Members(label string) []string {
	var out []string
	for t, c := range m.Assignments {
		if c == label {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Sizes 每个簇的成员数
func (m *Map) Sizes() map[string]int {
	out := make(map[string]int, len(m.Labels))
	for _, c := range m.Assignments {
		out[c]++
	}
	return out
}

// Covers 是否每张表恰好出现一次
func (m *Map) Covers(s *schema.Schema) bool {
	if m == nil || len(m.Assignments) != s.Len() {
		return false
	}
	for _, t := range s.Tables {
		if _, ok := m.Assignments[t.Name]; !ok {
			return false
		}
	}
	return true
}

// single 全部表放入同一簇
func single(method Method, label string, s *schema.Schema) *Map {
	m := &Map{Method: method, Assignments: make(map[string]string, s.Len())}
	for _, t := range s.Tables {
		m.Assignments[t.Name] = label
	}
	if s.Len() > 0 {
		m.Labels = []string{label}
	}
	return m
}

// Engine 聚类引擎
type Engine interface {
	Cluster(s *schema.Schema) (*Map, error)
	Method() Method
}

// New 按方法创建引擎；MethodNone 返回 nil
func New(method Method, logger *zap.SugaredLogger) (Engine, error) {
	switch method {
	case MethodHeuristic:
		return &Heuristic{}, nil
	case MethodNetwork:
		return NewNetwork(DefaultSeed, logger), nil
	case MethodNone:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

// Run 执行聚类；失败时退化为单簇并记录日志
func Run(e Engine, s *schema.Schema, logger *zap.SugaredLogger) *Map {
	if e == nil {
		return nil
	}
	m, err := e.Cluster(s)
	if err == nil && m.Covers(s) {
		return m
	}
	if logger != nil {
		logger.Warnw("聚类失败，退化为单簇", "method", e.Method(), "error", err)
	}
	label := DefaultLabel
	if e.Method() == MethodNetwork {
		label = networkLabel(0)
	}
	return single(e.Method(), label, s)
}
