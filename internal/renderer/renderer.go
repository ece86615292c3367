// Package renderer 把分类后的结构渲染为 Mermaid ER 图和 Markdown 数据字典
package renderer

import (
	"sort"

	"data-intelligence/internal/cluster"
	"data-intelligence/internal/schema"
)

// Input 渲染输入，Clusters 与 Gravity 可为空
type Input struct {
	Schema   *schema.Schema
	Clusters *cluster.Map
	Gravity  map[string]float64
}

// Renderer 渲染器
type Renderer interface {
	Render(in Input) string
}

// New 按格式名创建渲染器，未知格式返回 false
func New(format string) (Renderer, bool) {
	switch format {
	case "mermaid", "mmd":
		return NewMermaidRenderer(), true
	case "markdown", "md":
		return NewMarkdownRenderer(), true
	}
	return nil, false
}

// sortedTables 按表名排序，不修改原结构
func sortedTables(s *schema.Schema) []*schema.Table {
	if s == nil {
		return nil
	}
	out := append([]*schema.Table(nil), s.Tables...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
