package renderer

import (
	"fmt"
	"strings"

	"data-intelligence/internal/schema"
)

// MarkdownRenderer Markdown 数据字典渲染器
type MarkdownRenderer struct{}

// NewMarkdownRenderer 创建渲染器
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

var tableTypeLabels = map[schema.TableType]string{
	schema.TableTypeFact:      "事实表",
	schema.TableTypeDimension: "维度表",
	schema.TableTypeUnknown:   "未知",
}

// Render 渲染为 Markdown 格式
func (m *MarkdownRenderer) Render(in Input) string {
	var sb strings.Builder

	s := in.Schema
	if s == nil {
		return "# 数据库结构文档\n\n(无结构)\n"
	}

	fmt.Fprintf(&sb, "# 数据库结构文档: %s\n\n", s.Database)
	fmt.Fprintf(&sb, "- 方言: %s\n- 表数量: %d\n- 外键数量: %d\n", s.Dialect, s.Len(), s.TotalForeignKeys())
	if in.Clusters != nil {
		fmt.Fprintf(&sb, "- 聚类方法: %s (%d 个簇)\n", in.Clusters.Method, len(in.Clusters.Labels))
	}
	sb.WriteString("\n")

	tables := sortedTables(s)

	sb.WriteString("## 概览\n\n")
	sb.WriteString("| 表名 | 类型 | 业务实体 | 重要度 | 行数 | 簇 | 引力 |\n")
	sb.WriteString("|------|------|----------|--------|------|----|------|\n")
	for _, t := range tables {
		label, _ := in.Clusters.Cluster(t.Name)
		gravity := "-"
		if g, ok := in.Gravity[t.Name]; ok {
			gravity = fmt.Sprintf("%.2f", g)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %d | %d | %s | %s |\n",
			t.Name, typeLabel(t.TableType), dash(t.BusinessEntity), t.ImportanceScore,
			t.RowCount, dash(label), gravity)
	}
	sb.WriteString("\n")

	sb.WriteString("## 表结构\n\n")
	for _, t := range tables {
		fmt.Fprintf(&sb, "### %s\n\n", t.Name)

		sb.WriteString("| 列名 | 类型 | 可空 | 主键 | 外键 | 默认值 |\n")
		sb.WriteString("|------|------|------|------|------|--------|\n")
		for _, c := range t.Columns {
			nullable := "否"
			if c.Nullable {
				nullable = "是"
			}
			pk := ""
			if c.IsPK {
				pk = "✓"
			}
			fk := ""
			if c.IsFK {
				fk = "✓"
			}
			def := ""
			if c.Default != nil {
				def = "`" + *c.Default + "`"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n", c.Name, c.Type, nullable, pk, fk, def)
		}
		sb.WriteString("\n")

		m.renderTableRelations(&sb, s, t.Name)
	}

	return sb.String()
}

// renderTableRelations 渲染与该表相关的外键，出向在前
func (m *MarkdownRenderer) renderTableRelations(sb *strings.Builder, s *schema.Schema, tableName string) {
	var lines []string
	for _, r := range s.Relationships {
		switch tableName {
		case r.FromTable:
			lines = append(lines, fmt.Sprintf("- **引用** `%s.%s` → `%s.%s`", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn))
		case r.ToTable:
			lines = append(lines, fmt.Sprintf("- **被引用** `%s.%s` ← `%s.%s`", r.ToTable, r.ToColumn, r.FromTable, r.FromColumn))
		}
	}
	if len(lines) == 0 {
		return
	}

	sb.WriteString("#### 关系\n\n")
	for _, l := range lines {
		sb.WriteString(l + "\n")
	}
	sb.WriteString("\n")
}

func typeLabel(t schema.TableType) string {
	if l, ok := tableTypeLabels[t]; ok {
		return l
	}
	return "未知"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
