package renderer

import (
	"fmt"
	"regexp"
	"strings"

	"data-intelligence/internal/schema"
)

// MermaidRenderer Mermaid ER 图渲染器
type MermaidRenderer struct{}

// NewMermaidRenderer 创建渲染器
func NewMermaidRenderer() *MermaidRenderer {
	return &MermaidRenderer{}
}

var unsafeIdent = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// mermaidIdent Mermaid 标识符只接受字母数字下划线
func mermaidIdent(s string) string {
	s = strings.Trim(unsafeIdent.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// Render 渲染为 Mermaid 格式
func (m *MermaidRenderer) Render(in Input) string {
	var sb strings.Builder

	sb.WriteString("erDiagram\n")

	tables := sortedTables(in.Schema)
	for _, t := range tables {
		if label, ok := in.Clusters.Cluster(t.Name); ok {
			fmt.Fprintf(&sb, "    %%%% %s: cluster=%s", t.Name, label)
			if g, ok := in.Gravity[t.Name]; ok {
				fmt.Fprintf(&sb, " gravity=%.2f", g)
			}
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "    %s {\n", mermaidIdent(t.Name))
		for _, c := range t.Columns {
			keys := columnKeys(c)
			fmt.Fprintf(&sb, "        %s %s", mermaidIdent(c.Type), mermaidIdent(c.Name))
			if keys != "" {
				sb.WriteString(" " + keys)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("    }\n")
	}

	sb.WriteString("\n")

	// 外键：被引用表一对多引用表
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&sb, "    %s ||--o{ %s : \"%s\"\n",
				mermaidIdent(fk.ReferencedTable), mermaidIdent(t.Name), fk.Column)
		}
	}

	return sb.String()
}

func columnKeys(c schema.Column) string {
	switch {
	case c.IsPK && c.IsFK:
		return "PK,FK"
	case c.IsPK:
		return "PK"
	case c.IsFK:
		return "FK"
	}
	return ""
}
