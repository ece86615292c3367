package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"data-intelligence/internal/classify"
	"data-intelligence/internal/schema"

	"go.uber.org/zap"
)

const systemPrompt = "你是数据仓库建模专家，擅长从表结构判断事实表、维度表以及对应的业务实体。"

// maxPromptColumns 每张表最多列出的列数
const maxPromptColumns = 12

// TableRefiner 用大模型精化表分类，实现 classify.Refiner
type TableRefiner struct {
	client    Client
	maxTables int
	logger    *zap.SugaredLogger
}

// NewTableRefiner 创建精化器，maxTables<=0 表示不限
func NewTableRefiner(client Client, maxTables int, logger *zap.SugaredLogger) *TableRefiner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TableRefiner{client: client, maxTables: maxTables, logger: logger}
}

// Refine 请求模型返回 {表名: {table_type, business_entity}}，只保留结构中存在的表
func (r *TableRefiner) Refine(ctx context.Context, s *schema.Schema) (map[string]classify.Classification, error) {
	tables := s.Tables
	if r.maxTables > 0 && len(tables) > r.maxTables {
		tables = tables[:r.maxTables]
	}

	reply, err := r.client.Chat(ctx, systemPrompt, buildPrompt(s.Database, tables))
	if err != nil {
		return nil, err
	}

	var raw map[string]classify.Classification
	if err := json.Unmarshal([]byte(extractJSON(reply)), &raw); err != nil {
		return nil, fmt.Errorf("解析 AI 响应失败: %w", err)
	}

	out := make(map[string]classify.Classification, len(raw))
	for name, c := range raw {
		if s.Lookup(name) == nil {
			r.logger.Debugw("忽略未知表", "table", name)
			continue
		}
		out[name] = c
	}
	r.logger.Infow("AI 表分类完成", "database", s.Database, "requested", len(tables), "accepted", len(out))
	return out, nil
}

func buildPrompt(database string, tables []*schema.Table) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "数据库 %s 包含以下表：\n\n", database)
	for i, t := range tables {
		cols := t.ColumnNames()
		if len(cols) > maxPromptColumns {
			cols = append(cols[:maxPromptColumns:maxPromptColumns], "...")
		}
		fmt.Fprintf(&sb, "%d. %s (行数约 %d，当前判断 %s)\n   列: %s\n", i+1, t.Name, t.RowCount, t.TableType, strings.Join(cols, ", "))
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&sb, "   外键: %s → %s.%s\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
		}
	}
	sb.WriteString(`
请以 JSON 对象返回每张表的分类，键为表名：
{
  "表名": {"table_type": "fact 或 dimension 或 unknown", "business_entity": "英文小写业务实体"}
}

注意：
1. 只返回 JSON，不要其他文字
2. 不确定时 table_type 填 unknown`)
	return sb.String()
}

// extractJSON 去掉模型常带的 markdown 代码块
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}
