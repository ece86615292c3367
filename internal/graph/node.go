package graph

import "data-intelligence/internal/schema"

// NodeType 节点类型
type NodeType string

const (
	NodeTypeHub   NodeType = "hub"
	NodeTypeTable NodeType = "table"
)

// HubID 中心节点 ID
const HubID = "hub"

// tableNodePrefix 与中心节点重名的表使用的 ID 前缀
const tableNodePrefix = "table:"

// NodeID 表节点 ID，通常即表名；名为 hub 的表改为 "table:hub"
func NodeID(table string) string {
	if table == HubID {
		return tableNodePrefix + table
	}
	return table
}

// Node 渲染节点。Target* 为确定性目标坐标，X/Y/Z 为加抖动后的初始坐标
type Node struct {
	ID              string              `json:"id"`
	Type            NodeType            `json:"type"`
	Name            string              `json:"name"`
	Entity          string              `json:"entity"`
	TableType       schema.TableType    `json:"table_type"`
	Size            float64             `json:"size"`
	Color           string              `json:"color"`
	RowCount        int64               `json:"row_count"`
	X               float64             `json:"x"`
	Y               float64             `json:"y"`
	Z               float64             `json:"z"`
	TargetX         float64             `json:"target_x"`
	TargetY         float64             `json:"target_y"`
	TargetZ         float64             `json:"target_z"`
	Cluster         string              `json:"cluster,omitempty"`
	NeuralGravity   float64             `json:"neural_gravity"`
	HubScore        float64             `json:"hub_score"`
	NodeGlow        float64             `json:"node_glow"`
	Vitality        float64             `json:"vitality"`
	ImportanceScore int                 `json:"importance_score"`
	Ring            int                 `json:"ring"`
	Columns         []ColumnInfo        `json:"columns"`
	ForeignKeys     []schema.ForeignKey `json:"foreign_keys"`
}

// ColumnInfo 节点上携带的列摘要
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	IsPK bool   `json:"is_pk"`
	IsFK bool   `json:"is_fk"`
}

func columnInfos(t *schema.Table) []ColumnInfo {
	out := make([]ColumnInfo, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = ColumnInfo{Name: c.Name, Type: c.Type, IsPK: c.IsPK, IsFK: c.IsFK}
	}
	return out
}
