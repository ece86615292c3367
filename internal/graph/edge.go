package graph

// EdgeType 边类型
type EdgeType string

const (
	EdgeTypeCoreLink    EdgeType = "core_link"    // 中心节点到表
	EdgeTypeFK          EdgeType = "foreign_key"  // 真外键
	EdgeTypeMatchingCol EdgeType = "matching_col" // 共享列
	EdgeTypeAIPredicted EdgeType = "ai_predicted" // 词根推断
)

// Edge 图的边
type Edge struct {
	Source           string     `json:"source"`
	Target           string     `json:"target"`
	Type             EdgeType   `json:"type"`
	LinkStrength     float64    `json:"link_strength"`
	Width            float64    `json:"width"`
	Opacity          float64    `json:"opacity"`
	Confidence       float64    `json:"confidence"`
	Reasoning        string     `json:"reasoning,omitempty"`
	TrafficIntensity float64    `json:"traffic_intensity"`
	EdgeGlow         float64    `json:"edge_glow"`
	Evidence         []Evidence `json:"evidence,omitempty"`
}

// Evidence 证据
type Evidence struct {
	Type        string  `json:"type"` // foreign_key/shared_column/name_root
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}
