package graph

import (
	"encoding/json"

	"data-intelligence/internal/neural"
)

// Payload 渲染载荷
type Payload struct {
	Nodes      []*Node      `json:"nodes"`
	Edges      []*Edge      `json:"edges"`
	Method     string       `json:"cluster_method,omitempty"`
	NeuralCore *NeuralState `json:"neural_core,omitempty"`

	pairs map[[2]string]bool
}

// NeuralState 附带的神经核心状态
type NeuralState struct {
	Status  neural.Status  `json:"status"`
	Metrics neural.Metrics `json:"metrics"`
	AIStats neural.AIStats `json:"ai_stats"`
}

// NewPayload 空载荷
func NewPayload() *Payload {
	return &Payload{Nodes: []*Node{}, Edges: []*Edge{}, pairs: make(map[[2]string]bool)}
}

// AddNode 添加节点
func (p *Payload) AddNode(n *Node) {
	p.Nodes = append(p.Nodes, n)
}

// AddEdge 添加边；自环或同一无序对已有边时丢弃
func (p *Payload) AddEdge(e *Edge) bool {
	if e.Source == e.Target {
		return false
	}
	k := pairKey(e.Source, e.Target)
	if p.pairs[k] {
		return false
	}
	p.pairs[k] = true
	p.Edges = append(p.Edges, e)
	return true
}

// CountEdges 某类边的数量
func (p *Payload) CountEdges(t EdgeType) int {
	n := 0
	for _, e := range p.Edges {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Node 按 ID 查找节点
func (p *Payload) Node(id string) *Node {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// JSON 导出为 JSON
func (p *Payload) JSON() ([]byte, error) {
	return json.Marshal(p)
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}
