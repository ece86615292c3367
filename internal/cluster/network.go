package cluster

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"

	"data-intelligence/internal/schema"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

const (
	// DefaultSeed Louvain 固定随机种子
	DefaultSeed uint64 = 42

	fkWeight          = 1.0
	sharedColWeight   = 0.3
	minSharedColumns  = 2
	louvainResolution = 1.0
	pageRankDamping   = 0.85
	pageRankTolerance = 1e-6
)

func networkLabel(i int) string { return "nx_cluster_" + strconv.Itoa(i) }

// NetworkLabelIndex 从 nx_cluster_{i} 中解析 i
func NetworkLabelIndex(label string) (int, bool) {
	const prefix = "nx_cluster_"
	if len(label) <= len(prefix) || label[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(label[len(prefix):])
	return n, err == nil
}

// Network 在外键 + 共享列图上做 Louvain 社区发现，PageRank 作为基础引力
type Network struct {
	seed   uint64
	logger *zap.SugaredLogger
}

// NewNetwork 创建图聚类引擎
func NewNetwork(seed uint64, logger *zap.SugaredLogger) *Network {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Network{seed: seed, logger: logger}
}

// Method 方法标识
func (n *Network) Method() Method { return MethodNetwork }

// Cluster 社区发现。同一结构、同一种子得到相同结果
func (n *Network) Cluster(s *schema.Schema) (m *Map, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("社区发现异常: %v", r)
		}
	}()

	m = &Map{
		Method:      MethodNetwork,
		Assignments: make(map[string]string, s.Len()),
		BaseGravity: make(map[string]float64, s.Len()),
	}
	if s.Len() == 0 {
		return m, nil
	}

	index := make(map[string]int64, s.Len())
	directed := simple.NewWeightedDirectedGraph(0, 0)
	undirected := simple.NewWeightedUndirectedGraph(0, 0)
	for i, t := range s.Tables {
		index[t.Name] = int64(i)
		directed.AddNode(simple.Node(i))
		undirected.AddNode(simple.Node(i))
	}

	edges := 0
	for _, t := range s.Tables {
		from := index[t.Name]
		for _, fk := range t.ForeignKeys {
			to, ok := index[fk.ReferencedTable]
			if !ok || to == from {
				continue
			}
			addDirected(directed, from, to, fkWeight)
			addUndirected(undirected, from, to, fkWeight)
			edges++
		}
	}
	for i := 0; i < len(s.Tables); i++ {
		for j := i + 1; j < len(s.Tables); j++ {
			if len(schema.SharedColumns(s.Tables[i], s.Tables[j])) < minSharedColumns {
				continue
			}
			a, b := int64(i), int64(j)
			addDirected(directed, a, b, sharedColWeight)
			addDirected(directed, b, a, sharedColWeight)
			addUndirected(undirected, a, b, sharedColWeight)
			edges++
		}
	}

	if edges == 0 {
		uniform := 1 / float64(s.Len())
		for _, t := range s.Tables {
			m.Assignments[t.Name] = networkLabel(0)
			m.BaseGravity[t.Name] = uniform
		}
		m.Labels = []string{networkLabel(0)}
		n.logger.Debugw("图中没有边，使用单社区", "tables", s.Len())
		return m, nil
	}

	reduced := community.Modularize(undirected, louvainResolution, rand.NewPCG(n.seed, n.seed))
	var groups [][]int64
	for _, c := range reduced.Communities() {
		if len(c) == 0 {
			continue
		}
		ids := make([]int64, len(c))
		for k, node := range c {
			ids[k] = node.ID()
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		groups = append(groups, ids)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a][0] < groups[b][0] })

	for ci, ids := range groups {
		label := networkLabel(ci)
		m.Labels = append(m.Labels, label)
		for _, id := range ids {
			m.Assignments[s.Tables[id].Name] = label
		}
	}

	rank := network.PageRank(directed, pageRankDamping, pageRankTolerance)
	for _, t := range s.Tables {
		m.BaseGravity[t.Name] = rank[index[t.Name]]
	}

	n.logger.Debugw("社区发现完成", "tables", s.Len(), "edges", edges, "communities", len(groups))
	return m, nil
}

// addDirected 平行边权重累加
func addDirected(g *simple.WeightedDirectedGraph, from, to int64, w float64) {
	if e := g.WeightedEdge(from, to); e != nil {
		w += e.Weight()
	}
	g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(from), T: simple.Node(to), W: w})
}

func addUndirected(g *simple.WeightedUndirectedGraph, a, b int64, w float64) {
	if e := g.WeightedEdge(a, b); e != nil {
		w += e.Weight()
	}
	g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: w})
}
